package resolver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/marcus-crane/marquee/models"
)

type Backend interface {
	ResolvePlaylistID(ctx context.Context, scope models.Scope) (int64, bool, error)
	FetchPlaylistItems(ctx context.Context, playlistID int64) ([]models.PlaylistItem, error)
}

// ScopeFunc reports the scope to resolve against at the moment a request is
// made.
type ScopeFunc func() models.Scope

// Resolver owns the published playlist. Requests may overlap; the result of
// the most recently started request always wins and superseded requests are
// cancelled and never published.
type Resolver struct {
	backend Backend
	scope   ScopeFunc

	m            sync.Mutex
	nextGen      uint64
	publishedGen uint64
	cancel       context.CancelFunc
	current      models.Playlist
	updates      chan models.Playlist
	wg           sync.WaitGroup
}

func New(backend Backend, scope ScopeFunc) *Resolver {
	return &Resolver{
		backend: backend,
		scope:   scope,
		current: models.EmptyPlaylist(models.Scope{}),
		updates: make(chan models.Playlist, 1),
	}
}

// Resolve looks up the active playlist for scope. It never fails: an unset
// scope, a scope without playlists and any backend error all produce an
// empty playlist.
func (r *Resolver) Resolve(ctx context.Context, scope models.Scope) models.Playlist {
	if !scope.IsSet() {
		slog.Debug("No scope to resolve against")
		return models.EmptyPlaylist(scope)
	}

	playlistID, ok, err := r.backend.ResolvePlaylistID(ctx, scope)
	if err != nil {
		slog.Warn("Failed to resolve playlist",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()))
		return models.EmptyPlaylist(scope)
	}
	if !ok {
		slog.Info("No playlist for scope", slog.String("scope", scope.String()))
		return models.EmptyPlaylist(scope)
	}

	items, err := r.backend.FetchPlaylistItems(ctx, playlistID)
	if err != nil {
		slog.Warn("Failed to fetch playlist items",
			slog.String("scope", scope.String()),
			slog.Int64("playlist_id", playlistID),
			slog.String("error", err.Error()))
		return models.EmptyPlaylist(scope)
	}

	return models.Playlist{
		ID:    playlistID,
		Scope: scope,
		Items: items,
	}
}

// Request starts a re-resolve in the background and returns its generation.
// The generation and scope are fixed before Request returns.
func (r *Resolver) Request(ctx context.Context) uint64 {
	scope := r.scope()
	reqCtx, cancel := context.WithCancel(ctx)

	r.m.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.nextGen++
	gen := r.nextGen
	r.wg.Add(1)
	r.m.Unlock()

	go func() {
		defer r.wg.Done()
		defer cancel()
		playlist := r.Resolve(reqCtx, scope)
		if reqCtx.Err() != nil {
			slog.Debug("Dropping superseded resolve", slog.Uint64("generation", gen))
			return
		}
		r.publish(gen, playlist)
	}()

	return gen
}

// Clear publishes an empty playlist that supersedes anything in flight.
func (r *Resolver) Clear() {
	r.m.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.nextGen++
	gen := r.nextGen
	r.m.Unlock()

	r.publish(gen, models.EmptyPlaylist(models.Scope{}))
}

func (r *Resolver) publish(gen uint64, playlist models.Playlist) {
	r.m.Lock()
	defer r.m.Unlock()

	if gen <= r.publishedGen {
		slog.Debug("Dropping stale playlist",
			slog.Uint64("generation", gen),
			slog.Uint64("published", r.publishedGen))
		return
	}
	r.publishedGen = gen
	r.current = playlist

	select {
	case <-r.updates:
	default:
	}
	r.updates <- playlist

	slog.Info("Published playlist",
		slog.String("scope", playlist.Scope.String()),
		slog.Int64("playlist_id", playlist.ID),
		slog.Int("items", playlist.Len()))
}

// Updates delivers the latest published playlist. Only the newest value is
// kept so a slow reader never sees an outdated one.
func (r *Resolver) Updates() <-chan models.Playlist {
	return r.updates
}

func (r *Resolver) Current() models.Playlist {
	r.m.Lock()
	defer r.m.Unlock()
	return r.current
}

// Wait blocks until every background request has finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}
