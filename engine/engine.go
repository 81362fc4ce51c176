package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-co-op/gocron/v2"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/marcus-crane/marquee/backend"
	"github.com/marcus-crane/marquee/cache"
	"github.com/marcus-crane/marquee/changefeed"
	"github.com/marcus-crane/marquee/config"
	"github.com/marcus-crane/marquee/db"
	"github.com/marcus-crane/marquee/events"
	"github.com/marcus-crane/marquee/jobs"
	"github.com/marcus-crane/marquee/models"
	"github.com/marcus-crane/marquee/notify"
	"github.com/marcus-crane/marquee/pairing"
	"github.com/marcus-crane/marquee/playback"
	"github.com/marcus-crane/marquee/resolver"
	"github.com/marcus-crane/marquee/session"
	"github.com/marcus-crane/marquee/shared"
	"github.com/marcus-crane/marquee/utils"
)

const storeDirectoryTTL = 5 * time.Minute

// Backend is everything the engine asks of the remote service.
type Backend interface {
	resolver.Backend
	resolver.StoreLister
	pairing.Backend
	session.Backend
}

type Options struct {
	// Backend defaults to an HTTP client for cfg.Backend.
	Backend  Backend
	Store    db.Store
	Surface  playback.Surface
	Notifier notify.Notifier
	// Client is used for media, the backend and the change feed.
	Client *http.Client
}

// Engine wires pairing, the device session, playlist resolution, the change
// feed and playback together and keeps them running until Run's ctx ends.
type Engine struct {
	cfg      config.Config
	prefs    db.Preferences
	backend  Backend
	notifier notify.Notifier

	cache     *cache.Cache
	resolver  *resolver.Resolver
	directory *resolver.Directory
	feed      *changefeed.Subscriber
	session   *session.Session
	runner    *playback.Runner
	broker    *events.Broker

	playlists chan models.Playlist
	colours   *gocache.Cache

	newPrefetchBackOff func() backoff.BackOff

	selectedStore atomic.Pointer[models.StoreRef]
	nowShowing    atomic.Pointer[models.NowShowing]

	m         sync.Mutex
	pairer    *pairing.Controller
	scheduler gocron.Scheduler
	unbind    context.CancelFunc
	bindCtx   context.Context
}

func New(cfg config.Config, opts Options) (*Engine, error) {
	client := opts.Client
	if client == nil {
		client = utils.NewHTTPClient(cfg.FetchTimeout())
	}
	be := opts.Backend
	if be == nil {
		be = backend.New(cfg.Backend.URL, cfg.Backend.APIKey, client)
	}
	store := opts.Store
	if store == nil {
		store = db.NewMemoryStore()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard{}
	}

	mediaCache, err := cache.New(cfg.Marquee.CacheDir, cfg.CacheCapacityBytes(), client, store)
	if err != nil {
		return nil, fmt.Errorf("failed to set up media cache: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		prefs:     store,
		backend:   be,
		notifier:  notifier,
		cache:     mediaCache,
		directory: resolver.NewDirectory(be, storeDirectoryTTL),
		session:   session.New(be, store),
		broker:    events.New(shared.STREAM_PLAYBACK, shared.STREAM_PAIRING),
		playlists: make(chan models.Playlist, 1),
		colours:   gocache.New(time.Hour, 2*time.Hour),

		newPrefetchBackOff: prefetchBackOff,
	}
	e.resolver = resolver.New(be, e.scope)
	e.feed = changefeed.New(cfg.Backend.RealtimeURL, cfg.Backend.ContentTable, cfg.Backend.APIKey, client, e.resolver)
	e.runner = playback.NewRunner(mediaCache, opts.Surface, e.playlists, playback.DefaultRetryDelay)
	e.runner.OnChange(e.onNowShowing)
	e.session.OnRevoked(e.onRevoked)
	e.loadSelectedStore()

	return e, nil
}

func (e *Engine) loadSelectedStore() {
	raw, err := e.prefs.GetPreference(db.KeySelectedStore)
	if err != nil {
		raw = e.cfg.Marquee.StoreID
	}
	if raw == "" {
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("Ignoring store id that is not numeric", slog.String("store_id", raw))
		return
	}
	e.selectedStore.Store(&models.StoreRef{ID: id})
}

// scope is the selected store when there is one, otherwise the bound device.
// An unbound device has nothing to resolve.
func (e *Engine) scope() models.Scope {
	ident, ok := e.session.Current()
	if !ok {
		return models.Scope{}
	}
	if store := e.selectedStore.Load(); store != nil {
		return models.StoreScope(store.ID)
	}
	return models.DeviceScope(ident.ID)
}

// Events serves the playback and pairing streams.
func (e *Engine) Events() http.Handler {
	return e.broker
}

// Run blocks until ctx is cancelled. Playback, playlist forwarding and the
// identity lifecycle each get a goroutine; if one of them fails the rest are
// stopped.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.runner.Run(gctx)
	})

	g.Go(func() error {
		e.forward(gctx)
		return nil
	})

	g.Go(func() error {
		return e.lifecycle(gctx)
	})

	err := g.Wait()
	e.release()
	e.resolver.Wait()
	e.broker.Close()
	return err
}

// lifecycle loops forever: restore or pair an identity, keep it online until
// it is cleared, then start over.
func (e *Engine) lifecycle(ctx context.Context) error {
	for {
		ident, ok := e.session.Load(ctx)
		if !ok {
			var err error
			ident, err = e.pair(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		if err := e.online(ctx, ident); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ident.Done():
			slog.Info("Device identity cleared, returning to pairing", slog.String("device_id", ident.ID))
			e.release()
		}
	}
}

func (e *Engine) pair(ctx context.Context) (*session.Identity, error) {
	pairer := pairing.New(e.backend, e.cfg.PairingPollInterval())
	pairer.OnTransition(e.onPairingTransition)

	e.m.Lock()
	e.pairer = pairer
	e.m.Unlock()

	attempt, err := pairer.Run(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to pair device: %w", err)
	}
	return e.session.Bind(ctx, attempt.DeviceID, e.cfg.Marquee.DeviceName), nil
}

// online starts everything that only makes sense for a bound device: the
// heartbeat and existence jobs, the change feed and a first resolve.
func (e *Engine) online(ctx context.Context, ident *session.Identity) error {
	bindCtx, unbind := context.WithCancel(ctx)

	scheduler, err := jobs.Start(bindCtx, e.session, e.cfg.HeartbeatInterval(), e.cfg.ExistenceCheckInterval())
	if err != nil {
		unbind()
		return fmt.Errorf("failed to start device jobs: %w", err)
	}

	e.m.Lock()
	e.scheduler = scheduler
	e.unbind = unbind
	e.bindCtx = bindCtx
	e.m.Unlock()

	// the first connect requests a resolve of its own, this one covers an
	// unreachable change feed
	e.feed.Subscribe(bindCtx)
	e.resolver.Request(bindCtx)

	slog.Info("Device is online",
		slog.String("device_id", ident.ID),
		slog.String("scope", e.scope().String()))
	return nil
}

// release stops the jobs and the change feed of the current binding and
// blanks the screen. It is safe to call when nothing is bound.
func (e *Engine) release() {
	e.m.Lock()
	scheduler, unbind := e.scheduler, e.unbind
	e.scheduler, e.unbind, e.bindCtx = nil, nil, nil
	e.m.Unlock()

	if unbind == nil {
		return
	}
	unbind()
	e.feed.Close()
	if err := scheduler.Shutdown(); err != nil {
		slog.Warn("Failed to stop device jobs", slog.String("error", err.Error()))
	}
	e.resolver.Clear()
}

func (e *Engine) requestResolve() {
	e.m.Lock()
	bindCtx := e.bindCtx
	e.m.Unlock()
	if bindCtx != nil {
		e.resolver.Request(bindCtx)
	}
}

// forward hands every published playlist to the runner and warms the cache
// for it.
func (e *Engine) forward(ctx context.Context) {
	var cancelPrefetch context.CancelFunc = func() {}
	defer func() { cancelPrefetch() }()

	for {
		select {
		case <-ctx.Done():
			return
		case playlist := <-e.resolver.Updates():
			select {
			case <-e.playlists:
			default:
			}
			e.playlists <- playlist

			cancelPrefetch()
			var prefetchCtx context.Context
			prefetchCtx, cancelPrefetch = context.WithCancel(ctx)
			go e.prefetch(prefetchCtx, playlist)
		}
	}
}

// SelectStore attaches the device to a store and re-resolves against it.
func (e *Engine) SelectStore(ctx context.Context, id int64) (models.StoreRef, error) {
	store, ok, err := e.directory.Lookup(ctx, id)
	if err != nil {
		return models.StoreRef{}, fmt.Errorf("failed to look up store: %w", err)
	}
	if !ok {
		return models.StoreRef{}, shared.ErrUnknownStore
	}
	if err := e.prefs.SetPreference(db.KeySelectedStore, strconv.FormatInt(id, 10)); err != nil {
		slog.Warn("Failed to persist selected store, keeping it in memory only", slog.String("error", err.Error()))
	}
	e.selectedStore.Store(&store)
	slog.Info("Selected store", slog.Int64("store_id", store.ID), slog.String("name", store.Name))
	e.requestResolve()
	return store, nil
}

func (e *Engine) Stores(ctx context.Context) ([]models.StoreRef, error) {
	return e.directory.Stores(ctx)
}

// Logout forgets the device and its store. Jobs and the change feed are
// stopped before Logout returns and the device goes back to pairing.
func (e *Engine) Logout(ctx context.Context) error {
	if _, ok := e.session.Current(); !ok {
		return shared.ErrNotPaired
	}
	if err := e.prefs.DeletePreference(db.KeySelectedStore); err != nil {
		slog.Warn("Failed to remove stored store", slog.String("error", err.Error()))
	}
	e.selectedStore.Store(nil)
	// release before Clear, lifecycle re-pairs as soon as Done closes
	e.release()
	e.session.Clear(ctx)
	return nil
}

func (e *Engine) onRevoked(ident session.Identity) {
	device := models.Device{ID: ident.ID, Name: ident.Name, PairingState: models.Unpaired}
	e.broker.Publish(shared.STREAM_PAIRING, device)
	go func() {
		if err := e.notifier.DeviceRevoked(device); err != nil {
			slog.Warn("Failed to send revocation alert", slog.String("error", err.Error()))
		}
	}()
}

func (e *Engine) onPairingTransition(snapshot pairing.Snapshot) {
	e.broker.Publish(shared.STREAM_PAIRING, snapshot)
	if snapshot.State != pairing.CodeGenerated {
		return
	}
	go func() {
		if err := e.notifier.PairingCode(snapshot.Attempt); err != nil {
			slog.Warn("Failed to send pairing alert", slog.String("error", err.Error()))
		}
	}()
}
