package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus-crane/marquee/models"
	"github.com/marcus-crane/marquee/shared"
)

const DefaultRetryDelay = 10 * time.Second

// Runner drives Transition with real timers, the media cache and a display
// surface.
type Runner struct {
	cache      Cache
	surface    Surface
	updates    <-chan models.Playlist
	retryDelay time.Duration

	m          sync.RWMutex
	nowShowing models.NowShowing
	observer   func(models.NowShowing)

	timer      *time.Timer
	timerToken uint64
}

func NewRunner(cache Cache, surface Surface, updates <-chan models.Playlist, retryDelay time.Duration) *Runner {
	return &Runner{
		cache:      cache,
		surface:    surface,
		updates:    updates,
		retryDelay: retryDelay,
	}
}

// OnChange registers fn to be told about everything that is put on screen.
// Call it before Run.
func (r *Runner) OnChange(fn func(models.NowShowing)) {
	r.observer = fn
}

func (r *Runner) NowShowing() models.NowShowing {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.nowShowing
}

// Run presents playlists from updates until ctx is done. The timer and the
// surface are released however it returns.
func (r *Runner) Run(ctx context.Context) error {
	defer func() {
		r.stopTimer()
		if releaseErr := r.surface.Release(); releaseErr != nil {
			slog.Warn("Failed to release display surface", slog.String("error", releaseErr.Error()))
		}
	}()

	state := NewState(r.retryDelay)
	var pending []Event

	for {
		for len(pending) > 0 {
			ev := pending[0]
			pending = pending[1:]
			var effects []Effect
			state, effects = Transition(state, ev)
			pending = append(pending, r.execute(ctx, state, effects)...)
		}

		var timerC <-chan time.Time
		if r.timer != nil {
			timerC = r.timer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case playlist := <-r.updates:
			pending = append(pending, Event{Kind: PlaylistReplaced, Playlist: playlist})
		case <-timerC:
			r.timer = nil
			pending = append(pending, Event{Kind: TimerFired, Token: r.timerToken})
		case ev := <-r.surface.Events():
			switch ev.Kind {
			case SurfaceEndOfStream:
				pending = append(pending, Event{Kind: EndOfStream, Token: ev.Token})
			case SurfaceError:
				if ev.Token == state.Token {
					r.logFailure(state.Current, ev.Err)
				}
				pending = append(pending, Event{Kind: MediaFailed, Token: ev.Token, Err: ev.Err})
			}
		}
	}
}

// execute applies effects in order and returns any events they produced.
func (r *Runner) execute(ctx context.Context, state State, effects []Effect) []Event {
	var follow []Event
	for _, effect := range effects {
		switch effect.Kind {
		case Pin:
			r.cache.Pin(effect.URL)
		case Unpin:
			r.cache.Unpin(effect.URL)
		case StartTimer:
			r.startTimer(effect.Token, effect.Duration)
		case ShowNoContent:
			r.stopTimer()
			if err := r.surface.ShowNoContent(ctx); err != nil {
				slog.Warn("Failed to show no content screen", slog.String("error", err.Error()))
			}
			r.publish(models.NowShowing{
				PlaylistID: state.Playlist.ID,
				StartedAt:  time.Now(),
			})
			slog.Info("Nothing to show")
		case Present:
			if err := r.present(ctx, effect); err != nil {
				r.logFailure(effect.Item, err)
				follow = append(follow, Event{Kind: MediaFailed, Token: effect.Token, Err: err})
				continue
			}
			r.publish(models.NowShowing{
				Index:          effect.Index,
				ContentID:      effect.Item.ContentID,
				URL:            effect.Item.URL,
				Kind:           effect.Item.Media.Kind(),
				PlaylistID:     state.Playlist.ID,
				PlaylistLength: state.Playlist.Len(),
				StartedAt:      time.Now(),
			})
		}
	}
	return follow
}

func (r *Runner) present(ctx context.Context, effect Effect) error {
	if effect.Item.Media == nil {
		return fmt.Errorf("item %s has no media kind", effect.Item.URL)
	}
	media, err := r.cache.Fetch(ctx, effect.URL)
	if err != nil {
		return err
	}
	slog.Debug("Presenting item",
		slog.Int("index", effect.Index),
		slog.String("item", effect.Item.String()))
	return r.surface.Present(ctx, effect.Token, effect.Item, media)
}

func (r *Runner) logFailure(item models.PlaylistItem, err error) {
	attrs := []any{
		slog.String("fault", shared.FAULT_PLAYBACK),
		slog.String("item", item.String()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	slog.Warn("Failed to present item, skipping", attrs...)
}

func (r *Runner) startTimer(token uint64, d time.Duration) {
	r.stopTimer()
	r.timer = time.NewTimer(d)
	r.timerToken = token
}

func (r *Runner) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Runner) publish(now models.NowShowing) {
	r.m.Lock()
	r.nowShowing = now
	r.m.Unlock()
	if r.observer != nil {
		r.observer(now)
	}
}
