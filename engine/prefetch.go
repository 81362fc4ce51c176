package engine

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marcus-crane/marquee/models"
	"github.com/marcus-crane/marquee/shared"
)

const prefetchRetries = 4

func prefetchBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, prefetchRetries)
}

// prefetch warms the cache for every item of playlist in order so playback
// survives a later outage. It stops once the cache is full since going on
// would only evict what was just fetched.
func (e *Engine) prefetch(ctx context.Context, playlist models.Playlist) {
	warmed := 0
	for _, item := range playlist.Items {
		if ctx.Err() != nil {
			return
		}
		if e.cache.Contains(item.URL) {
			continue
		}
		if e.cache.Size() >= e.cache.Capacity() {
			slog.Debug("Cache is full, stopping prefetch")
			break
		}

		url := item.URL
		err := backoff.RetryNotify(func() error {
			return e.warm(ctx, url)
		}, backoff.WithContext(e.newPrefetchBackOff(), ctx), func(err error, next time.Duration) {
			slog.Debug("Prefetch failed, retrying",
				slog.String("url", url),
				slog.Duration("next", next),
				slog.String("error", err.Error()))
		})
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Giving up on prefetch",
					slog.String("fault", shared.FAULT_CACHE),
					slog.String("url", url),
					slog.String("error", err.Error()))
			}
			continue
		}
		warmed++
	}
	if warmed > 0 {
		slog.Info("Prefetched playlist media",
			slog.Int64("playlist_id", playlist.ID),
			slog.Int("items", warmed))
	}
}

// warm pulls url through the cache. Reading to EOF is what commits it.
func (e *Engine) warm(ctx context.Context, url string) error {
	media, err := e.cache.Fetch(ctx, url)
	if err != nil {
		return err
	}
	defer media.Close()
	_, err = io.Copy(io.Discard, media)
	return err
}
