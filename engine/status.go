package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/h2non/filetype"

	"github.com/marcus-crane/marquee/models"
	"github.com/marcus-crane/marquee/pairing"
	"github.com/marcus-crane/marquee/shared"
	"github.com/marcus-crane/marquee/utils"
)

// filetype needs at most this many bytes to recognise a format
const sniffLen = 262

const (
	colourTimeout      = 30 * time.Second
	colourPollInterval = 250 * time.Millisecond
)

func (e *Engine) Status() models.Status {
	status := models.Status{
		Device:            e.device(),
		Scope:             e.scope(),
		NowShowing:        e.currentShowing(),
		CacheBytes:        e.cache.Size(),
		CacheCapacity:     e.cache.Capacity(),
		ChangeFeedLive:    e.feed.Connected(),
		ChangeFeedEvents:  e.feed.Received(),
		EventSessionsSeen: e.broker.SessionsSeen.Load(),
		EventSessionsLive: e.broker.ActiveSessions.Load(),
	}
	if store := e.selectedStore.Load(); store != nil {
		selected := *store
		status.SelectedStore = &selected
	}
	if heartbeat, ok := e.session.LastHeartbeat(); ok {
		status.LastHeartbeat = &heartbeat
	}
	return status
}

func (e *Engine) device() models.Device {
	if ident, ok := e.session.Current(); ok {
		return models.Device{ID: ident.ID, Name: ident.Name, PairingState: models.Paired}
	}

	e.m.Lock()
	pairer := e.pairer
	e.m.Unlock()

	if pairer == nil {
		return models.Device{PairingState: models.Unpaired}
	}
	snapshot := pairer.State()
	switch snapshot.State {
	case pairing.CodeGenerated, pairing.Polling:
		return models.Device{
			ID:           snapshot.Attempt.DeviceID,
			PairingState: models.PairingInProgress,
			PairingCode:  snapshot.Attempt.Code,
		}
	default:
		return models.Device{ID: snapshot.Attempt.DeviceID, PairingState: models.Unpaired}
	}
}

func (e *Engine) currentShowing() models.NowShowing {
	if now := e.nowShowing.Load(); now != nil {
		return *now
	}
	return e.runner.NowShowing()
}

// onNowShowing publishes what the runner put on screen, then again with the
// image's dominant colours once they are known.
func (e *Engine) onNowShowing(now models.NowShowing) {
	e.nowShowing.Store(&now)
	e.broker.Publish(shared.STREAM_PLAYBACK, now)

	if now.Kind != models.KindImage || now.URL == "" {
		return
	}
	if cached, found := e.colours.Get(now.URL); found {
		e.withColours(now, cached.([]string))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), colourTimeout)
		defer cancel()
		colours, err := e.extractColours(ctx, now.URL)
		if err != nil {
			slog.Debug("Skipping dominant colours",
				slog.String("url", now.URL),
				slog.String("error", err.Error()))
			return
		}
		e.colours.SetDefault(now.URL, colours)
		e.withColours(now, colours)
	}()
}

// withColours republishes now with colours if it is still on screen.
func (e *Engine) withColours(now models.NowShowing, colours []string) {
	current := e.nowShowing.Load()
	if current == nil || current.URL != now.URL || !current.StartedAt.Equal(now.StartedAt) {
		return
	}
	now.DominantColours = colours
	if !e.nowShowing.CompareAndSwap(current, &now) {
		return
	}
	e.broker.Publish(shared.STREAM_PLAYBACK, now)
}

var (
	errNotImage  = errors.New("media is not a decodable image")
	errNotCached = errors.New("media is not cached yet")
)

// extractColours reads url from the cache once the presentation has
// committed it. It never downloads on its own.
func (e *Engine) extractColours(ctx context.Context, url string) ([]string, error) {
	var media io.ReadCloser
	err := backoff.Retry(func() error {
		var ok bool
		if media, ok = e.cache.Peek(url); !ok {
			return errNotCached
		}
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(colourPollInterval), ctx))
	if err != nil {
		return nil, err
	}
	defer media.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(media, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	head = head[:n]
	if !filetype.IsImage(head) {
		return nil, errNotImage
	}
	return utils.ExtractColours(io.MultiReader(bytes.NewReader(head), media))
}
