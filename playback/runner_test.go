package playback

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus-crane/marquee/models"
)

type fakeCache struct {
	m      sync.Mutex
	pins   map[string]int
	broken map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{pins: map[string]int{}, broken: map[string]bool{}}
}

func (c *fakeCache) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.broken[url] {
		return nil, errors.New("origin unreachable")
	}
	return io.NopCloser(strings.NewReader(url)), nil
}

func (c *fakeCache) Pin(url string) {
	c.m.Lock()
	defer c.m.Unlock()
	c.pins[url]++
}

func (c *fakeCache) Unpin(url string) {
	c.m.Lock()
	defer c.m.Unlock()
	c.pins[url]--
	if c.pins[url] == 0 {
		delete(c.pins, url)
	}
}

func (c *fakeCache) pinned() map[string]int {
	c.m.Lock()
	defer c.m.Unlock()
	out := map[string]int{}
	for k, v := range c.pins {
		out[k] = v
	}
	return out
}

type shown struct {
	token uint64
	url   string
	at    time.Time
}

type fakeSurface struct {
	m         sync.Mutex
	shown     []shown
	noContent int
	released  int
	events    chan SurfaceEvent
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{events: make(chan SurfaceEvent, 8)}
}

func (s *fakeSurface) Present(ctx context.Context, token uint64, item models.PlaylistItem, media io.ReadCloser) error {
	defer media.Close()
	s.m.Lock()
	defer s.m.Unlock()
	s.shown = append(s.shown, shown{token: token, url: item.URL, at: time.Now()})
	return nil
}

func (s *fakeSurface) ShowNoContent(ctx context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.noContent++
	return nil
}

func (s *fakeSurface) Events() <-chan SurfaceEvent {
	return s.events
}

func (s *fakeSurface) Release() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.released++
	return nil
}

func (s *fakeSurface) history() []shown {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]shown{}, s.shown...)
}

func (s *fakeSurface) urls() []string {
	out := []string{}
	for _, item := range s.history() {
		out = append(out, item.url)
	}
	return out
}

func (s *fakeSurface) noContentCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.noContent
}

func startRunner(t *testing.T, cache Cache, surface Surface) (chan models.Playlist, *Runner, func()) {
	t.Helper()
	updates := make(chan models.Playlist, 1)
	r := NewRunner(cache, surface, updates, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return updates, r, func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestRunner_EmptyThenSingleImageLoops(t *testing.T) {
	surface := newFakeSurface()
	updates, r, stop := startRunner(t, newFakeCache(), surface)
	defer stop()

	updates <- models.EmptyPlaylist(models.Scope{})
	require.Eventually(t, func() bool { return surface.noContentCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "", r.NowShowing().URL)

	updates <- playlist(img("a", 30*time.Millisecond))
	require.Eventually(t, func() bool { return len(surface.history()) >= 2 }, time.Second, time.Millisecond)

	history := surface.history()
	assert.Equal(t, "a", history[0].url)
	assert.Equal(t, "a", history[1].url)
	assert.GreaterOrEqual(t, history[1].at.Sub(history[0].at), 30*time.Millisecond)
}

func TestRunner_ImageThenVideoWaitsForEndOfStream(t *testing.T) {
	surface := newFakeSurface()
	updates, r, stop := startRunner(t, newFakeCache(), surface)
	defer stop()

	updates <- playlist(img("a", 20*time.Millisecond), vid("b"))
	require.Eventually(t, func() bool { return len(surface.history()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, surface.urls())

	// the video stays up with no end of stream
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, surface.history(), 2)
	assert.Equal(t, models.KindVideo, r.NowShowing().Kind)

	surface.events <- SurfaceEvent{Kind: SurfaceEndOfStream, Token: surface.history()[1].token}
	require.Eventually(t, func() bool { return len(surface.history()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, "a", surface.history()[2].url)
}

func TestRunner_FetchFailureSkipsItem(t *testing.T) {
	cache := newFakeCache()
	cache.broken["bad"] = true
	surface := newFakeSurface()
	updates, _, stop := startRunner(t, cache, surface)
	defer stop()

	updates <- playlist(img("bad", time.Hour), vid("good"))

	require.Eventually(t, func() bool { return len(surface.history()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"good"}, surface.urls())
	assert.Equal(t, map[string]int{"good": 1}, cache.pinned())
}

func TestRunner_SurfaceErrorSkipsItem(t *testing.T) {
	surface := newFakeSurface()
	updates, _, stop := startRunner(t, newFakeCache(), surface)
	defer stop()

	updates <- playlist(vid("v"), img("a", time.Hour))
	require.Eventually(t, func() bool { return len(surface.history()) == 1 }, time.Second, time.Millisecond)

	surface.events <- SurfaceEvent{Kind: SurfaceError, Token: surface.history()[0].token, Err: errors.New("codec")}
	require.Eventually(t, func() bool { return len(surface.history()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "a", surface.history()[1].url)
}

func TestRunner_AllBrokenWaitsBetweenRounds(t *testing.T) {
	cache := newFakeCache()
	cache.broken["a"] = true
	cache.broken["b"] = true
	surface := newFakeSurface()
	updates, _, stop := startRunner(t, cache, surface)
	defer stop()

	updates <- playlist(img("a", time.Millisecond), img("b", time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	cache.m.Lock()
	delete(cache.broken, "a")
	cache.m.Unlock()
	require.Eventually(t, func() bool { return len(surface.history()) > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, "a", surface.history()[0].url)
}

func TestRunner_ReplacementDoesNotInterrupt(t *testing.T) {
	surface := newFakeSurface()
	updates, _, stop := startRunner(t, newFakeCache(), surface)
	defer stop()

	updates <- playlist(vid("v1"), vid("v2"))
	require.Eventually(t, func() bool { return len(surface.history()) == 1 }, time.Second, time.Millisecond)
	token := surface.history()[0].token

	updates <- playlist(vid("n1"), vid("n2"), vid("n3"))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, surface.history(), 1)

	surface.events <- SurfaceEvent{Kind: SurfaceEndOfStream, Token: token}
	require.Eventually(t, func() bool { return len(surface.history()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "n2", surface.history()[1].url)
}

func TestRunner_ReleasesOnExit(t *testing.T) {
	cache := newFakeCache()
	surface := newFakeSurface()
	updates, _, stop := startRunner(t, cache, surface)

	updates <- playlist(img("a", time.Hour))
	require.Eventually(t, func() bool { return len(surface.history()) == 1 }, time.Second, time.Millisecond)
	stop()

	surface.m.Lock()
	defer surface.m.Unlock()
	assert.Equal(t, 1, surface.released)
}

func TestRunner_ReportsNowShowing(t *testing.T) {
	surface := newFakeSurface()
	updates := make(chan models.Playlist, 1)
	r := NewRunner(newFakeCache(), surface, updates, time.Second)
	seen := make(chan models.NowShowing, 4)
	r.OnChange(func(now models.NowShowing) { seen <- now })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	updates <- models.Playlist{ID: 9, Items: []models.PlaylistItem{{ContentID: "c1", URL: "a", Media: models.Image{Duration: time.Hour}}}}

	select {
	case now := <-seen:
		assert.Equal(t, "c1", now.ContentID)
		assert.Equal(t, int64(9), now.PlaylistID)
		assert.Equal(t, 1, now.PlaylistLength)
		assert.Equal(t, models.KindImage, now.Kind)
	case <-time.After(time.Second):
		t.Fatal("no now showing update")
	}
}
