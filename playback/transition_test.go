package playback

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus-crane/marquee/models"
)

func img(url string, d time.Duration) models.PlaylistItem {
	return models.PlaylistItem{URL: url, Media: models.Image{Duration: d}}
}

func vid(url string) models.PlaylistItem {
	return models.PlaylistItem{URL: url, Media: models.Video{}}
}

func playlist(items ...models.PlaylistItem) models.Playlist {
	return models.Playlist{ID: 1, Items: items}
}

func start(t *testing.T, p models.Playlist) (State, []Effect) {
	t.Helper()
	return Transition(NewState(time.Minute), Event{Kind: PlaylistReplaced, Playlist: p})
}

func presented(effects []Effect) (Effect, bool) {
	for _, effect := range effects {
		if effect.Kind == Present {
			return effect, true
		}
	}
	return Effect{}, false
}

func kinds(effects []Effect) []EffectKind {
	out := []EffectKind{}
	for _, effect := range effects {
		out = append(out, effect.Kind)
	}
	return out
}

func TestTransition_LoopWrapsToStart(t *testing.T) {
	for n := 1; n <= 5; n++ {
		items := []models.PlaylistItem{}
		for i := 0; i < n; i++ {
			items = append(items, img(string(rune('a'+i)), time.Second))
		}
		s, _ := start(t, playlist(items...))
		require.Equal(t, 0, s.Index)

		for step := 1; step <= 2*n; step++ {
			s, _ = Transition(s, Event{Kind: TimerFired, Token: s.Token})
			assert.Equal(t, step%n, s.Index)
		}
	}
}

func TestTransition_ImageStartsTimerForItsDuration(t *testing.T) {
	s, effects := start(t, playlist(img("a", 3*time.Second), img("b", 7*time.Second)))

	assert.Equal(t, []EffectKind{Pin, Present, StartTimer}, kinds(effects))
	assert.Equal(t, 3*time.Second, effects[2].Duration)
	assert.Equal(t, s.Token, effects[2].Token)

	s, effects = Transition(s, Event{Kind: TimerFired, Token: s.Token})
	assert.Equal(t, 1, s.Index)
	assert.Equal(t, 7*time.Second, effects[len(effects)-1].Duration)
}

func TestTransition_ImageIgnoresStaleAndForeignSignals(t *testing.T) {
	s, _ := start(t, playlist(img("a", time.Second), img("b", time.Second)))

	next, effects := Transition(s, Event{Kind: TimerFired, Token: s.Token - 1})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)

	next, effects = Transition(s, Event{Kind: EndOfStream, Token: s.Token})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestTransition_VideoOnlyAdvancesOnEndOfStream(t *testing.T) {
	s, effects := start(t, playlist(vid("v"), img("a", time.Second)))
	assert.Equal(t, []EffectKind{Pin, Present}, kinds(effects))

	for i := 0; i < 100; i++ {
		s, effects = Transition(s, Event{Kind: TimerFired, Token: s.Token})
		require.Empty(t, effects)
		require.Equal(t, 0, s.Index)
	}

	s, _ = Transition(s, Event{Kind: EndOfStream, Token: s.Token})
	assert.Equal(t, 1, s.Index)
}

func TestTransition_ReplacementKeepsScreenUntilNextAdvance(t *testing.T) {
	s, _ := start(t, playlist(img("a", time.Second), img("b", time.Second), img("c", time.Second)))
	s, _ = Transition(s, Event{Kind: TimerFired, Token: s.Token})
	require.Equal(t, 1, s.Index)
	token := s.Token

	s, effects := Transition(s, Event{Kind: PlaylistReplaced, Playlist: playlist(img("x", time.Second), img("y", time.Second))})
	assert.Empty(t, effects)
	assert.Equal(t, "b", s.Current.URL)
	assert.Equal(t, token, s.Token)

	// the old timer still belongs to what is on screen
	s, effects = Transition(s, Event{Kind: TimerFired, Token: token})
	p, ok := presented(effects)
	require.True(t, ok)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, "x", p.URL)
}

func TestTransition_ReplacementUsesNewLengthForWrap(t *testing.T) {
	s, _ := start(t, playlist(img("a", time.Second), img("b", time.Second), img("c", time.Second), img("d", time.Second)))
	for i := 0; i < 3; i++ {
		s, _ = Transition(s, Event{Kind: TimerFired, Token: s.Token})
	}
	require.Equal(t, 3, s.Index)

	s, _ = Transition(s, Event{Kind: PlaylistReplaced, Playlist: playlist(img("x", time.Second), img("y", time.Second), img("z", time.Second))})
	s, _ = Transition(s, Event{Kind: TimerFired, Token: s.Token})

	assert.Equal(t, 1, s.Index)
	assert.Equal(t, "y", s.Current.URL)
}

func TestTransition_PinsNewBeforeUnpinningOld(t *testing.T) {
	s, _ := start(t, playlist(img("a", time.Second), img("b", time.Second)))
	_, effects := Transition(s, Event{Kind: TimerFired, Token: s.Token})

	require.GreaterOrEqual(t, len(effects), 2)
	assert.Equal(t, Effect{Kind: Pin, URL: "b"}, effects[0])
	assert.Equal(t, Effect{Kind: Unpin, URL: "a"}, effects[1])
}

func TestTransition_EmptyPlaylistShowsNoContentThenRestartsAtZero(t *testing.T) {
	s, _ := start(t, playlist(img("a", time.Second), img("b", time.Second)))
	s, _ = Transition(s, Event{Kind: TimerFired, Token: s.Token})
	require.Equal(t, 1, s.Index)

	s, effects := Transition(s, Event{Kind: PlaylistReplaced, Playlist: models.EmptyPlaylist(models.Scope{})})
	assert.Equal(t, PhaseNoContent, s.Phase)
	assert.Equal(t, []EffectKind{Unpin, ShowNoContent}, kinds(effects))
	assert.Equal(t, "b", effects[0].URL)

	// a late timer from the previous item does nothing
	_, effects = Transition(s, Event{Kind: TimerFired, Token: s.Token - 1})
	assert.Empty(t, effects)

	s, effects = Transition(s, Event{Kind: PlaylistReplaced, Playlist: playlist(img("c", time.Second), img("d", time.Second))})
	p, ok := presented(effects)
	require.True(t, ok)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, "c", p.URL)
	assert.Equal(t, []EffectKind{Pin, Present, StartTimer}, kinds(effects))
}

func TestTransition_FailureForcesAdvance(t *testing.T) {
	s, _ := start(t, playlist(vid("broken"), img("a", time.Second)))

	s, effects := Transition(s, Event{Kind: MediaFailed, Token: s.Token, Err: errors.New("decode")})

	p, ok := presented(effects)
	require.True(t, ok)
	assert.Equal(t, "a", p.URL)
	assert.Equal(t, 1, s.Failures)

	// a success resets the streak
	s, _ = Transition(s, Event{Kind: TimerFired, Token: s.Token})
	assert.Equal(t, 0, s.Failures)
}

func TestTransition_WholePlaylistFailingWaitsBeforeRetrying(t *testing.T) {
	s, _ := start(t, playlist(img("a", time.Second), img("b", time.Second)))

	s, _ = Transition(s, Event{Kind: MediaFailed, Token: s.Token})
	s, effects := Transition(s, Event{Kind: MediaFailed, Token: s.Token})

	assert.Equal(t, PhaseWaiting, s.Phase)
	assert.Equal(t, []EffectKind{Pin, Unpin, StartTimer}, kinds(effects))
	assert.Equal(t, time.Minute, effects[2].Duration)

	// a failure report while waiting is stale
	waiting := s
	s, effects = Transition(s, Event{Kind: MediaFailed, Token: s.Token})
	assert.Equal(t, waiting, s)
	assert.Empty(t, effects)

	s, effects = Transition(s, Event{Kind: TimerFired, Token: s.Token})
	p, ok := presented(effects)
	require.True(t, ok)
	assert.Equal(t, "a", p.URL)
	assert.Equal(t, PhaseShowing, s.Phase)
}

func TestTransition_EmptyThenSingleImageLoops(t *testing.T) {
	s, effects := Transition(NewState(time.Minute), Event{Kind: PlaylistReplaced, Playlist: models.EmptyPlaylist(models.Scope{})})
	assert.Equal(t, []EffectKind{ShowNoContent}, kinds(effects))

	s, effects = Transition(s, Event{Kind: PlaylistReplaced, Playlist: playlist(img("a", 3*time.Second))})
	p, _ := presented(effects)
	assert.Equal(t, "a", p.URL)
	assert.Equal(t, 3*time.Second, effects[len(effects)-1].Duration)

	s, effects = Transition(s, Event{Kind: TimerFired, Token: s.Token})
	p, _ = presented(effects)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, "a", p.URL)
	// a self advance pins and unpins the same url, leaving it pinned once
	assert.Equal(t, Effect{Kind: Pin, URL: "a"}, effects[0])
	assert.Equal(t, Effect{Kind: Unpin, URL: "a"}, effects[1])
}

func TestTransition_ImageThenVideoWaitsForEndOfStream(t *testing.T) {
	s, _ := start(t, playlist(img("a", 2*time.Second), vid("b")))

	s, effects := Transition(s, Event{Kind: TimerFired, Token: s.Token})
	p, _ := presented(effects)
	assert.Equal(t, 1, s.Index)
	assert.Equal(t, "b", p.URL)
	assert.NotContains(t, kinds(effects), StartTimer)

	s, effects = Transition(s, Event{Kind: EndOfStream, Token: s.Token})
	p, _ = presented(effects)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, "a", p.URL)
}

func TestTransition_ReplacementWhileWaitingRetriesFromNewList(t *testing.T) {
	s, _ := start(t, playlist(img("broken", time.Second)))
	s, _ = Transition(s, Event{Kind: MediaFailed, Token: s.Token})
	require.Equal(t, PhaseWaiting, s.Phase)
	token := s.Token

	s, effects := Transition(s, Event{Kind: PlaylistReplaced, Playlist: playlist(img("good", time.Second))})
	assert.Equal(t, []Effect{{Kind: Pin, URL: "good"}, {Kind: Unpin, URL: "broken"}}, effects)
	assert.Equal(t, PhaseWaiting, s.Phase)
	assert.Equal(t, token, s.Token)
	assert.Equal(t, "good", s.PinnedURL)

	s, effects = Transition(s, Event{Kind: TimerFired, Token: token})
	p, ok := presented(effects)
	require.True(t, ok)
	assert.Equal(t, "good", p.URL)
	assert.Equal(t, PhaseShowing, s.Phase)
}

func TestTransition_ReplacementWhileWaitingWrapsToNewLength(t *testing.T) {
	s, _ := start(t, playlist(img("a", time.Second), img("b", time.Second), img("c", time.Second)))
	s, _ = Transition(s, Event{Kind: TimerFired, Token: s.Token})
	s, _ = Transition(s, Event{Kind: TimerFired, Token: s.Token})
	for i := 0; i < 3; i++ {
		s, _ = Transition(s, Event{Kind: MediaFailed, Token: s.Token})
	}
	require.Equal(t, PhaseWaiting, s.Phase)
	require.Equal(t, 2, s.Index)

	s, _ = Transition(s, Event{Kind: PlaylistReplaced, Playlist: playlist(img("x", time.Second), img("y", time.Second))})
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, "x", s.Current.URL)

	s, effects := Transition(s, Event{Kind: TimerFired, Token: s.Token})
	p, ok := presented(effects)
	require.True(t, ok)
	assert.Equal(t, "x", p.URL)
}
