package playback

import (
	"time"

	"github.com/marcus-crane/marquee/models"
)

type Phase string

const (
	// PhaseIdle is the state before the first playlist arrives
	PhaseIdle      Phase = "idle"
	PhaseShowing   Phase = "showing"
	PhaseWaiting   Phase = "waiting"
	PhaseNoContent Phase = "no_content"
)

// State is everything the scheduler knows. It is a plain value; Transition
// never mutates its input.
type State struct {
	Phase    Phase
	Playlist models.Playlist
	Index    int
	// Current is the item on screen. After a replacement it may no longer be
	// part of Playlist.
	Current   models.PlaylistItem
	Token     uint64
	PinnedURL string
	// Failures counts consecutive failed presentations
	Failures   int
	RetryDelay time.Duration
}

func NewState(retryDelay time.Duration) State {
	return State{
		Phase:      PhaseIdle,
		Playlist:   models.EmptyPlaylist(models.Scope{}),
		RetryDelay: retryDelay,
	}
}

type EventKind string

const (
	PlaylistReplaced EventKind = "playlist_replaced"
	TimerFired       EventKind = "timer_fired"
	EndOfStream      EventKind = "end_of_stream"
	MediaFailed      EventKind = "media_failed"
)

// Event carries the token of the presentation it refers to so that late
// signals from an earlier presentation are ignored.
type Event struct {
	Kind     EventKind
	Token    uint64
	Playlist models.Playlist
	Err      error
}

type EffectKind string

const (
	Present       EffectKind = "present"
	StartTimer    EffectKind = "start_timer"
	Pin           EffectKind = "pin"
	Unpin         EffectKind = "unpin"
	ShowNoContent EffectKind = "show_no_content"
)

type Effect struct {
	Kind     EffectKind
	Token    uint64
	Index    int
	Item     models.PlaylistItem
	URL      string
	Duration time.Duration
}

// Transition is the whole playback state machine. Images advance on the
// timer started for them, videos only on end of stream, and failures advance
// straight away. A replaced playlist never interrupts what is on screen; the
// next advance continues from the same index modulo the new length.
func Transition(s State, ev Event) (State, []Effect) {
	switch ev.Kind {
	case PlaylistReplaced:
		return replace(s, ev.Playlist)
	case TimerFired:
		if ev.Token != s.Token {
			return s, nil
		}
		switch s.Phase {
		case PhaseWaiting:
			return present(s)
		case PhaseShowing:
			if s.Current.IsVideo() {
				return s, nil
			}
			s.Failures = 0
			return advance(s)
		}
	case EndOfStream:
		if ev.Token != s.Token || s.Phase != PhaseShowing || !s.Current.IsVideo() {
			return s, nil
		}
		s.Failures = 0
		return advance(s)
	case MediaFailed:
		if ev.Token != s.Token || s.Phase != PhaseShowing {
			return s, nil
		}
		s.Failures++
		return advance(s)
	}
	return s, nil
}

func replace(s State, playlist models.Playlist) (State, []Effect) {
	s.Playlist = playlist
	s.Failures = 0

	if playlist.IsEmpty() {
		if s.Phase == PhaseNoContent {
			return s, nil
		}
		var effects []Effect
		if s.PinnedURL != "" {
			effects = append(effects, Effect{Kind: Unpin, URL: s.PinnedURL})
		}
		s.Token++
		s.Phase = PhaseNoContent
		s.Index = 0
		s.Current = models.PlaylistItem{}
		s.PinnedURL = ""
		return s, append(effects, Effect{Kind: ShowNoContent, Token: s.Token})
	}

	if s.Phase == PhaseIdle || s.Phase == PhaseNoContent {
		return enter(s, 0)
	}
	if s.Phase == PhaseWaiting {
		// nothing is on screen, retry from the new list when the timer fires
		return rearm(s, s.Index%playlist.Len())
	}
	// keep presenting, the swap takes effect on the next advance
	return s, nil
}

func advance(s State) (State, []Effect) {
	if s.Playlist.IsEmpty() {
		return replace(s, s.Playlist)
	}
	next := (s.Index + 1) % s.Playlist.Len()
	s, effects := enter(s, next)
	if s.Failures > 0 && s.Failures >= s.Playlist.Len() {
		// everything failed in a row, hold off before trying again
		s.Phase = PhaseWaiting
		s.Failures = 0
		filtered := effects[:0]
		for _, effect := range effects {
			if effect.Kind == Pin || effect.Kind == Unpin {
				filtered = append(filtered, effect)
			}
		}
		return s, append(filtered, Effect{Kind: StartTimer, Token: s.Token, Duration: s.RetryDelay})
	}
	return s, effects
}

// enter moves to index i, pinning the new item before releasing the old one.
func enter(s State, i int) (State, []Effect) {
	s, effects := rearm(s, i)
	s, presented := present(s)
	return s, append(effects, presented...)
}

// rearm makes index i current without presenting it.
func rearm(s State, i int) (State, []Effect) {
	item, _ := s.Playlist.At(i)
	effects := []Effect{{Kind: Pin, URL: item.URL}}
	if s.PinnedURL != "" {
		effects = append(effects, Effect{Kind: Unpin, URL: s.PinnedURL})
	}
	s.Index = i
	s.Current = item
	s.PinnedURL = item.URL
	return s, effects
}

func present(s State) (State, []Effect) {
	s.Token++
	s.Phase = PhaseShowing
	effects := []Effect{{Kind: Present, Token: s.Token, Index: s.Index, Item: s.Current, URL: s.Current.URL}}
	if duration, ok := s.Current.ImageDuration(); ok {
		effects = append(effects, Effect{Kind: StartTimer, Token: s.Token, Duration: duration})
	}
	return s, effects
}
