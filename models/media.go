package models

import (
	"fmt"
	"time"
)

// MediaKind is only used at the edges (logging, JSON) and is derived from
// the MediaRef rather than stored alongside it.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// MediaRef describes how a playlist item is presented and what makes it
// advance. It is implemented by Image and Video only.
type MediaRef interface {
	Kind() MediaKind
	isMediaRef()
}

// Image is shown for Duration and then advanced by a timer.
type Image struct {
	Duration time.Duration
}

func (Image) Kind() MediaKind { return KindImage }
func (Image) isMediaRef()     {}

// Video is shown until the playback capability reports end of stream.
type Video struct{}

func (Video) Kind() MediaKind { return KindVideo }
func (Video) isMediaRef()     {}

type PlaylistItem struct {
	ContentID string   `json:"content_id"`
	URL       string   `json:"url"`
	Media     MediaRef `json:"-"`
	Order     int      `json:"order"`
}

func (pi PlaylistItem) IsVideo() bool {
	_, ok := pi.Media.(Video)
	return ok
}

// ImageDuration returns the display duration of an image item and false for
// anything else.
func (pi PlaylistItem) ImageDuration() (time.Duration, bool) {
	img, ok := pi.Media.(Image)
	if !ok {
		return 0, false
	}
	return img.Duration, true
}

func (pi PlaylistItem) String() string {
	if pi.Media == nil {
		return fmt.Sprintf("unknown:%s", pi.URL)
	}
	return fmt.Sprintf("%s:%s", pi.Media.Kind(), pi.URL)
}

// Playlist is the whole presentation program for a scope. It is always
// replaced wholesale, never patched.
type Playlist struct {
	ID    int64          `json:"id"`
	Scope Scope          `json:"scope"`
	Items []PlaylistItem `json:"items"`
}

func (p Playlist) Len() int {
	return len(p.Items)
}

func (p Playlist) IsEmpty() bool {
	return len(p.Items) == 0
}

// At returns the item at i modulo the playlist length.
func (p Playlist) At(i int) (PlaylistItem, bool) {
	if len(p.Items) == 0 {
		return PlaylistItem{}, false
	}
	n := len(p.Items)
	return p.Items[((i%n)+n)%n], true
}

func EmptyPlaylist(scope Scope) Playlist {
	return Playlist{Scope: scope, Items: []PlaylistItem{}}
}
