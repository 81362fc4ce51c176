package playback

import (
	"context"
	"io"

	"github.com/marcus-crane/marquee/models"
)

type SurfaceEventKind string

const (
	SurfaceEndOfStream SurfaceEventKind = "end_of_stream"
	SurfaceError       SurfaceEventKind = "error"
)

// SurfaceEvent is how the display reports back. Token is the one passed to
// the Present call the event belongs to.
type SurfaceEvent struct {
	Kind  SurfaceEventKind
	Token uint64
	Err   error
}

// Surface puts media on screen. Present takes ownership of media and must
// close it. Release frees everything the surface holds and is called on
// every exit path of the runner.
type Surface interface {
	Present(ctx context.Context, token uint64, item models.PlaylistItem, media io.ReadCloser) error
	ShowNoContent(ctx context.Context) error
	Events() <-chan SurfaceEvent
	Release() error
}

type Cache interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
	Pin(url string)
	Unpin(url string)
}
