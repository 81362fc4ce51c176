package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/marcus-crane/marquee/models"
	"github.com/marcus-crane/marquee/playback"
)

const stopWait = 5 * time.Second

var ErrReleased = errors.New("display surface has been released")

// process is one running viewer. Exactly one is alive at a time.
type process struct {
	cmd       *exec.Cmd
	token     uint64
	kind      models.MediaKind
	stopped   bool
	done      chan struct{}
	closeOnce sync.Once
}

// ExecSurface hands media to external viewer commands over stdin. Video
// players exiting cleanly is the end of stream signal; image viewers are
// left up until the next item replaces them.
type ExecSurface struct {
	imageCommand []string
	videoCommand []string
	events       chan playback.SurfaceEvent

	m        sync.Mutex
	current  *process
	released bool
	closed   chan struct{}
}

func NewExecSurface(imageCommand, videoCommand string) (*ExecSurface, error) {
	image := strings.Fields(imageCommand)
	video := strings.Fields(videoCommand)
	if len(image) == 0 || len(video) == 0 {
		return nil, fmt.Errorf("both an image and a video command are required")
	}
	return &ExecSurface{
		imageCommand: image,
		videoCommand: video,
		events:       make(chan playback.SurfaceEvent, 16),
		closed:       make(chan struct{}),
	}, nil
}

func (s *ExecSurface) Events() <-chan playback.SurfaceEvent {
	return s.events
}

func (s *ExecSurface) Present(ctx context.Context, token uint64, item models.PlaylistItem, media io.ReadCloser) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.released {
		media.Close()
		return ErrReleased
	}
	s.stopLocked()
	if s.released {
		media.Close()
		return ErrReleased
	}

	args := s.imageCommand
	kind := models.KindImage
	if item.IsVideo() {
		args = s.videoCommand
		kind = models.KindVideo
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = media
	// don't let a stalled download hold Wait open once the viewer is gone
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		media.Close()
		return fmt.Errorf("failed to start %s: %w", args[0], err)
	}

	proc := &process{cmd: cmd, token: token, kind: kind, done: make(chan struct{})}
	s.current = proc
	go s.watch(proc, media)

	slog.Debug("Started viewer",
		slog.String("command", args[0]),
		slog.Int("pid", cmd.Process.Pid),
		slog.Uint64("token", token))
	return nil
}

func (s *ExecSurface) watch(proc *process, media io.ReadCloser) {
	err := proc.cmd.Wait()
	media.Close()
	defer close(proc.done)

	s.m.Lock()
	stopped := proc.stopped
	if s.current == proc {
		s.current = nil
	}
	s.m.Unlock()

	if stopped {
		return
	}

	var ev playback.SurfaceEvent
	switch {
	case err != nil:
		ev = playback.SurfaceEvent{Kind: playback.SurfaceError, Token: proc.token, Err: err}
	case proc.kind == models.KindVideo:
		ev = playback.SurfaceEvent{Kind: playback.SurfaceEndOfStream, Token: proc.token}
	default:
		// an image viewer exiting cleanly leaves the timer in charge
		return
	}

	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *ExecSurface) ShowNoContent(ctx context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.released {
		return ErrReleased
	}
	s.stopLocked()
	return nil
}

// Release stops any running viewer. It is safe to call more than once.
func (s *ExecSurface) Release() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	s.stopLocked()
	close(s.closed)
	return nil
}

// stopLocked must be called with m held. It waits for the viewer to exit
// without holding the lock so its watcher can finish.
func (s *ExecSurface) stopLocked() {
	proc := s.current
	if proc == nil {
		return
	}
	s.current = nil
	proc.stopped = true
	proc.closeOnce.Do(func() {
		if proc.cmd.Process != nil {
			proc.cmd.Process.Kill()
		}
	})

	s.m.Unlock()
	select {
	case <-proc.done:
	case <-time.After(stopWait):
		slog.Warn("Viewer did not exit after kill", slog.Int("pid", proc.cmd.Process.Pid))
	}
	s.m.Lock()
}
