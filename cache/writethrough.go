package cache

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/marcus-crane/marquee/shared"
)

// writeThrough tees an origin body into a temp file. The file is committed
// once the body has been read to EOF; anything short of that discards it.
// A failing write only stops the caching, the caller keeps streaming.
type writeThrough struct {
	cache   *Cache
	url     string
	body    io.ReadCloser
	tmp     tempFile
	written int64
	failed  bool
	done    bool
}

func (wt *writeThrough) Read(p []byte) (int, error) {
	n, err := wt.body.Read(p)
	if n > 0 && !wt.failed && !wt.done {
		if _, werr := wt.tmp.Write(p[:n]); werr != nil {
			wt.fail(werr)
		} else {
			wt.written += int64(n)
		}
	}
	if errors.Is(err, io.EOF) && !wt.failed && !wt.done {
		wt.done = true
		if cerr := wt.tmp.Close(); cerr != nil {
			wt.failed = true
			wt.discard(cerr)
		} else {
			wt.cache.commit(wt.url, wt.tmp.Name(), wt.written)
		}
	}
	return n, err
}

func (wt *writeThrough) Close() error {
	err := wt.body.Close()
	if !wt.done && !wt.failed {
		wt.done = true
		wt.tmp.Close()
		os.Remove(wt.tmp.Name())
	}
	return err
}

func (wt *writeThrough) fail(err error) {
	wt.failed = true
	wt.tmp.Close()
	wt.discard(err)
}

func (wt *writeThrough) discard(err error) {
	os.Remove(wt.tmp.Name())
	slog.Warn("Failed to write cache file, continuing without caching",
		slog.String("fault", shared.FAULT_CACHE),
		slog.String("url", wt.url),
		slog.String("error", err.Error()))
}
