package search

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"
)

// ReleaseOptions bounds how hard a vector handle is closed before its files
// are considered free. Some platforms keep file handles busy for a moment
// after close; a GC pass finalizes anything still referencing them.
type ReleaseOptions struct {
	Attempts int
	Delay    time.Duration // between failed attempts
	GCDelay  time.Duration // settle time after the GC pass
}

// DefaultReleaseOptions returns 3 attempts, 2s apart, with a 500ms settle.
func DefaultReleaseOptions() ReleaseOptions {
	return ReleaseOptions{Attempts: 3, Delay: 2 * time.Second, GCDelay: 500 * time.Millisecond}
}

// CloseWithRetry closes c, retrying up to opts.Attempts times, then forces a
// garbage collection and waits opts.GCDelay. It returns the last close error
// if every attempt failed, or ctx.Err() if ctx ends while waiting.
func CloseWithRetry(ctx context.Context, c io.Closer, opts ReleaseOptions) error {
	attempts := max(opts.Attempts, 1)

	var err error
	for i := range attempts {
		if err = c.Close(); err == nil {
			break
		}
		if i == attempts-1 {
			return fmt.Errorf("search: release failed after %d attempts: %w", attempts, err)
		}
		if werr := sleep(ctx, opts.Delay); werr != nil {
			return werr
		}
	}

	runtime.GC()
	return sleep(ctx, opts.GCDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
