package grant

import (
	"context"
	"time"

	"github.com/tomasbasham/audio-upload/internal/logging"
)

// SweeperOptions configures a sweeper invocation.
type SweeperOptions struct {
	Store    Store
	Logger   logging.Logger
	Interval time.Duration

	// Retention is how long consumed and expired grants are kept before
	// being forgotten.
	Retention time.Duration
}

// RunSweeper expires and forgets grants every Interval until ctx is done.
//
// RunSweeper is intended to be called in a separate goroutine.
func RunSweeper(ctx context.Context, opts SweeperOptions) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := opts.Store.Sweep(now.Add(-opts.Retention)); n > 0 {
				logger.Debug(ctx, "swept grants", "count", n)
			}
		}
	}
}
