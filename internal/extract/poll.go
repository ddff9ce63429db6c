package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/metrics"
	"github.com/sdlite/sdlite-setup/internal/progress"
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultStableTicks  = 6
	DefaultTimeout      = 60 * time.Second
)

// Poller decides when an extraction has finished by watching the
// destination directory until it is non-empty and its snapshot stops
// changing for StableTicks consecutive polls.
type Poller struct {
	Interval    time.Duration
	StableTicks int
	Timeout     time.Duration
}

// DefaultPoller returns a poller with a 200ms interval, six stable ticks
// (about 1.2s without change) and a 60s timeout.
func DefaultPoller() Poller {
	return Poller{
		Interval:    DefaultPollInterval,
		StableTicks: DefaultStableTicks,
		Timeout:     DefaultTimeout,
	}
}

// AwaitStable blocks until dir is stable, the timeout passes, or ctx is
// done. The first snapshot is compared against an empty one, so even a
// directory that was fully populated before the call needs StableTicks
// further polls. The sink is pumped on every tick.
func (p Poller) AwaitStable(ctx context.Context, dir, label string, sink progress.Sink) error {
	return p.AwaitExit(ctx, dir, label, nil, sink)
}

// AwaitExit is AwaitStable for work that reports its own outcome. An
// error received on exit ends the wait with that error; a closed channel
// only stops listening and stability still decides completion.
func (p Poller) AwaitExit(ctx context.Context, dir, label string, exit <-chan error, sink progress.Sink) error {
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
	if p.StableTicks <= 0 {
		p.StableTicks = DefaultStableTicks
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}

	sink.Log("Waiting for extraction to finish: " + label)
	start := time.Now()
	timer := time.NewTimer(p.Interval)
	defer timer.Stop()

	var prev fsutil.Snapshot
	ticks, polls := 0, 0
	for {
		cur := fsutil.Scan(dir)
		polls++
		metrics.RecordStabilityPoll()

		if !cur.Empty() && cur == prev {
			ticks++
		} else {
			ticks = 0
		}
		prev = cur
		sink.Pump()

		if ticks >= p.StableTicks {
			logging.Debug("extraction stable",
				zap.String("label", label),
				zap.String("dir", dir),
				zap.Int("polls", polls),
				zap.Int64("files", cur.Files),
				zap.Int64("bytes", cur.Bytes),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		}

		timer.Reset(p.Interval)
	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-exit:
				if ok && err != nil {
					logging.Warn("extraction failed",
						zap.String("label", label), zap.String("dir", dir), zap.Error(err))
					return err
				}
				exit = nil
			case <-timer.C:
				break wait
			}
		}

		if time.Since(start) > p.Timeout {
			metrics.RecordExtractionTimeout()
			logging.Warn("extraction never became stable",
				zap.String("label", label), zap.String("dir", dir), zap.Int("polls", polls))
			return &TimeoutError{Label: label, Dir: dir, Timeout: p.Timeout, Last: prev}
		}
	}
}
