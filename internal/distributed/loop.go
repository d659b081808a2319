package distributed

import (
	"context"
	"time"
)

// UpdateFunc is the application's per-tick pass over its objects.
type UpdateFunc func(tick uint64, now time.Time)

// Loop drives a Host at a fixed tick rate, polling before and after each
// update so input is visible to this tick and changes leave within it.
type Loop struct {
	host   *Host
	update UpdateFunc
	tick   uint64
}

func NewLoop(h *Host, update UpdateFunc) *Loop {
	return &Loop{host: h, update: update}
}

// Ticks reports how many ticks have completed.
func (l *Loop) Ticks() uint64 {
	return l.tick
}

// Tick runs one frame: poll, update, poll.
func (l *Loop) Tick() {
	l.host.PollEvents()
	l.tick++
	if l.update != nil {
		l.update(l.tick, time.Now())
	}
	l.host.PollEvents()
}

// Run ticks at the host's configured interval until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.host.cfg.TickInterval)
	defer ticker.Stop()
	l.host.log.Info().Msgf("distributed.Loop.Run interval=%s", l.host.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			l.host.log.Info().Msgf("distributed.Loop.Run stop ticks=%d", l.tick)
			return ctx.Err()
		case <-ticker.C:
			l.Tick()
		}
	}
}
