package processor

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/converse/internal/session"
)

// Sweep deletes sessions whose last event is older than maxIdle and returns
// how many were removed.
func (p *Processor) Sweep(ctx context.Context, maxIdle time.Duration) (int, error) {
	ids, err := p.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for _, id := range ids {
		ok, err := p.sweepOne(ctx, id, cutoff)
		if err != nil {
			if ctx.Err() != nil {
				return removed, ctx.Err()
			}
			p.log.Warn().Err(err).Str("session_id", id).Msg("sweep failed")
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (p *Processor) sweepOne(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	unlock, err := p.lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	s, err := p.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.LastActivity().Before(cutoff) {
		return false, nil
	}
	if err := p.store.Delete(ctx, id); err != nil {
		return false, err
	}
	p.log.Info().Str("session_id", id).Time("last_activity", s.LastActivity()).Msg("expired session removed")
	return true, nil
}

// StartJanitor sweeps every interval until ctx ends. The returned channel
// closes when the janitor has stopped.
func (p *Processor) StartJanitor(ctx context.Context, interval, maxIdle time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 || maxIdle <= 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := p.Sweep(ctx, maxIdle); err != nil && ctx.Err() == nil {
					p.log.Warn().Err(err).Msg("session sweep failed")
				} else if n > 0 {
					p.log.Info().Int("removed", n).Msg("session sweep")
				}
			}
		}
	}()
	return done
}
