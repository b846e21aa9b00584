package dispatcher

import (
	"context"
	"math/rand"
	"time"

	"carecue/internal/eventbus"
	logx "carecue/pkg/logx"
)

// enqueue hands a fired entry to the delivery worker. A full or stopped
// queue drops the notification.
func (s *Service) enqueue(j job) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.queue == nil {
		s.log.Warn("notification dropped; dispatcher stopped", logx.String("id", j.id), logx.String("kind", j.payload.Kind))
		s.publish(eventbus.TypeReminderFailed, j, ErrStopped)
		return
	}
	select {
	case s.queue <- j:
	default:
		s.log.Warn("notification dropped; delivery queue full", logx.String("id", j.id), logx.String("kind", j.payload.Kind))
		s.publish(eventbus.TypeReminderFailed, j, ErrQueueFull)
	}
}

func (s *Service) deliveryLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sink := s.sink
	s.mu.Unlock()

	n := Notification{TriggerID: j.id, Payload: j.payload, FiredAt: j.firedAt}
	attempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sink.Deliver(callCtx, n)
		cancel()
		if err == nil {
			s.log.Info("reminder delivered", logx.String("id", j.id), logx.String("kind", j.payload.Kind), logx.Int("attempt", attempt))
			s.publish(eventbus.TypeReminderFired, j, nil)
			return
		}
		lastErr = err
		s.log.Debug("reminder delivery failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt >= attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("reminder not delivered", logx.String("id", j.id), logx.String("kind", j.payload.Kind), logx.Err(lastErr))
	s.publish(eventbus.TypeReminderFailed, j, lastErr)
}

func (s *Service) publish(typ string, j job, err error) {
	if s.bus == nil {
		return
	}
	ev := FiredEvent{TriggerID: j.id, Kind: j.payload.Kind, At: j.firedAt}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// retryDelay is exponential from RetryBase with 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
