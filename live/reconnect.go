package live

import (
	"context"
	"time"

	"github.com/justapithecus/livefeed/lserr"
)

// Reconnect defaults.
const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
)

// ReconnectPolicy bounds automatic recovery of a failed session.
// MaxAttempts of zero disables automatic reconnection.
type ReconnectPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// DefaultReconnectPolicy returns the policy used by the CLI.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// Enabled reports whether failures are recovered automatically.
func (p ReconnectPolicy) Enabled() bool {
	return p.MaxAttempts > 0
}

// Validate checks the policy.
func (p ReconnectPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return lserr.BadArgument("reconnect.max_attempts", "must not be negative")
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return lserr.BadArgument("reconnect.backoff", "must not be negative")
	}
	if p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff {
		return lserr.BadArgument("reconnect.initial_backoff", "exceeds max_backoff")
	}
	return nil
}

// Backoff returns the wait before the given attempt, counted from 1.
// The first attempt is immediate; later ones double from InitialBackoff,
// capped at MaxBackoff.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 || p.InitialBackoff <= 0 {
		return 0
	}
	d := p.InitialBackoff
	for i := 2; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// attempts returns how many attempts a reconnection makes. An explicit
// Reconnect call makes one attempt even when the policy is disabled.
func (p ReconnectPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reconnect re-establishes the session after cause. A started session has
// its subscriptions replayed and streaming restarted. Authentication and
// protocol failures end the session immediately; transport failures are
// retried until the policy is exhausted.
func (s *Session) reconnect(ctx context.Context, cause error) error {
	attempts := s.cfg.Reconnect.attempts()
	s.dropConn()
	s.logger.Warn("connection lost, reconnecting", map[string]any{
		"error":        errString(cause),
		"max_attempts": attempts,
	})

	last := cause
	for attempt := 1; attempt <= attempts; attempt++ {
		s.emit(Event{Type: EventReconnecting, Attempt: attempt, Err: last})
		if err := sleep(ctx, s.cfg.Reconnect.Backoff(attempt)); err != nil {
			return err
		}
		if s.State() == StateClosed {
			return errSessionClosed("reconnect")
		}

		s.metrics.IncReconnectAttempt()
		err := s.resume(ctx)
		if err == nil {
			s.metrics.IncReconnectSuccess()
			s.logger.Info("reconnected", map[string]any{"attempt": attempt})
			s.emit(Event{Type: EventReconnected, Attempt: attempt})
			return nil
		}
		s.dropConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.State() == StateClosed {
			return errSessionClosed("reconnect")
		}
		if !lserr.IsRetryable(err) {
			s.metrics.IncReconnectFailure()
			s.logger.Error("reconnect failed", map[string]any{"attempt": attempt, "error": err.Error()})
			s.fail(err)
			return err
		}
		s.logger.Warn("reconnect attempt failed", map[string]any{"attempt": attempt, "error": err.Error()})
		last = err
	}

	exhausted := lserr.ReconnectExhausted(attempts, last)
	s.metrics.IncReconnectFailure()
	s.logger.Error("reconnect exhausted", map[string]any{"attempts": attempts, "error": errString(last)})
	s.fail(exhausted)
	return exhausted
}

// resume dials and authenticates, then restores streaming for a started session.
func (s *Session) resume(ctx context.Context) error {
	if err := s.establish(ctx); err != nil {
		return err
	}
	if !s.started {
		return nil
	}
	if err := s.sendChunks(ctx, s.subs.Replay()); err != nil {
		return err
	}
	if _, err := s.startStream(ctx); err != nil {
		return err
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
