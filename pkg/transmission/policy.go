package transmission

import (
	"log/slog"
	"sync"
	"time"
)

// State is the shared gate controlling whether sends or persistence are
// currently allowed.
type State int32

const (
	// StateUnblocked allows network sends.
	StateUnblocked State = iota
	// StateBackoff suspends sends after repeated failures.
	StateBackoff
	// StateBlockedButCanBePersisted suspends sends but allows disk
	// persistence (server-directed throttling).
	StateBlockedButCanBePersisted
	// StateBlockedAndCannotBePersist disallows both sending and
	// persisting.
	StateBlockedAndCannotBePersist
)

func (s State) String() string {
	switch s {
	case StateUnblocked:
		return "unblocked"
	case StateBackoff:
		return "backoff"
	case StateBlockedButCanBePersisted:
		return "blocked_but_can_be_persisted"
	case StateBlockedAndCannotBePersist:
		return "blocked_and_cannot_be_persisted"
	default:
		return "unknown"
	}
}

// PolicyManager owns the channel-wide policy state machine and the backoff
// schedule. A generation counter invalidates stale unsuspend timers: a
// scheduled unblock whose captured generation no longer matches the current
// one is a no-op, so a newer suspension is never clobbered by an older
// timer firing.
type PolicyManager struct {
	mu             sync.Mutex
	state          State
	suspendedUntil time.Time
	generation     uint64

	backoff    BackoffPolicy
	throttling bool
	logger     *slog.Logger
}

// NewPolicyManager constructs an unblocked manager. With throttling
// disabled, every suspension request is an unconditional no-op.
func NewPolicyManager(backoff BackoffPolicy, throttlingEnabled bool, logger *slog.Logger) *PolicyManager {
	if logger == nil {
		logger = slog.Default()
	}
	if backoff == nil {
		backoff = NewExponentialBackoff()
	}
	return &PolicyManager{
		state:      StateUnblocked,
		backoff:    backoff,
		throttling: throttlingEnabled,
		logger:     logger,
	}
}

// State returns the current policy state.
func (pm *PolicyManager) State() State {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.state
}

// Backoff advances the calling sender's escalation cursor and suspends the
// channel for the scheduled duration. It returns the duration for
// observability.
func (pm *PolicyManager) Backoff(s *BackoffState) time.Duration {
	d := pm.backoff.Next(s)
	pm.SuspendInSeconds(StateBackoff, d)
	return d
}

// ClearBackoff resets the calling sender's cursor and unblocks the channel
// after a successful send.
func (pm *PolicyManager) ClearBackoff(s *BackoffState) {
	s.Reset()
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.state == StateUnblocked {
		return
	}
	pm.generation++
	pm.state = StateUnblocked
	pm.suspendedUntil = time.Time{}
	pm.logger.Debug("policy cleared", "state", pm.state.String())
}

// SuspendInSeconds moves to the given blocked state and schedules a one-shot
// unblock. A request that would unblock earlier than (or at the same time
// as) an already pending suspension is ignored: suspensions are never
// shortened.
func (pm *PolicyManager) SuspendInSeconds(state State, d time.Duration) {
	if !pm.throttling {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	until := time.Now().Add(d)
	if pm.state != StateUnblocked && !pm.suspendedUntil.IsZero() && !until.After(pm.suspendedUntil) {
		return
	}
	pm.generation++
	gen := pm.generation
	pm.state = state
	pm.suspendedUntil = until
	pm.logger.Info("transmission suspended", "state", state.String(), "duration", d)

	time.AfterFunc(d, func() { pm.unsuspend(gen) })
}

func (pm *PolicyManager) unsuspend(gen uint64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if gen != pm.generation {
		// A newer suspension superseded this timer.
		return
	}
	pm.state = StateUnblocked
	pm.suspendedUntil = time.Time{}
	pm.logger.Info("transmission unblocked")
}
