package tunnel

import (
	"context"
	"errors"
	"sync"

	"github.com/yllada/vpn-client/actor"
	"github.com/yllada/vpn-client/broadcast"
	"github.com/yllada/vpn-client/common"
)

// Snapshot is a read-only copy of the reconciliation state.
type Snapshot struct {
	Load      LoadStateKind
	ManagerID string
	Failure   *ErrorEvent
	Status    Status
	Intent    Intent
	Reason    IntentReason
	// ProfileOperationPending is true while a load, install or removal
	// is outstanding.
	ProfileOperationPending bool
}

// WillReconnect mirrors StatusWithIntent.WillReconnect.
func (s Snapshot) WillReconnect() bool {
	return StatusWithIntent{Status: s.Status, Intent: s.Intent}.WillReconnect()
}

// StoreConfig configures a Store.
type StoreConfig struct {
	ExecutorConfig
	// InitialIntent is the intent restored from settings at launch.
	InitialIntent Intent
}

// Store owns the reconciliation state and serializes every change to it.
type Store struct {
	mailbox  *actor.Mailbox[Action]
	exec     *Executor
	statuses *broadcast.Broadcaster[StatusWithIntent]
	failures *broadcast.Broadcaster[ErrorEvent]
	metrics  Metrics

	// state is only touched by the Run goroutine.
	state State

	mu   sync.RWMutex
	snap Snapshot
}

// NewStore creates a store. Call Run to start processing actions.
func NewStore(cfg StoreConfig) *Store {
	s := &Store{
		mailbox:  actor.NewMailbox[Action](),
		statuses: broadcast.New[StatusWithIntent](),
		failures: broadcast.New[ErrorEvent](),
		metrics:  cfg.Metrics,
		state:    NewState(cfg.InitialIntent),
	}
	s.exec = NewExecutor(cfg.ExecutorConfig, func(a Action) { s.Dispatch(a) })
	s.snap = snapshotOf(&s.state)
	s.statuses.Publish(s.state.StatusWithIntent())
	return s
}

// Dispatch queues a for processing. It never blocks and returns false once
// the store has shut down.
func (s *Store) Dispatch(a Action) bool {
	return s.mailbox.Send(a)
}

// Subscribe returns a subscription to status/intent changes. The current
// value is delivered first.
func (s *Store) Subscribe() *broadcast.Subscription[StatusWithIntent] {
	return s.statuses.Subscribe()
}

// Failures returns a subscription to load state failures. Each failed
// load, install or removal is delivered once, even when the status and
// intent stay the same.
func (s *Store) Failures() *broadcast.Subscription[ErrorEvent] {
	return s.failures.Subscribe()
}

// Current returns the last published status and intent.
func (s *Store) Current() StatusWithIntent {
	v, _ := s.statuses.Latest()
	return v
}

// Snapshot returns a copy of the state as of the last handled action.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Run processes actions until ctx is cancelled, then waits for running
// effects and closes subscriptions.
func (s *Store) Run(ctx context.Context) error {
	err := actor.Run(ctx, s.mailbox, s.handle)
	s.mailbox.Close()
	if !s.exec.Wait(common.ShutdownTimeout) {
		common.LogWarn("tunnel: effects still running after %v", common.ShutdownTimeout)
	}
	s.statuses.Close()
	s.failures.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Store) handle(ctx context.Context, a Action) {
	before := s.state.StatusWithIntent()
	prevLoad := s.state.LoadState.Kind()
	prevFailure, _ := s.state.LoadState.Failure()

	effects := Reduce(&s.state, a)

	if s.metrics != nil {
		s.metrics.ActionHandled(ActionName(a))
	}

	after := s.state.StatusWithIntent()
	s.mu.Lock()
	s.snap = snapshotOf(&s.state)
	s.mu.Unlock()

	if after != before || s.state.LoadState.Kind() != prevLoad {
		if s.metrics != nil {
			s.metrics.StateChanged(s.state.LoadState.Kind().String(), after.Status.String())
		}
	}
	if after != before {
		common.LogDebug("tunnel: %s", after)
		s.statuses.Publish(after)
	}

	if ev, ok := s.state.LoadState.Failure(); ok && ev.ID != prevFailure.ID {
		s.failures.Publish(ev)
	}

	for _, eff := range effects {
		s.exec.Execute(ctx, eff)
	}
}

func snapshotOf(st *State) Snapshot {
	snap := Snapshot{
		Load:                    st.LoadState.Kind(),
		Status:                  st.Status,
		Intent:                  st.Intent,
		Reason:                  st.Reason,
		ProfileOperationPending: st.ProfileOperationPending(),
	}
	if m, ok := st.LoadState.Manager(); ok {
		snap.ManagerID = m.ID()
	}
	if ev, ok := st.LoadState.Failure(); ok {
		snap.Failure = &ev
	}
	return snap
}
