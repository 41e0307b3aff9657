package tunnel

import "context"

// ProviderManager is a handle to an installed OS VPN profile. The OS owns
// the profile; the handle may go stale at any time, which shows up as
// StatusInvalid or as a failed operation.
type ProviderManager interface {
	// ID identifies the underlying profile. Two handles with the same ID
	// refer to the same profile.
	ID() string
	// ConnectionStatus returns the live connection status.
	ConnectionStatus() Status
	// ObserveConnectionStatus registers fn to be called, in order, with
	// every status the OS reports from now on.
	ObserveConnectionStatus(fn func(Status))
	// StartTunnel asks the OS to start the tunnel.
	StartTunnel(ctx context.Context) error
	// StopTunnel asks the OS to stop the tunnel.
	StopTunnel(ctx context.Context) error
}

// ProfileStore loads, installs and removes the OS VPN profile.
type ProfileStore interface {
	// Load returns the stored profile, or a nil manager when none is stored.
	Load(ctx context.Context) (ProviderManager, error)
	// Install creates and saves the profile, returning its manager.
	Install(ctx context.Context) (ProviderManager, error)
	// RemoveAll removes every stored profile and returns one error per
	// profile that could not be removed.
	RemoveAll(ctx context.Context) []error
}

// Metrics receives reducer and executor telemetry. Implementations must be
// safe for concurrent use.
type Metrics interface {
	ActionHandled(action string)
	EffectExecuted(effect string, err error)
	StateChanged(load string, status string)
}

// SameManager reports whether a and b refer to the same OS profile.
func SameManager(a, b ProviderManager) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}
