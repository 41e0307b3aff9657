package tunnel

// Status is the connection status reported by the OS for a VPN profile.
type Status int

const (
	// StatusInvalid means the profile is missing, not loaded, or was
	// invalidated by the OS.
	StatusInvalid Status = iota
	// StatusDisconnected indicates no active tunnel.
	StatusDisconnected
	// StatusConnecting indicates the tunnel is being established.
	StatusConnecting
	// StatusConnected indicates an established tunnel.
	StatusConnected
	// StatusReasserting indicates the tunnel is reconnecting after a
	// network change.
	StatusReasserting
	// StatusDisconnecting indicates the tunnel is being torn down.
	StatusDisconnecting
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "Invalid"
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusReasserting:
		return "Reasserting"
	case StatusDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Active reports whether the OS considers the tunnel running or about to run.
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusConnected || s == StatusReasserting
}

// Statuses lists every status, in declaration order.
func Statuses() []Status {
	return []Status{
		StatusInvalid,
		StatusDisconnected,
		StatusConnecting,
		StatusConnected,
		StatusReasserting,
		StatusDisconnecting,
	}
}
