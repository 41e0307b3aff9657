package tunnel

// Action is a message handled by the reconciliation reducer. The set of
// actions is closed; Reduce switches over every variant.
type Action interface {
	actionName() string
}

// ActionName returns a stable name for a, suitable as a metrics label.
func ActionName(a Action) string {
	return a.actionName()
}

// LoadConfig requests a reload of the VPN profile, on launch or when the
// app comes back to the foreground.
type LoadConfig struct{}

// SetIntent sets the declared tunnel state.
type SetIntent struct {
	Intent Intent
	Reason IntentReason
}

// RestartTunnel requests a stop-then-start of a running tunnel.
type RestartTunnel struct {
	Reason IntentReason
}

// ZombieDetected reports that the tunnel provider stopped working without
// tearing the tunnel down.
type ZombieDetected struct{}

// ConfigValidationFailed reports that the installed profile is unusable.
type ConfigValidationFailed struct {
	Err error
}

// RemoveConfigs requests removal of every stored profile, followed by a
// reload.
type RemoveConfigs struct{}

// ConfigUpdated delivers the result of a load or install.
type ConfigUpdated struct {
	Result ConfigUpdateResult
}

// StatusChanged delivers a status reported by the OS for a manager.
type StatusChanged struct {
	ManagerID string
	Status    Status
}

// TunnelStarted delivers the result of a start request.
type TunnelStarted struct {
	Err error
}

// TunnelStopped delivers the result of a stop request.
type TunnelStopped struct {
	Err error
}

// ConfigsRemoved delivers the result of a removal. Failure is nil when
// every profile was removed.
type ConfigsRemoved struct {
	Failure *ErrorEvent
}

func (LoadConfig) actionName() string             { return "load_config" }
func (SetIntent) actionName() string              { return "set_intent" }
func (RestartTunnel) actionName() string          { return "restart_tunnel" }
func (ZombieDetected) actionName() string         { return "zombie_detected" }
func (ConfigValidationFailed) actionName() string { return "config_validation_failed" }
func (RemoveConfigs) actionName() string          { return "remove_configs" }
func (ConfigUpdated) actionName() string          { return "config_updated" }
func (StatusChanged) actionName() string          { return "status_changed" }
func (TunnelStarted) actionName() string          { return "tunnel_started" }
func (TunnelStopped) actionName() string          { return "tunnel_stopped" }
func (ConfigsRemoved) actionName() string         { return "configs_removed" }
