package tunnel

import "github.com/yllada/vpn-client/common"

// Effect describes work the reducer needs done outside of itself. Effects
// are plain data; the Executor runs them.
type Effect interface {
	effectName() string
}

// EffectName returns a stable name for e, suitable as a metrics label.
func EffectName(e Effect) string {
	return e.effectName()
}

// EffectLog writes an entry to the feedback log.
type EffectLog struct {
	Level common.LogLevel
	Tag   string
	Value any
}

// EffectObserveStatus registers Observer on Manager.
type EffectObserveStatus struct {
	Manager  ProviderManager
	Observer *StatusObserver
}

// EffectLoadConfig loads the stored profile.
type EffectLoadConfig struct{}

// EffectInstallConfig creates and installs a profile.
type EffectInstallConfig struct{}

// EffectRemoveConfigs removes every stored profile.
type EffectRemoveConfigs struct{}

// EffectStartTunnel asks the OS to start the tunnel.
type EffectStartTunnel struct {
	Manager ProviderManager
}

// EffectStopTunnel asks the OS to stop the tunnel.
type EffectStopTunnel struct {
	Manager ProviderManager
}

// EffectPersistIntent stores the intent so it survives a relaunch.
type EffectPersistIntent struct {
	Intent Intent
}

func (EffectLog) effectName() string           { return "log" }
func (EffectObserveStatus) effectName() string { return "observe_status" }
func (EffectLoadConfig) effectName() string    { return "load_config" }
func (EffectInstallConfig) effectName() string { return "install_config" }
func (EffectRemoveConfigs) effectName() string { return "remove_configs" }
func (EffectStartTunnel) effectName() string   { return "start_tunnel" }
func (EffectStopTunnel) effectName() string    { return "stop_tunnel" }
func (EffectPersistIntent) effectName() string { return "persist_intent" }
