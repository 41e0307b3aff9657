package tunnel

import (
	"fmt"

	"github.com/yllada/vpn-client/common"
)

// profileOp is an outstanding profile store operation.
type profileOp int

const (
	profileIdle profileOp = iota
	profileLoading
	profileInstalling
	profileRemoving
)

// tunnelOp is a start or stop request.
type tunnelOp int

const (
	tunnelNone tunnelOp = iota
	tunnelStart
	tunnelStop
)

// State is the reconciliation state owned by a Store.
type State struct {
	LoadState ProviderManagerLoadState
	Intent    Intent
	Reason    IntentReason
	// Status is the last status observed for the loaded manager, or
	// StatusInvalid when none is loaded.
	Status Status

	profile profileOp
	// inflight is the start/stop request awaiting its result.
	inflight tunnelOp
	// issued is the start/stop request already made for the current
	// intent epoch.
	issued tunnelOp
}

// NewState returns the launch state with the persisted intent.
func NewState(intent Intent) State {
	return State{
		Intent: intent,
		Reason: ReasonAppLaunch,
		Status: StatusInvalid,
	}
}

// StatusWithIntent returns the value published to dependent subsystems.
func (s *State) StatusWithIntent() StatusWithIntent {
	return StatusWithIntent{Status: s.Status, Intent: s.Intent}
}

// ProfileOperationPending reports whether a load, install or removal is
// outstanding.
func (s *State) ProfileOperationPending() bool {
	return s.profile != profileIdle
}

// Reduce applies a to s and returns the effects to execute.
func Reduce(s *State, a Action) []Effect {
	switch a := a.(type) {
	case LoadConfig:
		if s.profile != profileIdle {
			return nil
		}
		s.profile = profileLoading
		return []Effect{EffectLoadConfig{}}

	case SetIntent:
		effects := s.setIntent(a.Intent, a.Reason)
		if s.LoadState.Kind() == LoadFailed && a.Reason == ReasonUserAction && s.profile == profileIdle {
			s.profile = profileLoading
			return append(effects, EffectLoadConfig{})
		}
		return append(effects, s.reconcile()...)

	case RestartTunnel:
		return s.restart(a.Reason)

	case ZombieDetected:
		return s.restart(ReasonZombieProvider)

	case ConfigValidationFailed:
		effects := []Effect{EffectLog{
			Level: common.LevelWarn,
			Tag:   common.TagTunnelIntent,
			Value: fmt.Sprintf("VPN configuration validation failed: %v", a.Err),
		}}
		effects = append(effects, s.setIntent(StopIntent(), ReasonConfigValidationFailed)...)
		return append(effects, s.reconcile()...)

	case RemoveConfigs:
		if s.profile != profileIdle {
			return nil
		}
		s.profile = profileRemoving
		return []Effect{EffectRemoveConfigs{}}

	case ConfigUpdated:
		if s.profile == profileLoading || s.profile == profileInstalling {
			s.profile = profileIdle
		}
		effects, invalid := s.LoadState.UpdateState(a.Result)
		if invalid {
			s.Status = StatusInvalid
		} else {
			s.Status = s.LoadState.ConnectionStatus()
		}
		return append(effects, s.reconcile()...)

	case ConfigsRemoved:
		if s.profile == profileRemoving {
			s.profile = profileIdle
		}
		if a.Failure != nil {
			effects, _ := s.LoadState.UpdateState(FailedResult(*a.Failure))
			s.Status = StatusInvalid
			return effects
		}
		s.profile = profileLoading
		return []Effect{
			EffectLog{Level: common.LevelInfo, Tag: common.TagRemoveConfigs, Value: "removed VPN configurations"},
			EffectLoadConfig{},
		}

	case StatusChanged:
		return s.statusChanged(a)

	case TunnelStarted:
		if s.inflight == tunnelStart {
			s.inflight = tunnelNone
		}
		var effects []Effect
		if a.Err != nil {
			effects = append(effects, EffectLog{Level: common.LevelError, Tag: common.TagStartTunnel, Value: a.Err})
			effects = append(effects, s.setIntent(StopIntent(), ReasonStartFailed)...)
		}
		return append(effects, s.reconcile()...)

	case TunnelStopped:
		if s.inflight == tunnelStop {
			s.inflight = tunnelNone
		}
		var effects []Effect
		if a.Err != nil {
			effects = append(effects, EffectLog{Level: common.LevelError, Tag: common.TagStopTunnel, Value: a.Err})
			// A restart whose stop failed leaves the tunnel running.
			if s.Intent.Transition == TransitionRestart && s.issued == tunnelStop {
				s.Intent.Transition = TransitionNone
			}
		}
		return append(effects, s.reconcile()...)

	default:
		panic(fmt.Sprintf("tunnel: unhandled action %T", a))
	}
}

func (s *State) restart(reason IntentReason) []Effect {
	if s.profile != profileIdle {
		return nil
	}
	if s.Intent.Kind != IntentStart {
		return []Effect{EffectLog{
			Level: common.LevelInfo,
			Tag:   common.TagTunnelIntent,
			Value: fmt.Sprintf("restart (%s) ignored: tunnel intent is stop", reason),
		}}
	}
	effects := s.setIntent(RestartIntent(), reason)
	return append(effects, s.reconcile()...)
}

// setIntent starts a new intent epoch. Setting the current intent again is
// a no-op.
func (s *State) setIntent(i Intent, reason IntentReason) []Effect {
	if s.Intent == i {
		return nil
	}
	prev := s.Intent
	s.Intent = i
	s.Reason = reason
	s.issued = tunnelNone

	effects := []Effect{EffectLog{
		Level: common.LevelInfo,
		Tag:   common.TagTunnelIntent,
		Value: fmt.Sprintf("intent %s -> %s (%s)", prev, i, reason),
	}}
	if prev.Persisted() != i.Persisted() {
		effects = append(effects, EffectPersistIntent{Intent: i})
	}
	return effects
}

func (s *State) statusChanged(a StatusChanged) []Effect {
	m, ok := s.LoadState.Manager()
	if !ok || m.ID() != a.ManagerID {
		return nil
	}
	if a.Status == s.Status {
		return nil
	}
	prev := s.Status
	s.Status = a.Status

	var effects []Effect
	switch {
	case a.Status == StatusConnected && s.Intent.Transition == TransitionRestart && s.issued == tunnelStart:
		s.Intent.Transition = TransitionNone
	case a.Status == StatusDisconnected && (prev.Active() || prev == StatusDisconnecting) && s.providerStoppedItself():
		effects = s.setIntent(StopIntent(), ReasonProviderStopped)
	}
	return append(effects, s.reconcile()...)
}

// providerStoppedItself reports whether a disconnect happened while the
// tunnel was meant to be running and no stop had been requested.
func (s *State) providerStoppedItself() bool {
	if s.Intent.Kind != IntentStart || s.inflight == tunnelStop {
		return false
	}
	return !(s.Intent.Transition == TransitionRestart && s.issued == tunnelStop)
}

// reconcile compares the intent with the load state and status and issues
// at most one OS request.
func (s *State) reconcile() []Effect {
	if s.profile != profileIdle || s.inflight != tunnelNone {
		return nil
	}

	switch s.LoadState.Kind() {
	case NoneStored:
		if s.Intent.Kind == IntentStart {
			s.profile = profileInstalling
			return []Effect{EffectInstallConfig{}}
		}
		return nil

	case Loaded:
		m, _ := s.LoadState.Manager()
		if s.Intent.Kind == IntentStop {
			if s.Status.Active() && s.issued != tunnelStop {
				return s.issue(tunnelStop, m)
			}
			return nil
		}

		if s.Intent.Transition == TransitionRestart {
			switch s.issued {
			case tunnelNone:
				if s.Status.Active() {
					return s.issue(tunnelStop, m)
				}
				if s.Status == StatusDisconnecting {
					return nil
				}
				return s.issue(tunnelStart, m)
			case tunnelStop:
				if s.Status == StatusDisconnected || s.Status == StatusInvalid {
					return s.issue(tunnelStart, m)
				}
			}
			return nil
		}

		if (s.Status == StatusDisconnected || s.Status == StatusInvalid) && s.issued != tunnelStart {
			return s.issue(tunnelStart, m)
		}
		return nil

	default:
		// NonLoaded waits for the first load; LoadFailed waits for an
		// explicit retry.
		return nil
	}
}

func (s *State) issue(op tunnelOp, m ProviderManager) []Effect {
	s.issued = op
	s.inflight = op
	if op == tunnelStart {
		return []Effect{EffectStartTunnel{Manager: m}}
	}
	return []Effect{EffectStopTunnel{Manager: m}}
}
