package tunnel

import (
	"fmt"

	"github.com/yllada/vpn-client/common"
)

// LoadStateKind discriminates ProviderManagerLoadState.
type LoadStateKind int

const (
	// NonLoaded is the initial state, before any load completed.
	NonLoaded LoadStateKind = iota
	// NoneStored means no VPN profile is installed.
	NoneStored
	// Loaded means a profile is installed and its manager is held.
	Loaded
	// LoadFailed means the last load/save/remove attempt failed.
	LoadFailed
)

// String returns a human-readable representation of the kind.
func (k LoadStateKind) String() string {
	switch k {
	case NonLoaded:
		return "nonLoaded"
	case NoneStored:
		return "noneStored"
	case Loaded:
		return "loaded"
	case LoadFailed:
		return "error"
	default:
		return "unknown"
	}
}

// ConfigUpdateResult is the outcome of an asynchronous profile load or save.
// Exactly one of the following holds: Failure is set (failure), Manager is
// set (success with a profile), or neither is set (success with none).
type ConfigUpdateResult struct {
	Manager  ProviderManager
	Observer *StatusObserver
	Failure  *ErrorEvent
}

// NoneStoredResult reports a successful load that found no profile.
func NoneStoredResult() ConfigUpdateResult {
	return ConfigUpdateResult{}
}

// StoredResult reports a successful load of m, to be observed by obs.
func StoredResult(m ProviderManager, obs *StatusObserver) ConfigUpdateResult {
	return ConfigUpdateResult{Manager: m, Observer: obs}
}

// FailedResult reports a failed load, save or removal.
func FailedResult(ev ErrorEvent) ConfigUpdateResult {
	return ConfigUpdateResult{Failure: &ev}
}

// ProviderManagerLoadState tracks whether the OS VPN profile has been
// loaded. The zero value is NonLoaded.
type ProviderManagerLoadState struct {
	kind    LoadStateKind
	manager ProviderManager
	failure ErrorEvent
}

// Kind returns the current discriminant.
func (s ProviderManagerLoadState) Kind() LoadStateKind {
	return s.kind
}

// Manager returns the loaded manager.
func (s ProviderManagerLoadState) Manager() (ProviderManager, bool) {
	if s.kind != Loaded {
		return nil, false
	}
	return s.manager, true
}

// Failure returns the error event of a failed load.
func (s ProviderManagerLoadState) Failure() (ErrorEvent, bool) {
	if s.kind != LoadFailed {
		return ErrorEvent{}, false
	}
	return s.failure, true
}

// ConnectionStatus returns the manager's live status when loaded and
// StatusInvalid otherwise.
func (s ProviderManagerLoadState) ConnectionStatus() Status {
	if s.kind != Loaded {
		return StatusInvalid
	}
	return s.manager.ConnectionStatus()
}

// VPNConfigurationInstalled reports whether a profile is loaded. It panics
// when called before the first load completed; callers must wait for it.
func (s ProviderManagerLoadState) VPNConfigurationInstalled() bool {
	switch s.kind {
	case NonLoaded:
		panic("tunnel: VPNConfigurationInstalled queried before the first load completed")
	case Loaded:
		return true
	default:
		return false
	}
}

// UpdateState applies the outcome of a load or save. It returns the effects
// the caller must run and whether the current VPN status must be treated
// as invalid.
func (s *ProviderManagerLoadState) UpdateState(result ConfigUpdateResult) (effects []Effect, vpnStatusInvalid bool) {
	switch {
	case result.Failure != nil:
		s.kind = LoadFailed
		s.manager = nil
		s.failure = *result.Failure
		return []Effect{EffectLog{
			Level: common.LevelError,
			Tag:   common.TagProviderManagerStateUpdate,
			Value: *result.Failure,
		}}, true

	case result.Manager == nil:
		s.kind = NoneStored
		s.manager = nil
		s.failure = ErrorEvent{}
		return nil, true

	default:
		prev, wasLoaded := s.Manager()
		s.kind = Loaded
		s.manager = result.Manager
		s.failure = ErrorEvent{}
		if wasLoaded && SameManager(prev, result.Manager) {
			return nil, false
		}
		return []Effect{EffectObserveStatus{
			Manager:  result.Manager,
			Observer: result.Observer,
		}}, false
	}
}

func (s ProviderManagerLoadState) String() string {
	switch s.kind {
	case Loaded:
		return fmt.Sprintf("loaded(%s)", s.manager.ID())
	case LoadFailed:
		return fmt.Sprintf("error(%s)", s.failure.Error())
	default:
		return s.kind.String()
	}
}
