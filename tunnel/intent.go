package tunnel

import (
	"fmt"
	"strings"
)

// IntentKind is the declared tunnel state.
type IntentKind int

const (
	IntentStop IntentKind = iota
	IntentStart
)

// Transition marks a pending transition on a start intent.
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionRestart asks for the running tunnel to be stopped and
	// started again.
	TransitionRestart
)

// Intent is the user- or system-declared desired tunnel state.
type Intent struct {
	Kind       IntentKind
	Transition Transition
}

// StartIntent returns a plain start intent.
func StartIntent() Intent { return Intent{Kind: IntentStart} }

// RestartIntent returns a start intent with a pending restart.
func RestartIntent() Intent { return Intent{Kind: IntentStart, Transition: TransitionRestart} }

// StopIntent returns a stop intent.
func StopIntent() Intent { return Intent{Kind: IntentStop} }

func (i Intent) String() string {
	if i.Kind == IntentStop {
		return "stop"
	}
	if i.Transition == TransitionRestart {
		return "start(restart)"
	}
	return "start"
}

// Persisted returns the form stored across launches. Pending transitions
// are not persisted.
func (i Intent) Persisted() string {
	if i.Kind == IntentStart {
		return "start"
	}
	return "stop"
}

// ParseIntent parses the output of Intent.String or Intent.Persisted.
func ParseIntent(s string) (Intent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return StartIntent(), nil
	case "start(restart)":
		return RestartIntent(), nil
	case "stop":
		return StopIntent(), nil
	default:
		return Intent{}, fmt.Errorf("unknown tunnel intent %q", s)
	}
}

// IntentReason records why an intent was set. It is used for diagnostics
// only.
type IntentReason int

const (
	ReasonAppLaunch IntentReason = iota
	ReasonUserAction
	ReasonZombieProvider
	ReasonConfigValidationFailed
	ReasonProviderStopped
	ReasonStartFailed
	ReasonRestart
	ReasonEgressRegionChanged
)

func (r IntentReason) String() string {
	switch r {
	case ReasonAppLaunch:
		return "appLaunch"
	case ReasonUserAction:
		return "userAction"
	case ReasonZombieProvider:
		return "zombieProvider"
	case ReasonConfigValidationFailed:
		return "vpnConfigValidationFailed"
	case ReasonProviderStopped:
		return "providerStopped"
	case ReasonStartFailed:
		return "startFailed"
	case ReasonRestart:
		return "restart"
	case ReasonEgressRegionChanged:
		return "egressRegionChanged"
	default:
		return "unknown"
	}
}

// StatusWithIntent pairs the last observed OS status with the current
// intent.
type StatusWithIntent struct {
	Status Status
	Intent Intent
}

// WillReconnect is true exactly when the intent is start with a pending
// restart. Consumers use it to avoid treating a reconnect as a disconnect.
func (s StatusWithIntent) WillReconnect() bool {
	return s.Intent.Kind == IntentStart && s.Intent.Transition == TransitionRestart
}

func (s StatusWithIntent) String() string {
	return fmt.Sprintf("%s (intent: %s)", s.Status, s.Intent)
}
