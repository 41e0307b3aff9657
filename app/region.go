package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/tunnel"
)

// AnyRegion is accepted in place of an empty code to let the server choose
// the egress region.
const AnyRegion = "any"

// ParseRegion normalizes an egress region selection to an upper-case ISO
// 3166 alpha-2 code. "" and "any" select no region.
func ParseRegion(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, AnyRegion) {
		return "", nil
	}
	code := strings.ToUpper(s)
	if len(code) != 2 || !isLetter(code[0]) || !isLetter(code[1]) {
		return "", fmt.Errorf("%w: egress region %q is not a two-letter country code", common.ErrInvalidConfig, s)
	}
	return code, nil
}

func isLetter(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

// LoadEgressRegion reads the persisted egress region. Missing, unreadable
// or malformed values select no region.
func LoadEgressRegion(ctx context.Context, kv common.KeyValueStore) string {
	if kv == nil {
		return ""
	}
	v, ok, err := kv.Get(ctx, common.SettingEgressRegion)
	if err != nil {
		common.LogWarn("Failed to read egress region: %v", err)
		return ""
	}
	if !ok {
		return ""
	}
	code, err := ParseRegion(v)
	if err != nil {
		common.LogWarn("Ignoring persisted egress region: %v", err)
		return ""
	}
	return code
}

// EgressRegion returns the selected egress region, or "" when the server
// chooses.
func (a *App) EgressRegion() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.region
}

// SetEgressRegion persists and applies an egress region selection. A
// tunnel meant to be running is restarted so the new region takes effect.
func (a *App) SetEgressRegion(ctx context.Context, selection string) error {
	if a.env.Regions == nil {
		return fmt.Errorf("%w: egress region selection is not available", common.ErrInvalidConfig)
	}
	code, err := ParseRegion(selection)
	if err != nil {
		return err
	}

	if kv := a.env.Settings; kv != nil {
		if code == "" {
			err = kv.Delete(ctx, common.SettingEgressRegion)
		} else {
			err = kv.Set(ctx, common.SettingEgressRegion, code)
		}
		if err != nil {
			return common.WrapError(err, "failed to save egress region")
		}
	}

	a.mu.Lock()
	changed := a.region != code
	a.region = code
	a.mu.Unlock()

	a.env.Regions.SetEgressRegion(code)
	if changed {
		common.LogInfo("Egress region set to %q", code)
		if a.store.Snapshot().Intent.Kind == tunnel.IntentStart {
			a.store.Dispatch(tunnel.RestartTunnel{Reason: tunnel.ReasonEgressRegionChanged})
		}
	}
	return nil
}
