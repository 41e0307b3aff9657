package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-client/tunnel"
)

type fakeSender struct {
	sent   []Notification
	nextID uint32
	err    error
}

func (s *fakeSender) Send(n Notification) (uint32, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.sent = append(s.sent, n)
	s.nextID++
	return s.nextID, nil
}

func swi(s tunnel.Status, i tunnel.Intent) tunnel.StatusWithIntent {
	return tunnel.StatusWithIntent{Status: s, Intent: i}
}

func TestNotifier_TunnelStatus(t *testing.T) {
	start, stop, restart := tunnel.StartIntent(), tunnel.StopIntent(), tunnel.RestartIntent()

	tests := []struct {
		name  string
		prev  tunnel.StatusWithIntent
		cur   tunnel.StatusWithIntent
		title string
	}{
		{"connecting", swi(tunnel.StatusDisconnected, start), swi(tunnel.StatusConnecting, start), "Connecting VPN"},
		{"connected", swi(tunnel.StatusConnecting, start), swi(tunnel.StatusConnected, start), "VPN Connected"},
		{"reasserting", swi(tunnel.StatusConnected, start), swi(tunnel.StatusReasserting, start), "VPN Reconnecting"},
		{"disconnected", swi(tunnel.StatusDisconnecting, stop), swi(tunnel.StatusDisconnected, stop), "VPN Disconnected"},
		{"dropped", swi(tunnel.StatusConnected, start), swi(tunnel.StatusDisconnected, stop), "VPN Disconnected"},
		{"restart disconnect", swi(tunnel.StatusDisconnecting, restart), swi(tunnel.StatusDisconnected, restart), ""},
		{"restart connecting", swi(tunnel.StatusDisconnected, restart), swi(tunnel.StatusConnecting, restart), ""},
		{"initial disconnected", swi(tunnel.StatusInvalid, stop), swi(tunnel.StatusDisconnected, stop), ""},
		{"same status", swi(tunnel.StatusConnected, start), swi(tunnel.StatusConnected, start), ""},
		{"disconnecting", swi(tunnel.StatusConnected, stop), swi(tunnel.StatusDisconnecting, stop), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			n := New(sender, true)
			require.NoError(t, n.TunnelStatus(tt.prev, tt.cur))
			if tt.title == "" {
				assert.Empty(t, sender.sent)
				return
			}
			require.Len(t, sender.sent, 1)
			assert.Equal(t, tt.title, sender.sent[0].Title)
		})
	}
}

func TestNotifier_StatusNotificationsReplaceEachOther(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, true)

	require.NoError(t, n.TunnelStatus(swi(tunnel.StatusDisconnected, tunnel.StartIntent()), swi(tunnel.StatusConnecting, tunnel.StartIntent())))
	require.NoError(t, n.TunnelStatus(swi(tunnel.StatusConnecting, tunnel.StartIntent()), swi(tunnel.StatusConnected, tunnel.StartIntent())))
	require.NoError(t, n.Notify("Balance", "5 Psi"))

	require.Len(t, sender.sent, 3)
	assert.Equal(t, uint32(0), sender.sent[0].ReplacesID)
	assert.Equal(t, uint32(1), sender.sent[1].ReplacesID)
	assert.Equal(t, uint32(0), sender.sent[2].ReplacesID)
}

func TestNotifier_TunnelError(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, true)

	ev := tunnel.NewErrorEvent(tunnel.NewRemovingConfigsError([]error{errors.New("busy")}), time.Now())
	require.NoError(t, n.TunnelError(ev))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, KindError, sender.sent[0].Kind)
	assert.Contains(t, sender.sent[0].Message, "removed")
	assert.Equal(t, byte(2), sender.sent[0].urgency())
}

func TestNotifier_Disabled(t *testing.T) {
	sender := &fakeSender{err: errors.New("should not be called")}
	n := New(sender, false)
	assert.NoError(t, n.Notify("a", "b"))
	assert.NoError(t, n.NotifyWithIcon("a", "b", "icon"))
	assert.NoError(t, n.TunnelStatus(swi(tunnel.StatusConnecting, tunnel.StartIntent()), swi(tunnel.StatusConnected, tunnel.StartIntent())))
}

func TestNotification_Icon(t *testing.T) {
	assert.Equal(t, "network-vpn", Notification{}.icon())
	assert.Equal(t, "dialog-warning", Notification{Kind: KindWarning}.icon())
	assert.Equal(t, "custom", Notification{Kind: KindError, Icon: "custom"}.icon())
}
