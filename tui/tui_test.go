package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/vpn-client/broadcast"
	"github.com/yllada/vpn-client/psicash"
	"github.com/yllada/vpn-client/subscription"
	"github.com/yllada/vpn-client/tunnel"
	"github.com/yllada/vpn-client/vpn"
)

type fakeController struct {
	statuses  *broadcast.Broadcaster[tunnel.StatusWithIntent]
	snap      tunnel.Snapshot
	actions   []tunnel.Action
	refreshes int
}

func newFakeController() *fakeController {
	return &fakeController{
		statuses: broadcast.New[tunnel.StatusWithIntent](),
		snap: tunnel.Snapshot{
			Load:      tunnel.Loaded,
			ManagerID: "0123456789abcdef",
			Status:    tunnel.StatusConnected,
			Intent:    tunnel.StartIntent(),
		},
	}
}

func (f *fakeController) Dispatch(a tunnel.Action) bool {
	f.actions = append(f.actions, a)
	return true
}

func (f *fakeController) Snapshot() tunnel.Snapshot { return f.snap }

func (f *fakeController) Subscribe() *broadcast.Subscription[tunnel.StatusWithIntent] {
	return f.statuses.Subscribe()
}

func (f *fakeController) Subscription() subscription.Status {
	return subscription.Status{Kind: subscription.NotSubscribed}
}

func (f *fakeController) Wallet() psicash.State {
	return psicash.State{Balance: 42_000_000_000, HasBalance: true}
}

func (f *fakeController) RefreshWallet() { f.refreshes++ }

func (f *fakeController) Health() (vpn.ConnectionHealth, bool) {
	return vpn.ConnectionHealth{State: vpn.HealthDegraded}, true
}

func (f *fakeController) Provider() (vpn.Provider, bool) {
	if f.snap.Status != tunnel.StatusConnected {
		return nil, false
	}
	return fakeProvider{}, true
}

func (f *fakeController) EgressRegion() string { return "CA" }

type fakeProvider struct{}

func (fakeProvider) ID() string                      { return "0123456789abcdef" }
func (fakeProvider) ConnectionStatus() tunnel.Status { return tunnel.StatusConnected }
func (fakeProvider) ProcessAlive() bool              { return true }
func (fakeProvider) Uptime() time.Duration           { return 2*time.Hour + 5*time.Minute }
func (fakeProvider) LastError() string               { return "" }

func fakeKeyMsg(key string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func TestModel_KeysDispatch(t *testing.T) {
	ctrl := newFakeController()
	var model tea.Model = New(ctrl)

	for _, k := range []string{"s", "x", "r", "p"} {
		model, _ = model.Update(fakeKeyMsg(k))
	}

	if len(ctrl.actions) != 3 {
		t.Fatalf("dispatched %d actions, want 3", len(ctrl.actions))
	}
	if si, ok := ctrl.actions[0].(tunnel.SetIntent); !ok || si.Intent != tunnel.StartIntent() {
		t.Errorf("s dispatched %#v", ctrl.actions[0])
	}
	if si, ok := ctrl.actions[1].(tunnel.SetIntent); !ok || si.Intent != tunnel.StopIntent() {
		t.Errorf("x dispatched %#v", ctrl.actions[1])
	}
	if _, ok := ctrl.actions[2].(tunnel.RestartTunnel); !ok {
		t.Errorf("r dispatched %#v", ctrl.actions[2])
	}
	if ctrl.refreshes != 1 {
		t.Errorf("p refreshed %d times, want 1", ctrl.refreshes)
	}
}

func TestModel_Quit(t *testing.T) {
	model := New(newFakeController())
	_, cmd := model.Update(fakeKeyMsg("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestModel_StatusUpdatesView(t *testing.T) {
	ctrl := newFakeController()
	var model tea.Model = New(ctrl)

	view := model.View()
	for _, want := range []string{"Connected", "01234567", "Degraded", "not subscribed", "42 Psi", "start", "CA", "2h5m0s"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}

	ctrl.snap.Status = tunnel.StatusDisconnecting
	ctrl.snap.Intent = tunnel.StopIntent()
	model, cmd := model.Update(statusMsg{Status: tunnel.StatusDisconnecting, Intent: tunnel.StopIntent()})
	if cmd == nil {
		t.Error("status updates should keep listening")
	}
	if !strings.Contains(model.View(), "Disconnecting") {
		t.Errorf("View() after update:\n%s", model.View())
	}
	if strings.Contains(model.View(), "Uptime") {
		t.Errorf("View() shows uptime while disconnecting:\n%s", model.View())
	}
}

func TestTransitional(t *testing.T) {
	tests := []struct {
		snap tunnel.Snapshot
		want bool
	}{
		{tunnel.Snapshot{Status: tunnel.StatusConnected, Intent: tunnel.StartIntent()}, false},
		{tunnel.Snapshot{Status: tunnel.StatusConnecting}, true},
		{tunnel.Snapshot{Status: tunnel.StatusDisconnected, Intent: tunnel.RestartIntent()}, true},
		{tunnel.Snapshot{Status: tunnel.StatusInvalid, ProfileOperationPending: true}, true},
		{tunnel.Snapshot{Status: tunnel.StatusDisconnected, Intent: tunnel.StopIntent()}, false},
	}
	for _, tc := range tests {
		if got := transitional(tc.snap); got != tc.want {
			t.Errorf("transitional(%+v) = %v, want %v", tc.snap, got, tc.want)
		}
	}
}
