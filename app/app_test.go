package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/psicash"
	"github.com/yllada/vpn-client/settings"
	"github.com/yllada/vpn-client/tunnel"
	"github.com/yllada/vpn-client/vpn"
)

type fakeManager struct {
	id string

	mu        sync.Mutex
	status    tunnel.Status
	alive     bool
	observers []func(tunnel.Status)
	starts    int
	stops     int
}

func (m *fakeManager) ID() string { return m.id }

func (m *fakeManager) ConnectionStatus() tunnel.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *fakeManager) ObserveConnectionStatus(fn func(tunnel.Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *fakeManager) ProcessAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

func (m *fakeManager) Uptime() time.Duration {
	if m.ConnectionStatus() != tunnel.StatusConnected {
		return 0
	}
	return time.Minute
}

func (m *fakeManager) LastError() string { return "" }

func (m *fakeManager) setAlive(alive bool) {
	m.mu.Lock()
	m.alive = alive
	m.mu.Unlock()
}

func (m *fakeManager) emit(statuses ...tunnel.Status) {
	for _, st := range statuses {
		m.mu.Lock()
		m.status = st
		obs := append([]func(tunnel.Status){}, m.observers...)
		m.mu.Unlock()
		for _, fn := range obs {
			fn(st)
		}
	}
}

func (m *fakeManager) StartTunnel(context.Context) error {
	m.mu.Lock()
	m.starts++
	m.alive = true
	m.mu.Unlock()
	m.emit(tunnel.StatusConnecting, tunnel.StatusConnected)
	return nil
}

func (m *fakeManager) StopTunnel(context.Context) error {
	m.mu.Lock()
	m.stops++
	if !m.alive && m.status == tunnel.StatusDisconnected {
		m.mu.Unlock()
		return common.ErrNotConnected
	}
	m.alive = false
	m.mu.Unlock()
	m.emit(tunnel.StatusDisconnecting, tunnel.StatusDisconnected)
	return nil
}

func (m *fakeManager) counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

// fakeProfiles holds one installed profile. With a nil manager nothing is
// installed and Install fails with installErr.
type fakeProfiles struct {
	mu         sync.Mutex
	manager    *fakeManager
	loadErr    error
	installErr error
	homepages  func([]string)
	onExit     func(string)
	region     string
}

func (p *fakeProfiles) Load(context.Context) (tunnel.ProviderManager, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if p.manager == nil {
		return nil, nil
	}
	return p.manager, nil
}

func (p *fakeProfiles) Install(context.Context) (tunnel.ProviderManager, error) {
	if p.installErr != nil {
		return nil, p.installErr
	}
	return p.manager, nil
}

func (p *fakeProfiles) OnUnexpectedExit(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onExit = fn
}

// crash kills the tunnel process the way a dying openvpn does: the exit
// hook fires, then Disconnected is reported.
func (p *fakeProfiles) crash() {
	p.manager.setAlive(false)
	p.mu.Lock()
	fn := p.onExit
	p.mu.Unlock()
	if fn != nil {
		fn(p.manager.id)
	}
	p.manager.emit(tunnel.StatusDisconnected)
}

func (p *fakeProfiles) SetEgressRegion(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.region = code
}

func (p *fakeProfiles) egressRegion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.region
}

func (p *fakeProfiles) RemoveAll(context.Context) []error { return nil }

func (p *fakeProfiles) OnHomepages(fn func([]string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.homepages = fn
}

func (p *fakeProfiles) announce(urls ...string) {
	p.mu.Lock()
	fn := p.homepages
	p.mu.Unlock()
	fn(urls)
}

func (p *fakeProfiles) Provider(id string) (vpn.Provider, bool) {
	if p.manager == nil || id != p.manager.id {
		return nil, false
	}
	return p.manager, true
}

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *recordingOpener) Open(_ context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

func (o *recordingOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.urls)
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []tunnel.Status
	errors   []tunnel.ErrorEvent
}

func (n *recordingNotifier) TunnelStatus(prev, cur tunnel.StatusWithIntent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if prev.Status != cur.Status {
		n.statuses = append(n.statuses, cur.Status)
	}
	return nil
}

func (n *recordingNotifier) TunnelError(ev tunnel.ErrorEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, ev)
	return nil
}

func (n *recordingNotifier) errorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errors)
}

func (n *recordingNotifier) saw(s tunnel.Status) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, st := range n.statuses {
		if st == s {
			return true
		}
	}
	return false
}

type countingWallet struct {
	mu       sync.Mutex
	refreshs int
}

func (c *countingWallet) NewTracker(context.Context) (psicash.Tokens, error) {
	return psicash.Tokens{Spender: "s"}, nil
}

func (c *countingWallet) RefreshState(context.Context, psicash.Tokens) (psicash.RefreshResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshs++
	return psicash.RefreshResult{Balance: 7_000_000_000, TokensValid: true}, nil
}

func (c *countingWallet) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshs
}

type harness struct {
	app      *App
	manager  *fakeManager
	profiles *fakeProfiles
	settings *settings.Store
	opener   *recordingOpener
	notifier *recordingNotifier
	wallet   *countingWallet
}

// harnessOption adjusts the environment before the app is created.
type harnessOption func(h *harness, env *Environment)

func withProfileHooks(h *harness, env *Environment) {
	env.Exits = h.profiles
	env.Regions = h.profiles
}

func newHarness(t *testing.T, intent string, health *vpn.HealthConfig, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	kv, err := settings.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	if intent != "" {
		require.NoError(t, kv.Set(ctx, common.SettingTunnelIntent, intent))
	}

	h := &harness{
		manager:  &fakeManager{id: "profile-1", status: tunnel.StatusDisconnected},
		settings: kv,
		opener:   &recordingOpener{},
		notifier: &recordingNotifier{},
		wallet:   &countingWallet{},
	}
	h.profiles = &fakeProfiles{manager: h.manager}

	env := Environment{
		Profiles:           h.profiles,
		Settings:           kv,
		Notifier:           h.notifier,
		Opener:             h.opener,
		Homepages:          h.profiles,
		PsiCash:            h.wallet,
		LandingPageTimeout: time.Second,
	}
	if health != nil {
		env.Health = health
		env.Providers = h.profiles
	}
	for _, opt := range opts {
		opt(h, &env)
	}
	h.app, err = New(ctx, env)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.app.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("app did not stop")
		}
	})
	return h
}

func (h *harness) waitStatus(t *testing.T, status tunnel.Status) tunnel.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	snap, err := h.app.WaitFor(ctx, func(s tunnel.Snapshot) bool { return s.Status == status })
	require.NoError(t, err, "waiting for %s, last %+v", status, snap)
	return snap
}

func TestNew_RequiresProfiles(t *testing.T) {
	_, err := New(context.Background(), Environment{})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestLoadIntent(t *testing.T) {
	ctx := context.Background()
	kv, err := settings.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer kv.Close()

	assert.Equal(t, tunnel.StopIntent(), LoadIntent(ctx, nil))
	assert.Equal(t, tunnel.StopIntent(), LoadIntent(ctx, kv))

	require.NoError(t, kv.Set(ctx, common.SettingTunnelIntent, "start"))
	assert.Equal(t, tunnel.StartIntent(), LoadIntent(ctx, kv))

	require.NoError(t, kv.Set(ctx, common.SettingTunnelIntent, "sideways"))
	assert.Equal(t, tunnel.StopIntent(), LoadIntent(ctx, kv))
}

func TestApp_ResumesAndFansOut(t *testing.T) {
	h := newHarness(t, "start", nil)

	h.waitStatus(t, tunnel.StatusConnected)
	require.Eventually(t, func() bool { return h.wallet.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.app.Wallet().HasBalance }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.notifier.saw(tunnel.StatusConnected))

	h.profiles.announce("https://example.org/landing")
	require.Eventually(t, func() bool { return h.opener.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The page is shown once per session.
	h.profiles.announce("https://example.org/landing")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.opener.count())
}

func TestApp_StopResetsLandingPageAndPersists(t *testing.T) {
	h := newHarness(t, "start", nil)
	h.waitStatus(t, tunnel.StatusConnected)
	h.profiles.announce("https://example.org/landing")
	require.Eventually(t, func() bool { return h.opener.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.app.Dispatch(tunnel.SetIntent{Intent: tunnel.StopIntent(), Reason: tunnel.ReasonUserAction})
	h.waitStatus(t, tunnel.StatusDisconnected)
	require.Eventually(t, func() bool {
		v, _, _ := h.settings.Get(context.Background(), common.SettingTunnelIntent)
		return v == "stop"
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.notifier.saw(tunnel.StatusDisconnected))

	h.app.Dispatch(tunnel.SetIntent{Intent: tunnel.StartIntent(), Reason: tunnel.ReasonUserAction})
	h.waitStatus(t, tunnel.StatusConnected)
	h.profiles.announce("https://example.org/landing")
	require.Eventually(t, func() bool { return h.opener.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.wallet.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestApp_ZombieRestartsTunnel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	h := newHarness(t, "start", &vpn.HealthConfig{
		CheckInterval:    20 * time.Millisecond,
		FailureThreshold: 2,
		DialTimeout:      time.Second,
		TestHosts:        []string{ln.Addr().String()},
	})
	h.waitStatus(t, tunnel.StatusConnected)
	require.Eventually(t, func() bool {
		health, ok := h.app.Health()
		return ok && health.State == vpn.HealthHealthy
	}, 2*time.Second, 10*time.Millisecond)

	h.manager.setAlive(false)
	require.Eventually(t, func() bool {
		starts, stops := h.manager.counts()
		return starts == 2 && stops == 1
	}, 3*time.Second, 10*time.Millisecond)

	snap := h.waitStatus(t, tunnel.StatusConnected)
	assert.Equal(t, tunnel.StartIntent(), snap.Intent)
	assert.Equal(t, tunnel.ReasonZombieProvider, snap.Reason)
}

func TestApp_StartsStoppedWhenNothingPersisted(t *testing.T) {
	h := newHarness(t, "", nil)
	snap := h.waitStatus(t, tunnel.StatusDisconnected)
	assert.Equal(t, tunnel.StopIntent(), snap.Intent)
	starts, _ := h.manager.counts()
	assert.Equal(t, 0, starts)
}

func TestApp_IntentOverrideKeepsPersistedIntent(t *testing.T) {
	ctx := context.Background()
	kv, err := settings.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	require.NoError(t, kv.Set(ctx, common.SettingTunnelIntent, "start"))

	manager := &fakeManager{id: "profile-1", status: tunnel.StatusDisconnected}
	stop := tunnel.StopIntent()
	a, err := New(ctx, Environment{
		Profiles: &fakeProfiles{manager: manager},
		Settings: kv,
		Intent:   &stop,
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Run(runCtx) }()

	waitCtx, cancelWait := context.WithTimeout(ctx, 3*time.Second)
	defer cancelWait()
	snap, err := a.WaitFor(waitCtx, func(s tunnel.Snapshot) bool { return s.Load == tunnel.Loaded })
	require.NoError(t, err)
	assert.Equal(t, tunnel.StopIntent(), snap.Intent)

	cancel()
	require.NoError(t, <-done)

	starts, _ := manager.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, tunnel.StartIntent(), LoadIntent(ctx, kv))
}

func TestApp_LoadFailureNotifiesOnce(t *testing.T) {
	h := newHarness(t, "stop", nil, func(h *harness, env *Environment) {
		h.profiles.loadErr = errors.New("permission denied")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	snap, err := h.app.WaitFor(ctx, func(s tunnel.Snapshot) bool { return s.Load == tunnel.LoadFailed })
	require.NoError(t, err)
	// The status was Invalid before and after the failed load.
	assert.Equal(t, tunnel.StatusInvalid, snap.Status)

	require.Eventually(t, func() bool { return h.notifier.errorCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.notifier.errorCount())
}

func TestApp_InvalidConfigStopsTunnel(t *testing.T) {
	h := newHarness(t, "start", nil, func(h *harness, env *Environment) {
		h.profiles.manager = nil
		h.profiles.installErr = fmt.Errorf("invalid config file: %w", common.ErrInvalidConfig)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	snap, err := h.app.WaitFor(ctx, func(s tunnel.Snapshot) bool { return s.Intent.Kind == tunnel.IntentStop })
	require.NoError(t, err)
	assert.Equal(t, tunnel.ReasonConfigValidationFailed, snap.Reason)
	assert.Equal(t, tunnel.LoadFailed, snap.Load)

	require.Eventually(t, func() bool {
		v, _, _ := h.settings.Get(context.Background(), common.SettingTunnelIntent)
		return v == "stop"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.notifier.errorCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestApp_CrashedProviderRestarts(t *testing.T) {
	h := newHarness(t, "start", nil, withProfileHooks)
	h.waitStatus(t, tunnel.StatusConnected)

	h.profiles.crash()
	require.Eventually(t, func() bool {
		starts, _ := h.manager.counts()
		return starts == 2
	}, 3*time.Second, 10*time.Millisecond)

	snap := h.waitStatus(t, tunnel.StatusConnected)
	assert.Equal(t, tunnel.StartIntent(), snap.Intent)
	assert.Equal(t, tunnel.ReasonZombieProvider, snap.Reason)
}

func TestApp_ProviderDetails(t *testing.T) {
	h := newHarness(t, "start", &vpn.HealthConfig{CheckInterval: time.Hour})
	h.waitStatus(t, tunnel.StatusConnected)

	p, ok := h.app.Provider()
	require.True(t, ok)
	assert.Equal(t, h.manager.id, p.ID())
	assert.Equal(t, time.Minute, p.Uptime())
	assert.Empty(t, p.LastError())

	bare := newHarness(t, "", nil)
	bare.waitStatus(t, tunnel.StatusDisconnected)
	_, ok = bare.app.Provider()
	assert.False(t, ok)
}

func TestApp_EgressRegion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "start", nil, withProfileHooks, func(h *harness, env *Environment) {
		require.NoError(t, env.Settings.Set(ctx, common.SettingEgressRegion, "de"))
	})
	assert.Equal(t, "DE", h.app.EgressRegion())
	assert.Equal(t, "DE", h.profiles.egressRegion())
	h.waitStatus(t, tunnel.StatusConnected)

	require.NoError(t, h.app.SetEgressRegion(ctx, "ca"))
	assert.Equal(t, "CA", h.profiles.egressRegion())
	v, _, _ := h.settings.Get(ctx, common.SettingEgressRegion)
	assert.Equal(t, "CA", v)

	require.Eventually(t, func() bool {
		starts, _ := h.manager.counts()
		snap := h.app.Snapshot()
		return starts == 2 && snap.Status == tunnel.StatusConnected && !snap.WillReconnect()
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, tunnel.ReasonEgressRegionChanged, h.app.Snapshot().Reason)

	// Selecting the same region again does not restart the tunnel.
	require.NoError(t, h.app.SetEgressRegion(ctx, "CA"))
	time.Sleep(100 * time.Millisecond)
	starts, _ := h.manager.counts()
	assert.Equal(t, 2, starts)

	assert.ErrorIs(t, h.app.SetEgressRegion(ctx, "Atlantis"), common.ErrInvalidConfig)
	assert.Equal(t, "CA", h.app.EgressRegion())

	require.NoError(t, h.app.SetEgressRegion(ctx, AnyRegion))
	assert.Empty(t, h.profiles.egressRegion())
	_, ok, _ := h.settings.Get(ctx, common.SettingEgressRegion)
	assert.False(t, ok)
}

func TestApp_EgressRegionUnavailable(t *testing.T) {
	h := newHarness(t, "", nil)
	assert.ErrorIs(t, h.app.SetEgressRegion(context.Background(), "CA"), common.ErrInvalidConfig)
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"any", "", false},
		{" ANY ", "", false},
		{"ca", "CA", false},
		{" gb ", "GB", false},
		{"C", "", true},
		{"CAN", "", true},
		{"1A", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRegion(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, common.ErrInvalidConfig, "ParseRegion(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParseRegion(%q)", tt.in)
		assert.Equal(t, tt.want, got, "ParseRegion(%q)", tt.in)
	}
}
