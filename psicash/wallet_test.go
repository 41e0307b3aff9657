package psicash

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-client/keyring"
	"github.com/yllada/vpn-client/tunnel"
)

type fakeClient struct {
	mu       sync.Mutex
	trackers int
	refresh  []Tokens
	balance  Balance
	valid    bool
}

func (c *fakeClient) NewTracker(context.Context) (Tokens, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackers++
	return Tokens{Spender: "s", Earner: "e", Indicator: "i"}, nil
}

func (c *fakeClient) RefreshState(_ context.Context, t Tokens) (RefreshResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh = append(c.refresh, t)
	return RefreshResult{Balance: c.balance, TokensValid: c.valid}, nil
}

func (c *fakeClient) refreshCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refresh)
}

func newTokenStore(t *testing.T) *keyring.Store {
	t.Helper()
	s, err := keyring.New(keyring.Config{Service: "psicash-test", Dir: t.TempDir(), ForceLocal: true})
	require.NoError(t, err)
	return s
}

func startWallet(t *testing.T, cfg Config) *Wallet {
	t.Helper()
	w := NewWallet(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return w
}

func changed(s tunnel.Status, intent tunnel.Intent) ConnectionChanged {
	return ConnectionChanged{Status: tunnel.StatusWithIntent{Status: s, Intent: intent}}
}

func TestWallet_RefreshOnConnectedTransitionOnly(t *testing.T) {
	client := &fakeClient{balance: 5 * nanoPsiPerPsi, valid: true}
	store := newTokenStore(t)
	w := startWallet(t, Config{Client: client, Tokens: store})

	w.Send(changed(tunnel.StatusConnecting, tunnel.StartIntent()))
	w.Send(changed(tunnel.StatusConnected, tunnel.StartIntent()))
	w.Send(changed(tunnel.StatusConnected, tunnel.StartIntent()))
	require.Eventually(t, func() bool { return w.State().HasBalance }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Balance(5*nanoPsiPerPsi), w.State().Balance)

	// A restart passes through disconnected with a reconnect pending.
	w.Send(changed(tunnel.StatusDisconnecting, tunnel.RestartIntent()))
	w.Send(changed(tunnel.StatusDisconnected, tunnel.RestartIntent()))
	w.Send(changed(tunnel.StatusConnected, tunnel.StartIntent()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, client.refreshCount())

	w.Send(changed(tunnel.StatusDisconnected, tunnel.StopIntent()))
	w.Send(changed(tunnel.StatusConnected, tunnel.StartIntent()))
	require.Eventually(t, func() bool { return client.refreshCount() == 2 }, time.Second, 5*time.Millisecond)

	client.mu.Lock()
	assert.Equal(t, 1, client.trackers)
	client.mu.Unlock()

	raw, err := store.Get(TokensKey)
	require.NoError(t, err)
	var saved Tokens
	require.NoError(t, json.Unmarshal([]byte(raw), &saved))
	assert.Equal(t, "s", saved.Spender)
}

func TestWallet_UsesStoredTokens(t *testing.T) {
	store := newTokenStore(t)
	data, _ := json.Marshal(Tokens{Spender: "stored"})
	require.NoError(t, store.Set(TokensKey, string(data)))

	client := &fakeClient{valid: true}
	w := startWallet(t, Config{Client: client, Tokens: store})
	w.Send(RefreshState{})
	require.Eventually(t, func() bool { return client.refreshCount() == 1 }, time.Second, 5*time.Millisecond)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 0, client.trackers)
	assert.Equal(t, "stored", client.refresh[0].Spender)
}

func TestWallet_InvalidTokensDropped(t *testing.T) {
	store := newTokenStore(t)
	data, _ := json.Marshal(Tokens{Spender: "expired"})
	require.NoError(t, store.Set(TokensKey, string(data)))

	client := &fakeClient{valid: false}
	w := startWallet(t, Config{Client: client, Tokens: store})
	w.Send(RefreshState{})
	require.Eventually(t, func() bool { return w.State().Err != nil }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, w.State().Err, ErrInvalidTokens)
	assert.False(t, w.State().HasBalance)
	assert.False(t, store.Exists(TokensKey))
}
