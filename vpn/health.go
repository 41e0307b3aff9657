// Package vpn provides the desktop implementation of the VPN profile
// store and tunnel provider.
// This file contains the ZombieDetector, which notices tunnels that
// report Connected while no longer carrying traffic.
package vpn

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/tunnel"
)

// HealthState represents the current health state of a connection.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the zombie detector.
type HealthConfig struct {
	// CheckInterval is how often to check connection health.
	CheckInterval time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
	// DialTimeout bounds each connectivity probe.
	DialTimeout time.Duration
	// TestHosts are the host:port pairs dialed for health checks.
	TestHosts []string
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:    common.ZombieCheckInterval,
		FailureThreshold: 3,
		DialTimeout:      5 * time.Second,
		TestHosts: []string{
			"1.1.1.1:53", // Cloudflare DNS
			"8.8.8.8:53", // Google DNS
		},
	}
}

// Provider is a loaded tunnel provider. The detector watches it and the
// status views read its process details.
type Provider interface {
	ID() string
	ConnectionStatus() tunnel.Status
	ProcessAlive() bool
	// Uptime is 0 unless the tunnel is connected.
	Uptime() time.Duration
	LastError() string
}

// ConnectionHealth tracks the health of the watched tunnel.
type ConnectionHealth struct {
	ProfileID        string
	State            HealthState
	LastCheck        time.Time
	LastSuccess      time.Time
	ConsecutiveFails int
	Latency          time.Duration
	// Reported is set once the tunnel was declared a zombie, until it
	// recovers or disconnects.
	Reported bool
}

// ZombieDetector periodically checks the connected tunnel. A tunnel whose
// process is gone, or whose connectivity probe fails FailureThreshold
// times in a row, is reported once through the zombie callback.
type ZombieDetector struct {
	mu       sync.RWMutex
	config   HealthConfig
	provider func() (Provider, bool)
	probe    func() (time.Duration, error)
	onZombie func(profileID string)
	health   ConnectionHealth
}

// NewZombieDetector creates a detector for the tunnel returned by
// provider. onZombie is called from the detector goroutine.
func NewZombieDetector(config HealthConfig, provider func() (Provider, bool), onZombie func(profileID string)) *ZombieDetector {
	if config.CheckInterval <= 0 {
		config.CheckInterval = common.ZombieCheckInterval
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	zd := &ZombieDetector{
		config:   config,
		provider: provider,
		onZombie: onZombie,
	}
	zd.probe = zd.testConnectivity
	return zd
}

// Run checks the tunnel every CheckInterval until ctx is done.
func (zd *ZombieDetector) Run(ctx context.Context) error {
	common.LogInfo("Zombie detector started (interval: %v)", zd.config.CheckInterval)
	ticker := time.NewTicker(zd.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			common.LogInfo("Zombie detector stopped")
			return nil
		case <-ticker.C:
			zd.Check()
		}
	}
}

// Health returns a copy of the current health record.
func (zd *ZombieDetector) Health() ConnectionHealth {
	zd.mu.RLock()
	defer zd.mu.RUnlock()
	return zd.health
}

// Check performs one health check and returns the resulting state.
func (zd *ZombieDetector) Check() HealthState {
	p, ok := zd.provider()
	if !ok || p.ConnectionStatus() != tunnel.StatusConnected {
		zd.mu.Lock()
		zd.health = ConnectionHealth{State: HealthUnknown}
		zd.mu.Unlock()
		return HealthUnknown
	}

	id := p.ID()
	var (
		latency time.Duration
		err     error
	)
	if !p.ProcessAlive() {
		err = common.ErrNotConnected
	} else {
		latency, err = zd.probe()
	}

	zd.mu.Lock()
	if zd.health.ProfileID != id {
		zd.health = ConnectionHealth{ProfileID: id, State: HealthUnknown}
	}
	health := &zd.health
	health.LastCheck = time.Now()
	oldState := health.State

	report := false
	if err != nil {
		health.ConsecutiveFails++
		health.Latency = 0
		common.LogWarn("Health check failed for %s (attempt %d/%d): %v",
			id, health.ConsecutiveFails, zd.config.FailureThreshold, err)

		// A vanished process needs no further probing.
		if health.ConsecutiveFails >= zd.config.FailureThreshold || !p.ProcessAlive() {
			health.State = HealthUnhealthy
			report = !health.Reported
			health.Reported = true
		} else {
			health.State = HealthDegraded
		}
	} else {
		health.ConsecutiveFails = 0
		health.LastSuccess = time.Now()
		health.Latency = latency
		health.State = HealthHealthy
		health.Reported = false
	}
	state := health.State
	onZombie := zd.onZombie
	zd.mu.Unlock()

	if oldState != state {
		common.LogInfo("Health state changed for %s: %s -> %s", id, oldState, state)
	}
	if report && onZombie != nil {
		common.LogWarn("Tunnel %s reports connected but is not working", id)
		onZombie(id)
	}
	return state
}

// testConnectivity tests network connectivity through the VPN tunnel.
// Returns latency and error.
func (zd *ZombieDetector) testConnectivity() (time.Duration, error) {
	zd.mu.RLock()
	hosts := zd.config.TestHosts
	timeout := zd.config.DialTimeout
	zd.mu.RUnlock()

	for _, host := range hosts {
		start := time.Now()
		conn, err := net.DialTimeout("tcp", host, timeout)
		if err == nil {
			conn.Close()
			return time.Since(start), nil
		}
	}

	return 0, common.ErrConnectionFailed
}
