// Package vpn provides the desktop implementation of the VPN profile
// store and tunnel provider.
// This file contains the Manager type, which runs the tunnel process for
// one installed profile and reports its connection status.
package vpn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yllada/vpn-client/actor"
	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/tunnel"
)

// Common errors - re-exported from common package for convenience.
var (
	ErrAlreadyConnected = common.ErrAlreadyConnected
	ErrNotConnected     = common.ErrNotConnected
	ErrConnectionFailed = common.ErrConnectionFailed
)

// Output markers of the tunnel process.
const (
	markerConnected   = "Initialization Sequence Completed"
	markerSoftRestart = "SIGUSR1[soft"
	markerAuthFailed  = "AUTH_FAILED"

	noticeTunnels  = "Tunnels"
	noticeHomepage = "Homepage"
)

// ManagerConfig configures how the tunnel process is run.
type ManagerConfig struct {
	// Command is the tunnel binary.
	Command string
	// Elevate runs Command through pkexec.
	Elevate bool
	// Verbosity is passed as --verb.
	Verbosity int
	// StopTimeout bounds the graceful shutdown before the process is killed.
	StopTimeout time.Duration
	// CommandFactory builds the process. Defaults to exec.Command.
	CommandFactory func(name string, args ...string) *exec.Cmd
	// EgressRegion returns the requested exit region code, or "" for any.
	// It is read on every start.
	EgressRegion func() string
	// OnUnexpectedExit is called with the profile ID when the process of
	// a connected tunnel exits without being stopped. It runs before the
	// Disconnected status is reported.
	OnUnexpectedExit func(id string)
}

// DefaultManagerConfig returns the configuration for command, elevating
// through pkexec when not running as root.
func DefaultManagerConfig(command string) ManagerConfig {
	if command == "" {
		command = "openvpn"
	}
	return ManagerConfig{
		Command:     command,
		Elevate:     os.Geteuid() != 0 && checkCommandExists("pkexec"),
		Verbosity:   3,
		StopTimeout: common.ShutdownTimeout,
	}
}

// Manager runs the tunnel of one profile. It implements
// tunnel.ProviderManager.
type Manager struct {
	profile *Profile
	cfg     ManagerConfig

	mu          sync.RWMutex
	status      tunnel.Status
	cmd         *exec.Cmd
	done        chan struct{}
	stopping    bool
	startTime   time.Time
	lastError   string
	homepages   []string
	onHomepages func([]string)
	observers   []func(tunnel.Status)

	notifications *actor.Mailbox[tunnel.Status]
}

// NewManager creates a disconnected manager for profile. Status observers
// are called in order from a single notifier goroutine that runs until
// Close.
func NewManager(profile *Profile, cfg ManagerConfig) *Manager {
	if cfg.Command == "" {
		cfg.Command = "openvpn"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = common.ShutdownTimeout
	}
	if cfg.CommandFactory == nil {
		cfg.CommandFactory = exec.Command
	}
	m := &Manager{
		profile:       profile,
		cfg:           cfg,
		status:        tunnel.StatusDisconnected,
		notifications: actor.NewMailbox[tunnel.Status](),
	}
	go func() {
		_ = actor.Run(context.Background(), m.notifications, m.notify)
	}()
	return m
}

// ID returns the profile ID.
func (m *Manager) ID() string {
	return m.profile.ID
}

// Profile returns the managed profile.
func (m *Manager) Profile() *Profile {
	return m.profile
}

// ConnectionStatus returns the current status.
func (m *Manager) ConnectionStatus() tunnel.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// ObserveConnectionStatus registers fn for every subsequent status change.
func (m *Manager) ObserveConnectionStatus(fn func(tunnel.Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// OnHomepages sets the handler receiving the homepage URLs announced by
// the tunnel during the current session.
func (m *Manager) OnHomepages(fn func(urls []string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHomepages = fn
}

// Uptime returns how long the tunnel has been running, or 0 when it is
// not connected.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != tunnel.StatusConnected {
		return 0
	}
	return time.Since(m.startTime)
}

// LastError returns the last failure reported by the tunnel process.
func (m *Manager) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// ProcessAlive reports whether the tunnel process is running.
func (m *Manager) ProcessAlive() bool {
	m.mu.RLock()
	cmd := m.cmd
	m.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return cmd.Process.Signal(syscall.Signal(0)) == nil
}

// StartTunnel launches the tunnel process. It returns once the process
// runs; progress is reported through status observers.
func (m *Manager) StartTunnel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, args := m.command()

	m.mu.Lock()
	if m.cmd != nil {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}

	cmd := m.cfg.CommandFactory(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if err := cmd.Start(); err != nil {
		m.lastError = err.Error()
		m.mu.Unlock()
		return fmt.Errorf("%w: failed to start %s: %v", ErrConnectionFailed, name, err)
	}

	m.cmd = cmd
	m.done = make(chan struct{})
	m.stopping = false
	m.startTime = time.Now()
	m.lastError = ""
	m.homepages = nil
	m.setStatusLocked(tunnel.StatusConnecting)
	done := m.done
	m.mu.Unlock()

	common.LogInfo("VPN: Tunnel process for %s started with PID %d", m.profile.ID, cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		m.monitorOutput(stdout)
	}()
	go func() {
		defer readers.Done()
		m.monitorOutput(stderr)
	}()
	go m.wait(cmd, done, &readers)

	return nil
}

// StopTunnel terminates the tunnel process and waits for it to exit.
func (m *Manager) StopTunnel(ctx context.Context) error {
	m.mu.Lock()
	cmd, done := m.cmd, m.done
	if cmd == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.stopping = true
	m.setStatusLocked(tunnel.StatusDisconnecting)
	m.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}

	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		common.LogWarn("VPN: Tunnel process did not exit after %v, killing it", m.cfg.StopTimeout)
		_ = cmd.Process.Kill()
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the notifier goroutine. The manager must not be started
// again afterwards.
func (m *Manager) Close() {
	m.notifications.Close()
}

func (m *Manager) wait(cmd *exec.Cmd, done chan struct{}, readers *sync.WaitGroup) {
	// Output must be fully read before Wait closes the pipes.
	readers.Wait()
	err := cmd.Wait()

	m.mu.RLock()
	crashed := err != nil && !m.stopping &&
		(m.status == tunnel.StatusConnected || m.status == tunnel.StatusReasserting)
	m.mu.RUnlock()
	if crashed && m.cfg.OnUnexpectedExit != nil {
		m.cfg.OnUnexpectedExit(m.profile.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil && !m.stopping {
		common.LogError("VPN: Tunnel process terminated with error: %v", err)
		if m.lastError == "" {
			m.lastError = err.Error()
		}
	} else {
		common.LogInfo("VPN: Tunnel process terminated")
	}
	m.cmd = nil
	m.stopping = false
	m.setStatusLocked(tunnel.StatusDisconnected)
	close(done)
}

func (m *Manager) command() (string, []string) {
	args := []string{
		"--config", m.profile.ConfigPath,
		"--verb", strconv.Itoa(m.cfg.Verbosity),
	}
	args = append(args, routeArgs(m.profile.SplitTunnelRoutes)...)
	if m.cfg.EgressRegion != nil {
		if region := m.cfg.EgressRegion(); region != "" {
			args = append(args, "--setenv", "UV_EGRESS_REGION", region, "--push-peer-info")
		}
	}

	if m.cfg.Elevate {
		return "pkexec", append([]string{m.cfg.Command}, args...)
	}
	return m.cfg.Command, args
}

// routeArgs restricts the tunnel to routes. No routes means the server's
// default route is accepted.
func routeArgs(routes []string) []string {
	var args []string
	for _, route := range routes {
		network, netmask := parseRouteForOpenVPN(route)
		if network == "" {
			continue
		}
		args = append(args, "--route", network, netmask)
	}
	if len(args) == 0 {
		return nil
	}
	return append([]string{"--route-nopull", "--pull-filter", "ignore", "redirect-gateway"}, args...)
}

func (m *Manager) monitorOutput(pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		common.LogDebug("VPN: %s", line)
		m.handleLine(line)
	}
}

func (m *Manager) handleLine(line string) {
	switch {
	case strings.Contains(line, markerConnected):
		m.setStatus(tunnel.StatusConnected)
	case strings.Contains(line, markerSoftRestart):
		m.setStatus(tunnel.StatusReasserting)
	case strings.Contains(line, markerAuthFailed):
		common.LogError("VPN: Authentication failed")
		m.mu.Lock()
		m.lastError = "authentication failed"
		m.mu.Unlock()
	case strings.HasPrefix(strings.TrimSpace(line), "{") && gjson.Valid(line):
		m.handleNotice(gjson.Parse(line))
	}
}

func (m *Manager) handleNotice(notice gjson.Result) {
	switch notice.Get("noticeType").String() {
	case noticeTunnels:
		if notice.Get("data.count").Int() > 0 {
			m.setStatus(tunnel.StatusConnected)
			return
		}
		if m.ConnectionStatus() == tunnel.StatusConnected {
			m.setStatus(tunnel.StatusReasserting)
		}

	case noticeHomepage:
		url := notice.Get("data.url").String()
		if url == "" {
			return
		}
		m.mu.Lock()
		m.homepages = append(m.homepages, url)
		urls := append([]string(nil), m.homepages...)
		handler := m.onHomepages
		m.mu.Unlock()
		if handler != nil {
			handler(urls)
		}
	}
}

// setStatus applies a status reported by the running process. Output
// received while stopping is ignored.
func (m *Manager) setStatus(status tunnel.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil || m.stopping {
		return
	}
	m.setStatusLocked(status)
}

func (m *Manager) setStatusLocked(status tunnel.Status) {
	if m.status == status {
		return
	}
	m.status = status
	m.notifications.Send(status)
}

func (m *Manager) notify(_ context.Context, status tunnel.Status) {
	m.mu.RLock()
	observers := append([]func(tunnel.Status){}, m.observers...)
	m.mu.RUnlock()
	for _, fn := range observers {
		fn(status)
	}
}

func checkCommandExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

// parseRouteForOpenVPN converts a CIDR route to network/netmask format for OpenVPN
// Examples:
//   - "192.168.1.0/24" -> "192.168.1.0", "255.255.255.0"
//   - "10.0.0.1" -> "10.0.0.1", "255.255.255.255"
func parseRouteForOpenVPN(route string) (network, netmask string) {
	route = strings.TrimSpace(route)
	if route == "" {
		return "", ""
	}

	if strings.Contains(route, "/") {
		_, ipNet, err := net.ParseCIDR(route)
		if err != nil || len(ipNet.Mask) != net.IPv4len {
			common.LogWarn("VPN: Invalid route %s", route)
			return "", ""
		}
		mask := ipNet.Mask
		netmask = fmt.Sprintf("%d.%d.%d.%d", mask[0], mask[1], mask[2], mask[3])
		return ipNet.IP.String(), netmask
	}

	if ip := net.ParseIP(route); ip != nil && ip.To4() != nil {
		return route, "255.255.255.255"
	}

	common.LogWarn("VPN: Invalid route %s", route)
	return "", ""
}
