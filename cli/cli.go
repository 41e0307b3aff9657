// Package cli provides command-line operations for the VPN client: start,
// stop and restart the tunnel, reset the installed profile, and show the
// current state.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/feedback"
	"github.com/yllada/vpn-client/psicash"
	"github.com/yllada/vpn-client/subscription"
	"github.com/yllada/vpn-client/tunnel"
	"github.com/yllada/vpn-client/vpn"
)

// Controller is the running client driven by the CLI. *app.App satisfies it.
type Controller interface {
	Dispatch(action tunnel.Action) bool
	Snapshot() tunnel.Snapshot
	WaitFor(ctx context.Context, done func(tunnel.Snapshot) bool) (tunnel.Snapshot, error)
	Subscription() subscription.Status
	Wallet() psicash.State
	Health() (vpn.ConnectionHealth, bool)
	Provider() (vpn.Provider, bool)
	EgressRegion() string
	SetEgressRegion(ctx context.Context, selection string) error
}

// ProfileLister lists installed profiles. *vpn.FileStore satisfies it.
type ProfileLister interface {
	Profiles() ([]*vpn.Profile, error)
}

// CLI represents the command-line interface.
type CLI struct {
	app          Controller
	profiles     ProfileLister
	feedbackPath string
	out          io.Writer
	timeout      time.Duration
}

// New creates a CLI writing to out.
func New(app Controller, profiles ProfileLister, feedbackPath string, out io.Writer) *CLI {
	return &CLI{
		app:          app,
		profiles:     profiles,
		feedbackPath: feedbackPath,
		out:          out,
		timeout:      common.ConnectionTimeout,
	}
}

// Start sets the tunnel intent to start and waits for the connection.
func (c *CLI) Start(ctx context.Context) error {
	if snap := c.app.Snapshot(); snap.Status == tunnel.StatusConnected && snap.Intent.Kind == tunnel.IntentStart {
		return common.ErrAlreadyConnected
	}

	fmt.Fprintln(c.out, "Connecting...")
	c.app.Dispatch(tunnel.SetIntent{Intent: tunnel.StartIntent(), Reason: tunnel.ReasonUserAction})

	snap, err := c.wait(ctx, func(s tunnel.Snapshot) bool {
		return s.Status == tunnel.StatusConnected ||
			s.Intent.Kind == tunnel.IntentStop ||
			s.Load == tunnel.LoadFailed
	})
	if err != nil {
		return err
	}
	switch {
	case snap.Load == tunnel.LoadFailed:
		return fmt.Errorf("%w: %v", common.ErrConnectionFailed, snap.Failure)
	case snap.Status != tunnel.StatusConnected:
		return fmt.Errorf("%w: %s", common.ErrConnectionFailed, snap.Reason)
	}
	fmt.Fprintf(c.out, "✓ Connected (profile %s)\n", shortID(snap.ManagerID))
	return nil
}

// Stop sets the tunnel intent to stop and waits for the disconnect.
func (c *CLI) Stop(ctx context.Context) error {
	c.app.Dispatch(tunnel.SetIntent{Intent: tunnel.StopIntent(), Reason: tunnel.ReasonUserAction})

	_, err := c.wait(ctx, func(s tunnel.Snapshot) bool {
		return s.Intent.Kind == tunnel.IntentStop &&
			s.Load != tunnel.NonLoaded &&
			!s.ProfileOperationPending &&
			!s.Status.Active() && s.Status != tunnel.StatusDisconnecting
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "✓ Disconnected")
	return nil
}

// Restart stops and starts a running tunnel.
func (c *CLI) Restart(ctx context.Context) error {
	if _, err := c.wait(ctx, func(s tunnel.Snapshot) bool { return s.Load != tunnel.NonLoaded }); err != nil {
		return err
	}
	if c.app.Snapshot().Intent.Kind != tunnel.IntentStart {
		return fmt.Errorf("%w: tunnel is stopped", common.ErrNotConnected)
	}

	fmt.Fprintln(c.out, "Restarting...")
	c.app.Dispatch(tunnel.RestartTunnel{Reason: tunnel.ReasonRestart})

	snap, err := c.wait(ctx, func(s tunnel.Snapshot) bool {
		return (s.Status == tunnel.StatusConnected && !s.WillReconnect()) || s.Intent.Kind == tunnel.IntentStop
	})
	if err != nil {
		return err
	}
	if snap.Status != tunnel.StatusConnected {
		return fmt.Errorf("%w: %s", common.ErrConnectionFailed, snap.Reason)
	}
	fmt.Fprintln(c.out, "✓ Reconnected")
	return nil
}

// SetRegion selects the egress region. A running tunnel reconnects
// through the new region before SetRegion returns.
func (c *CLI) SetRegion(ctx context.Context, selection string) error {
	if _, err := c.wait(ctx, func(s tunnel.Snapshot) bool { return s.Load != tunnel.NonLoaded }); err != nil {
		return err
	}
	before := c.app.EgressRegion()
	if err := c.app.SetEgressRegion(ctx, selection); err != nil {
		return err
	}
	region := c.app.EgressRegion()
	fmt.Fprintf(c.out, "✓ Egress region: %s\n", regionLine(region))

	if region == before || c.app.Snapshot().Intent.Kind != tunnel.IntentStart {
		return nil
	}
	fmt.Fprintln(c.out, "Reconnecting...")
	snap, err := c.wait(ctx, func(s tunnel.Snapshot) bool {
		return (s.Status == tunnel.StatusConnected && !s.WillReconnect()) || s.Intent.Kind == tunnel.IntentStop
	})
	if err != nil {
		return err
	}
	if snap.Status != tunnel.StatusConnected {
		return fmt.Errorf("%w: %s", common.ErrConnectionFailed, snap.Reason)
	}
	fmt.Fprintln(c.out, "✓ Reconnected")
	return nil
}

// Reset removes the installed VPN profile. With a start intent a fresh
// profile is installed afterwards.
func (c *CLI) Reset(ctx context.Context) error {
	before, err := c.wait(ctx, func(s tunnel.Snapshot) bool {
		return s.Load != tunnel.NonLoaded && !s.ProfileOperationPending
	})
	if err != nil {
		return err
	}

	c.app.Dispatch(tunnel.RemoveConfigs{})
	snap, err := c.wait(ctx, func(s tunnel.Snapshot) bool {
		if s.ProfileOperationPending {
			return false
		}
		switch s.Load {
		case tunnel.NoneStored, tunnel.LoadFailed:
			return true
		case tunnel.Loaded:
			return s.ManagerID != before.ManagerID
		}
		return false
	})
	if err != nil {
		return err
	}
	if snap.Load == tunnel.LoadFailed {
		return fmt.Errorf("failed to remove VPN profile: %v", snap.Failure)
	}
	fmt.Fprintln(c.out, "✓ VPN profile removed")
	return nil
}

// Status shows the tunnel, subscription and wallet state.
func (c *CLI) Status(ctx context.Context) error {
	snap, err := c.wait(ctx, func(s tunnel.Snapshot) bool { return s.Load != tunnel.NonLoaded })
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Tunnel:\t%s\n", snap.Status)
	fmt.Fprintf(w, "Intent:\t%s (%s)\n", snap.Intent, snap.Reason)
	fmt.Fprintf(w, "Profile:\t%s\n", profileLine(snap))
	fmt.Fprintf(w, "Region:\t%s\n", regionLine(c.app.EgressRegion()))
	if p, ok := c.app.Provider(); ok {
		if up := p.Uptime(); up > 0 {
			fmt.Fprintf(w, "Uptime:\t%s\n", up.Round(time.Second))
		}
		if msg := p.LastError(); msg != "" {
			fmt.Fprintf(w, "Last error:\t%s\n", msg)
		}
	}
	if h, ok := c.app.Health(); ok && h.State != vpn.HealthUnknown {
		fmt.Fprintf(w, "Health:\t%s\n", h.State)
	}
	fmt.Fprintf(w, "Subscription:\t%s\n", subscriptionLine(c.app.Subscription()))
	fmt.Fprintf(w, "PsiCash:\t%s\n", walletLine(c.app.Wallet()))
	return w.Flush()
}

// ListProfiles lists the installed VPN profiles.
func (c *CLI) ListProfiles() error {
	profiles, err := c.profiles.Profiles()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Fprintln(c.out, "No VPN profile installed.")
		fmt.Fprintln(c.out, "One is installed from tunnel_config on the next start.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tINSTALLED\tROUTES")
	fmt.Fprintln(w, "--\t----\t---------\t------")
	for _, p := range profiles {
		routes := "all traffic"
		if len(p.SplitTunnelRoutes) > 0 {
			routes = strings.Join(p.SplitTunnelRoutes, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(p.ID), p.Name, humanize.Time(p.Created), routes)
	}
	return w.Flush()
}

// ShowFeedback prints the last n feedback log entries.
func (c *CLI) ShowFeedback(n int) error {
	entries, err := feedback.Tail(c.feedbackPath, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No feedback entries.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tLEVEL\tTAG\tVALUE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Time.Format("2006/01/02 15:04:05"), e.Level, e.Tag, e.Value)
	}
	return w.Flush()
}

func (c *CLI) wait(ctx context.Context, done func(tunnel.Snapshot) bool) (tunnel.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	snap, err := c.app.WaitFor(ctx, done)
	if errors.Is(err, context.DeadlineExceeded) {
		return snap, fmt.Errorf("timed out after %v (tunnel %s)", c.timeout, snap.Status)
	}
	return snap, err
}

func profileLine(snap tunnel.Snapshot) string {
	switch snap.Load {
	case tunnel.Loaded:
		return shortID(snap.ManagerID)
	case tunnel.LoadFailed:
		if snap.Failure != nil {
			return "error: " + snap.Failure.Error()
		}
		return "error"
	default:
		return "none installed"
	}
}

func regionLine(code string) string {
	if code == "" {
		return "any"
	}
	return code
}

func subscriptionLine(s subscription.Status) string {
	if s.Kind == subscription.Subscribed {
		return fmt.Sprintf("active, expires %s", humanize.Time(s.Expiry))
	}
	return s.Kind.String()
}

func walletLine(s psicash.State) string {
	switch {
	case s.Refreshing && s.HasBalance:
		return s.Balance.String() + " (refreshing)"
	case s.Refreshing:
		return "refreshing"
	case s.HasBalance:
		return s.Balance.String()
	case s.Err != nil:
		return "unavailable: " + s.Err.Error()
	default:
		return "unknown"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// PrintHelp prints CLI usage help.
func PrintHelp(w io.Writer) {
	fmt.Fprintln(w, `VPN Client - Command Line Interface

Usage:
  vpn-client [OPTIONS]

Options:
  --version         Show version and exit
  --verbose         Enable verbose logging
  --config PATH     Use an alternative configuration file
  --start           Start the tunnel and keep it running
  --stop            Stop the tunnel
  --restart         Restart the tunnel and keep it running
  --reset           Remove the installed VPN profile
  --region CODE     Exit through a country (two-letter code, "any" to clear)
  --status          Show tunnel, subscription and PsiCash state
  --list            List installed VPN profiles
  --feedback N      Show the last N feedback log entries
  --monitor         Run the live terminal monitor (default on a terminal)
  --help            Show this help message

Examples:
  vpn-client --start
  vpn-client --status
  vpn-client --region CA --start
  vpn-client --feedback 20

Notes:
  - Without options the client resumes the last tunnel state and runs
    until interrupted
  - The tunnel intent and egress region persist across runs`)
}
