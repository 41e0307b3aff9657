// Package tui is a live terminal monitor for the tunnel. It shows the
// tunnel, subscription and wallet state and accepts start, stop and
// restart keys.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/yllada/vpn-client/broadcast"
	"github.com/yllada/vpn-client/psicash"
	"github.com/yllada/vpn-client/subscription"
	"github.com/yllada/vpn-client/tunnel"
	"github.com/yllada/vpn-client/vpn"
)

const refreshInterval = time.Second

// Controller is the running client. *app.App satisfies it.
type Controller interface {
	Dispatch(action tunnel.Action) bool
	Snapshot() tunnel.Snapshot
	Subscribe() *broadcast.Subscription[tunnel.StatusWithIntent]
	Subscription() subscription.Status
	Wallet() psicash.State
	RefreshWallet()
	Health() (vpn.ConnectionHealth, bool)
	Provider() (vpn.Provider, bool)
	EgressRegion() string
}

type statusMsg tunnel.StatusWithIntent

type closedMsg struct{}

type tickMsg time.Time

// Model is the monitor's bubbletea model.
type Model struct {
	ctrl    Controller
	sub     *broadcast.Subscription[tunnel.StatusWithIntent]
	keys    keyMap
	help    help.Model
	spinner spinner.Model

	snap   tunnel.Snapshot
	since  time.Time
	subs   subscription.Status
	wallet psicash.State
	health vpn.ConnectionHealth
	uptime time.Duration
	region string
	width  int
}

// New creates a monitor for ctrl.
func New(ctrl Controller) Model {
	m := Model{
		ctrl:    ctrl,
		sub:     ctrl.Subscribe(),
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		since:   time.Now(),
	}
	m.refresh()
	return m
}

// Run shows the monitor until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller) error {
	p := tea.NewProgram(New(ctrl), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitStatus(m.sub), tick())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.sub.Cancel()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Start):
			m.ctrl.Dispatch(tunnel.SetIntent{Intent: tunnel.StartIntent(), Reason: tunnel.ReasonUserAction})
		case key.Matches(msg, m.keys.Stop):
			m.ctrl.Dispatch(tunnel.SetIntent{Intent: tunnel.StopIntent(), Reason: tunnel.ReasonUserAction})
		case key.Matches(msg, m.keys.Restart):
			m.ctrl.Dispatch(tunnel.RestartTunnel{Reason: tunnel.ReasonRestart})
		case key.Matches(msg, m.keys.Refresh):
			m.ctrl.RefreshWallet()
		}
		return m, nil

	case statusMsg:
		if tunnel.StatusWithIntent(msg).Status != m.snap.Status {
			m.since = time.Now()
		}
		m.refresh()
		return m, waitStatus(m.sub)

	case closedMsg:
		return m, tea.Quit

	case tickMsg:
		m.refresh()
		return m, tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	tunnelLine := statusStyle(m.snap.Status).Render(m.snap.Status.String())
	if transitional(m.snap) {
		tunnelLine = m.spinner.View() + " " + tunnelLine
	}

	rows := []string{
		styles.Title.Render("VPN Client"),
		"",
		row("Tunnel", tunnelLine),
		row("Since", humanize.Time(m.since)),
		row("Intent", m.snap.Intent.String()+styles.Muted.Render(" ("+m.snap.Reason.String()+")")),
		row("Profile", m.profile()),
		row("Region", m.regionLine()),
	}
	if m.uptime > 0 {
		rows = append(rows, row("Uptime", m.uptime.Round(time.Second).String()))
	}
	if m.health.State != vpn.HealthUnknown {
		rows = append(rows, row("Health", m.health.State.String()))
	}
	rows = append(rows,
		row("Subscription", m.subscriptionLine()),
		row("PsiCash", m.walletLine()),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Box.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)),
		m.help.View(m.keys),
	) + "\n"
}

func (m *Model) refresh() {
	m.snap = m.ctrl.Snapshot()
	m.subs = m.ctrl.Subscription()
	m.wallet = m.ctrl.Wallet()
	if h, ok := m.ctrl.Health(); ok {
		m.health = h
	}
	m.uptime = 0
	if p, ok := m.ctrl.Provider(); ok {
		m.uptime = p.Uptime()
	}
	m.region = m.ctrl.EgressRegion()
}

func (m Model) regionLine() string {
	if m.region == "" {
		return styles.Muted.Render("any")
	}
	return m.region
}

func (m Model) profile() string {
	switch m.snap.Load {
	case tunnel.Loaded:
		id := m.snap.ManagerID
		if len(id) > 8 {
			id = id[:8]
		}
		return id
	case tunnel.LoadFailed:
		return styles.Error.Render("error")
	case tunnel.NoneStored:
		return styles.Muted.Render("none installed")
	default:
		return styles.Muted.Render("loading")
	}
}

func (m Model) subscriptionLine() string {
	switch m.subs.Kind {
	case subscription.Subscribed:
		return styles.Success.Render("active") + " until " + humanize.Time(m.subs.Expiry)
	case subscription.NotSubscribed:
		return styles.Warning.Render("not subscribed")
	default:
		return styles.Muted.Render("unknown")
	}
}

func (m Model) walletLine() string {
	switch {
	case m.wallet.HasBalance:
		return m.wallet.Balance.String()
	case m.wallet.Refreshing:
		return styles.Muted.Render("refreshing")
	case m.wallet.Err != nil:
		return styles.Error.Render("unavailable")
	default:
		return styles.Muted.Render("unknown")
	}
}

func row(label, value string) string {
	return styles.Label.Render(label+":") + " " + value
}

func statusStyle(s tunnel.Status) lipgloss.Style {
	switch s {
	case tunnel.StatusConnected:
		return styles.Success
	case tunnel.StatusConnecting, tunnel.StatusReasserting, tunnel.StatusDisconnecting:
		return styles.Warning
	case tunnel.StatusInvalid:
		return styles.Error
	default:
		return styles.Muted
	}
}

func transitional(s tunnel.Snapshot) bool {
	switch s.Status {
	case tunnel.StatusConnecting, tunnel.StatusReasserting, tunnel.StatusDisconnecting:
		return true
	}
	return s.WillReconnect() || s.ProfileOperationPending
}

func waitStatus(sub *broadcast.Subscription[tunnel.StatusWithIntent]) tea.Cmd {
	return func() tea.Msg {
		v, err := sub.Next(context.Background())
		if err != nil {
			return closedMsg{}
		}
		return statusMsg(v)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
