// Package notify shows desktop notifications for tunnel events through the
// freedesktop notification service.
package notify

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/tunnel"
)

// Kind represents the type of notification.
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindWarning
	KindError
)

// Notification is a single desktop notification.
type Notification struct {
	Title   string
	Message string
	Kind    Kind
	Icon    string
	// ReplacesID replaces an earlier notification still on screen.
	ReplacesID uint32
}

func (n Notification) icon() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Kind {
	case KindWarning:
		return "dialog-warning"
	case KindError:
		return "dialog-error"
	default:
		return "network-vpn"
	}
}

// urgency follows the freedesktop levels: 0 low, 1 normal, 2 critical.
func (n Notification) urgency() byte {
	switch n.Kind {
	case KindError:
		return 2
	case KindWarning:
		return 1
	default:
		return 0
	}
}

// Sender delivers a notification and returns its server-assigned ID.
type Sender interface {
	Send(n Notification) (uint32, error)
}

const (
	dbusDest   = "org.freedesktop.Notifications"
	dbusPath   = "/org/freedesktop/Notifications"
	dbusNotify = "org.freedesktop.Notifications.Notify"
)

// DBusSender sends notifications over the session bus.
type DBusSender struct {
	conn    *dbus.Conn
	appName string
}

// NewDBusSender connects to the session bus.
func NewDBusSender(appName string) (*DBusSender, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DBusSender{conn: conn, appName: appName}, nil
}

// Send implements Sender.
func (s *DBusSender) Send(n Notification) (uint32, error) {
	obj := s.conn.Object(dbusDest, dbus.ObjectPath(dbusPath))
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(n.urgency()),
	}
	call := obj.Call(dbusNotify, 0,
		s.appName, n.ReplacesID, n.icon(), n.Title, n.Message,
		[]string{}, hints, int32(-1))
	if call.Err != nil {
		return 0, fmt.Errorf("notify: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("notify: %w", err)
	}
	return id, nil
}

// CommandSender shells out to notify-send. It is used when the session bus
// is unreachable.
type CommandSender struct {
	AppName string
}

// Send implements Sender. notify-send does not report IDs.
func (s CommandSender) Send(n Notification) (uint32, error) {
	urgency := [...]string{"low", "normal", "critical"}[n.urgency()]
	cmd := exec.Command("notify-send",
		"--app-name="+s.AppName,
		"--icon="+n.icon(),
		"--urgency="+urgency,
		n.Title,
		n.Message,
	)
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("notify-send: %w", err)
	}
	return 0, nil
}

// NewSender returns a D-Bus sender, falling back to notify-send.
func NewSender(appName string) Sender {
	s, err := NewDBusSender(appName)
	if err != nil {
		common.LogWarn("Desktop notifications via notify-send: %v", err)
		return CommandSender{AppName: appName}
	}
	return s
}

// Notifier turns tunnel events into notifications. Status notifications
// replace each other instead of stacking.
type Notifier struct {
	sender  Sender
	enabled bool

	mu       sync.Mutex
	statusID uint32
}

var _ common.Notifier = (*Notifier)(nil)

// New creates a notifier. A disabled notifier drops everything.
func New(sender Sender, enabled bool) *Notifier {
	return &Notifier{sender: sender, enabled: enabled}
}

// Notify implements common.Notifier.
func (n *Notifier) Notify(title, message string) error {
	return n.show(Notification{Title: title, Message: message})
}

// NotifyWithIcon implements common.Notifier.
func (n *Notifier) NotifyWithIcon(title, message, icon string) error {
	return n.show(Notification{Title: title, Message: message, Icon: icon})
}

// TunnelStatus notifies about the change from prev to cur, if it is one
// the user cares about. Transitions during a restart are not announced
// until the tunnel is back up.
func (n *Notifier) TunnelStatus(prev, cur tunnel.StatusWithIntent) error {
	if prev.Status == cur.Status {
		return nil
	}
	var note Notification
	switch cur.Status {
	case tunnel.StatusConnected:
		note = Notification{Title: "VPN Connected", Message: "The tunnel is up", Kind: KindSuccess, Icon: "network-vpn"}
	case tunnel.StatusConnecting:
		if cur.WillReconnect() {
			return nil
		}
		note = Notification{Title: "Connecting VPN", Message: "Establishing the tunnel...", Icon: "network-vpn-acquiring"}
	case tunnel.StatusReasserting:
		note = Notification{Title: "VPN Reconnecting", Message: "The tunnel is being re-established", Kind: KindWarning, Icon: "network-vpn-acquiring"}
	case tunnel.StatusDisconnected:
		if cur.WillReconnect() || (!prev.Status.Active() && prev.Status != tunnel.StatusDisconnecting) {
			return nil
		}
		note = Notification{Title: "VPN Disconnected", Message: "The tunnel is down", Icon: "network-vpn-disconnected"}
	default:
		return nil
	}
	return n.showStatus(note)
}

// TunnelError notifies about a profile failure.
func (n *Notifier) TunnelError(ev tunnel.ErrorEvent) error {
	msg := "The VPN configuration could not be loaded"
	if tpm, ok := ev.TPMError(); ok && tpm.Kind == tunnel.FailedRemovingConfigs {
		msg = "The VPN configuration could not be removed"
	}
	return n.showStatus(Notification{Title: "Connection Error", Message: msg, Kind: KindError, Icon: "network-vpn-error"})
}

func (n *Notifier) showStatus(note Notification) error {
	if !n.enabled {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	note.ReplacesID = n.statusID
	id, err := n.sender.Send(note)
	if err != nil {
		return err
	}
	n.statusID = id
	return nil
}

func (n *Notifier) show(note Notification) error {
	if !n.enabled {
		return nil
	}
	_, err := n.sender.Send(note)
	return err
}
