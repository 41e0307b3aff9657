// Package landingpage opens the sponsor landing page once per tunnel
// session. Homepage URLs are announced by the tunnel process and can arrive
// slightly before the connection is reported as up, so the actor waits a
// short time for the Connected status before giving up.
package landingpage

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/yllada/vpn-client/actor"
	"github.com/yllada/vpn-client/broadcast"
	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/tunnel"
)

// URLOpener opens a URL for the user.
type URLOpener interface {
	Open(ctx context.Context, url string) error
}

// XDGOpener opens URLs with the desktop's default handler.
type XDGOpener struct {
	// Command defaults to xdg-open.
	Command string
}

// Open launches the opener without waiting for it to exit.
func (o XDGOpener) Open(ctx context.Context, url string) error {
	command := o.Command
	if command == "" {
		command = "xdg-open"
	}
	cmd := exec.Command(command, url)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	go cmd.Wait()
	return nil
}

// WaitForConnected reports whether sub delivers a Connected status within
// timeout.
func WaitForConnected(ctx context.Context, sub *broadcast.Subscription[tunnel.StatusWithIntent], timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			return false
		}
		if v.Status == tunnel.StatusConnected {
			return true
		}
	}
}

// Message is a landing page actor input.
type Message interface {
	landingPageMessage()
}

// NewHomepages announces landing page URLs for the current session.
type NewHomepages struct {
	URLs []string
}

// Reset starts a new session: the page may be shown again.
type Reset struct{}

type waitCompleted struct {
	session   int
	url       string
	connected bool
}

func (NewHomepages) landingPageMessage()  {}
func (Reset) landingPageMessage()         {}
func (waitCompleted) landingPageMessage() {}

// Config configures an Actor.
type Config struct {
	Opener URLOpener
	// Subscribe returns a fresh subscription to tunnel status changes.
	Subscribe func() *broadcast.Subscription[tunnel.StatusWithIntent]
	// Timeout defaults to common.LandingPageTimeout.
	Timeout  time.Duration
	Feedback common.FeedbackLogger
}

// Actor decides when to open the landing page.
type Actor struct {
	mailbox   *actor.Mailbox[Message]
	opener    URLOpener
	subscribe func() *broadcast.Subscription[tunnel.StatusWithIntent]
	timeout   time.Duration
	feedback  common.FeedbackLogger
	wg        sync.WaitGroup

	// Owned by the Run goroutine.
	session   int
	waiting   bool
	shown     bool
	abandoned bool
}

// New creates a landing page actor.
func New(cfg Config) *Actor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = common.LandingPageTimeout
	}
	opener := cfg.Opener
	if opener == nil {
		opener = XDGOpener{}
	}
	return &Actor{
		mailbox:   actor.NewMailbox[Message](),
		opener:    opener,
		subscribe: cfg.Subscribe,
		timeout:   timeout,
		feedback:  cfg.Feedback,
	}
}

// Send queues msg. It returns false after the actor stopped.
func (a *Actor) Send(msg Message) bool {
	return a.mailbox.Send(msg)
}

// Run processes messages until ctx is cancelled.
func (a *Actor) Run(ctx context.Context) error {
	err := actor.Run(ctx, a.mailbox, a.handle)
	a.mailbox.Close()
	a.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Actor) handle(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case NewHomepages:
		if len(m.URLs) == 0 || a.shown || a.abandoned || a.waiting {
			return
		}
		a.waiting = true
		session, url := a.session, m.URLs[0]
		sub := a.subscribe()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer sub.Cancel()
			ok := WaitForConnected(ctx, sub, a.timeout)
			a.mailbox.Send(waitCompleted{session: session, url: url, connected: ok})
		}()

	case waitCompleted:
		if m.session != a.session {
			return
		}
		a.waiting = false
		if !m.connected {
			a.abandoned = true
			a.log(common.LevelWarn, fmt.Sprintf("not connected within %v, landing page skipped", a.timeout))
			return
		}
		a.shown = true
		if err := a.opener.Open(ctx, m.url); err != nil {
			a.log(common.LevelError, err)
			return
		}
		a.log(common.LevelInfo, "opened "+m.url)

	case Reset:
		a.session++
		a.waiting = false
		a.shown = false
		a.abandoned = false

	default:
		panic(fmt.Sprintf("landingpage: unhandled message %T", msg))
	}
}

func (a *Actor) log(level common.LogLevel, value any) {
	if a.feedback != nil {
		a.feedback.Log(level, common.TagLandingPage, value)
		return
	}
	common.GetLogger().Tagged(level, common.TagLandingPage, value)
}
