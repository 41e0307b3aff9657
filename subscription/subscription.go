// Package subscription tracks whether the user holds an active
// subscription. A single actor owns the state: receipt updates and refresh
// results arrive as messages, and an expiry timer marks the subscription as
// lapsed.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/vpn-client/actor"
	"github.com/yllada/vpn-client/broadcast"
	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/pending"
)

// Kind classifies a subscription status.
type Kind int

const (
	Unknown Kind = iota
	Subscribed
	NotSubscribed
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case Unknown:
		return "unknown"
	case Subscribed:
		return "subscribed"
	case NotSubscribed:
		return "notSubscribed"
	default:
		return "invalid"
	}
}

// Status is the subscription state. Expiry is set only when Subscribed.
type Status struct {
	Kind   Kind
	Expiry time.Time
}

// Active reports whether the status is Subscribed.
func (s Status) Active() bool {
	return s.Kind == Subscribed
}

func (s Status) String() string {
	if s.Kind == Subscribed {
		return fmt.Sprintf("subscribed(until %s)", s.Expiry.Format(time.RFC3339))
	}
	return s.Kind.String()
}

// Message is a subscription actor input.
type Message interface {
	subscriptionMessage()
}

// ReceiptUpdated delivers a receipt obtained elsewhere, such as after a
// purchase. A nil receipt means none is present.
type ReceiptUpdated struct {
	Receipt *Receipt
}

// RefreshReceipt asks the actor to re-read the receipt from its source.
// It is ignored while a refresh is already outstanding.
type RefreshReceipt struct{}

type timerFired struct {
	expiry time.Time
}

type refreshCompleted struct {
	receipt *Receipt
	err     error
}

func (ReceiptUpdated) subscriptionMessage()   {}
func (RefreshReceipt) subscriptionMessage()   {}
func (timerFired) subscriptionMessage()       {}
func (refreshCompleted) subscriptionMessage() {}

// Config configures an Actor.
type Config struct {
	Source ReceiptSource
	// Tolerance is the allowed difference between a fired timer's expiry
	// and the current expiry for the timer to take effect.
	Tolerance time.Duration
	Feedback  common.FeedbackLogger
	Now       func() time.Time
}

// Actor owns the subscription status.
type Actor struct {
	mailbox   *actor.Mailbox[Message]
	statuses  *broadcast.Broadcaster[Status]
	source    ReceiptSource
	tolerance time.Duration
	feedback  common.FeedbackLogger
	now       func() time.Time
	wg        sync.WaitGroup

	// Owned by the Run goroutine.
	status  Status
	timer   *time.Timer
	refresh pending.Pending[*Receipt]
}

// New creates an actor whose status starts Unknown.
func New(cfg Config) *Actor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = common.ExpiryTolerance
	}
	a := &Actor{
		mailbox:   actor.NewMailbox[Message](),
		statuses:  broadcast.New[Status](),
		source:    cfg.Source,
		tolerance: tolerance,
		feedback:  cfg.Feedback,
		now:       now,
	}
	a.statuses.Publish(a.status)
	return a
}

// Send queues msg. It returns false after the actor stopped.
func (a *Actor) Send(msg Message) bool {
	return a.mailbox.Send(msg)
}

// Subscribe returns a stream of status changes, starting with the current one.
func (a *Actor) Subscribe() *broadcast.Subscription[Status] {
	return a.statuses.Subscribe()
}

// Status returns the last published status.
func (a *Actor) Status() Status {
	s, _ := a.statuses.Latest()
	return s
}

// Run processes messages until ctx is cancelled.
func (a *Actor) Run(ctx context.Context) error {
	err := actor.Run(ctx, a.mailbox, a.handle)
	a.mailbox.Close()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.wg.Wait()
	a.statuses.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Actor) handle(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case ReceiptUpdated:
		a.apply(m.Receipt)

	case RefreshReceipt:
		if a.source == nil {
			return
		}
		if !a.refresh.Start() {
			common.LogDebug("subscription: refresh already in progress")
			return
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			r, err := a.source.Refresh(ctx)
			a.mailbox.Send(refreshCompleted{receipt: r, err: err})
		}()

	case refreshCompleted:
		if m.err != nil {
			a.refresh.Fail(m.err)
			a.log(common.LevelWarn, m.err)
			return
		}
		a.refresh.Complete(m.receipt)
		a.apply(m.receipt)

	case timerFired:
		if a.status.Kind != Subscribed {
			return
		}
		diff := m.expiry.Sub(a.status.Expiry)
		if diff < 0 {
			diff = -diff
		}
		if diff > a.tolerance {
			common.LogDebug("subscription: ignoring timer for %s, current expiry %s",
				m.expiry.Format(time.RFC3339), a.status.Expiry.Format(time.RFC3339))
			return
		}
		a.set(Status{Kind: NotSubscribed})

	default:
		panic(fmt.Sprintf("subscription: unhandled message %T", msg))
	}
}

// apply derives the status from r and re-arms the expiry timer.
func (a *Actor) apply(r *Receipt) {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}

	expiry, ok := r.LatestExpiry()
	now := a.now()
	if !ok || !expiry.After(now) {
		a.set(Status{Kind: NotSubscribed})
		return
	}

	a.set(Status{Kind: Subscribed, Expiry: expiry})
	a.timer = time.AfterFunc(expiry.Sub(now), func() {
		a.mailbox.Send(timerFired{expiry: expiry})
	})
}

func (a *Actor) set(s Status) {
	if s.Kind == a.status.Kind && s.Expiry.Equal(a.status.Expiry) {
		return
	}
	a.status = s
	a.log(common.LevelInfo, s)
	a.statuses.Publish(s)
}

func (a *Actor) log(level common.LogLevel, value any) {
	if a.feedback != nil {
		a.feedback.Log(level, common.TagSubscription, value)
		return
	}
	common.GetLogger().Tagged(level, common.TagSubscription, value)
}
