// Package psicash keeps the PsiCash balance current. The wallet refreshes
// its state from the server each time the tunnel comes up.
package psicash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/yllada/vpn-client/actor"
	"github.com/yllada/vpn-client/broadcast"
	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/pending"
	"github.com/yllada/vpn-client/tunnel"
)

// TokensKey is the secret store key holding the serialized tokens.
const TokensKey = "psicash-tokens"

// TokenStore persists secrets. keyring.Store satisfies it.
type TokenStore interface {
	Get(key string) (string, error)
	Set(key, secret string) error
	Delete(key string) error
}

// State is the wallet as seen by readers.
type State struct {
	Balance    Balance
	HasBalance bool
	Refreshing bool
	Err        error
}

// Message is a wallet input.
type Message interface {
	walletMessage()
}

// ConnectionChanged reports a tunnel status change.
type ConnectionChanged struct {
	Status tunnel.StatusWithIntent
}

// RefreshState asks for a refresh regardless of connection changes.
type RefreshState struct{}

type refreshCompleted struct {
	tokens Tokens
	result RefreshResult
	err    error
}

func (ConnectionChanged) walletMessage() {}
func (RefreshState) walletMessage()      {}
func (refreshCompleted) walletMessage()  {}

// Config configures a Wallet.
type Config struct {
	Client   Client
	Tokens   TokenStore
	Feedback common.FeedbackLogger
}

// Wallet owns the PsiCash state.
type Wallet struct {
	mailbox  *actor.Mailbox[Message]
	states   *broadcast.Broadcaster[State]
	client   Client
	store    TokenStore
	feedback common.FeedbackLogger
	wg       sync.WaitGroup

	// Owned by the Run goroutine.
	connected bool
	tokens    Tokens
	balance   pending.Pending[Balance]
}

// NewWallet creates a wallet. Stored tokens are loaded when Run starts.
func NewWallet(cfg Config) *Wallet {
	w := &Wallet{
		mailbox:  actor.NewMailbox[Message](),
		states:   broadcast.New[State](),
		client:   cfg.Client,
		store:    cfg.Tokens,
		feedback: cfg.Feedback,
	}
	w.states.Publish(State{})
	return w
}

// Send queues msg. It returns false after the wallet stopped.
func (w *Wallet) Send(msg Message) bool {
	return w.mailbox.Send(msg)
}

// Subscribe returns a stream of wallet states, starting with the current one.
func (w *Wallet) Subscribe() *broadcast.Subscription[State] {
	return w.states.Subscribe()
}

// State returns the last published state.
func (w *Wallet) State() State {
	s, _ := w.states.Latest()
	return s
}

// Run processes messages until ctx is cancelled.
func (w *Wallet) Run(ctx context.Context) error {
	w.tokens = w.loadTokens()
	err := actor.Run(ctx, w.mailbox, w.handle)
	w.mailbox.Close()
	w.wg.Wait()
	w.states.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Wallet) handle(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case ConnectionChanged:
		// A restart in progress keeps the previous connected state so the
		// reconnect does not count as a fresh connection.
		if m.Status.WillReconnect() {
			return
		}
		connected := m.Status.Status == tunnel.StatusConnected
		wasConnected := w.connected
		w.connected = connected
		if connected && !wasConnected {
			w.refresh(ctx)
		}

	case RefreshState:
		w.refresh(ctx)

	case refreshCompleted:
		if m.err != nil {
			w.balance.Fail(m.err)
			if errors.Is(m.err, ErrInvalidTokens) {
				w.tokens = Tokens{}
				w.deleteTokens()
			}
			w.log(common.LevelError, m.err)
			w.publish()
			return
		}
		if m.tokens != w.tokens {
			w.tokens = m.tokens
			w.saveTokens()
		}
		w.balance.Complete(m.result.Balance)
		w.log(common.LevelInfo, fmt.Sprintf("balance %s", m.result.Balance))
		w.publish()

	default:
		panic(fmt.Sprintf("psicash: unhandled message %T", msg))
	}
}

func (w *Wallet) refresh(ctx context.Context) {
	if w.client == nil {
		return
	}
	if !w.balance.Start() {
		return
	}
	w.publish()

	tokens := w.tokens
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		var err error
		if tokens.Empty() {
			tokens, err = w.client.NewTracker(ctx)
			if err != nil {
				w.mailbox.Send(refreshCompleted{err: err})
				return
			}
		}
		res, err := w.client.RefreshState(ctx, tokens)
		if err == nil && !res.TokensValid {
			err = ErrInvalidTokens
		}
		w.mailbox.Send(refreshCompleted{tokens: tokens, result: res, err: err})
	}()
}

func (w *Wallet) publish() {
	bal, ok := w.balance.Value()
	w.states.Publish(State{
		Balance:    bal,
		HasBalance: ok,
		Refreshing: w.balance.Phase() == pending.InProgress,
		Err:        w.balance.Err(),
	})
}

func (w *Wallet) loadTokens() Tokens {
	if w.store == nil {
		return Tokens{}
	}
	raw, err := w.store.Get(TokensKey)
	if err != nil {
		if !errors.Is(err, common.ErrCredentialsNotFound) {
			w.log(common.LevelWarn, err)
		}
		return Tokens{}
	}
	var t Tokens
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		w.log(common.LevelWarn, fmt.Errorf("discarding stored tokens: %w", err))
		return Tokens{}
	}
	return t
}

func (w *Wallet) saveTokens() {
	if w.store == nil {
		return
	}
	data, err := json.Marshal(w.tokens)
	if err != nil {
		w.log(common.LevelError, err)
		return
	}
	if err := w.store.Set(TokensKey, string(data)); err != nil {
		w.log(common.LevelError, fmt.Errorf("failed to save tokens: %w", err))
	}
}

func (w *Wallet) deleteTokens() {
	if w.store == nil {
		return
	}
	if err := w.store.Delete(TokensKey); err != nil && !errors.Is(err, common.ErrCredentialsNotFound) {
		w.log(common.LevelWarn, err)
	}
}

func (w *Wallet) log(level common.LogLevel, value any) {
	if w.feedback != nil {
		w.feedback.Log(level, common.TagPsiCash, value)
		return
	}
	common.GetLogger().Tagged(level, common.TagPsiCash, value)
}
