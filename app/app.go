// Package app wires the tunnel store and the actors that depend on it.
//
// Every collaborator is passed in through an Environment; nothing is read
// from package-level state. App.Run supervises the actors with an errgroup
// and runs the root dispatcher, which forwards tunnel status changes to the
// landing page, wallet and notifier.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yllada/vpn-client/broadcast"
	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/landingpage"
	"github.com/yllada/vpn-client/psicash"
	"github.com/yllada/vpn-client/subscription"
	"github.com/yllada/vpn-client/tunnel"
	"github.com/yllada/vpn-client/vpn"
)

// StatusNotifier announces tunnel events to the user.
type StatusNotifier interface {
	TunnelStatus(prev, cur tunnel.StatusWithIntent) error
	TunnelError(ev tunnel.ErrorEvent) error
}

// HomepageSource delivers homepage URLs announced by the tunnel.
type HomepageSource interface {
	OnHomepages(fn func(urls []string))
}

// ProviderLookup finds the running provider of a loaded profile.
type ProviderLookup interface {
	Provider(id string) (vpn.Provider, bool)
}

// ExitSource reports tunnel processes that died while connected.
type ExitSource interface {
	OnUnexpectedExit(fn func(id string))
}

// RegionSelector applies the egress region to tunnels started afterwards.
type RegionSelector interface {
	SetEgressRegion(code string)
}

// Environment holds every external collaborator of the app. Only Profiles
// is required.
type Environment struct {
	Profiles tunnel.ProfileStore
	Settings common.KeyValueStore
	Feedback common.FeedbackLogger
	Metrics  tunnel.Metrics
	Notifier StatusNotifier

	Opener    landingpage.URLOpener
	Homepages HomepageSource

	Receipts subscription.ReceiptSource

	PsiCash psicash.Client
	Tokens  psicash.TokenStore

	// Health enables zombie detection when set together with Providers.
	Health    *vpn.HealthConfig
	Providers ProviderLookup
	// Exits restarts tunnels whose process crashed, like a detected zombie.
	Exits ExitSource
	// Regions enables egress region selection.
	Regions RegionSelector

	LandingPageTimeout time.Duration
	ExpiryTolerance    time.Duration

	// Intent replaces the persisted intent for this run without writing it.
	Intent *tunnel.Intent
}

// App is the running client.
type App struct {
	env          Environment
	store        *tunnel.Store
	subscription *subscription.Actor
	landing      *landingpage.Actor
	wallet       *psicash.Wallet
	zombie       *vpn.ZombieDetector

	mu     sync.Mutex
	region string
}

// New builds the app. The tunnel intent is restored from settings.
func New(ctx context.Context, env Environment) (*App, error) {
	if env.Profiles == nil {
		return nil, fmt.Errorf("%w: profile store is required", common.ErrInvalidConfig)
	}

	intent := LoadIntent(ctx, env.Settings)
	if env.Intent != nil {
		intent = *env.Intent
	}

	a := &App{env: env}
	a.store = tunnel.NewStore(tunnel.StoreConfig{
		ExecutorConfig: tunnel.ExecutorConfig{
			Profiles: env.Profiles,
			Settings: env.Settings,
			Feedback: env.Feedback,
			Metrics:  env.Metrics,
		},
		InitialIntent: intent,
	})
	a.subscription = subscription.New(subscription.Config{
		Source:    env.Receipts,
		Tolerance: env.ExpiryTolerance,
		Feedback:  env.Feedback,
	})
	a.landing = landingpage.New(landingpage.Config{
		Opener:    env.Opener,
		Subscribe: a.store.Subscribe,
		Timeout:   env.LandingPageTimeout,
		Feedback:  env.Feedback,
	})
	a.wallet = psicash.NewWallet(psicash.Config{
		Client:   env.PsiCash,
		Tokens:   env.Tokens,
		Feedback: env.Feedback,
	})

	if env.Homepages != nil {
		env.Homepages.OnHomepages(func(urls []string) {
			a.landing.Send(landingpage.NewHomepages{URLs: urls})
		})
	}
	if env.Health != nil && env.Providers != nil {
		a.zombie = vpn.NewZombieDetector(*env.Health, a.currentProvider, a.zombieDetected)
	}
	if env.Exits != nil {
		env.Exits.OnUnexpectedExit(a.zombieDetected)
	}
	if env.Regions != nil {
		a.region = LoadEgressRegion(ctx, env.Settings)
		env.Regions.SetEgressRegion(a.region)
	}
	return a, nil
}

// LoadIntent reads the persisted tunnel intent. Missing or unreadable
// values mean stop.
func LoadIntent(ctx context.Context, kv common.KeyValueStore) tunnel.Intent {
	if kv == nil {
		return tunnel.StopIntent()
	}
	v, ok, err := kv.Get(ctx, common.SettingTunnelIntent)
	if err != nil {
		common.LogWarn("Failed to read tunnel intent: %v", err)
		return tunnel.StopIntent()
	}
	if !ok {
		return tunnel.StopIntent()
	}
	intent, err := tunnel.ParseIntent(v)
	if err != nil {
		common.LogWarn("Ignoring persisted tunnel intent: %v", err)
		return tunnel.StopIntent()
	}
	return intent
}

// Run starts every actor, loads the VPN profile and blocks until ctx is
// cancelled or an actor fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	statuses := a.store.Subscribe()
	failures := a.store.Failures()
	g.Go(func() error { return a.store.Run(gctx) })
	g.Go(func() error { return a.subscription.Run(gctx) })
	g.Go(func() error { return a.landing.Run(gctx) })
	g.Go(func() error { return a.wallet.Run(gctx) })
	if a.zombie != nil {
		g.Go(func() error { return a.zombie.Run(gctx) })
	}
	g.Go(func() error { return a.route(gctx, statuses) })
	g.Go(func() error { return a.reportFailures(gctx, failures) })

	a.store.Dispatch(tunnel.LoadConfig{})
	a.subscription.Send(subscription.RefreshReceipt{})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// route is the root dispatcher.
func (a *App) route(ctx context.Context, sub *broadcast.Subscription[tunnel.StatusWithIntent]) error {
	defer sub.Cancel()

	var prev tunnel.StatusWithIntent
	for {
		cur, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, common.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		a.wallet.Send(psicash.ConnectionChanged{Status: cur})
		if cur.Status == tunnel.StatusDisconnected && !cur.WillReconnect() {
			a.landing.Send(landingpage.Reset{})
		}

		if a.env.Notifier != nil {
			if err := a.env.Notifier.TunnelStatus(prev, cur); err != nil {
				common.LogDebug("Notification failed: %v", err)
			}
		}
		prev = cur
	}
}

// reportFailures announces every failed profile load, install or removal.
// A failure often leaves the status and intent unchanged, so it has its own
// stream.
func (a *App) reportFailures(ctx context.Context, sub *broadcast.Subscription[tunnel.ErrorEvent]) error {
	defer sub.Cancel()

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, common.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if a.env.Notifier == nil {
			continue
		}
		if err := a.env.Notifier.TunnelError(ev); err != nil {
			common.LogDebug("Notification failed: %v", err)
		}
	}
}

func (a *App) currentProvider() (vpn.Provider, bool) {
	snap := a.store.Snapshot()
	if snap.Load != tunnel.Loaded {
		return nil, false
	}
	return a.env.Providers.Provider(snap.ManagerID)
}

func (a *App) zombieDetected(id string) {
	if a.store.Snapshot().ManagerID != id {
		return
	}
	a.store.Dispatch(tunnel.ZombieDetected{})
}

// Dispatch sends a tunnel action.
func (a *App) Dispatch(action tunnel.Action) bool {
	return a.store.Dispatch(action)
}

// Snapshot returns the tunnel state.
func (a *App) Snapshot() tunnel.Snapshot {
	return a.store.Snapshot()
}

// Subscribe returns a stream of tunnel status changes.
func (a *App) Subscribe() *broadcast.Subscription[tunnel.StatusWithIntent] {
	return a.store.Subscribe()
}

// Subscription returns the subscription status.
func (a *App) Subscription() subscription.Status {
	return a.subscription.Status()
}

// RefreshReceipt re-reads the subscription receipt.
func (a *App) RefreshReceipt() {
	a.subscription.Send(subscription.RefreshReceipt{})
}

// Wallet returns the PsiCash wallet state.
func (a *App) Wallet() psicash.State {
	return a.wallet.State()
}

// RefreshWallet asks the wallet to refresh its balance.
func (a *App) RefreshWallet() {
	a.wallet.Send(psicash.RefreshState{})
}

// Provider returns the provider of the loaded profile.
func (a *App) Provider() (vpn.Provider, bool) {
	if a.env.Providers == nil {
		return nil, false
	}
	return a.currentProvider()
}

// Health returns the zombie detector's view of the tunnel.
func (a *App) Health() (vpn.ConnectionHealth, bool) {
	if a.zombie == nil {
		return vpn.ConnectionHealth{}, false
	}
	return a.zombie.Health(), true
}

// WaitFor blocks until done reports true for the tunnel state or ctx ends.
// The state is checked on every status change and at a short interval,
// since some transitions, such as a finished reload, leave the status as is.
func (a *App) WaitFor(ctx context.Context, done func(tunnel.Snapshot) bool) (tunnel.Snapshot, error) {
	sub := a.store.Subscribe()
	defer sub.Cancel()

	changes := make(chan struct{}, 1)
	go func() {
		for {
			if _, err := sub.Next(ctx); err != nil {
				return
			}
			select {
			case changes <- struct{}{}:
			default:
			}
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap := a.store.Snapshot()
		if done(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changes:
		case <-ticker.C:
		}
	}
}
