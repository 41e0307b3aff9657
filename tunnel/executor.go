package tunnel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yllada/vpn-client/common"
)

// Executor runs effects off the reducer goroutine and dispatches their
// results back as actions.
type Executor struct {
	profiles ProfileStore
	settings common.KeyValueStore
	feedback common.FeedbackLogger
	metrics  Metrics
	dispatch func(Action)
	now      func() time.Time

	wg sync.WaitGroup
}

// ExecutorConfig holds the collaborators of an Executor. Settings,
// Feedback and Metrics are optional.
type ExecutorConfig struct {
	Profiles ProfileStore
	Settings common.KeyValueStore
	Feedback common.FeedbackLogger
	Metrics  Metrics
	Now      func() time.Time
}

// NewExecutor creates an executor that sends results to dispatch.
func NewExecutor(cfg ExecutorConfig, dispatch func(Action)) *Executor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{
		profiles: cfg.Profiles,
		settings: cfg.Settings,
		feedback: cfg.Feedback,
		metrics:  cfg.Metrics,
		dispatch: dispatch,
		now:      now,
	}
}

// Execute starts eff in its own goroutine. Observer registration runs
// inline so that it precedes any start request issued in the same batch.
func (e *Executor) Execute(ctx context.Context, eff Effect) {
	if _, ok := eff.(EffectObserveStatus); ok {
		err := e.run(ctx, eff)
		if e.metrics != nil {
			e.metrics.EffectExecuted(EffectName(eff), err)
		}
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.run(ctx, eff)
		if e.metrics != nil {
			e.metrics.EffectExecuted(EffectName(eff), err)
		}
	}()
}

// Wait blocks until every started effect returned or the timeout elapsed.
// It reports whether all effects finished.
func (e *Executor) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Executor) run(ctx context.Context, eff Effect) error {
	switch eff := eff.(type) {
	case EffectLog:
		e.log(eff.Level, eff.Tag, eff.Value)
		return nil

	case EffectObserveStatus:
		obs := eff.Observer
		if obs == nil {
			obs = NewStatusObserver(e.dispatch)
		}
		obs.Observe(eff.Manager)
		return nil

	case EffectLoadConfig:
		m, err := e.profiles.Load(ctx)
		e.dispatch(ConfigUpdated{Result: e.result(m, err)})
		return err

	case EffectInstallConfig:
		m, err := e.profiles.Install(ctx)
		e.dispatch(ConfigUpdated{Result: e.result(m, err)})
		if errors.Is(err, common.ErrInvalidConfig) {
			e.dispatch(ConfigValidationFailed{Err: err})
		}
		return err

	case EffectRemoveConfigs:
		errs := e.profiles.RemoveAll(ctx)
		if len(errs) == 0 {
			e.dispatch(ConfigsRemoved{})
			return nil
		}
		ev := NewErrorEvent(NewRemovingConfigsError(errs), e.now())
		e.dispatch(ConfigsRemoved{Failure: &ev})
		return ev

	case EffectStartTunnel:
		err := eff.Manager.StartTunnel(ctx)
		e.dispatch(TunnelStarted{Err: err})
		return err

	case EffectStopTunnel:
		err := eff.Manager.StopTunnel(ctx)
		if errors.Is(err, common.ErrNotConnected) {
			// Already down, e.g. the process exited on its own.
			err = nil
		}
		e.dispatch(TunnelStopped{Err: err})
		return err

	case EffectPersistIntent:
		if e.settings == nil {
			return nil
		}
		if err := e.settings.Set(ctx, common.SettingTunnelIntent, eff.Intent.Persisted()); err != nil {
			e.log(common.LevelWarn, common.TagTunnelIntent, err)
			return err
		}
		return nil

	default:
		common.LogError("tunnel: unhandled effect %T", eff)
		return nil
	}
}

func (e *Executor) result(m ProviderManager, err error) ConfigUpdateResult {
	if err != nil {
		return FailedResult(NewErrorEvent(NewConfigLoadSaveError(err), e.now()))
	}
	if m == nil {
		return NoneStoredResult()
	}
	return StoredResult(m, NewStatusObserver(e.dispatch))
}

func (e *Executor) log(level common.LogLevel, tag string, value any) {
	if e.feedback != nil {
		e.feedback.Log(level, tag, value)
		return
	}
	common.GetLogger().Tagged(level, tag, value)
}
