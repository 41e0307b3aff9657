// Package main provides the entry point for the VPN client.
//
// The client keeps an OpenVPN tunnel in the state the user asked for,
// reinstalling the VPN profile when it is missing and restarting tunnels
// that stop carrying traffic. Around the tunnel it tracks the subscription
// receipt, opens the sponsor landing page once per session and keeps the
// PsiCash balance current.
//
// Usage:
//
//	vpn-client [options]
//
// Environment:
//
//	The tunnel command (openvpn by default) must be installed on the system.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/yllada/vpn-client/app"
	"github.com/yllada/vpn-client/cli"
	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/config"
	"github.com/yllada/vpn-client/feedback"
	"github.com/yllada/vpn-client/keyring"
	"github.com/yllada/vpn-client/landingpage"
	"github.com/yllada/vpn-client/metrics"
	"github.com/yllada/vpn-client/notify"
	"github.com/yllada/vpn-client/psicash"
	"github.com/yllada/vpn-client/settings"
	"github.com/yllada/vpn-client/subscription"
	"github.com/yllada/vpn-client/tui"
	"github.com/yllada/vpn-client/tunnel"
	"github.com/yllada/vpn-client/vpn"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")
	configPath  = flag.String("config", "", "Configuration file (default ~/.config/vpn-client/config.yaml)")

	startTunnel   = flag.Bool("start", false, "Start the tunnel and keep it running")
	stopTunnel    = flag.Bool("stop", false, "Stop the tunnel")
	restartTunnel = flag.Bool("restart", false, "Restart the tunnel and keep it running")
	resetProfile  = flag.Bool("reset", false, "Remove the installed VPN profile")
	egressRegion  = flag.String("region", "", `Exit through a country (two-letter code, "any" to clear)`)
	showStatus    = flag.Bool("status", false, "Show tunnel, subscription and PsiCash state")
	listProfiles  = flag.Bool("list", false, "List installed VPN profiles")
	feedbackTail  = flag.Int("feedback", 0, "Show the last N feedback log entries")
	monitor       = flag.Bool("monitor", false, "Run the live terminal monitor")
)

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp(os.Stdout)
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("VPN Client v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		common.CloseLogger()
		os.Exit(1)
	}
	common.CloseLogger()
}

func run() error {
	path := *configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	// A region change alone is applied to the persisted selection and exits.
	regionOnly := *egressRegion != "" && !*startTunnel && !*restartTunnel && !*monitor
	oneShot := *stopTunnel || *resetProfile || *showStatus || *listProfiles || *feedbackTail > 0 || regionOnly
	useMonitor := *monitor || (!oneShot && term.IsTerminal(int(os.Stdout.Fd())))

	logLevel := cfg.Level()
	if *verbose {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
		Quiet:       useMonitor || oneShot,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	feedbackPath, err := feedback.DefaultPath()
	if err != nil {
		return err
	}
	if *feedbackTail > 0 {
		return cli.New(nil, nil, feedbackPath, os.Stdout).ShowFeedback(*feedbackTail)
	}

	if !checkCommandInstalled(cfg.TunnelCommand) {
		common.LogError("%s is not installed on the system", cfg.TunnelCommand)
		return fmt.Errorf("%s is not installed on the system", cfg.TunnelCommand)
	}

	profiles, err := vpn.NewFileStore(vpn.FileStoreConfig{
		Template: cfg.TunnelConfig,
		Routes:   cfg.SplitTunnelRoutes,
		Manager:  vpn.DefaultManagerConfig(cfg.TunnelCommand),
	})
	if err != nil {
		return err
	}
	defer profiles.Close()

	if *listProfiles {
		return cli.New(nil, profiles, feedbackPath, os.Stdout).ListProfiles()
	}

	env, cleanup, err := buildEnvironment(ctx, cfg, profiles, feedbackPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if *showStatus || *resetProfile || regionOnly {
		// Inspect without resuming a persisted start.
		stop := tunnel.StopIntent()
		env.Intent = &stop
	}

	client, err := app.New(ctx, env)
	if err != nil {
		return err
	}

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	runCtx, stopApp := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- client.Run(runCtx) }()

	err = drive(ctx, client, profiles, feedbackPath, oneShot, useMonitor)

	// Leave the persisted intent alone so the next run resumes it.
	stopCtx, cancelStop := context.WithTimeout(context.Background(), common.ShutdownTimeout)
	profiles.StopAll(stopCtx)
	cancelStop()

	stopApp()
	if runErr := <-done; runErr != nil && err == nil {
		err = runErr
	}
	return err
}

// drive runs the requested command against the running client.
func drive(ctx context.Context, client *app.App, profiles *vpn.FileStore, feedbackPath string, oneShot, useMonitor bool) error {
	c := cli.New(client, profiles, feedbackPath, os.Stdout)

	if *egressRegion != "" {
		if err := c.SetRegion(ctx, *egressRegion); err != nil {
			return err
		}
	}

	switch {
	case *stopTunnel:
		return c.Stop(ctx)
	case *resetProfile:
		return c.Reset(ctx)
	case *showStatus:
		return c.Status(ctx)
	case *startTunnel:
		if err := c.Start(ctx); err != nil {
			return err
		}
	case *restartTunnel:
		if err := c.Restart(ctx); err != nil {
			return err
		}
	}
	if oneShot {
		return nil
	}

	if useMonitor {
		return tui.Run(ctx, client)
	}
	<-ctx.Done()
	return nil
}

func buildEnvironment(ctx context.Context, cfg *config.Config, profiles *vpn.FileStore, feedbackPath string) (app.Environment, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	settingsPath, err := settings.DefaultPath()
	if err != nil {
		return app.Environment{}, cleanup, err
	}
	kv, err := settings.Open(ctx, settingsPath)
	if err != nil {
		return app.Environment{}, cleanup, err
	}
	closers = append(closers, func() { kv.Close() })

	fb, err := feedback.Open(feedbackPath)
	if err != nil {
		cleanup()
		return app.Environment{}, func() {}, err
	}
	closers = append(closers, func() { fb.Close() })

	health := vpn.DefaultHealthConfig()
	health.CheckInterval = cfg.ZombieCheckInterval
	health.FailureThreshold = cfg.ZombieFailureThreshold
	if len(cfg.ZombieProbeHosts) > 0 {
		health.TestHosts = cfg.ZombieProbeHosts
	}

	env := app.Environment{
		Profiles:           profiles,
		Settings:           kv,
		Feedback:           fb,
		Notifier:           notify.New(notify.NewSender(common.AppName), cfg.ShowNotifications),
		Opener:             landingpage.XDGOpener{},
		Homepages:          profiles,
		Health:             &health,
		Providers:          profiles,
		Exits:              profiles,
		Regions:            profiles,
		LandingPageTimeout: cfg.LandingPageTimeout,
		ExpiryTolerance:    cfg.SubscriptionExpiryTolerance,
	}

	if cfg.ReceiptPath != "" {
		env.Receipts = subscription.FileReceiptSource{Path: cfg.ReceiptPath}
	}

	if cfg.PsiCashURL != "" {
		tokens, err := keyring.New(keyring.Config{})
		if err != nil {
			common.LogWarn("PsiCash tokens will not be persisted: %v", err)
		} else {
			env.Tokens = tokens
		}
		env.PsiCash = psicash.NewHTTPClient(cfg.PsiCashURL)
	}

	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector("")
		env.Metrics = collector
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           collector.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				common.LogError("Metrics server failed: %v", err)
			}
		}()
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), common.ShutdownTimeout)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}

	return env, cleanup, nil
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}

// checkCommandInstalled reports whether the tunnel command is in PATH.
func checkCommandInstalled(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}
