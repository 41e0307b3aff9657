package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "VPN Client"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-client"
)

// File names used by the application.
const (
	ConfigFileName   = "config.yaml"
	SettingsFileName = "settings.db"
	FeedbackFileName = "feedback.log"
	LogFileName      = "vpn-client.log"
	ProfilesDirName  = "profiles"
)

// Default timeouts and intervals.
const (
	// ConnectionTimeout is the maximum time the CLI waits for a connection.
	ConnectionTimeout = 30 * time.Second
	// LandingPageTimeout is how long a landing page waits for the tunnel
	// to report connected after new homepages arrive.
	LandingPageTimeout = 1 * time.Second
	// ExpiryTolerance is the slack allowed when comparing a fired
	// subscription timer against the currently known expiry.
	ExpiryTolerance = 1 * time.Second
	// ZombieCheckInterval is how often a connected provider is probed.
	ZombieCheckInterval = 30 * time.Second
	// ShutdownTimeout bounds how long in-flight effects may run on exit.
	ShutdownTimeout = 5 * time.Second
)

// Settings keys persisted in the key/value store.
const (
	SettingTunnelIntent = "tunnel.intent"
	SettingEgressRegion = "tunnel.egress_region"
)

// Feedback log tags.
const (
	TagProviderManagerStateUpdate = "ProviderManagerStateUpdate"
	TagTunnelIntent               = "TunnelIntent"
	TagStartTunnel                = "StartTunnel"
	TagStopTunnel                 = "StopTunnel"
	TagRemoveConfigs              = "RemoveConfigs"
	TagStatusObserver             = "VPNStatusObserver"
	TagSubscription               = "Subscription"
	TagLandingPage                = "LandingPage"
	TagPsiCash                    = "PsiCash"
)
