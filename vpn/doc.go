// Package vpn provides the desktop implementation of the collaborators the
// tunnel reconciler talks to.
//
// This package implements:
//
//   - Profile storage: installing, loading and removing VPN profiles
//   - Tunnel provider: running the tunnel process and reporting its status
//   - Zombie detection: noticing tunnels that report Connected but carry
//     no traffic
//
// # Architecture
//
// The package is organized around three main types:
//
//   - FileStore: implements tunnel.ProfileStore on top of the config
//     directory, one YAML document and one .ovpn file per profile
//   - Manager: implements tunnel.ProviderManager for one profile
//   - ZombieDetector: periodic health checks of the connected Manager
//
// # Status Reporting
//
// Manager derives its status from the tunnel process:
//
//  1. StartTunnel launches the process and reports Connecting
//  2. "Initialization Sequence Completed", or a Tunnels notice with a
//     positive count, reports Connected
//  3. A soft restart, or a Tunnels notice with a zero count, reports
//     Reasserting
//  4. StopTunnel reports Disconnecting; process exit reports Disconnected
//
// Homepage notices ({"noticeType":"Homepage","data":{"url":...}}) are
// collected per session and handed to the OnHomepages handler.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Status observers
// are invoked sequentially from one goroutine per Manager.
package vpn
