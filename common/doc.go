// Package common holds what every other package of the VPN client shares:
// sentinel errors, feedback tags and timing constants, the key/value and
// feedback log interfaces, the levelled application logger and a few
// filesystem helpers.
//
// Packages log through the default logger:
//
//	common.LogInfo("Tunnel status changed to %s", status)
//
// and tag values meant for the feedback log:
//
//	common.GetLogger().Tagged(common.LevelWarn, common.TagTunnelIntent, err)
package common
