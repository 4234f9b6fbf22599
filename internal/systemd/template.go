// Package systemd renders the unit file that runs the gating proxy as a
// long-lived service.
package systemd

import (
	"fmt"
	"path/filepath"
)

// UnitName is the installed unit file name.
const UnitName = "chatgate.service"

// Unit returns the systemd unit for `chatgate serve`. stateDir is made
// writable for the file store and audit log; everything else is read-only.
func Unit(binary, configPath, stateDir string) string {
	if binary == "" {
		binary = "/usr/local/bin/chatgate"
	}
	return fmt.Sprintf(`[Unit]
Description=Chat admission gate
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s serve --config %s
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths=%s

[Install]
WantedBy=multi-user.target
`, binary, configPath, filepath.Clean(stateDir))
}
