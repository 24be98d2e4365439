// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for the gateway
// binaries.
package version

import "runtime/debug"

// Version is the release version, set at build time via
// -ldflags "-X github.com/netreaper-project/gateway/lib/version.Version=...".
var Version = "dev"

// Info returns a human-readable version string, including the VCS
// revision when the binary was built from a module checkout.
func Info() string {
	info := Version
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, setting := range buildInfo.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 12 {
			return info + " (" + setting.Value[:12] + ")"
		}
	}
	return info
}
