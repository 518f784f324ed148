// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package updater checks the project's release feed for newer versions
// and logs when one is available. Stable releases take precedence over
// prereleases when picking an update target; nothing is downloaded or
// installed.
package updater
