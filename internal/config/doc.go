// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package config loads and validates the process configuration.
//
// Configuration is layered with koanf: built-in defaults, then an
// optional YAML config file, then environment variables, each layer
// overriding the one below. Sections owned by a single package embed
// that package's config struct so tuning knobs live next to the code
// they affect; this package only adds the cross-cutting pieces (server
// list, transport selection, notification routing) and the validation
// pass that runs before anything starts.
package config
