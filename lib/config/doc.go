// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads engine configuration from a single YAML file
// specified by the SITEWRIGHT_CONFIG environment variable or a
// --config flag. There is no automatic discovery and environment
// variables do not override file values — configuration stays
// deterministic and auditable. The only expansion performed is
// ${VAR} and ${VAR:-default} in path fields.
package config
