// Copyright (C) 2025 kademesh
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment
// variable values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables
// in the fields of cfg that are typically parameterized per deployment.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Node.Host = SubstituteEnvVars(cfg.Node.Host)
	for i, peer := range cfg.Node.BootstrapPeers {
		cfg.Node.BootstrapPeers[i] = SubstituteEnvVars(peer)
	}
	for i, signer := range cfg.Node.TrustedVersionSigners {
		cfg.Node.TrustedVersionSigners[i] = SubstituteEnvVars(signer)
	}

	cfg.Identity.KeyStoreDir = SubstituteEnvVars(cfg.Identity.KeyStoreDir)
	cfg.Identity.KeyID = SubstituteEnvVars(cfg.Identity.KeyID)

	for i := range cfg.TURN.Servers {
		cfg.TURN.Servers[i].Username = SubstituteEnvVars(cfg.TURN.Servers[i].Username)
		cfg.TURN.Servers[i].Credential = SubstituteEnvVars(cfg.TURN.Servers[i].Credential)
		for j, url := range cfg.TURN.Servers[i].URLs {
			cfg.TURN.Servers[i].URLs[j] = SubstituteEnvVars(url)
		}
	}

	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
}

// GetEnvironment returns the current environment from KADEMESH_ENV or
// ENVIRONMENT, defaulting to development.
func GetEnvironment() string {
	env := os.Getenv("KADEMESH_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in the production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local.
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
