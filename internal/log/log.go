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

// Package log configures the zap logger shared by every node component.
package log

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the root logger is built.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is "json" or "console". Defaults to json, or to console when
	// Development is set.
	Format string
	// Development enables stack traces on warn and console output (without
	// colour).
	Development bool
}

// New builds a *zap.Logger from Config. An empty Config yields a production
// JSON logger at info level.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, err
		}
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	} else if cfg.Format != "" {
		zcfg.Encoding = cfg.Format
	}

	return zcfg.Build()
}

// Nop returns a logger that discards everything, for use in tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Named returns a child logger scoped to a node component, e.g.
// Named(base, "kademlia") or Named(base, "turn").
func Named(base *zap.Logger, component string) *zap.Logger {
	return base.Named(component)
}
