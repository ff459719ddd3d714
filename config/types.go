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

// Package config provides configuration loading for a kademesh node.
package config

import "time"

// Config is the top-level configuration for a node process.
type Config struct {
	Environment string `yaml:"environment" json:"environment"`

	Node      NodeConfig      `yaml:"node" json:"node"`
	Identity  IdentityConfig  `yaml:"identity" json:"identity"`
	Table     TableConfig     `yaml:"table" json:"table"`
	Dispatch  DispatchConfig  `yaml:"dispatch" json:"dispatch"`
	TURN      TURNConfig      `yaml:"turn" json:"turn"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health    HealthConfig    `yaml:"health" json:"health"`
}

// NodeConfig controls the listening address and protocol version gate.
type NodeConfig struct {
	Host                  string        `yaml:"host" json:"host"`
	ListenPort            int           `yaml:"listen_port" json:"listen_port"`
	AppProtocolVersion    string        `yaml:"app_protocol_version" json:"app_protocol_version"`
	TrustedVersionSigners []string      `yaml:"trusted_version_signers" json:"trusted_version_signers"`
	BootstrapPeers        []string      `yaml:"bootstrap_peers" json:"bootstrap_peers"`
	RefreshInterval       time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	RebuildInterval       time.Duration `yaml:"rebuild_interval" json:"rebuild_interval"`
	HistorySize           int           `yaml:"history_size" json:"history_size"`
}

// IdentityConfig selects the node's signing key.
type IdentityConfig struct {
	KeyType       string `yaml:"key_type" json:"key_type"` // Ed25519, Secp256k1
	KeyStoreDir   string `yaml:"keystore_dir" json:"keystore_dir"`
	KeyID         string `yaml:"key_id" json:"key_id"`
}

// TableConfig controls the Kademlia routing table's shape.
type TableConfig struct {
	BucketSize           int `yaml:"bucket_size" json:"bucket_size"`               // k
	ReplacementCacheSize int `yaml:"replacement_cache_size" json:"replacement_cache_size"`
	Concurrency          int `yaml:"concurrency" json:"concurrency"` // alpha
}

// DispatchConfig controls the request/reply dispatcher's worker pool and
// retry policy.
type DispatchConfig struct {
	Workers         int           `yaml:"workers" json:"workers"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout"`
	BroadcastTimeout time.Duration `yaml:"broadcast_timeout" json:"broadcast_timeout"`
	DealerSendTimeout time.Duration `yaml:"dealer_send_timeout" json:"dealer_send_timeout"`
	ReplyTimeout      time.Duration `yaml:"reply_timeout" json:"reply_timeout"`
}

// TURNConfig configures the TURN/ICE client used for NAT traversal.
type TURNConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	Servers          []ICEServer   `yaml:"servers" json:"servers"`
	AllocationLifetime time.Duration `yaml:"allocation_lifetime" json:"allocation_lifetime"`
	PermissionLifetime time.Duration `yaml:"permission_lifetime" json:"permission_lifetime"`
	RefreshMargin      time.Duration `yaml:"refresh_margin" json:"refresh_margin"`
}

// ICEServer is one STUN/TURN server entry, mirroring the WebRTC ICEServer
// shape that pion/turn and pion/stun clients expect.
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Port    int  `yaml:"port" json:"port"`
}

// HealthConfig represents health check server configuration.
type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Port    int  `yaml:"port" json:"port"`
}
