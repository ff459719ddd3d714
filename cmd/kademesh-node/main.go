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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kademesh/kademesh/config"
	"github.com/kademesh/kademesh/internal/version"
	"github.com/kademesh/kademesh/p2p"
	"github.com/spf13/cobra"
)

var (
	configDir string
	stopGrace time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "kademesh-node",
	Short: "kademesh node CLI - run a peer-to-peer transport node",
	Long: `kademesh-node runs a single node of the kademesh peer-to-peer message
transport: message codec, peer identity and version gate, TURN/ICE NAT
traversal, Kademlia routing, and the request/reply dispatcher.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the node and run until interrupted",
	RunE:  runNode,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	runCmd.Flags().StringVar(&configDir, "config-dir", "config", "directory to load <env>.yaml / default.yaml from")
	runCmd.Flags().DurationVar(&stopGrace, "stop-grace", 10*time.Second, "time to wait for a clean shutdown before giving up")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	node, err := p2p.New(*cfg, nil, nil)
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	if err := node.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- node.Run(runCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Fprintf(os.Stderr, "received %s, shutting down\n", sig)
	case err := <-runErrCh:
		cancelRun()
		if err != nil {
			return fmt.Errorf("node run loop exited: %w", err)
		}
		return nil
	}

	if err := node.Stop(stopGrace); err != nil {
		return fmt.Errorf("stop node: %w", err)
	}
	cancelRun()
	<-runErrCh
	return nil
}
