// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// hearthd is the voice-core daemon: it wires the event bus, resource
// monitor, performance optimizer, session manager, and pipeline
// orchestrator together and serves the control API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Populated by the release build via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	devEngines bool

	rootCmd = &cobra.Command{
		Use:   "hearthd",
		Short: "The Hearth voice assistant coordination daemon",
		Long: `hearthd coordinates the on-device voice pipeline: wake word, speech
recognition, safety validation, intent classification, command execution,
response generation, and synthesis, under a fixed memory and CPU envelope.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the voice core and control API",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hearthd %s (%s)\n", version, commit)
		},
	}
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "/etc/hearthd/hearthd.yaml",
		"path to the configuration file")
	serveCmd.Flags().BoolVar(&devEngines, "dev-engines", false,
		"use built-in echo engines instead of the model runtime bindings")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
