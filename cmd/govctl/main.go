// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package main implements the govctl CLI tool for governance administration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "govctl",
		Short:   "Governance gateway CLI tool",
		Long:    `govctl is a command-line tool for operating the governance gateway: verifying sealed proof bundles and minting principal tokens.`,
		Version: version,
	}

	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
