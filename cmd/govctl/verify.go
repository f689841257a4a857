// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"axonflow/governance/proof"
)

// verifyCmd checks a sealed proof bundle against the sealing secret.
func verifyCmd() *cobra.Command {
	var secretEnv string

	cmd := &cobra.Command{
		Use:   "verify <bundle.json>",
		Short: "Verify a sealed proof bundle",
		Long:  `Verify re-computes a proof bundle's MAC signature from its hashes and reports whether the bundle is intact. The sealing secret is read from the environment.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv(secretEnv)
			if secret == "" {
				return fmt.Errorf("%s is not set", secretEnv)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var bundle proof.Bundle
			if err := json.Unmarshal(data, &bundle); err != nil {
				return fmt.Errorf("parse bundle: %w", err)
			}

			sealer, err := proof.NewSealer(secret)
			if err != nil {
				return err
			}

			if !sealer.Verify(&bundle) {
				fmt.Fprintf(cmd.OutOrStdout(), "INVALID %s\n", bundle.BundleID)
				os.Exit(1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VALID %s sealed %s\n", bundle.BundleID, bundle.Timestamp)
			return nil
		},
	}

	cmd.Flags().StringVar(&secretEnv, "secret-env", "PROOF_BUNDLE_SECRET", "environment variable holding the sealing secret")
	return cmd
}
