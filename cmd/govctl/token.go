// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

// tokenCmd mints a principal token for calling the gateway.
func tokenCmd() *cobra.Command {
	var (
		sessionID string
		partnerID string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <principal-id>",
		Short: "Mint a principal JWT for the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}

			claims := jwt.MapClaims{
				"principal_id": args[0],
				"iat":          time.Now().Unix(),
				"exp":          time.Now().Add(ttl).Unix(),
			}
			if sessionID != "" {
				claims["session_id"] = sessionID
			}
			if partnerID != "" {
				claims["partner_id"] = partnerID
			}

			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id claim")
	cmd.Flags().StringVar(&partnerID, "partner", "", "partner id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
