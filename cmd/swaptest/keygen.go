package main

import (
	"fmt"

	"dex_go/internal/auth"

	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh keypair (public key for DEX_SWEEP_AUTHORITY)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kp, err := auth.NewKeypair()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public: %s\nsecret: %s\n", kp.Public, kp.Secret())
			return nil
		},
	}
}
