package main

import (
	"github.com/spf13/cobra"

	"github.com/watson-creative/tracking-injector/internal/auth"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Hash an admin API token for admin.token_hash",
	Long:  `Hashes the given token, or a freshly generated one, with bcrypt. Put the hash in the admin.token_hash setting and keep the token for API clients.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) == 1 {
			token = args[0]
		} else {
			generated, err := auth.GenerateToken(24)
			if err != nil {
				return err
			}
			token = generated
		}
		hash, err := auth.HashPassword(token)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"token": token, "token_hash": hash})
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}
