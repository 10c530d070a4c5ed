package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"presence/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a development bearer token",
	Long: `Mint a bearer token signed with JWT_SIGNING_KEY for the given user.
Production tokens come from the identity provider; this is for local use.

Examples:
  export API_TOKEN=$(attendctl token prof-1 --role PROFESSOR)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roleName, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		role, err := auth.ParseRole(roleName)
		if err != nil {
			return err
		}
		tok, err := auth.Issue(args[0], role, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Println(tok.Value)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("role", string(auth.RoleProfessor), "Role claim: STUDENT, PROFESSOR or ADMIN")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
}
