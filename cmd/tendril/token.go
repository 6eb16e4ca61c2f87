package main

import (
	"fmt"
	"time"

	"github.com/aretw0/tendril/internal/demo"
	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a bearer token for the demo operations",
	Long:  `Prints an HS256 token signed with auth.secret. Pass it as "Authorization: Bearer <token>" to reach the admin namespace.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		subject, _ := cmd.Flags().GetString("subject")
		scope, _ := cmd.Flags().GetString("scope")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		now := time.Now()
		token, err := ctxresolve.Sign(secret(cfg, newLogger(cfg)), &ctxresolve.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   subject,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			},
			Scope: scope,
		})
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("subject", "dev", "Token subject")
	tokenCmd.Flags().String("scope", demo.ScopeAdmin, "Token scope")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
}
