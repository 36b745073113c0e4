package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	srv "github.com/mohammad-safakhou/researcher/internal/server"
	"github.com/spf13/cobra"
)

func tokenCMD() *cobra.Command {
	var subject, secret string
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("RESEARCHER_SERVER_JWT_SECRET")
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set RESEARCHER_SERVER_JWT_SECRET")
			}
			tok, err := srv.SignJWT(subject, []byte(secret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "cli", "token subject")
	token.Flags().StringVar(&secret, "secret", "", "HMAC secret (default from RESEARCHER_SERVER_JWT_SECRET)")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return token
}
