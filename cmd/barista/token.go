package main

import (
	"errors"

	"github.com/spf13/cobra"

	"barista/internal/api"
)

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with api.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.API.JWTSecret == "" {
			return errors.New("api.jwt_secret is not set, the API is open")
		}
		token, err := api.IssueToken(cfg.API.JWTSecret, tokenSubject)
		if err != nil {
			return err
		}
		cmd.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "barista-cli", "subject claim of the token")
	rootCmd.AddCommand(tokenCmd)
}
