package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ageniuscoder/mmchat/convsync/internal/auth"
)

var (
	tokenUser string
	tokenTTL  int
)

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id the token is issued for")
	tokenCmd.Flags().IntVar(&tokenTTL, "ttl", 0, "lifetime in minutes (defaults to jwt_ttl_min)")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a session token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return errors.New("jwt secret is not configured")
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.JWTTTLMin
		}
		tok, err := auth.NewToken(cfg.JWTSecret, tokenUser, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
