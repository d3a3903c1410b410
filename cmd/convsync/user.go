package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	userID    string
	userEmail string
)

func init() {
	userAddCmd.Flags().StringVar(&userID, "id", "", "user id (generated when empty)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		newLogger(cfg)

		db, err := openDB(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		id, err := db.Store().CreateUser(cmd.Context(), userID, args[0], userEmail, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}
