package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var errNoCredentials = errors.New("no credentials configured: set auth.token, auth.audience or EVA_AUTH_TOKEN")

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the backend token",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain a token and store it for later commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")

		if token == "" && !cfg.CanAuthenticate() {
			return errNoCredentials
		}
		am := newAuthManager(cfg, logger)
		if token != "" {
			if err := am.SetToken(token, expiresIn); err != nil {
				return err
			}
		} else if err := am.Authenticate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "authenticated until %s\n", am.ExpiresAt().Format(time.RFC3339))
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a valid token is held",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		am := newAuthManager(cfg, logger)
		if !am.IsAuthenticated() {
			fmt.Fprintln(cmd.OutOrStdout(), "not authenticated")
			if !cfg.CanAuthenticate() {
				fmt.Fprintln(cmd.OutOrStdout(), errNoCredentials)
			}
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "authenticated until %s\n", am.ExpiresAt().Format(time.RFC3339))
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return newAuthManager(cfg, logger).Clear()
	},
}

func init() {
	authLoginCmd.Flags().String("token", "", "Use this token instead of minting one")
	authLoginCmd.Flags().Duration("expires-in", time.Hour, "Lifetime of a token given with --token")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}
