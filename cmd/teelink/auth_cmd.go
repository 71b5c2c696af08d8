package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var loginPassword string

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted if omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in to the booking backend",
	Long:  "Authenticate with the booking backend and store the bearer token locally.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := newClient(cfg)

		password := loginPassword
		if password == "" {
			fmt.Print("Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.Auth().Login(ctx, email, password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		// Fetch the profile so later commands know the member identity.
		profile, err := client.Auth().Profile(ctx)
		if err != nil {
			return fmt.Errorf("login succeeded but profile fetch failed: %w", err)
		}

		cfg.Auth.Email = profile.Email
		cfg.Auth.UserID = profile.ID
		cfg.Auth.UserName = profile.Name
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Login successful!")
		fmt.Printf("  Member ID: %d\n", profile.ID)
		fmt.Printf("  Name:      %s\n", profile.Name)
		fmt.Printf("  Email:     %s\n", profile.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		client := newClient(cfg)
		if err := client.Auth().Logout(); err != nil {
			return fmt.Errorf("failed to clear token: %w", err)
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check the stored token, and fetch the live member profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:   %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		fmt.Printf("  Socket URL: %s\n", valueOrDefault(cfg.Default.SocketURL, "(not set)"))
		if cfg.Default.WebURL != "" {
			fmt.Printf("  Web URL:    %s\n", cfg.Default.WebURL)
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Email != "" {
			fmt.Printf("  Email:     %s\n", cfg.Auth.Email)
			fmt.Printf("  Member ID: %d\n", cfg.Auth.UserID)
		} else {
			fmt.Println("  Email:     (not logged in)")
		}

		if cfg.Default.BaseURL == "" {
			return nil
		}
		client := newClient(cfg)
		if client.Token() == "" {
			fmt.Println("  Token:     none")
			return nil
		}
		fmt.Println("  Token:     present")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		profile, err := client.Auth().Profile(ctx)
		if err != nil {
			fmt.Printf("  Error fetching profile: %v\n", err)
			return nil
		}
		fmt.Printf("  Member ID: %d\n", profile.ID)
		fmt.Printf("  Name:      %s\n", profile.Name)
		fmt.Printf("  Email:     %s\n", profile.Email)

		if session, err := client.Auth().AutoLogin(ctx); err == nil && session != nil {
			fmt.Printf("  Web session: %s (cookie %s on %s)\n", session.ID, session.CookieName, session.CookieDomain)
		}
		return nil
	},
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
