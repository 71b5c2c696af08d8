package main

import (
	"fmt"
	"log"
	"os"

	teelink "github.com/teelink/teelink-go"
)

// newClient creates a TeeLink client backed by the on-disk token store.
// Callers that need a logged-in session should check Token afterwards.
func newClient(cfg *Config) *teelink.Client {
	if cfg.Default.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No base URL. Run 'teelink config set default.base_url <url>' first.")
		os.Exit(1)
	}

	opts := []teelink.ClientOption{}
	if path, err := tokenPath(); err == nil {
		opts = append(opts, teelink.WithTokenStore(teelink.NewFileTokenStore(path)))
	}
	if verbose {
		opts = append(opts, teelink.WithLogger(log.New(os.Stderr, "teelink: ", log.LstdFlags)))
	}

	return teelink.NewClient(cfg.Default.BaseURL, opts...)
}

// getAuthedClient creates a client and exits unless a token is stored.
func getAuthedClient(cfg *Config) *teelink.Client {
	client := newClient(cfg)
	if client.Token() == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'teelink login <email>' first.")
		os.Exit(1)
	}
	return client
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log transport activity to stderr")
}
