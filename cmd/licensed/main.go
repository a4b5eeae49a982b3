package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/KetaVip/license-bot/internal/app"
	"github.com/KetaVip/license-bot/internal/config"
	"github.com/KetaVip/license-bot/internal/security"
	"github.com/KetaVip/license-bot/internal/tools/common"
	"github.com/KetaVip/license-bot/internal/tools/loadgen"
	"github.com/KetaVip/license-bot/internal/tools/watch"
)

func loadConfig() (*config.Config, error) {
	if err := common.LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	return config.Load()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "licensed",
		Short: "HWID license service with Discord VIP management",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newTokenCommand())
	root.AddCommand(newHashKeyCommand())
	root.AddCommand(newLoadgenCommand())
	root.AddCommand(watch.NewCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the license service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tokens := security.NewTokenManager(cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.JWTSecret)
			token, err := tokens.SignOperatorToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator id the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	var hwids []string
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate synthetic /check traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.HWIDs = hwids
			res, err := loadgen.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total=%d failures=%d classes=%v statuses=%v\n",
				res.TotalRequests, res.Failures, res.StatusClasses, res.LicenseStatuses)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "license service base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "hwid mix: check, unknown or mixed")
	cmd.Flags().StringSliceVar(&hwids, "hwid", nil, "known license keys to poll")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "run duration")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "worker count")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "rng seed")
	return cmd
}

func newHashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Hash a static API key for LICENSED_AUTH_API_KEY_HASHES",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := security.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
