package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"shop-fulfillment/internal/application"
	"shop-fulfillment/internal/config"
	"shop-fulfillment/internal/infra/logging"
	"shop-fulfillment/internal/infra/sched"
)

var Version = "dev"

type globalFlags struct {
	configPath string
	dev        bool
	timeout    time.Duration
}

func main() {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "fulfillctl",
		Short:         "Operator commands for the shop fulfillment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config.yaml", "path to config yaml")
	rootCmd.PersistentFlags().BoolVar(&g.dev, "dev", false, "development mode")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 2*time.Minute, "command timeout")

	rootCmd.AddCommand(methodsCmd(g))
	rootCmd.AddCommand(catalogCmd(g))
	rootCmd.AddCommand(itemsCmd(g))
	rootCmd.AddCommand(sweepCmd(g))
	rootCmd.AddCommand(revokeCmd(g))
	rootCmd.AddCommand(deliverCmd(g))
	rootCmd.AddCommand(completeCmd(g))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withFacade builds the container for one command and tears it down after.
func withFacade(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, c *application.Container, f *application.AdminFacade) (string, error)) error {
	cfg, err := config.Load(g.configPath, g.dev)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()

	c, err := application.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	out, err := fn(ctx, c, application.NewAdminFacade(c.Checkout, c.Catalog, c.Expiration, c.Prices))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func methodsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List registered payment methods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(cmd, g, func(ctx context.Context, _ *application.Container, f *application.AdminFacade) (string, error) {
				return f.HandleMethods(ctx)
			})
		},
	}
}

func catalogCmd(g *globalFlags) *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List packages and offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(cmd, g, func(ctx context.Context, c *application.Container, f *application.AdminFacade) (string, error) {
				if currency == "" {
					currency = c.Cfg.Currency.Default
				}
				return f.HandleCatalog(ctx, currency)
			})
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "display currency (defaults to config)")
	return cmd
}

func itemsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "items [user-id]",
		Short: "Show the active items of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(cmd, g, func(ctx context.Context, _ *application.Container, f *application.AdminFacade) (string, error) {
				return f.HandleItems(ctx, args[0])
			})
		},
	}
}

func sweepCmd(g *globalFlags) *cobra.Command {
	var noLock bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Revoke every expired item now",
		Long: `Runs one expiration sweep. By default the sweep takes the same
distributed lock as the scheduled worker, so it fails fast when a
server instance is already sweeping.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(cmd, g, func(ctx context.Context, c *application.Container, f *application.AdminFacade) (string, error) {
				if noLock {
					return f.HandleSweep(ctx, time.Now())
				}
				w, err := sched.NewExpiryWorker(c.Cfg.Scheduler.SweepRule, c.Expiration, c.Locker, c.Cfg.Scheduler.LockTTL, c.Log)
				if err != nil {
					return "", err
				}
				res, err := w.RunOnce(ctx)
				if err != nil {
					return "", err
				}
				return application.DescribeSweep(res), nil
			})
		},
	}
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "skip the distributed sweep lock")
	return cmd
}

func revokeCmd(g *globalFlags) *cobra.Command {
	var trigger string
	cmd := &cobra.Command{
		Use:   "revoke [item-id]",
		Short: "Run the expire hook of an item and clear its expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(cmd, g, func(ctx context.Context, _ *application.Container, f *application.AdminFacade) (string, error) {
				return f.HandleRevoke(ctx, args[0], trigger)
			})
		},
	}
	cmd.Flags().StringVarP(&trigger, "trigger", "t", "admin", "reason passed to the expire commands")
	return cmd
}

func deliverCmd(g *globalFlags) *cobra.Command {
	var renewal bool
	cmd := &cobra.Command{
		Use:   "deliver [item-id]",
		Short: "Run the delivery hook of an item again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(cmd, g, func(ctx context.Context, _ *application.Container, f *application.AdminFacade) (string, error) {
				return f.HandleDeliver(ctx, args[0], renewal)
			})
		},
	}
	cmd.Flags().BoolVar(&renewal, "renewal", false, "deliver as a renewal")
	return cmd
}

func completeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "complete [payment-id]",
		Short: "Record and deliver the missing lines of a succeeded payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(cmd, g, func(ctx context.Context, _ *application.Container, f *application.AdminFacade) (string, error) {
				return f.HandleComplete(ctx, args[0])
			})
		},
	}
}
