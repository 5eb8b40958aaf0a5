package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RouteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Route continuously until interrupted",
		Long: `Start the routing loop. Passes repeat on the poll interval, backing off
while there is nothing to route and resetting once data flows again.

Example:
  rowroute run -c rowroute.yaml
  rowroute run -c rowroute.yaml --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(opts, cmd)
		},
	}
	return cmd
}

func runLoop(opts *RouteOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	env, err := openEnvironment(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	eng := env.engine(engineOptions(opts)...)

	slog.Info("routing loop starting",
		"node", env.cfg.Node.ID,
		"source", env.cfg.Source.Type,
		"lock", env.cfg.Lock.Type,
		"channels", len(env.cfg.Channels),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Routing started. Press Ctrl-C to stop.")

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "routing loop error", err)
	}

	slog.Info("routing loop stopped gracefully")
	return nil
}
