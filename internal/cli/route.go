package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/rowroute/internal/engine"
)

// RouteOptions holds flags for the route command.
type RouteOptions struct {
	*RootOptions

	// PassIDs overrides the pass id generator (for testing).
	// If nil, the engine uses UUIDv7Generator.
	PassIDs engine.PassIDGenerator
}

// NewRouteCommand creates the route command.
func NewRouteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RouteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Run a single routing pass",
		Long: `Run one routing pass over every channel and exit.

The pass is skipped when another process holds the ROUTE cluster lock.
A channel failure is reported and exits 1 after the remaining channels
have been routed.

Example:
  rowroute route -c rowroute.yaml
  rowroute route -c rowroute.cue --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(opts, cmd)
		},
	}
	return cmd
}

func runRoute(opts *RouteOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	env, err := openEnvironment(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.engine(engineOptions(opts)...).RoutePass(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "routing pass failed", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	if err := f.Success(res, func(w io.Writer) error { return writePassResult(w, res) }); err != nil {
		return err
	}
	if failed := res.Failed(); len(failed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d channel(s) failed", len(failed)))
	}
	return nil
}

func engineOptions(opts *RouteOptions) []engine.Option {
	if opts.PassIDs == nil {
		return nil
	}
	return []engine.Option{engine.WithPassIDs(opts.PassIDs)}
}

func writePassResult(w io.Writer, res engine.PassResult) error {
	if res.Skipped {
		_, err := fmt.Fprintf(w, "pass %s skipped: cluster lock held elsewhere\n", res.PassID)
		return err
	}

	fmt.Fprintf(w, "pass %s: %d channel(s), %d read, %d batch(es) sealed in %s\n",
		res.PassID, len(res.Channels), res.DataRead(), res.BatchesSealed(), res.EndTime.Sub(res.StartTime))

	rows := make([][]string, 0, len(res.Channels))
	for _, c := range res.Channels {
		rows = append(rows, []string{
			c.ChannelID,
			strconv.Itoa(c.Stats.DataRead),
			strconv.Itoa(c.Stats.DataRouted),
			strconv.Itoa(c.Stats.DataUnrouted),
			strconv.Itoa(c.Stats.BatchesSealed),
			dash(string(c.Cap)),
			dash(c.Error),
		})
	}
	return table(w, []string{"CHANNEL", "READ", "ROUTED", "UNROUTED", "SEALED", "CAP", "ERROR"}, rows)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
