package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rowroute/internal/model"
)

// NewGapsCommand creates the gaps command.
func NewGapsCommand(rootOpts *RootOptions) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List the gap ledger",
		Long: `List the id ranges the router has not yet accounted for, and the ones it
has resolved or skipped.

Example:
  rowroute gaps
  rowroute gaps --status OPEN --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGaps(rootOpts, statuses, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil,
		"only gaps in these statuses (OPEN, RESOLVED, SKIPPED_NO_PENDING_TX, SKIPPED_EXPIRED)")
	return cmd
}

func runGaps(opts *RootOptions, statuses []string, cmd *cobra.Command) error {
	filter := make([]model.GapStatus, 0, len(statuses))
	for _, s := range statuses {
		st := model.GapStatus(s)
		switch st {
		case model.GapOpen, model.GapResolved, model.GapSkippedNoPending, model.GapSkippedExpired:
			filter = append(filter, st)
		default:
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown gap status %q", s))
		}
	}

	_, st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	gs, err := st.ListGaps(commandContext(cmd), filter...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list gaps", err)
	}

	return newFormatter(opts, cmd).Success(gs, func(w io.Writer) error { return writeGaps(w, gs) })
}

func writeGaps(w io.Writer, gs []model.Gap) error {
	if len(gs) == 0 {
		_, err := fmt.Fprintln(w, "no gaps")
		return err
	}
	rows := make([][]string, 0, len(gs))
	for _, g := range gs {
		end := "∞"
		if !g.OpenEnded() {
			end = strconv.FormatInt(g.EndID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(g.StartID, 10),
			end,
			string(g.Status),
			g.CreateTime.Format(time.RFC3339),
			g.LastUpdateTime.Format(time.RFC3339),
		})
	}
	return table(w, []string{"START", "END", "STATUS", "CREATED", "UPDATED"}, rows)
}
