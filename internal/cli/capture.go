package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rowroute/internal/clock"
	"github.com/roach88/rowroute/internal/config"
	"github.com/roach88/rowroute/internal/model"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	ID            int64
	Table         string
	Channel       string
	Event         string
	TransactionID string
	SourceNode    string
	PK            string
	Row           string
	Old           string
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Append a change row to the store's change log",
		Long: `Append one change record to the SQLite change log, the way a capture
trigger would. Only available with the sqlite source.

An explicit --id reproduces an out-of-order commit: capture id 3 before id 2
and the next pass leaves a gap at 2.

Example:
  rowroute capture --table item --channel config --tx t1 --row '{"ITEM_ID":"11"}'
  rowroute capture --id 7 --table sale_transaction --channel sale --event U`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.ID, "id", 0, "explicit change id (default: next in sequence)")
	cmd.Flags().StringVar(&opts.Table, "table", "", "captured table name (required)")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "channel id (required)")
	cmd.Flags().StringVar(&opts.Event, "event", string(model.EventInsert), "event type (I, U, D, S)")
	cmd.Flags().StringVar(&opts.TransactionID, "tx", "", "source transaction id")
	cmd.Flags().StringVar(&opts.SourceNode, "source-node", "", "node the change originated from")
	cmd.Flags().StringVar(&opts.PK, "pk", "", "primary key payload (JSON object)")
	cmd.Flags().StringVar(&opts.Row, "row", "", "row payload (JSON object)")
	cmd.Flags().StringVar(&opts.Old, "old", "", "previous row payload for updates (JSON object)")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("channel")

	return cmd
}

func runCapture(opts *CaptureOptions, cmd *cobra.Command) error {
	event := model.EventType(opts.Event)
	if !event.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown event type %q", opts.Event))
	}

	cfg, st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Source.Type != config.SourceSQLite {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("capture writes the store's change log; configured source is %s", cfg.Source.Type))
	}

	rec := model.ChangeRecord{
		ID:            opts.ID,
		TableName:     config.NormalizeName(opts.Table),
		EventType:     event,
		ChannelID:     config.NormalizeName(opts.Channel),
		TransactionID: opts.TransactionID,
		SourceNodeID:  opts.SourceNode,
		CreateTime:    clock.System{}.Now(),
		PKData:        opts.PK,
		RowData:       opts.Row,
		OldData:       opts.Old,
	}
	id, err := st.AppendChange(commandContext(cmd), rec)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to capture change", err)
	}
	rec.ID = id

	return newFormatter(opts.RootOptions, cmd).Success(rec, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "captured change %d (%s %s on %s)\n", id, event, rec.TableName, rec.ChannelID)
		return err
	})
}
