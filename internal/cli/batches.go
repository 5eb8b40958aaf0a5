package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/store"
)

// BatchView is an outgoing batch as listed by the batches command.
type BatchView struct {
	model.OutgoingBatch
	IDs []int64 `json:"data_ids,omitempty"`
}

// BatchesOptions holds flags for the batches command.
type BatchesOptions struct {
	*RootOptions
	Node     string
	Channel  string
	Status   string
	Limit    int
	ReadyFor string
	WithIDs  bool
}

// NewBatchesCommand creates the batches command and its mark subcommand.
func NewBatchesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List outgoing batches",
		Long: `List outgoing batches, newest last.

--ready-for lists the sealed batches a sender would pick up for a node.

Example:
  rowroute batches --status NE
  rowroute batches --ready-for store-001 --ids`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatches(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Node, "node", "", "only batches for this node")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "only batches on this channel")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only batches in this status (RT, NE, SE, OK, ER)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum batches to list (0 for all)")
	cmd.Flags().StringVar(&opts.ReadyFor, "ready-for", "", "list batches ready to send to this node")
	cmd.Flags().BoolVar(&opts.WithIDs, "ids", false, "include the change ids of each batch")

	cmd.AddCommand(newBatchMarkCommand(rootOpts))
	return cmd
}

func runBatches(opts *BatchesOptions, cmd *cobra.Command) error {
	if opts.Status != "" && !validBatchStatus(model.BatchStatus(opts.Status)) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown batch status %q", opts.Status))
	}

	_, st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	var batches []model.OutgoingBatch
	if opts.ReadyFor != "" {
		batches, err = st.ReadyBatches(ctx, opts.ReadyFor)
	} else {
		batches, err = st.ListBatches(ctx, store.BatchFilter{
			NodeID:    opts.Node,
			ChannelID: opts.Channel,
			Status:    model.BatchStatus(opts.Status),
			Limit:     opts.Limit,
		})
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list batches", err)
	}

	views := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		v := BatchView{OutgoingBatch: b}
		if opts.WithIDs {
			if v.IDs, err = st.BatchDataIDs(ctx, b.ID); err != nil {
				return WrapExitError(ExitFailure, "failed to list batch ids", err)
			}
		}
		views = append(views, v)
	}

	return newFormatter(opts.RootOptions, cmd).Success(views, func(w io.Writer) error {
		return writeBatches(w, views, opts.WithIDs)
	})
}

func writeBatches(w io.Writer, views []BatchView, withIDs bool) error {
	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "no batches")
		return err
	}
	header := []string{"BATCH", "NODE", "CHANNEL", "STATUS", "EVENTS", "BYTES", "I/U/D/O", "CREATED"}
	if withIDs {
		header = append(header, "IDS")
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		row := []string{
			strconv.FormatInt(v.ID, 10),
			v.NodeID,
			v.ChannelID,
			string(v.Status),
			strconv.Itoa(v.EventCount),
			strconv.FormatInt(v.ByteCount, 10),
			fmt.Sprintf("%d/%d/%d/%d", v.InsertCount, v.UpdateCount, v.DeleteCount, v.OtherCount),
			v.CreateTime.Format(time.RFC3339),
		}
		if withIDs {
			row = append(row, fmt.Sprint(v.IDs))
		}
		rows = append(rows, row)
	}
	return table(w, header, rows)
}

func newBatchMarkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <batch-id> <status>",
		Short: "Move a batch to another delivery status",
		Long: `Set a batch's delivery status, as a sender does after sending (SE) or
after the node acknowledged it (OK) or rejected it (ER).

Example:
  rowroute batches mark 42 SE`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatchMark(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runBatchMark(opts *RootOptions, idArg, statusArg string, cmd *cobra.Command) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid batch id", err)
	}
	status := model.BatchStatus(statusArg)
	if !validBatchStatus(status) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown batch status %q", statusArg))
	}

	_, st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.MarkBatchStatus(commandContext(cmd), id, status, time.Now().UTC()); err != nil {
		return WrapExitError(ExitFailure, "failed to mark batch", err)
	}

	result := map[string]any{"batch_id": id, "status": status}
	return newFormatter(opts, cmd).Success(result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "batch %d marked %s\n", id, status)
		return err
	})
}

func validBatchStatus(s model.BatchStatus) bool {
	switch s {
	case model.BatchOpen, model.BatchReady, model.BatchSent, model.BatchOK, model.BatchError:
		return true
	}
	return false
}
