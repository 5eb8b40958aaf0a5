package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rowroute/internal/config"
	"github.com/roach88/rowroute/internal/lock"
	"github.com/roach88/rowroute/internal/store"
)

// LockView is the lock state reported by the lock command.
type LockView struct {
	store.LockInfo
	Held bool `json:"held"`
}

// NewLockCommand creates the lock command with status and release
// subcommands. Both work on the sqlite lock only; blob leases expire on
// their own.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or release the cluster lock",
	}

	var action string
	status := &cobra.Command{
		Use:   "status",
		Short: "Show who holds the cluster lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockStatus(rootOpts, action, cmd)
		},
	}
	release := &cobra.Command{
		Use:   "release",
		Short: "Force-release the cluster lock",
		Long: `Release the cluster lock regardless of which server holds it. Use when a
router died holding the lock and waiting for the lease to expire is not an
option. A pass still running elsewhere keeps routing but loses exclusion.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockRelease(rootOpts, action, cmd)
		},
	}
	for _, c := range []*cobra.Command{status, release} {
		c.Flags().StringVar(&action, "action", lock.ActionRoute, "lock action")
		cmd.AddCommand(c)
	}
	return cmd
}

func openLockStore(opts *RootOptions) (*store.Store, error) {
	cfg, st, err := openStore(opts)
	if err != nil {
		return nil, err
	}
	if cfg.Lock.Type != lock.TypeSQLite {
		st.Close()
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("lock commands need the %s lock; configured lock is %s", lock.TypeSQLite, cfg.Lock.Type)).
			WithErrCode(ErrCodeLock)
	}
	return st, nil
}

func runLockStatus(opts *RootOptions, action string, cmd *cobra.Command) error {
	st, err := openLockStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	info, err := st.LockStatus(commandContext(cmd), config.NormalizeName(action))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read lock", err).WithErrCode(ErrCodeLock)
	}
	view := LockView{LockInfo: info, Held: info.Held(time.Now())}

	return newFormatter(opts, cmd).Success(view, func(w io.Writer) error {
		return writeLock(w, view)
	})
}

func writeLock(w io.Writer, v LockView) error {
	if !v.Held {
		fmt.Fprintf(w, "%s: free\n", v.Action)
	} else {
		fmt.Fprintf(w, "%s: held by %s since %s, lease until %s\n",
			v.Action, v.LockingServerID, v.LockTime.Format(time.RFC3339), v.LeaseExpires.Format(time.RFC3339))
	}
	if v.LastLockingServerID != "" {
		fmt.Fprintf(w, "last locked by %s at %s\n", v.LastLockingServerID, v.LastLockTime.Format(time.RFC3339))
	}
	return nil
}

func runLockRelease(opts *RootOptions, action string, cmd *cobra.Command) error {
	st, err := openLockStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	action = config.NormalizeName(action)
	info, err := st.LockStatus(ctx, action)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read lock", err).WithErrCode(ErrCodeLock)
	}

	f := newFormatter(opts, cmd)
	if info.LockingServerID == "" {
		return f.Success(map[string]any{"action": action, "released": false}, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%s: not held\n", action)
			return err
		})
	}

	if err := st.Unlock(ctx, action, info.LockingServerID); err != nil {
		return WrapExitError(ExitFailure, "failed to release lock", err).WithErrCode(ErrCodeLock)
	}
	return f.Success(map[string]any{"action": action, "released": true, "server_id": info.LockingServerID},
		func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%s: released lock held by %s\n", action, info.LockingServerID)
			return err
		})
}
