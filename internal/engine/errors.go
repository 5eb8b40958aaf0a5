package engine

import (
	"errors"
	"fmt"
)

// Phase identifies where in a channel iteration an error happened.
type Phase string

const (
	PhaseReconcile Phase = "GAP_RECONCILE"
	PhaseStreaming Phase = "STREAMING"
	PhaseFlushing  Phase = "FLUSHING"
)

// ChannelError is a failure contained to one channel of a pass. The
// channel's uncommitted work was rolled back; batches it committed earlier
// in the pass remain.
type ChannelError struct {
	PassID    string
	ChannelID string
	Phase     Phase
	Err       error
}

// Error implements the error interface.
func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: channel %s: %v (pass=%s)", e.Phase, e.ChannelID, e.Err, e.PassID)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsChannelError returns true if err is, or wraps, a ChannelError.
func IsChannelError(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce)
}
