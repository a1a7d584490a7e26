package processor

import (
	"errors"
	"fmt"

	"github.com/ent0n29/converse/internal/reliability"
)

var (
	// ErrSessionInactive is returned when a message arrives for a session
	// that is no longer active. The message is still recorded.
	ErrSessionInactive = errors.New("session is not active")

	// ErrTooManyPredictions aborts a turn that reached the round cap.
	ErrTooManyPredictions = fmt.Errorf("%w: too many predictions", reliability.ErrFatal)
)
