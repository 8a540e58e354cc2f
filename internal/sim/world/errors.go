package world

import (
	"context"
	"errors"

	"beltline.ai/internal/protocol"
	"beltline.ai/internal/sim/lane"
)

var (
	ErrUnknownLane   = errors.New("unknown lane")
	ErrNothingAtExit = errors.New("no item at exit")
)

// ErrorCode maps request errors onto wire codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownLane):
		return protocol.ErrUnknownLane
	case errors.Is(err, ErrNothingAtExit):
		return protocol.ErrNothingAtExit
	case errors.Is(err, lane.ErrCapacityExceeded):
		return protocol.ErrLaneFull
	case errors.Is(err, lane.ErrInvalidPosition):
		return protocol.ErrInvalidPosition
	case errors.Is(err, lane.ErrOrderViolation):
		return protocol.ErrOccupied
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return protocol.ErrWorldBusy
	}
	return protocol.ErrInternal
}
