package builds

import (
	"context"
	"errors"

	"hophop.gg/internal/persistence/buildsave"
	"hophop.gg/internal/persistence/codec"
	"hophop.gg/internal/protocol"
	"hophop.gg/internal/sim/world"
)

var (
	ErrOperationInProgress = errors.New("operation already in progress")
	ErrNothingToUndo       = errors.New("nothing to undo")
	ErrEntityCreation      = errors.New("entity creation failed")
	ErrNotBuildingBlock    = errors.New("not a building block")
	ErrUsage               = errors.New("usage")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrInternal            = errors.New("internal error")
)

// Code maps an operation error to its wire code. Nil maps to "".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOperationInProgress):
		return protocol.ErrOpInProgress
	case errors.Is(err, ErrNothingToUndo):
		return protocol.ErrNothingToUndo
	case errors.Is(err, buildsave.ErrSnapshotNotFound):
		return protocol.ErrSaveNotFound
	case errors.Is(err, buildsave.ErrSnapshotEmpty):
		return protocol.ErrSaveEmpty
	case errors.Is(err, codec.ErrMalformedDocument),
		errors.Is(err, codec.ErrUnterminatedString),
		errors.Is(err, codec.ErrUnbalancedBrackets):
		return protocol.ErrSaveCorrupt
	case errors.Is(err, buildsave.ErrInvalidName), errors.Is(err, ErrUsage):
		return protocol.ErrBadRequest
	case errors.Is(err, ErrUnknownCommand):
		return protocol.ErrUnknownCommand
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, world.ErrStopped):
		return protocol.ErrCancelled
	default:
		return protocol.ErrInternal
	}
}
