package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrUnknownCommand = "E_UNKNOWN_COMMAND"
	ErrOpInProgress   = "E_OP_IN_PROGRESS"
	ErrNothingToUndo  = "E_NOTHING_TO_UNDO"
	ErrCancelled      = "E_CANCELLED"

	// Save documents.
	ErrSaveNotFound = "E_SAVE_NOT_FOUND"
	ErrSaveEmpty    = "E_SAVE_EMPTY"
	ErrSaveCorrupt  = "E_SAVE_CORRUPT"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrUnknownCommand:  {},
	ErrOpInProgress:    {},
	ErrNothingToUndo:   {},
	ErrCancelled:       {},
	ErrSaveNotFound:    {},
	ErrSaveEmpty:       {},
	ErrSaveCorrupt:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
