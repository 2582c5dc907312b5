package domain

import "errors"

// Signaling failures. Each one rejects a single command or peer operation.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotInRoom          = errors.New("sender is not in room")
	ErrUnknownRecipient   = errors.New("unknown recipient")
	ErrProtocol           = errors.New("protocol error")
	ErrRole               = errors.New("operation not allowed for peer role")
	ErrMalformedCandidate = errors.New("malformed ice candidate")
	ErrUnknownRequest     = errors.New("unknown call request")
)
