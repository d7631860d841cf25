package server

import "errors"

var (
	// ErrNotFound covers missing sessions, rooms, messages and calls.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a room's access policy rejects a sender.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicateConnection is returned when a connection that already has a
	// live session attempts to log in again.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrInvalidState is returned for call transitions attempted from a state
	// that does not permit them.
	ErrInvalidState = errors.New("invalid call state")
	// ErrInvalidMessage covers malformed or incomplete client requests.
	ErrInvalidMessage = errors.New("invalid message")
)

// errorResponse maps a component error to the response frame surfaced to the
// originating connection.
func errorResponse(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, ErrForbidden):
		return ErrForbiddenResponse(id)
	case errors.Is(err, ErrNotFound):
		return ErrNotFoundResponse(id)
	case errors.Is(err, ErrDuplicateConnection):
		return ErrDuplicateConnectionResponse(id)
	case errors.Is(err, ErrInvalidState):
		return ErrInvalidStateResponse(id)
	case errors.Is(err, ErrInvalidMessage):
		return ErrInvalidMessageResponse(id)
	default:
		return ErrInternalError(id)
	}
}
