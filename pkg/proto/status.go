package proto

import "errors"

// Status is the numeric result code carried in every response.
type Status int

const (
	StatusOK            Status = 0
	StatusNotFound      Status = 1
	StatusUnauthorized  Status = 2
	StatusLocked        Status = 3
	StatusBadRequest    Status = 4
	StatusConflict      Status = 5
	StatusInternal      Status = 6
	StatusBusy          Status = 7
	StatusOutOfScope    Status = 8
	StatusAlreadyExists Status = 9
)

// Sentinel errors, one per non-OK status.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLocked        = errors.New("locked")
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("conflict")
	ErrInternal      = errors.New("internal error")
	ErrBusy          = errors.New("busy")
	ErrOutOfScope    = errors.New("out of scope")
	ErrAlreadyExists = errors.New("already exists")
)

// Err returns the sentinel error for a status, or nil for StatusOK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusNotFound:
		return ErrNotFound
	case StatusUnauthorized:
		return ErrUnauthorized
	case StatusLocked:
		return ErrLocked
	case StatusBadRequest:
		return ErrBadRequest
	case StatusConflict:
		return ErrConflict
	case StatusBusy:
		return ErrBusy
	case StatusOutOfScope:
		return ErrOutOfScope
	case StatusAlreadyExists:
		return ErrAlreadyExists
	default:
		return ErrInternal
	}
}

// StatusOf maps an error back to its wire status. Unrecognized errors
// collapse to StatusInternal.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return StatusUnauthorized
	case errors.Is(err, ErrLocked):
		return StatusLocked
	case errors.Is(err, ErrBadRequest):
		return StatusBadRequest
	case errors.Is(err, ErrConflict):
		return StatusConflict
	case errors.Is(err, ErrBusy):
		return StatusBusy
	case errors.Is(err, ErrOutOfScope):
		return StatusOutOfScope
	case errors.Is(err, ErrAlreadyExists):
		return StatusAlreadyExists
	default:
		return StatusInternal
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusUnauthorized:
		return "UNAUTHORIZED"
	case StatusLocked:
		return "LOCKED"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusConflict:
		return "CONFLICT"
	case StatusInternal:
		return "INTERNAL"
	case StatusBusy:
		return "BUSY"
	case StatusOutOfScope:
		return "OUT_OF_SCOPE"
	case StatusAlreadyExists:
		return "ALREADY_EXISTS"
	default:
		return "UNKNOWN"
	}
}
