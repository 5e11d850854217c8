package quillapi

import (
	"errors"
	"fmt"

	"github.com/anyproto/any-sync/net/rpc/rpcerr"
)

type ErrCode uint64

const (
	ErrCodeErrorOffset ErrCode = 7300

	ErrCodeUnexpected ErrCode = iota
	ErrCodeNotFound
	ErrCodeForbidden
	ErrCodeConflict
	ErrCodeFailedPrecondition
	ErrCodeInvalidArgument
)

var (
	errGroup = rpcerr.ErrGroup(ErrCodeErrorOffset)

	ErrUnexpected         = errGroup.Register(errors.New("unexpected error"), uint64(ErrCodeUnexpected))
	ErrNotFound           = errGroup.Register(errors.New("not found"), uint64(ErrCodeNotFound))
	ErrForbidden          = errGroup.Register(errors.New("forbidden"), uint64(ErrCodeForbidden))
	ErrConflict           = errGroup.Register(errors.New("conflict"), uint64(ErrCodeConflict))
	ErrFailedPrecondition = errGroup.Register(errors.New("failed precondition"), uint64(ErrCodeFailedPrecondition))
	ErrInvalidArgument    = errGroup.Register(errors.New("invalid argument"), uint64(ErrCodeInvalidArgument))
)

var byCode = map[ErrCode]error{
	ErrCodeUnexpected:         ErrUnexpected,
	ErrCodeNotFound:           ErrNotFound,
	ErrCodeForbidden:          ErrForbidden,
	ErrCodeConflict:           ErrConflict,
	ErrCodeFailedPrecondition: ErrFailedPrecondition,
	ErrCodeInvalidArgument:    ErrInvalidArgument,
}

// ChunkCountError is returned by finalize when the stored chunks do not form
// the contiguous range 0..Expected-1.
type ChunkCountError struct {
	Expected int
	Actual   int
}

func (e *ChunkCountError) Error() string {
	return fmt.Sprintf("upload incomplete: expected %d chunks, got %d", e.Expected, e.Actual)
}

func (e *ChunkCountError) Unwrap() error {
	return ErrFailedPrecondition
}

// InvalidArgument wraps ErrInvalidArgument with a reason.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Code returns the api code of err, ErrCodeUnexpected for unknown errors.
func Code(err error) ErrCode {
	for code, sentinel := range byCode {
		if code != ErrCodeUnexpected && errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrCodeUnexpected
}

// FromCode maps a code received over the wire back to its sentinel.
func FromCode(code ErrCode) error {
	if err, ok := byCode[code]; ok {
		return err
	}
	return ErrUnexpected
}
