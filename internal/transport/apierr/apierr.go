// Package apierr defines the error-code taxonomy spec §4.10 requires every
// transport (HTTP, WebSocket, gRPC) to map identically, so the three wire
// protocols produce equivalent observable behavior for the same failure.
package apierr

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code identifies one of spec §4.10's named API error conditions.
type Code string

const (
	NotReady          Code = "NOT_READY"
	Exited            Code = "EXITED"
	WriterBusy        Code = "WRITER_BUSY"
	AgentBusy         Code = "AGENT_BUSY"
	NoPrompt          Code = "NO_PROMPT"
	SwitchInProgress  Code = "SWITCH_IN_PROGRESS"
	Unauthorized      Code = "UNAUTHORIZED"
	BadRequest        Code = "BAD_REQUEST"
	NoDriver          Code = "NO_DRIVER"
	Truncated         Code = "TRUNCATED"
	Internal          Code = "INTERNAL"
)

// Error wraps a Code with a human-readable message; every handler in
// httpapi/wsapi/rpc returns this type (or wraps one) for any non-2xx
// outcome so the three transports can share one mapping table.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// New constructs an *Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// As extracts an *Error from err via errors.As, defaulting to INTERNAL if
// err isn't one of ours.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Internal, Message: err.Error()}
}

// httpStatus is the Code -> HTTP status table from spec §4.10.
var httpStatus = map[Code]int{
	NotReady:         http.StatusServiceUnavailable,
	Exited:           http.StatusGone,
	WriterBusy:       http.StatusConflict,
	AgentBusy:        http.StatusConflict,
	NoPrompt:         http.StatusConflict,
	SwitchInProgress: http.StatusConflict,
	Unauthorized:     http.StatusUnauthorized,
	BadRequest:       http.StatusBadRequest,
	NoDriver:         http.StatusNotFound,
	Truncated:        http.StatusRequestedRangeNotSatisfiable,
	Internal:         http.StatusInternalServerError,
}

// HTTPStatus maps a Code to its HTTP status.
func HTTPStatus(c Code) int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// grpcCode is the Code -> gRPC status table from spec §4.10.
var grpcCode = map[Code]codes.Code{
	NotReady:         codes.Unavailable,
	Exited:           codes.NotFound,
	WriterBusy:       codes.ResourceExhausted,
	AgentBusy:        codes.FailedPrecondition,
	NoPrompt:         codes.FailedPrecondition,
	SwitchInProgress: codes.FailedPrecondition,
	Unauthorized:     codes.Unauthenticated,
	BadRequest:       codes.InvalidArgument,
	NoDriver:         codes.Unimplemented,
	Truncated:        codes.OutOfRange,
	Internal:         codes.Internal,
}

// GRPCCode maps a Code to its gRPC status code.
func GRPCCode(c Code) codes.Code {
	if g, ok := grpcCode[c]; ok {
		return g
	}
	return codes.Internal
}

// WSCloseCode returns the WebSocket close code for codes that close the
// connection outright (NOT_READY, UNAUTHORIZED); other codes are delivered
// as an in-band error frame instead, per spec §4.10.
func WSCloseCode(c Code) (int, bool) {
	switch c {
	case NotReady:
		return 4503, true
	case Unauthorized:
		return 4401, true
	default:
		return 0, false
	}
}
