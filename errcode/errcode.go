// Package errcode provides a stable, comparable error-code type for ambient
// failures (driver, config, transport) that sit outside the protocol-level
// result enums (rmap.Result, dispatcher/swb OperationResult). Those enums
// stay the authoritative outcome of a protocol operation; errcode.Code is
// for everything around them — config loading, driver setup, link teardown.
package errcode

// Code is a stable, bus-facing error identifier: a string newtype,
// comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes.
const (
	OK             Code = "ok"
	Busy           Code = "busy"
	Unsupported    Code = "unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	LinkNotReady   Code = "link_not_ready"
	LinkDown       Code = "link_down"
	ConfigInvalid  Code = "config_invalid"
	Timeout        Code = "timeout"

	Error Code = "error" // generic fallback
)

// E is an optional wrapper carrying a code, an operation label, a message
// and an underlying cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapLinkErr maps a low-level spacewire.Link error to a Code.
func MapLinkErr(err error) Code {
	if err == nil {
		return OK
	}
	return Error
}
