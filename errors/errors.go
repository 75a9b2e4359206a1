package errors

import (
	"errors"
	"net/http"
	"strings"
)

type ErrCode string

const (
	ErrCodeNotImplemented    ErrCode = "NotImplemented"
	ErrCodeNotFound          ErrCode = "NotFound"
	ErrCodeServiceFailure    ErrCode = "ServiceFailure"
	ErrCodeBadRequest        ErrCode = "BadRequest"
	ErrCodeOversized         ErrCode = "Oversized"
	ErrCodeSearchFailed      ErrCode = "SearchFailed"
	ErrCodeFetchFailed       ErrCode = "FetchFailed"
	ErrCodeGeocodeFailed     ErrCode = "GeocodeFailed"
	ErrCodePersistenceFailed ErrCode = "PersistenceFailed"
)

// Err is the error type shared by all tourist components. It carries a code deciding how
// callers and API clients react to it, and optionally the error causing it.
type Err struct {
	Code  ErrCode
	msg   string
	cause error
}

func (e *Err) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

// Msg returns the error message without its causes.
func (e *Err) Msg() string {
	return e.msg
}

// Trace returns the chain of causes associated with the error, one per line
func (e *Err) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	err, depth := errors.Unwrap(e), 1
	for err != nil {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("\t", depth))
		b.WriteString("Caused by: ")
		if v, ok := err.(*Err); ok {
			b.WriteString(v.msg)
		} else {
			b.WriteString(err.Error())
		}
		err = errors.Unwrap(err)
		depth++
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.cause
}

// prefer incremental building the error up than explicit instantiation via pointer(e := &Err{...})
func (e *Err) WithCause(c error) *Err {
	e.cause = c
	return e
}

func (e *Err) WithMsg(m string) *Err {
	e.msg = m
	return e
}

// prefer NewAppSpecificErr(msg) over NewAppSpecificErr(msg, cause) since the latter's method signature has
// less readability - user needs to look up docs to know the 2nd param is for cause, while the first one can use
// WithCause() to be explicit
func New(code ErrCode, m string) *Err {
	return &Err{Code: code, msg: m}
}

func NewServiceFailure(m string) *Err {
	return New(ErrCodeServiceFailure, m)
}

func NewNotFound(m string) *Err {
	return New(ErrCodeNotFound, m)
}

func NewBadInput(m string) *Err {
	return New(ErrCodeBadRequest, m)
}

func NewNotImplemented() *Err {
	return New(ErrCodeNotImplemented, "Not implemented")
}

func NewOversized() *Err {
	return New(ErrCodeOversized, "data oversized")
}

// NewSearchFailed reports a transport or parse failure of the remote photo search
func NewSearchFailed(m string) *Err {
	return New(ErrCodeSearchFailed, m)
}

// NewFetchFailed reports a transport failure when retrieving image bytes
func NewFetchFailed(m string) *Err {
	return New(ErrCodeFetchFailed, m)
}

func NewGeocodeFailed(m string) *Err {
	return New(ErrCodeGeocodeFailed, m)
}

func NewPersistenceFailed(m string) *Err {
	return New(ErrCodePersistenceFailed, m)
}

// Is reports whether err is, or wraps, an *Err with the given code
func Is(err error, code ErrCode) bool {
	var e *Err
	if errors.As(err, &e) && e != nil {
		return e.Code == code
	}
	return false
}

// StatusCode returns the http response status code associated with the Err value
func (e *Err) StatusCode() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeOversized:
		return http.StatusRequestEntityTooLarge
	case ErrCodeNotImplemented:
		return http.StatusNotImplemented
	case ErrCodeSearchFailed, ErrCodeFetchFailed, ErrCodeGeocodeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
