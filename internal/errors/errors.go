package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const errorDomain = "geeko"

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Reason names a caller-recoverable engine condition. A reason always implies its Code.
type Reason string

const (
	ReasonInvalidTransition  Reason = "INVALID_TRANSITION"
	ReasonSessionClosed      Reason = "SESSION_CLOSED"
	ReasonSessionNotJoinable Reason = "SESSION_NOT_JOINABLE"
	ReasonAlreadyAnswered    Reason = "ALREADY_ANSWERED"
	ReasonQuestionClosed     Reason = "QUESTION_CLOSED"
	ReasonStaleQuestion      Reason = "STALE_QUESTION"
	ReasonNotAuthorized      Reason = "NOT_AUTHORIZED"
	ReasonNotFound           Reason = "NOT_FOUND"
)

var reason2code = map[Reason]Code{
	ReasonInvalidTransition:  CodeFailedPrecondition,
	ReasonSessionClosed:      CodeFailedPrecondition,
	ReasonSessionNotJoinable: CodeFailedPrecondition,
	ReasonAlreadyAnswered:    CodeAlreadyExists,
	ReasonQuestionClosed:     CodeFailedPrecondition,
	ReasonStaleQuestion:      CodeFailedPrecondition,
	ReasonNotAuthorized:      CodePermissionDenied,
	ReasonNotFound:           CodeNotFound,
}

// Sentinels for errors.Is. Matching compares reasons only, so any message or cause matches.
var (
	ErrInvalidTransition  = sentinel(ReasonInvalidTransition)
	ErrSessionClosed      = sentinel(ReasonSessionClosed)
	ErrSessionNotJoinable = sentinel(ReasonSessionNotJoinable)
	ErrAlreadyAnswered    = sentinel(ReasonAlreadyAnswered)
	ErrQuestionClosed     = sentinel(ReasonQuestionClosed)
	ErrStaleQuestion      = sentinel(ReasonStaleQuestion)
	ErrNotAuthorized      = sentinel(ReasonNotAuthorized)
	ErrNotFound           = sentinel(ReasonNotFound)
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

// Because creates an error for an engine condition.
func Because(r Reason, opts ...Option) *Error {
	e := &Error{
		Code:    reason2code[r],
		Reason:  r,
		Message: string(r),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func sentinel(r Reason) *Error {
	return Because(r)
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches by reason when the target carries one, by code otherwise.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason != "" {
		return e.Reason == t.Reason
	}
	return e.Code == t.Code
}

func (e *Error) GRPCStatus() *status.Status {
	st := status.New(codes.Code(e.Code), e.Message)
	if e.Reason == "" {
		return st
	}

	withInfo, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: string(e.Reason),
		Domain: errorDomain,
	})
	if err != nil {
		return st
	}

	return withInfo
}

// FromStatus rebuilds the error a gRPC client received, including its reason.
func FromStatus(err error) *Error {
	st, ok := status.FromError(err)
	if !ok {
		return Internal(err)
	}

	e := New(Code(st.Code()), WithMessagef("%s", st.Message()))
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == errorDomain {
			e.Reason = Reason(info.Reason)
		}
	}

	return e
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// Is is errors.Is from the standard library, re-exported so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// ReasonOf returns the engine reason carried by err, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
