// Package apperr defines the error taxonomy shared by the identity, patient and
// consultation packages. Callers branch on Kind (or errors.Is against the
// sentinels) instead of matching messages.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindUpstream            Kind = "UPSTREAM"
	KindPartialFinalization Kind = "PARTIAL_FINALIZATION"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUpstream            = errors.New("upstream error")
	ErrPartialFinalization = errors.New("partial finalization")
)

// Error is a classified error. Op names the operation that failed
// (e.g. "registry.FindByCPF"); Err is the cause and may be nil.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = sentinel(e.Kind).Error()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, apperr.ErrNotFound) work for every *Error of that kind.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindUpstream:
		return ErrUpstream
	case KindPartialFinalization:
		return ErrPartialFinalization
	}
	return errors.New(string(k))
}

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func NotFound(op string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

func Conflict(op string, err error) error {
	return &Error{Kind: KindConflict, Op: op, Err: err}
}

func Upstream(op string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

func PartialFinalization(op string, err error) error {
	return &Error{Kind: KindPartialFinalization, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err is
// unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
