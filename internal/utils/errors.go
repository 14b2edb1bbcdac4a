package utils

import (
	"errors"
	"strings"
)

// OpError records which stage of the monitor failed and on what. Subject
// names the batch, component/metric or driver the stage was working on and
// may be empty.
type OpError struct {
	Op      string
	Subject string
	Msg     string
	Err     error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Subject != "" {
		b.WriteString(" [")
		b.WriteString(e.Subject)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Wrap annotates err with the failing operation.
func Wrap(op, msg string, err error) error {
	return &OpError{Op: op, Msg: msg, Err: err}
}

// WrapSubject annotates err with the failing operation and what it was
// handling.
func WrapSubject(op, subject, msg string, err error) error {
	return &OpError{Op: op, Subject: subject, Msg: msg, Err: err}
}

// OpOf returns the outermost operation recorded in err's chain, or "".
func OpOf(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Op
	}
	return ""
}

// SubjectOf returns the first non-empty subject recorded in err's chain.
func SubjectOf(err error) string {
	for err != nil {
		var opErr *OpError
		if !errors.As(err, &opErr) {
			return ""
		}
		if opErr.Subject != "" {
			return opErr.Subject
		}
		err = opErr.Err
	}
	return ""
}
