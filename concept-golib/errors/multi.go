package errors

import (
	"bytes"
	"fmt"
)

// Errors is a non-empty list of errors. The invariant that any non-nil Errors
// value holds at least one error lets callers compare against nil to check
// for the absence of errors.
type Errors interface {
	error
	// Slice returns a copy of the underlying (non-nil) errors.
	Slice() []error
	// Len is always > 0 for a non-nil Errors.
	Len() int

	raw() []error
}

type errorSlice []error

func (m errorSlice) raw() []error { return []error(m) }

func (m errorSlice) Slice() []error {
	return append([]error(nil), m...)
}

func (m errorSlice) Len() int { return len(m) }

func (m errorSlice) Error() string {
	var b bytes.Buffer
	for i, err := range m {
		if i > 0 {
			fmt.Fprint(&b, "\n")
		}
		fmt.Fprint(&b, err)
	}
	return b.String()
}

// Append appends a (possibly nil) error to a (possibly nil) Errors.
func Append(errs Errors, err error) Errors {
	if err == nil {
		return errs
	}
	var slice errorSlice
	if errs != nil {
		slice = errorSlice(errs.raw())
	}
	if multi, _ := err.(Errors); multi != nil {
		return errorSlice(append(slice, multi.raw()...))
	}
	return errorSlice(append(slice, err))
}

// Combine merges e and f into a single error, flattening any Errors values.
// It returns nil only when both inputs are nil.
func Combine(e, f error) error {
	switch e := e.(type) {
	case nil:
		return f
	case Errors:
		// copy to avoid mutating the backing array of e
		return Append(errorSlice(e.Slice()), f)
	default:
		if f == nil {
			return e
		}
		return Append(errorSlice{e}, f)
	}
}

// Defer combines the result of f into *err; for use with defer and
// error-returning cleanup such as Close.
func Defer(err *error, f func() error) {
	*err = Combine(*err, f())
}
