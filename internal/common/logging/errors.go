package logging

import "github.com/pkg/errors"

type stackTracer interface {
	StackTrace() errors.StackTrace
}

type causer interface {
	Cause() error
}

// deepestStackTrace walks a pkg/errors cause chain and returns the stack trace recorded closest to where the
// error was created.
func deepestStackTrace(err error) (errors.StackTrace, bool) {
	var trace errors.StackTrace
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			trace = st.StackTrace()
		}
		c, ok := err.(causer)
		if !ok {
			break
		}
		err = c.Cause()
	}
	return trace, trace != nil
}
