package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with its stack
//
// Usage in defer statements:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "policy watcher")
//	    // ... code that might panic
//	}()
//
// The panic is not re-raised.
func RecoverPanic(logger logrus.FieldLogger, context string) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"panic":   fmt.Sprint(r),
			"stack":   string(debug.Stack()),
			"context": context,
		}).Error("panic recovered")
	}
}

// MustRecover converts a recovered value to an error, nil when r is nil
//
//	func parse() (err error) {
//	    defer func() {
//	        if e := observability.MustRecover(recover()); e != nil {
//	            err = e
//	        }
//	    }()
//	    ...
//	}
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
