package safe

import (
	"fmt"
	"reflect"

	"PulseChat/logger"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required fields during struct initialization.
func MustNotNil(v any, name string) {
	if v == nil || reflect.ValueOf(v).IsNil() {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[SafeGo] panic recovered: %v", r)
			}
		}()
		f()
	}()
}

// Recover is the deferred form of SafeGo for loops that must not die:
// defer safe.Recover("deriver") at the top of each iteration scope.
func Recover(where string) {
	if r := recover(); r != nil {
		logger.Errorf("[%s] panic recovered: %v", where, r)
	}
}
