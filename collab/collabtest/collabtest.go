// Package collabtest has helpers for testing code that talks over channels.
package collabtest

import "time"

// Receive waits up to t for a value on c. ok is false on timeout or if c is
// closed.
func Receive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
