// Package testutil provides shared helpers for tests that wait on
// asynchronous pipeline state.
package testutil

import (
	"testing"
	"time"
)

// Eventually polls cond every tick until it returns true or timeout
// elapses, failing the test with msg on expiry. The pipeline is full of
// goroutines fed by filesystem polling; assertions on their side effects
// have to wait, not sleep.
func Eventually(t *testing.T, timeout, tick time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(tick)
	}
	t.Fatal(msg)
}
