package monitor

import (
	"testing"

	"go.uber.org/goleak"
)

// The monitor spawns watcher goroutines; every test must leave none behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
