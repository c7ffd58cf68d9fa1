// Package testutil carries shared test helpers for asynchronous
// assertions against the write queue and plugin hosts.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// RequireEventually polls condition until it holds, failing the test
// after 10s. The 10ms interval comfortably outpaces the engine's write
// coalescing windows.
func RequireEventually(t *testing.T, condition func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, condition, 10*time.Second, 10*time.Millisecond, msgAndArgs...)
}
