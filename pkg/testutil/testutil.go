// Package testutil provides testing utilities for dynboard
package testutil

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/dynboard/pkg/config"
)

// Environment variables describing a real vendor library for native tests
const (
	EnvTestLibrary  = "DYNBOARD_TEST_LIBRARY"
	EnvTestChannels = "DYNBOARD_TEST_CHANNELS"
	EnvTestSymbols  = "DYNBOARD_TEST_SYMBOLS"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a context that is cancelled after timeout or when the
// test completes, whichever comes first.
func TestContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// WaitStreamEnded blocks until alive reports false, failing the test after two
// seconds. Used once a scripted vendor has been told to end acquisition.
func WaitStreamEnded(t *testing.T, alive func() bool) {
	t.Helper()
	AssertEventually(t, func() bool { return !alive() }, 2*time.Second, "acquisition did not end")
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 5ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// NativeBoard describes the vendor library named by DYNBOARD_TEST_LIBRARY, or
// skips the test when none is configured. DYNBOARD_TEST_SYMBOLS takes
// comma-separated role=symbol pairs.
func NativeBoard(t *testing.T) config.BoardConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping native library test in short mode")
	}
	library := os.Getenv(EnvTestLibrary)
	if library == "" {
		t.Skipf("%s not set", EnvTestLibrary)
	}

	channels := 1
	if v := os.Getenv(EnvTestChannels); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			t.Fatalf("invalid %s %q", EnvTestChannels, v)
		}
		channels = n
	}

	var symbols map[string]string
	if v := os.Getenv(EnvTestSymbols); v != "" {
		symbols = make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			role, name, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				t.Fatalf("invalid %s entry %q", EnvTestSymbols, pair)
			}
			symbols[role] = name
		}
	}

	return config.BoardConfig{
		Name:     "native-test",
		Library:  library,
		Channels: channels,
		Symbols:  symbols,
	}
}
