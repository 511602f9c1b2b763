// Package dblock serializes Postgres integration tests across packages.
// go test runs packages in parallel processes, so the lock is a TCP port
// that only one process can bind at a time.
package dblock

import (
	"net"
	"os"
	"testing"
	"time"
)

const defaultAddr = "127.0.0.1:45432"

// Acquire blocks until this process holds the lock and releases it when tb
// finishes. DBLOCK_ADDR overrides the port for CI runners that share hosts.
func Acquire(tb testing.TB) {
	tb.Helper()
	addr := os.Getenv("DBLOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	deadline := time.Now().Add(2 * time.Minute)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			tb.Cleanup(func() { _ = ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("dblock: could not acquire %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
