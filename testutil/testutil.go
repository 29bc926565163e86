// Package testutil provides shared test utilities and mocks for pmurelay tests.
package testutil

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TempFile writes content to a new file in a per-test directory and returns
// its path.
func TempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// FreePort returns an available TCP port on localhost.
func FreePort(t *testing.T) int {
	t.Helper()

	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to resolve address: %v", err)
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer func() { _ = l.Close() }()

	return l.Addr().(*net.TCPAddr).Port
}

// ChunkConn is a scripted source peer. Each Read returns the next chunk,
// then io.EOF (or Err, when set). Writes are recorded together with the
// number of reads that had happened at the time.
type ChunkConn struct {
	Chunks [][]byte
	Err    error
	Reads  int

	Sent        []byte
	WritesAfter []int
}

func (c *ChunkConn) Read(b []byte) (int, error) {
	c.Reads++
	if len(c.Chunks) == 0 {
		if c.Err != nil {
			return 0, c.Err
		}
		return 0, io.EOF
	}
	n := copy(b, c.Chunks[0])
	if n < len(c.Chunks[0]) {
		c.Chunks[0] = c.Chunks[0][n:]
	} else {
		c.Chunks = c.Chunks[1:]
	}
	return n, nil
}

func (c *ChunkConn) Write(b []byte) (int, error) {
	c.Sent = append(c.Sent, b...)
	c.WritesAfter = append(c.WritesAfter, c.Reads)
	return len(b), nil
}

// PartialWriter accepts at most Limits[i] bytes on its i-th Write call,
// mimicking a socket that takes only part of each send. Once Limits is
// exhausted every write is accepted in full. WriteErr fails the write after
// Fail successful calls when set.
type PartialWriter struct {
	mu       sync.Mutex
	Limits   []int
	WriteErr error
	Fail     int
	Data     []byte
	Calls    int
}

func (w *PartialWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Calls++
	if w.WriteErr != nil && w.Calls > w.Fail {
		return 0, w.WriteErr
	}
	n := len(b)
	if len(w.Limits) > 0 {
		if w.Limits[0] < n {
			n = w.Limits[0]
		}
		w.Limits = w.Limits[1:]
	}
	w.Data = append(w.Data, b[:n]...)
	return n, nil
}

// Written returns a copy of everything accepted so far.
func (w *PartialWriter) Written() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.Data...)
}

// SafeBuffer is a bytes.Buffer that can be written by a server goroutine
// while the test reads it.
type SafeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
