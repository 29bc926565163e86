package loki

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoki struct {
	mu       sync.Mutex
	requests []pushRequest
	encoding []string
	status   int
}

func (f *fakeLoki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer func() { _ = zr.Close() }()
		body = zr
	}

	var req pushRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.encoding = append(f.encoding, r.Header.Get("Content-Encoding"))
	status := f.status
	f.mu.Unlock()

	if r.URL.Path != pushPath {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (f *fakeLoki) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		for _, s := range r.Streams {
			for _, v := range s.Values {
				out = append(out, v[1])
			}
		}
	}
	return out
}

func (f *fakeLoki) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{URL: "http://localhost:3100", Labels: map[string]string{"instance": "a"}})

	assert.Equal(t, 100, s.batch)
	assert.Equal(t, 5*time.Second, s.interval)
	assert.Equal(t, "http://localhost:3100/loki/api/v1/push", s.url)
	assert.Equal(t, map[string]string{"job": "pmurelay", "instance": "a"}, s.labels)
}

func TestShipper_FlushSendsPayload(t *testing.T) {
	loki := &fakeLoki{}
	server := httptest.NewServer(loki)
	defer server.Close()

	s := New(Config{URL: server.URL, Labels: map[string]string{"instance": "relay-1"}})
	_, _ = s.Write([]byte(`{"level":"info","message":"claimed replication record"}` + "\n"))
	_, _ = s.Write([]byte("   \n"))
	s.Flush()

	require.Equal(t, 1, loki.count())
	req := loki.requests[0]
	require.Len(t, req.Streams, 1)
	assert.Equal(t, "relay-1", req.Streams[0].Stream["instance"])
	assert.Equal(t, "pmurelay", req.Streams[0].Stream["job"])
	require.Len(t, req.Streams[0].Values, 1)
	assert.GreaterOrEqual(t, len(req.Streams[0].Values[0][0]), 19, "timestamp must be in nanoseconds")
	assert.Equal(t, `{"level":"info","message":"claimed replication record"}`, req.Streams[0].Values[0][1])
}

func TestShipper_Gzip(t *testing.T) {
	loki := &fakeLoki{}
	server := httptest.NewServer(loki)
	defer server.Close()

	s := New(Config{URL: server.URL, Gzip: true})
	_, _ = s.Write([]byte("compressed line"))
	s.Flush()

	assert.Equal(t, []string{"compressed line"}, loki.lines())
	assert.Equal(t, []string{"gzip"}, loki.encoding)
}

func TestShipper_FlushEmptyIsNoop(t *testing.T) {
	loki := &fakeLoki{}
	server := httptest.NewServer(loki)
	defer server.Close()

	New(Config{URL: server.URL}).Flush()
	assert.Zero(t, loki.count())
}

func TestShipper_FullBatchTriggersPush(t *testing.T) {
	loki := &fakeLoki{}
	server := httptest.NewServer(loki)
	defer server.Close()

	s := New(Config{URL: server.URL, BatchSize: 3, FlushInterval: time.Hour})
	s.Start()
	defer func() { _ = s.Close() }()

	for _, l := range []string{"a", "b", "c"} {
		_, _ = s.Write([]byte(l))
	}

	require.Eventually(t, func() bool { return loki.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, loki.lines())
}

func TestShipper_PeriodicAndFinalFlush(t *testing.T) {
	loki := &fakeLoki{}
	server := httptest.NewServer(loki)
	defer server.Close()

	s := New(Config{URL: server.URL, FlushInterval: 20 * time.Millisecond})
	s.Start()

	_, _ = s.Write([]byte("tick"))
	require.Eventually(t, func() bool { return loki.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, _ = s.Write([]byte("last words"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Contains(t, loki.lines(), "last words")
}

func TestShipper_CountsFailures(t *testing.T) {
	loki := &fakeLoki{status: http.StatusInternalServerError}
	server := httptest.NewServer(loki)
	defer server.Close()

	s := New(Config{URL: server.URL})
	_, _ = s.Write([]byte("x"))
	s.Flush()
	assert.Equal(t, uint64(1), s.Failures())

	down := New(Config{URL: "http://127.0.0.1:1", Timeout: time.Second})
	n, err := down.Write([]byte("dropped"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	down.Flush()
	assert.Equal(t, uint64(1), down.Failures())
}

func TestShipper_ConcurrentWrites(t *testing.T) {
	loki := &fakeLoki{}
	server := httptest.NewServer(loki)
	defer server.Close()

	s := New(Config{URL: server.URL, BatchSize: 10, FlushInterval: 10 * time.Millisecond})
	s.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.Write([]byte("line"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	assert.Len(t, loki.lines(), 400)
}
