package jobregistry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func sampleJobs() Jobs {
	return Jobs{
		"b6f3c0de9a2b4c1d8e7f6a5b4c3d2e1f": {
			User:      "alice",
			Start:     "2026-01-19 12:00:00",
			End:       strPtr("2026-01-19 13:00:00"),
			Cmd:       "./bench --threads 64",
			Msg:       "tpcc scaling run",
			Exclusive: false,
			PID:       4242,
			Numa:      "0",
		},
		"0a1b2c3d4e5f60718293a4b5c6d7e8f9": {
			User:  "bob",
			Start: "2026-01-19 11:30:00",
			End:   nil,
			Cmd:   "make perf",
			Msg:   "",
			PID:   0,
		},
	}
}

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "expinfo", "expinfo.json"), opts...)
}

func TestStore_OpenCreatesDirAndFile(t *testing.T) {
	s := newTestStore(t)

	h, err := s.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Close())

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())

	dirInfo, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, dirInfo.IsDir())
}

func TestHandle_LoadEmptyOrCorrupted(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty file", content: ""},
		{name: "whitespace", content: "  \n\t"},
		{name: "truncated json", content: `{"abc": {"user": "ali`},
		{name: "not an object", content: `[1, 2, 3]`},
		{name: "null", content: `null`},
		{name: "wrong field types", content: `{"abc": {"pid": "nope"}}`},
		{name: "garbage", content: "\x00\x01 not json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.MkdirAll(s.Dir(), 0o755))
			require.NoError(t, os.WriteFile(s.Path(), []byte(tt.content), 0o644))

			err := s.With(context.Background(), func(h *Handle) error {
				jobs, err := h.Load()
				require.NoError(t, err)
				require.NotNil(t, jobs)
				assert.Empty(t, jobs)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestHandle_StoreLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	want := sampleJobs()

	require.NoError(t, s.With(context.Background(), func(h *Handle) error {
		return h.Store(want)
	}))

	var got Jobs
	require.NoError(t, s.With(context.Background(), func(h *Handle) error {
		var err error
		got, err = h.Load()
		return err
	}))
	assert.Equal(t, want, got)

	// Storing what was loaded reproduces the same bytes.
	first, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.NoError(t, s.With(context.Background(), func(h *Handle) error {
		return h.Store(got)
	}))
	second, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestHandle_StoreCanonicalForm(t *testing.T) {
	s := newTestStore(t)
	jobs := Jobs{
		"ffff": {User: "zed", Start: "2026-01-19 12:00:00", Cmd: "a && b"},
		"0000": {User: "amy", Start: "2026-01-19 12:00:00", End: strPtr("2026-01-19 13:00:00"), Cmd: "x", Numa: "1"},
	}
	require.NoError(t, s.With(context.Background(), func(h *Handle) error {
		return h.Store(jobs)
	}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	text := string(data)

	assert.Less(t, strings.Index(text, `"0000"`), strings.Index(text, `"ffff"`), "keys must be sorted")
	assert.Contains(t, text, "\n    \"0000\": {\n        \"cmd\": \"x\",")
	record := text[strings.Index(text, `"0000"`):strings.Index(text, `"ffff"`)]
	last := -1
	for _, key := range []string{"cmd", "end", "exclusive", "msg", "numa", "pid", "start", "user"} {
		at := strings.Index(record, `"`+key+`":`)
		require.GreaterOrEqual(t, at, 0, key)
		assert.Greater(t, at, last, "record keys must be sorted: %s", key)
		last = at
	}
	assert.Contains(t, text, `"end": null`)
	assert.Contains(t, text, `"cmd": "a && b"`, "HTML characters must not be escaped")
	assert.NotContains(t, text[strings.Index(text, `"ffff"`):], `"numa"`)
	assert.True(t, strings.HasSuffix(text, "}\n"))
}

func TestHandle_StoreTruncatesPreviousContent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.With(context.Background(), func(h *Handle) error {
		return h.Store(sampleJobs())
	}))
	require.NoError(t, s.With(context.Background(), func(h *Handle) error {
		return h.Store(Jobs{})
	}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}

func TestStore_AcquisitionTimeout(t *testing.T) {
	s := newTestStore(t, WithLockTimeout(200*time.Millisecond), WithPollInterval(20*time.Millisecond))

	holder, err := NewStore(s.Path()).Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, holder.Store(sampleJobs()))
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	start := time.Now()
	err = s.With(context.Background(), func(h *Handle) error {
		t.Fatal("fn must not run without the lock")
		return h.Store(Jobs{})
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAcquisitionTimeout), "got %v", err)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)

	require.NoError(t, holder.Close())
	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "no write may be observed after a timeout")

	// The timed-out attempt must not have leaked the lock.
	h, err := s.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestStore_WaitsForRelease(t *testing.T) {
	s := newTestStore(t, WithLockTimeout(5*time.Second), WithPollInterval(10*time.Millisecond))

	holder, err := s.Open(context.Background())
	require.NoError(t, err)

	var releasing atomic.Bool
	go func() {
		time.Sleep(100 * time.Millisecond)
		releasing.Store(true)
		_ = holder.Close()
	}()

	h, err := s.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	assert.True(t, releasing.Load(), "lock acquired while still held")
}

func TestStore_OpenRespectsContext(t *testing.T) {
	s := newTestStore(t, WithPollInterval(10*time.Millisecond))

	holder, err := s.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = holder.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = s.Open(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_OpenEmptyPath(t *testing.T) {
	_, err := NewStore("  ").Open(context.Background())
	require.Error(t, err)
}

func TestStore_WithReleasesOnPanic(t *testing.T) {
	s := newTestStore(t, WithLockTimeout(200*time.Millisecond), WithPollInterval(10*time.Millisecond))

	func() {
		defer func() { _ = recover() }()
		_ = s.With(context.Background(), func(*Handle) error {
			panic("boom")
		})
	}()

	h, err := s.Open(context.Background())
	require.NoError(t, err, "lock must be released after a panic")
	require.NoError(t, h.Close())
}

func TestHandle_CloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	h, err := s.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err = h.Load()
	assert.Error(t, err)
	assert.Error(t, h.Store(Jobs{}))
}
