package jobregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is the pause between non-blocking lock attempts.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultLockTimeout bounds lock acquisition for registry operations.
	DefaultLockTimeout = time.Second

	fileMode = 0o666
	dirMode  = 0o777
)

// Store owns the on-disk registry document.
//
// Every access goes through a Handle, which holds an exclusive flock(2) on
// the registry file for its whole lifetime:
//
//	h, err := store.Open(ctx)
//	jobs, err := h.Load()
//	err = h.Store(jobs)
//	err = h.Close()
//
// The lock is advisory; it only serializes cooperating processes.
type Store struct {
	path         string
	timeout      time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLockTimeout bounds lock acquisition. Zero or negative waits forever.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.timeout = d }
}

// WithPollInterval sets the pause between lock attempts.
func WithPollInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithStoreLogger sets the logger used for lock diagnostics.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store for the registry file at path. Without
// WithLockTimeout, Open waits for the lock indefinitely.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:         strings.TrimSpace(path),
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the registry file path.
func (s *Store) Path() string {
	return s.path
}

// Dir returns the directory holding the registry file. Removing it clears a
// wedged registry.
func (s *Store) Dir() string {
	return filepath.Dir(s.path)
}

// Timeout returns the configured lock timeout.
func (s *Store) Timeout() time.Duration {
	return s.timeout
}

func (s *Store) ensureDir() error {
	if s.path == "" {
		return fmt.Errorf("registry path is empty")
	}
	dir := s.Dir()
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	// MkdirAll is subject to umask; the directory is shared by all users.
	_ = os.Chmod(dir, dirMode)
	return nil
}

// Open opens (creating if absent) the registry file and acquires the
// exclusive lock on it. The returned Handle must be closed.
//
// Open fails with ErrAcquisitionTimeout once the configured timeout has
// elapsed, and with the context error when ctx is cancelled. Any other lock
// error is returned immediately.
func (s *Store) Open(ctx context.Context) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureDir(); err != nil {
		return nil, err
	}

	started := time.Now()
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, fileMode)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if err := f.Chmod(fileMode); err != nil && !errors.Is(err, fs.ErrPermission) {
		_ = f.Close()
		return nil, fmt.Errorf("chmod registry: %w", err)
	}

	limiter := rate.NewLimiter(rate.Every(s.pollInterval), 1)
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			_ = f.Close()
			return nil, err
		}

		attempts++
		locked, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("lock registry: %w", err)
		}
		if locked {
			if attempts > 1 {
				s.logger.Debug("Registry lock acquired after contention",
					zap.String("path", s.path),
					zap.Int("attempts", attempts),
					zap.Duration("waited", time.Since(started)))
			}
			return &Handle{file: f}, nil
		}

		if s.timeout > 0 && time.Since(started) > s.timeout {
			_ = f.Close()
			s.logger.Debug("Registry lock timed out",
				zap.String("path", s.path),
				zap.Int("attempts", attempts),
				zap.Duration("timeout", s.timeout))
			return nil, fmt.Errorf("%w after %s (%s)", ErrAcquisitionTimeout, s.timeout, s.path)
		}

		// The first token is free; take it so the next Wait paces the retry.
		if attempts == 1 {
			limiter.Allow()
		}
		if err := limiter.Wait(ctx); err != nil {
			_ = f.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// The limiter refuses to wait past the context deadline.
			return nil, fmt.Errorf("wait for registry lock: %w", context.DeadlineExceeded)
		}
	}
}

// With runs fn while holding the registry lock. The lock is released on
// every return path, including panics in fn.
func (s *Store) With(ctx context.Context, fn func(h *Handle) error) (err error) {
	h, err := s.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(h)
}

// Handle is a locked, open registry file.
type Handle struct {
	file *os.File
}

// Load reads the whole document. Empty or unparsable content is reported
// as an empty registry, never as an error; it is overwritten by the next
// Store.
func (h *Handle) Load() (Jobs, error) {
	if h == nil || h.file == nil {
		return nil, fmt.Errorf("registry handle is closed")
	}
	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek registry: %w", err)
	}
	data, err := io.ReadAll(h.file)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return decodeJobs(data), nil
}

// Store replaces the document with jobs and syncs it to disk. The new
// content is encoded before the file is truncated.
func (h *Handle) Store(jobs Jobs) error {
	if h == nil || h.file == nil {
		return fmt.Errorf("registry handle is closed")
	}
	data, err := encodeJobs(jobs)
	if err != nil {
		return err
	}
	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek registry: %w", err)
	}
	if err := h.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate registry: %w", err)
	}
	if _, err := h.file.Write(data); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("sync registry: %w", err)
	}
	return nil
}

// Close releases the lock and closes the file. It is safe to call more
// than once.
func (h *Handle) Close() error {
	if h == nil || h.file == nil {
		return nil
	}
	f := h.file
	h.file = nil

	uerr := unlock(f)
	cerr := f.Close()
	if uerr != nil {
		return fmt.Errorf("unlock registry: %w", uerr)
	}
	if cerr != nil {
		return fmt.Errorf("close registry: %w", cerr)
	}
	return nil
}

func decodeJobs(data []byte) Jobs {
	jobs := Jobs{}
	if len(bytes.TrimSpace(data)) == 0 {
		return jobs
	}
	if err := json.Unmarshal(data, &jobs); err != nil || jobs == nil {
		// Includes a literal `null` document.
		return Jobs{}
	}
	return jobs
}

// encodeJobs renders the canonical form: sorted keys, 4-space indent,
// trailing newline.
func encodeJobs(jobs Jobs) ([]byte, error) {
	if jobs == nil {
		jobs = Jobs{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(jobs); err != nil {
		return nil, fmt.Errorf("marshal registry: %w", err)
	}
	return buf.Bytes(), nil
}
