package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/3leaps/expinfo/pkg/jobregistry"
	"github.com/3leaps/expinfo/pkg/output"
)

// DefaultDebounce coalesces bursts of registry writes (a run performs two
// transactions back to back).
const DefaultDebounce = 200 * time.Millisecond

// Watcher re-renders hook files whenever the registry file changes.
type Watcher struct {
	registry *jobregistry.Registry
	files    *Files
	events   output.EventWriter
	logger   *zap.Logger
	debounce time.Duration
	refresh  time.Duration
	alive    func(pid int) bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithEvents also emits every snapshot (and refresh failure) to ew.
func WithEvents(ew output.EventWriter) Option {
	return func(w *Watcher) { w.events = ew }
}

// WithDebounce sets the quiet period before a refresh.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRefreshInterval also refreshes periodically, which picks up records
// whose process died without a registry write. Zero disables it.
func WithRefreshInterval(d time.Duration) Option {
	return func(w *Watcher) { w.refresh = d }
}

// NewWatcher creates a watcher rendering reg into files. files may be nil
// when only events are wanted.
func NewWatcher(reg *jobregistry.Registry, files *Files, opts ...Option) *Watcher {
	w := &Watcher{
		registry: reg,
		files:    files,
		logger:   zap.NewNop(),
		debounce: DefaultDebounce,
		alive:    jobregistry.IsProcessAlive,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run renders once, then on every change until ctx is cancelled. It
// returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	path := w.registry.Store().Path()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	// The registry file is rewritten in place, but watching the directory
	// also catches it being created or the directory being cleared.
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("Watching registry", zap.String("path", path))

	w.Refresh(ctx)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		tickCh  <-chan time.Time
	)
	if w.refresh > 0 {
		ticker := time.NewTicker(w.refresh)
		defer ticker.Stop()
		tickCh = ticker.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event, path) {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				// The whole directory may be gone (lock remediation).
				_ = os.MkdirAll(dir, 0o777)
				_ = fsw.Add(dir)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Registry watcher error", zap.Error(err))
		case <-timerCh:
			timerCh = nil
			w.Refresh(ctx)
		case <-tickCh:
			w.Refresh(ctx)
		}
	}
}

// Refresh reads the registry once and renders it. Failures are logged
// and reported as error events; a busy registry puts the remediation in
// the motd.
func (w *Watcher) Refresh(ctx context.Context) {
	jobs, err := w.registry.Jobs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		code := output.CodeInternal
		if errors.Is(err, jobregistry.ErrAcquisitionTimeout) {
			code = output.CodeRegistryBusy
			if w.files != nil {
				if rerr := w.files.RenderBusy(w.registry.Store().Dir()); rerr != nil {
					w.logger.Error("Failed to write hook files", zap.Error(rerr))
				}
			}
		}
		w.logger.Warn("Failed to read registry", zap.Error(err))
		w.emitError(ctx, code, err)
		return
	}

	if w.files != nil {
		if err := w.files.Render(jobs); err != nil {
			w.logger.Error("Failed to write hook files", zap.Error(err))
			w.emitError(ctx, output.CodeRenderFailed, err)
		}
	}
	if w.events != nil {
		if err := w.events.WriteSnapshot(ctx, output.NewStatusDocument(jobs, w.alive)); err != nil && ctx.Err() == nil {
			w.logger.Warn("Failed to emit snapshot", zap.Error(err))
		}
	}
	w.logger.Debug("Hook files refreshed", zap.Int("jobs", len(jobs)))
}

func (w *Watcher) emitError(ctx context.Context, code string, err error) {
	if w.events == nil {
		return
	}
	_ = w.events.WriteError(ctx, &output.ErrorRecord{
		Code:    code,
		Message: err.Error(),
		Path:    w.registry.Store().Path(),
	})
}

// relevant filters directory events down to changes of the registry file.
// Chmod is ignored: every transaction chmods the file on open.
func relevant(event fsnotify.Event, registryPath string) bool {
	if filepath.Clean(event.Name) != filepath.Clean(registryPath) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
