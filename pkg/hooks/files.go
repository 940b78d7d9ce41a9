// Package hooks keeps the motd and prompt files that login shells display
// in step with the job registry.
package hooks

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/3leaps/expinfo/pkg/jobregistry"
	"github.com/3leaps/expinfo/pkg/output"
)

const hookFileMode = 0o644

// Files renders the registry into the motd and prompt hook files.
type Files struct {
	MotdPath   string
	PromptPath string
	Theme      *output.Theme
	// Alive marks stale records in the motd. Nil disables the check.
	Alive func(pid int) bool
}

// Render rewrites both files from jobs. Each file is replaced atomically so
// a shell reading it never sees a partial write.
//
// The prompt file holds the prompt line followed by a literal `\n` escape,
// ready to be spliced into PS1; it is empty when nothing is registered.
func (f *Files) Render(jobs jobregistry.Jobs) error {
	theme := f.Theme
	if theme == nil {
		theme = output.NewTheme(io.Discard, output.ColorAlways)
	}

	if f.MotdPath != "" {
		var motd bytes.Buffer
		if err := theme.WriteStatus(&motd, jobs, output.TextOptions{Reminder: true, Alive: f.Alive}); err != nil {
			return err
		}
		if err := writeAtomic(f.MotdPath, motd.Bytes()); err != nil {
			return err
		}
	}

	if f.PromptPath != "" {
		var prompt []byte
		if line := theme.PromptLine(jobs); line != "" {
			prompt = []byte(line + `\n`)
		}
		if err := writeAtomic(f.PromptPath, prompt); err != nil {
			return err
		}
	}
	return nil
}

// RenderBusy writes the lock remediation into the motd and leaves the
// prompt untouched.
func (f *Files) RenderBusy(registryDir string) error {
	if f.MotdPath == "" {
		return nil
	}
	theme := f.Theme
	if theme == nil {
		theme = output.NewTheme(io.Discard, output.ColorAlways)
	}
	return writeAtomic(f.MotdPath, []byte(theme.BusyMessage(registryDir)+"\n"))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create hook dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp hook file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write hook file: %w", err)
	}
	if err := tmp.Chmod(hookFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod hook file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close hook file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace hook file: %w", err)
	}
	return nil
}
