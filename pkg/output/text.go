package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/3leaps/expinfo/pkg/jobregistry"
)

// ColorMode selects when text output carries ANSI styling.
type ColorMode string

const (
	// ColorAuto styles output only when the destination is a terminal.
	ColorAuto ColorMode = "auto"
	// ColorAlways styles output unconditionally (hook files are cat'ed to
	// terminals later).
	ColorAlways ColorMode = "always"
	// ColorNever emits plain text.
	ColorNever ColorMode = "never"
)

// Theme holds the text styles used for one destination.
type Theme struct {
	header lipgloss.Style
	warn   lipgloss.Style
	alert  lipgloss.Style
	label  lipgloss.Style
	user   lipgloss.Style
	faint  lipgloss.Style

	// Binary is the program name shown in the header.
	Binary string
}

// NewTheme builds styles for output written to w.
func NewTheme(w io.Writer, mode ColorMode) *Theme {
	r := lipgloss.NewRenderer(w)
	switch mode {
	case ColorAlways:
		r.SetColorProfile(termenv.ANSI)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	}
	return &Theme{
		header: r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("3")),
		alert:  r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		label:  r.NewStyle().Foreground(lipgloss.Color("4")),
		user:   r.NewStyle().Foreground(lipgloss.Color("3")),
		faint:  r.NewStyle().Faint(true),
		Binary: "expinfo",
	}
}

// PlainTheme returns a theme that never styles.
func PlainTheme() *Theme {
	return NewTheme(io.Discard, ColorNever)
}

// TextOptions controls the status listing.
type TextOptions struct {
	// Alive marks records whose pid no longer runs. Nil disables the check.
	Alive func(pid int) bool
	// Reminder adds the "register all processes" line used in the motd.
	Reminder bool
}

// WriteStatus writes the human-readable listing: a header and, when jobs
// exist, one block per job in start order.
func (t *Theme) WriteStatus(w io.Writer, jobs jobregistry.Jobs, opts TextOptions) error {
	var b strings.Builder
	b.WriteString(t.header.Render(fmt.Sprintf("Experiment Job Manager: %s --help", t.Binary)))
	b.WriteString("\n\n")
	if opts.Reminder {
		b.WriteString(t.warn.Render("Please register all processes you start!"))
		b.WriteString("\n\n")
	}

	if len(jobs) > 0 {
		b.WriteString(t.alert.Render("Currently the following experiments are running:"))
		b.WriteString("\n")
		for i, id := range jobs.IDs() {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(t.JobBlock(jobs[id], isStale(jobs[id], opts.Alive)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return writeAll(w, []byte(b.String()))
}

// JobBlock renders one job. Exclusive jobs are framed by banners.
func (t *Theme) JobBlock(j jobregistry.Job, stale bool) string {
	numa := j.Numa
	if numa == "" {
		numa = "?"
	}
	banner := t.alert.Render("*** EXCLUSIVE ACCESS ***")

	var lines []string
	if j.Exclusive {
		lines = append(lines, banner)
	}
	head := fmt.Sprintf("%s %s %s %s %s %s %d",
		t.user.Render(fmt.Sprintf("%-15s", j.User)),
		t.label.Render("Start:"), j.Start,
		t.label.Render("NUMA:"), numa,
		t.label.Render("PID:"), j.PID)
	if stale {
		head += " " + t.faint.Render("(stale: process not running)")
	}
	lines = append(lines, head)
	if j.End != nil {
		lines = append(lines, fmt.Sprintf("%s %s", t.label.Render("   User estimated End:"), *j.End))
	}
	lines = append(lines,
		fmt.Sprintf("%s %s", t.label.Render("Message:"), j.Msg),
		fmt.Sprintf("%s %s", t.label.Render("Exec:"), j.Cmd))
	if j.Exclusive {
		lines = append(lines, banner)
	}
	return strings.Join(lines, "\n")
}

// PromptLine summarizes the registry in one line for a shell prompt. It is
// empty when nothing is registered.
func (t *Theme) PromptLine(jobs jobregistry.Jobs) string {
	if len(jobs) == 0 {
		return ""
	}
	if id, ok := jobs.HasExclusive(); ok {
		return t.alert.Render("*** EXCLUSIVE ACCESS by") + " " +
			t.label.Render(jobs[id].User) + " " +
			t.alert.Render("***")
	}
	n := len(jobs)
	plural := ""
	if n > 1 {
		plural = "s"
	}
	return t.warn.Render(fmt.Sprintf("%d job%s running from", n, plural)) + " " +
		t.label.Render(strings.Join(jobs.Users(), ", ")) +
		t.warn.Render("!")
}

// BusyMessage is the remediation shown when the registry lock cannot be
// taken: removing the registry directory clears a wedged lock.
func (t *Theme) BusyMessage(dir string) string {
	return t.warn.Render(fmt.Sprintf("Cannot acquire lock, please run: rm -r %s/", strings.TrimRight(dir, "/")))
}
