package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Request describes a job to run under the registry.
type Request struct {
	// Command is the shell command line; argv elements are joined with spaces.
	Command []string
	// Message is the free-text description shown to other users.
	Message string
	// Numa is the advertised NUMA node hint.
	Numa string
	// Runtime is the advisory estimated runtime. Zero means DefaultRuntime.
	Runtime time.Duration
	// Exclusive requests exclusive use of the machine.
	Exclusive bool
	// Pin wraps the command in numactl bound to Numa.
	Pin bool
}

// CommandLine returns the command text recorded in the registry.
func (r Request) CommandLine() string {
	return strings.TrimSpace(strings.Join(r.Command, " "))
}

// Result describes a job that ran to completion.
type Result struct {
	JobID string
	PID   int
	// ExitCode is the child's exit status, -1 if it did not exit normally.
	ExitCode int
}

// Controller runs one job through CREATED -> RUNNING -> TERMINATED.
//
// The registry record is created before the child starts and removed
// exactly once when the job terminates, whatever the cause: the child
// exiting, a termination signal, context cancellation, or an error after
// the record was created. Removal is followed by SIGTERM to the child's
// process group.
type Controller struct {
	registry *Registry
	logger   *zap.Logger
	signals  <-chan os.Signal
	shell    string
	numactl  string
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	now      func() time.Time
	newID    func() string
	onState  func(id string, state State)
}

// State is a job life-cycle state.
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
)

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSignals replaces OS signal delivery with ch. Every value received
// from ch is treated as a termination notification.
func WithSignals(ch <-chan os.Signal) ControllerOption {
	return func(c *Controller) { c.signals = ch }
}

// WithShell sets the shell used to run the command line (default /bin/sh).
func WithShell(path string) ControllerOption {
	return func(c *Controller) {
		if strings.TrimSpace(path) != "" {
			c.shell = path
		}
	}
}

// WithNumactl sets the numactl binary used when a request asks for pinning.
func WithNumactl(path string) ControllerOption {
	return func(c *Controller) {
		if strings.TrimSpace(path) != "" {
			c.numactl = path
		}
	}
}

// WithStdio sets the child's standard streams and the stream used for
// shutdown notices. Nil values keep the defaults (the process's own).
func WithStdio(in io.Reader, out, errOut io.Writer) ControllerOption {
	return func(c *Controller) {
		if in != nil {
			c.stdin = in
		}
		if out != nil {
			c.stdout = out
		}
		if errOut != nil {
			c.stderr = errOut
		}
	}
}

// WithClock overrides the time source used for start/end stamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() string) ControllerOption {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithStateHook registers fn to observe life-cycle transitions.
func WithStateHook(fn func(id string, state State)) ControllerOption {
	return func(c *Controller) { c.onState = fn }
}

// NewController creates a Controller for reg.
func NewController(reg *Registry, opts ...ControllerOption) *Controller {
	c := &Controller{
		registry: reg,
		logger:   zap.NewNop(),
		shell:    "/bin/sh",
		numactl:  "numactl",
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		now:      time.Now,
		newID:    NewJobID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRecord builds the CREATED record for req as of now.
func NewRecord(req Request, now time.Time) Job {
	runtime := req.Runtime
	if runtime <= 0 {
		runtime = DefaultRuntime
	}
	end := now.Add(runtime).Format(TimeLayout)
	return Job{
		User:      ResolveUser(),
		Start:     now.Format(TimeLayout),
		End:       &end,
		Cmd:       req.CommandLine(),
		Msg:       req.Message,
		Exclusive: req.Exclusive,
		PID:       0,
		Numa:      strings.TrimSpace(req.Numa),
	}
}

// Run registers the job, runs it to termination and removes it again.
//
// It returns an *AdmissionError if admission is refused (nothing is
// written), a *TerminatedError if a termination signal ended the job, and
// the context error on cancellation. The child's exit status is reported in
// Result but is not an error.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.CommandLine() == "" {
		return nil, fmt.Errorf("command is required")
	}
	if req.Pin && strings.TrimSpace(req.Numa) == "" {
		return nil, fmt.Errorf("pinning requires a numa node")
	}

	// Notifications are subscribed before the record exists so that no
	// signal can slip between registration and the wait below.
	signals := c.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, TerminationSignals...)
		defer signal.Stop(ch)
		signals = ch
	}

	id := c.newID()
	record := NewRecord(req, c.now())
	log := c.logger.With(zap.String("job_id", id))

	if _, err := c.registry.Admit(ctx, id, record); err != nil {
		return nil, err
	}
	c.transition(id, StateCreated)
	log.Info("Job registered",
		zap.String("user", record.User),
		zap.Bool("exclusive", record.Exclusive),
		zap.String("end", derefString(record.End)))

	var (
		childPID int
		once     sync.Once
	)
	cleanup := func() {
		once.Do(func() {
			c.terminate(log, id, childPID)
			c.transition(id, StateTerminated)
		})
	}
	defer cleanup()

	if sig, ok := pendingSignal(signals); ok {
		return nil, c.interrupted(log, sig, cleanup)
	}

	cmd := c.command(req)
	log.Info("Starting job", zap.String("cmd", record.Cmd))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	childPID = cmd.Process.Pid

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	if err := c.registry.Set(ctx, id, Patch{PID: &childPID}); err != nil {
		return nil, fmt.Errorf("record job pid: %w", err)
	}
	c.transition(id, StateRunning)
	log.Debug("Job running", zap.Int("pid", childPID))

	select {
	case werr := <-waitDone:
		res := &Result{JobID: id, PID: childPID, ExitCode: exitCode(cmd, werr)}
		cleanup()
		log.Info("Job finished", zap.Int("exit_code", res.ExitCode))
		return res, nil
	case sig := <-signals:
		return nil, c.interrupted(log, sig, cleanup)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

func (c *Controller) interrupted(log *zap.Logger, sig os.Signal, cleanup func()) error {
	_, _ = fmt.Fprintf(c.stderr, "\nreceived %s, cleaning up...\n", sig)
	log.Warn("Termination signal received", zap.String("signal", sig.String()))
	cleanup()
	return &TerminatedError{Signal: sig.String(), Number: signalNumber(sig)}
}

// terminate removes the record and signals the child's process group. It
// must only run once per job.
func (c *Controller) terminate(log *zap.Logger, id string, childPID int) {
	// The caller's context may already be cancelled; cleanup still has to
	// reach the registry.
	ctx := context.Background()
	removed, found, err := c.registry.Remove(ctx, id)
	if err != nil {
		log.Error("Failed to remove job from registry", zap.Error(err))
	}

	pid := removed.PID
	if pid == 0 {
		// The record may be gone or may never have received the pid.
		pid = childPID
	}
	if !found && err == nil {
		log.Warn("Job record was already gone at termination")
	}
	if pid <= 0 {
		return
	}
	if err := KillProcessGroup(pid); err != nil {
		log.Error("Failed to signal job process group", zap.Int("pid", pid), zap.Error(err))
		return
	}
	log.Debug("Signalled job process group", zap.Int("pid", pid))
}

func (c *Controller) command(req Request) *exec.Cmd {
	line := req.CommandLine()
	var cmd *exec.Cmd
	if req.Pin {
		node := strings.TrimSpace(req.Numa)
		cmd = exec.Command(c.numactl,
			"--cpunodebind="+node,
			"--membind="+node,
			c.shell, "-c", line)
	} else {
		cmd = exec.Command(c.shell, "-c", line)
	}
	cmd.Stdin = c.stdin
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	cmd.Env = os.Environ()
	cmd.SysProcAttr = groupAttr()
	return cmd
}

func (c *Controller) transition(id string, s State) {
	if c.onState != nil {
		c.onState(id, s)
	}
}

func pendingSignal(ch <-chan os.Signal) (os.Signal, bool) {
	select {
	case sig := <-ch:
		return sig, true
	default:
		return nil, false
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
