// Package runner executes extracted source in an isolated subprocess with a
// wall-clock timeout. Code runs with the privileges of this process; the
// timeout is the only containment. That trust boundary is deliberate.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codexec/codebot/internal/config"
	"github.com/codexec/codebot/internal/logger"
)

// Result is the outcome of one execution. TimedOut and a non-zero ExitCode
// are data, not runner errors: the loop reports them and continues.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Failed reports whether the run ended abnormally (timeout or non-zero exit).
func (r Result) Failed() bool { return r.TimedOut || r.ExitCode != 0 }

// Runner spawns the interpreter for each execution.
type Runner struct {
	bin         string
	timeout     time.Duration
	venvDir     string
	autoInstall bool
}

// New builds a Runner from config, applying the documented defaults.
func New(cfg config.RunnerConfig) *Runner {
	bin := cfg.PythonBin
	if bin == "" {
		bin = "python3"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Runner{
		bin:         bin,
		timeout:     timeout,
		venvDir:     cfg.VenvDir,
		autoInstall: cfg.AutoInstall,
	}
}

// Timeout returns the configured per-run wall-clock limit.
func (r *Runner) Timeout() time.Duration { return r.timeout }

// Run writes source to a temp file and executes it with the interpreter,
// killing the whole process group if the timeout elapses. The returned error
// is reserved for infrastructure faults (temp file, missing interpreter);
// execution failures and timeouts are reported through Result.
func (r *Runner) Run(ctx context.Context, source string) (Result, error) {
	if r.autoInstall {
		if deps := Deps(source); len(deps) > 0 {
			r.installDeps(ctx, deps)
		}
	}

	tmp, err := os.CreateTemp("", "codebot-*.py")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.WriteString(source); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("close temp file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.interpreter(), path)
	// New process group, so a timeout kill reaches grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		logger.L.Warn("code execution timed out", "timeout", r.timeout)
		return res, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("spawn %s: %w", r.bin, runErr)
	}
	return res, nil
}

// interpreter prefers the virtualenv python when the venv exists.
func (r *Runner) interpreter() string {
	if r.venvDir == "" {
		return r.bin
	}
	venvPython := filepath.Join(r.venvDir, "bin", "python")
	if _, err := os.Stat(venvPython); err == nil {
		return venvPython
	}
	return r.bin
}
