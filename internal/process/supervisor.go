package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/panjf2000/ants/v2"

	"github.com/cspellhq/hivenode/internal/models"
)

// LineHandler is invoked once per line read from a process's stdout or
// stderr. outputType is "stdout" or "stderr".
type LineHandler func(outputType, line string)

// Spec describes a process to spawn.
type Spec struct {
	AttemptID      string
	RunReason      models.RunReason
	ExecutorAction []byte
	WorkDir        string
	Command        string
	Args           []string
	Env            []string
	OnLine         LineHandler
}

// Supervisor spawns subprocesses, tracks their PID, and persists the
// ExecutionProcess state machine. Every process it spawns carries the
// supervisor's instanceID so a later restart can identify and reap orphans.
type Supervisor struct {
	store      *Store
	instanceID string
	pool       *ants.Pool

	mu      sync.Mutex
	running map[string]*supervised
}

type supervised struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

func (s *supervised) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// New creates a Supervisor backed by store, tagging every spawned process
// with instanceID. poolSize bounds concurrent subprocess goroutines.
func New(store *Store, instanceID string, poolSize int) (*Supervisor, error) {
	pool, err := ants.NewPool(poolSize, ants.WithPreAlloc(false))
	if err != nil {
		return nil, fmt.Errorf("create process worker pool: %w", err)
	}
	return &Supervisor{
		store:      store,
		instanceID: instanceID,
		pool:       pool,
		running:    make(map[string]*supervised),
	}, nil
}

// ReapOrphans runs at startup: every Running row not owned by this instance
// is promoted to Failed. This is the only admissible transition out of
// Running without observing the child.
func (sv *Supervisor) ReapOrphans(ctx context.Context) (int64, error) {
	n, err := sv.store.MarkOrphansFailed(ctx, sv.instanceID, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Warn("[PROCESS] reaped orphaned processes", "count", n, "instance_id", sv.instanceID)
	}
	return n, nil
}

// Spawn starts spec's command inside spec.WorkDir, records the ExecutionProcess
// row in Running state with beforeHead as before_head_commit, and streams
// stdout/stderr lines to spec.OnLine as they arrive. It returns immediately;
// completion is asynchronous and observed via the afterHead callback
// supplied to the internal run loop.
func (sv *Supervisor) Spawn(ctx context.Context, spec Spec, beforeHead *string, afterHead func(exitErr error) (*string, error)) (*models.ExecutionProcess, error) {
	runCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	slog.Info("[PROCESS] starting", "run_reason", spec.RunReason, "attempt_id", spec.AttemptID, "command", spec.Command, "args", spec.Args, "workdir", spec.WorkDir)

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	pid := cmd.Process.Pid
	proc := &models.ExecutionProcess{
		ID:               shortuuid.New(),
		AttemptID:        spec.AttemptID,
		RunReason:        spec.RunReason,
		ExecutorAction:   spec.ExecutorAction,
		Status:           models.ProcessRunning,
		PID:              &pid,
		BeforeHeadCommit: beforeHead,
		ServerInstanceID: sv.instanceID,
		CreatedAt:        time.Now().Unix(),
	}
	if err := sv.store.Insert(ctx, proc); err != nil {
		cancel()
		_ = cmd.Process.Kill()
		return nil, err
	}

	done := make(chan struct{})
	sv.mu.Lock()
	sv.running[proc.ID] = &supervised{cmd: cmd, cancel: cancel, done: done}
	sv.mu.Unlock()

	if err := sv.pool.Submit(func() {
		sv.drive(proc, cmd, stdout, stderr, spec.OnLine, afterHead, done)
	}); err != nil {
		sv.mu.Lock()
		delete(sv.running, proc.ID)
		sv.mu.Unlock()
		cancel()
		_ = cmd.Process.Kill()
		close(done)
		return nil, fmt.Errorf("submit process to worker pool: %w", err)
	}

	return proc, nil
}

func (sv *Supervisor) drive(proc *models.ExecutionProcess, cmd *exec.Cmd, stdout, stderr io.Reader, onLine LineHandler, afterHead func(error) (*string, error), done chan struct{}) {
	defer close(done)
	defer func() {
		sv.mu.Lock()
		delete(sv.running, proc.ID)
		sv.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, "stdout", onLine)
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, "stderr", onLine)
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	sv.mu.Lock()
	s := sv.running[proc.ID]
	sv.mu.Unlock()
	stopped := s != nil && s.wasStopped()

	status := models.ProcessCompleted
	var exitCode *int
	switch {
	case stopped:
		status = models.ProcessKilled
	case waitErr != nil:
		status = models.ProcessFailed
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if exitErr.ProcessState.Exited() {
				code := exitErr.ProcessState.ExitCode()
				exitCode = &code
			}
		}
	default:
		code := 0
		exitCode = &code
	}

	after, err := afterHead(waitErr)
	if err != nil {
		slog.Warn("[PROCESS] failed to capture after-head commit", "process_id", proc.ID, "error", err)
	}

	if err := sv.store.Complete(context.Background(), proc.ID, status, exitCode, after, time.Now().Unix()); err != nil {
		slog.Error("[PROCESS] failed to record completion", "process_id", proc.ID, "error", err)
	}
	slog.Info("[PROCESS] finished", "process_id", proc.ID, "status", status, "exit_code", exitCode)
}

func streamLines(r io.Reader, outputType string, onLine LineHandler) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(outputType, scanner.Text())
		}
	}
}

// Stop sends SIGTERM to the process group of processID, waits a short grace
// period, then sends SIGKILL. Database status is transitioned to Killed only
// by the drive loop observing the child's exit, not by Stop itself.
func (sv *Supervisor) Stop(processID string, grace time.Duration) error {
	sv.mu.Lock()
	s, ok := sv.running[processID]
	sv.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	pid := s.cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-s.done:
		return nil
	case <-time.After(grace):
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	s.cancel()
	return nil
}

// StopAll stops every process currently supervised, used at shutdown before
// the next startup's orphan reaper promotes any stragglers to Failed.
func (sv *Supervisor) StopAll(grace time.Duration) {
	sv.mu.Lock()
	ids := make([]string, 0, len(sv.running))
	for id := range sv.running {
		ids = append(ids, id)
	}
	sv.mu.Unlock()

	for _, id := range ids {
		if err := sv.Stop(id, grace); err != nil {
			slog.Warn("[PROCESS] stop failed during shutdown", "process_id", id, "error", err)
		}
	}
}

// Release tears down the worker pool. Call once, at service shutdown.
func (sv *Supervisor) Release() {
	sv.pool.Release()
}
