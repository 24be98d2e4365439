// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs validated command plans as child processes
// and streams their redacted output as events.
//
// Every job runs in its own process group so cancellation reaches the
// whole tree, not just the direct child. Output never bypasses the
// credential sanitizer: the supervisor redacts each line before it
// becomes an event.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/netreaper-project/gateway/command"
	"github.com/netreaper-project/gateway/lib/clock"
	"github.com/netreaper-project/gateway/sanitize"
)

// Default execution limits.
const (
	DefaultMaxJobs     = 8
	DefaultTimeout     = 10 * time.Minute
	DefaultGracePeriod = 5 * time.Second
)

// maxLineBytes bounds a single scanned output line. Longer lines are
// split by the scanner buffer, not dropped.
const maxLineBytes = 1 << 20

// Event kinds.
const (
	EventStdout = "stdout"
	EventStderr = "stderr"
	EventExit   = "exit"
)

// Exit reasons reported on the terminal event.
const (
	ReasonCompleted = "completed"
	ReasonCancelled = "cancelled"
	ReasonTimeout   = "timeout"
	ReasonError     = "error"
)

// Errors returned by Start and Cancel.
var (
	ErrTooManyJobs = errors.New("supervisor: concurrent job limit reached")
	ErrJobNotFound = errors.New("supervisor: no such job")
)

// Event is one unit of job output. Kind is EventStdout or EventStderr
// for an output line, or EventExit for the single terminal event that
// precedes channel close.
type Event struct {
	Kind string

	// Text is the redacted line for output events, or a diagnostic
	// message for a ReasonError exit.
	Text string

	// Redacted counts credential redactions applied to Text.
	Redacted int

	// Code is the process exit code on EventExit. -1 when the process
	// never ran or died to a signal.
	Code int

	// Reason qualifies EventExit: completed, cancelled, timeout, or
	// error.
	Reason string
}

// Job is a handle to one running (or finished) process.
type Job struct {
	// ID names the job in logs and cancel requests.
	ID string

	// Events delivers output and the terminal exit event. Closed by
	// the supervisor after the exit event.
	Events <-chan Event

	supervisor *Supervisor
	events     chan Event
	cmd        *exec.Cmd
	once       sync.Once
	done       chan struct{}

	mu        sync.Mutex
	reason    string
	killTimer *clock.Timer
	finished  bool
}

// Supervisor spawns and tracks jobs. Safe for concurrent use by all
// sessions.
type Supervisor struct {
	sanitizer   *sanitize.Sanitizer
	clock       clock.Clock
	logger      *slog.Logger
	slots       *semaphore.Weighted
	timeout     time.Duration
	gracePeriod time.Duration

	mu     sync.Mutex
	nextID uint64
	jobs   map[string]*Job
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMaxJobs bounds concurrently running jobs across all sessions.
func WithMaxJobs(n int64) Option {
	return func(s *Supervisor) { s.slots = semaphore.NewWeighted(n) }
}

// WithTimeout sets the per-job wall-clock limit.
func WithTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.timeout = d }
}

// WithGracePeriod sets how long a cancelled job gets between SIGTERM
// and SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.gracePeriod = d }
}

// New creates a Supervisor.
func New(sanitizer *sanitize.Sanitizer, clk clock.Clock, logger *slog.Logger, options ...Option) *Supervisor {
	s := &Supervisor{
		sanitizer:   sanitizer,
		clock:       clk,
		logger:      logger,
		slots:       semaphore.NewWeighted(DefaultMaxJobs),
		timeout:     DefaultTimeout,
		gracePeriod: DefaultGracePeriod,
		jobs:        make(map[string]*Job),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Start launches a plan as a child process and returns its handle.
// Fails immediately with ErrTooManyJobs when the concurrency limit is
// reached; queueing would hide load from the operator.
//
// The subject is the authenticated operator, recorded in the execution
// log. Cancelling ctx cancels the job as if Cancel had been called.
func (s *Supervisor) Start(ctx context.Context, plan command.Plan, subject string) (*Job, error) {
	if !s.slots.TryAcquire(1) {
		return nil, ErrTooManyJobs
	}

	cmd := exec.Command(plan.Program(), plan.Argv()...)
	cmd.Dir = plan.WorkingDirectory()

	// Own process group: cancellation signals the whole tree, and a
	// child that outlives its parent cannot hold our pipes open
	// unnoticed.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.slots.Release(1)
		return nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.slots.Release(1)
		return nil, fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.slots.Release(1)
		return nil, fmt.Errorf("supervisor: starting %s: %w", plan.Program(), err)
	}

	events := make(chan Event, 64)
	job := &Job{
		Events:     events,
		events:     events,
		supervisor: s,
		cmd:        cmd,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	s.nextID++
	job.ID = "job-" + strconv.FormatUint(s.nextID, 10)
	s.jobs[job.ID] = job
	s.mu.Unlock()

	logger := s.logger.With("job", job.ID, "program", plan.Program(), "subject", subject)

	// Arguments can legitimately carry credentials (hydra -p, URLs with
	// tokens); the log gets the same redacted form the client does.
	display := s.sanitizer.Sanitize(strings.Join(plan.Argv(), " ")).Text
	logger.Info("job started", "pid", cmd.Process.Pid, "command", display)

	timer := s.clock.AfterFunc(s.timeout, func() {
		logger.Warn("job deadline exceeded", "timeout", s.timeout)
		job.interrupt(ReasonTimeout)
	})

	var readers sync.WaitGroup
	readers.Add(2)
	go job.readPipe(EventStdout, stdout, &readers)
	go job.readPipe(EventStderr, stderr, &readers)

	go func() {
		select {
		case <-ctx.Done():
			job.interrupt(ReasonCancelled)
		case <-job.done:
		}
	}()

	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		timer.Stop()
		job.mu.Lock()
		job.finished = true
		if job.killTimer != nil {
			job.killTimer.Stop()
		}
		reason := job.reason
		job.mu.Unlock()

		exit := Event{Kind: EventExit, Reason: reason}
		switch {
		case waitErr == nil:
			if exit.Reason == "" {
				exit.Reason = ReasonCompleted
			}
		default:
			var exitError *exec.ExitError
			if errors.As(waitErr, &exitError) {
				exit.Code = exitError.ExitCode()
				if exit.Reason == "" {
					exit.Reason = ReasonCompleted
				}
			} else {
				exit.Code = -1
				if exit.Reason == "" {
					exit.Reason = ReasonError
				}
				exit.Text = waitErr.Error()
			}
		}

		logger.Info("job finished", "code", exit.Code, "reason", exit.Reason)
		events <- exit
		close(events)
		close(job.done)
		s.slots.Release(1)
	}()

	return job, nil
}

// Cancel stops a job by ID. Cancelling a job that already finished is
// a no-op; cancelling an unknown ID is an error.
func (s *Supervisor) Cancel(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	job.mu.Lock()
	finished := job.finished
	job.mu.Unlock()
	if finished {
		return nil
	}

	job.interrupt(ReasonCancelled)
	return nil
}

// Release forgets a finished job. Sessions call this after draining
// the event channel; until then the ID stays valid for Cancel.
func (s *Supervisor) Release(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

// interrupt signals the job's process group: SIGTERM first, SIGKILL
// after the grace period if the group is still alive. Only the first
// call takes effect; the stored reason is what the exit event reports.
func (j *Job) interrupt(reason string) {
	j.once.Do(func() {
		j.mu.Lock()
		if j.finished {
			// The timeout timer can fire between Wait returning and
			// Stop. The job already exited on its own terms; the pgid
			// may even be recycled, so neither relabel nor signal.
			j.mu.Unlock()
			return
		}
		j.reason = reason
		j.mu.Unlock()

		processGroupID := -j.cmd.Process.Pid
		if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
			// Process group already gone, or SIGTERM refused.
			// Escalate immediately; ESRCH here is harmless.
			_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			return
		}
		killTimer := j.supervisor.clock.AfterFunc(j.supervisor.gracePeriod, func() {
			_ = syscall.Kill(processGroupID, syscall.SIGKILL)
		})
		j.mu.Lock()
		j.killTimer = killTimer
		j.mu.Unlock()
	})
}

// readPipe scans one output pipe line by line, redacts each line, and
// forwards it as an event.
func (j *Job) readPipe(kind string, pipe io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		chunk := j.supervisor.sanitizer.Sanitize(scanner.Text())
		j.events <- Event{
			Kind:     kind,
			Text:     chunk.Text,
			Redacted: chunk.RedactedCount,
		}
	}
	if err := scanner.Err(); err != nil {
		j.supervisor.logger.Warn("job output read failed", "job", j.ID, "stream", kind, "error", err)
	}
}
