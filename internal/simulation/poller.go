package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
)

// Status is the state of a remote simulation job.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the job reached a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// Job is one observation of a simulation job.
type Job struct {
	ID      string
	Status  Status
	Outcome dialog.Outcome
	// Detail carries the failure message of a FAILED job.
	Detail string
}

// JobClient submits utterances and reads back simulation jobs.
type JobClient interface {
	SubmitSimulation(ctx context.Context, text string) (Job, error)
	GetSimulation(ctx context.Context, id string) (Job, error)
}

// StaticJobClient adapts plain functions to JobClient.
type StaticJobClient struct {
	SubmitFn func(ctx context.Context, text string) (Job, error)
	GetFn    func(ctx context.Context, id string) (Job, error)
}

func (c StaticJobClient) SubmitSimulation(ctx context.Context, text string) (Job, error) {
	if c.SubmitFn == nil {
		return Job{}, fmt.Errorf("%w: submit function is not configured", dialog.ErrConfiguration)
	}
	return c.SubmitFn(ctx, text)
}

func (c StaticJobClient) GetSimulation(ctx context.Context, id string) (Job, error) {
	if c.GetFn == nil {
		return Job{}, fmt.Errorf("%w: get function is not configured", dialog.ErrConfiguration)
	}
	return c.GetFn(ctx, id)
}

// Config controls polling cadence.
type Config struct {
	// MaxAttempts bounds the number of status polls after submission.
	MaxAttempts int
	// Interval is slept before every poll.
	Interval time.Duration
	// Timeout, when positive, bounds the whole simulation including submission.
	Timeout time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep   func(ctx context.Context, d time.Duration) error
	Logger  *slog.Logger
	Verbose bool
}

// Poller turns the submit-then-poll job protocol into a synchronous call.
type Poller struct {
	client JobClient
	cfg    Config
}

// NewPoller returns a poller with defaults of 7 attempts spaced by one second.
func NewPoller(client JobClient, cfg Config) *Poller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 7
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{client: client, cfg: cfg}
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Simulate submits text and polls until the job succeeds, fails, or the
// attempt budget runs out. Polls are sequential and never overlap.
func (p *Poller) Simulate(ctx context.Context, text string) (dialog.Outcome, error) {
	if p.client == nil {
		return dialog.Outcome{}, fmt.Errorf("%w: simulation client is required", dialog.ErrConfiguration)
	}
	if strings.TrimSpace(text) == "" {
		return dialog.Outcome{}, fmt.Errorf("%w: simulation text is required", dialog.ErrConfiguration)
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	job, err := p.client.SubmitSimulation(ctx, text)
	if err != nil {
		return dialog.Outcome{}, fmt.Errorf("submit simulation: %w", err)
	}
	if p.cfg.Verbose {
		p.cfg.Logger.Info("simulation submitted", slog.String("job_id", job.ID), slog.String("status", string(job.Status)))
	}
	if job.Status.Terminal() {
		return finish(job)
	}
	if job.ID == "" {
		return dialog.Outcome{}, &dialog.RemoteFailureError{Detail: fmt.Sprintf("simulation submitted with status %q and no id", job.Status)}
	}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.cfg.Sleep(ctx, p.cfg.Interval); err != nil {
			return dialog.Outcome{}, p.interrupted(job.ID, attempt-1, err)
		}
		polled, err := p.client.GetSimulation(ctx, job.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return dialog.Outcome{}, p.interrupted(job.ID, attempt, ctxErr)
			}
			return dialog.Outcome{}, fmt.Errorf("get simulation %s: %w", job.ID, err)
		}
		if polled.ID == "" {
			polled.ID = job.ID
		}
		p.cfg.Logger.Debug("simulation polled",
			slog.String("job_id", polled.ID),
			slog.String("status", string(polled.Status)),
			slog.String("attempt", strconv.Itoa(attempt)))
		if polled.Status.Terminal() {
			return finish(polled)
		}
	}
	return dialog.Outcome{}, &dialog.TimeoutError{JobID: job.ID, Attempts: p.cfg.MaxAttempts}
}

func (p *Poller) interrupted(jobID string, attempts int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &dialog.TimeoutError{JobID: jobID, Attempts: attempts, Cause: err}
	}
	return fmt.Errorf("simulation %s interrupted: %w", jobID, err)
}

func finish(job Job) (dialog.Outcome, error) {
	if job.Status == StatusFailed {
		detail := job.Detail
		if detail == "" {
			detail = "status FAILED"
		}
		return dialog.Outcome{}, &dialog.RemoteFailureError{JobID: job.ID, Detail: detail}
	}
	return job.Outcome, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
