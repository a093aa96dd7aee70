package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/conversation"
	"github.com/tiger/lex-bot-tester/internal/interactionmodel"
	"github.com/tiger/lex-bot-tester/internal/resultschema"
)

// Session is a live connection to the bot of one suite.
type Session struct {
	Simulator conversation.Simulator
	Model     *interactionmodel.Model
	// Reset opens a fresh bot session before each conversation. Optional.
	Reset func()
}

// Connector opens a session for a suite.
type Connector interface {
	Connect(ctx context.Context, s *Suite) (*Session, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, s *Suite) (*Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, s *Suite) (*Session, error) {
	return f(ctx, s)
}

// RunnerConfig controls suite execution.
type RunnerConfig struct {
	// Concurrency bounds the suites run in parallel. Conversations of one
	// suite always run one after the other.
	Concurrency  int
	Conversation conversation.Config
	Logger       *slog.Logger
	Now          func() time.Time
}

// Runner executes suites against live bots.
type Runner struct {
	conn Connector
	cfg  RunnerConfig
}

func NewRunner(conn Connector, cfg RunnerConfig) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Conversation.Logger == nil {
		cfg.Conversation.Logger = cfg.Logger
	}
	return &Runner{conn: conn, cfg: cfg}
}

// ConversationReport is the verdict of one conversation.
type ConversationReport struct {
	Name     string
	Style    string
	Passed   bool
	Turns    int
	Duration time.Duration
	Err      error
}

// SuiteReport collects the conversations of one suite.
type SuiteReport struct {
	Name          string
	Target        string
	Path          string
	Conversations []ConversationReport
	// Err is set when the suite could not run at all.
	Err error
}

// Passed reports whether the suite ran and every conversation passed.
func (r SuiteReport) Passed() bool {
	if r.Err != nil {
		return false
	}
	for _, c := range r.Conversations {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Suites   []SuiteReport
}

// Passed reports whether every suite passed.
func (r Report) Passed() bool {
	for _, s := range r.Suites {
		if !s.Passed() {
			return false
		}
	}
	return true
}

// Counts returns the number of passed and failed conversations. A suite that
// could not run counts as one failure.
func (r Report) Counts() (passed, failed int) {
	for _, s := range r.Suites {
		if s.Err != nil {
			failed++
			continue
		}
		for _, c := range s.Conversations {
			if c.Passed {
				passed++
			} else {
				failed++
			}
		}
	}
	return passed, failed
}

// Run executes suites concurrently and returns reports in input order.
func (r *Runner) Run(ctx context.Context, suites []*Suite) Report {
	report := Report{RunID: xid.New().String(), Started: r.cfg.Now(), Suites: make([]SuiteReport, len(suites))}
	logger := r.cfg.Logger.With("run_id", report.RunID)
	logger.Info("run started", "suites", len(suites), "concurrency", r.cfg.Concurrency)

	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, s := range suites {
		wg.Add(1)
		go func(i int, s *Suite) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				report.Suites[i] = SuiteReport{Name: s.Name, Target: s.Target(), Path: s.Path, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			report.Suites[i] = r.runSuite(ctx, logger, s)
		}(i, s)
	}
	wg.Wait()

	report.Duration = r.cfg.Now().Sub(report.Started)
	passed, failed := report.Counts()
	logger.Info("run finished", "passed", passed, "failed", failed, "duration", report.Duration)
	return report
}

func (r *Runner) runSuite(ctx context.Context, logger *slog.Logger, s *Suite) SuiteReport {
	out := SuiteReport{Name: s.Name, Target: s.Target(), Path: s.Path}
	logger = logger.With("suite", s.Name, "target", out.Target)
	session, err := r.conn.Connect(ctx, s)
	if err != nil {
		out.Err = fmt.Errorf("connect to %s: %w", out.Target, err)
		logger.Error("suite not started", "error", out.Err)
		return out
	}
	if session == nil || session.Simulator == nil {
		out.Err = fmt.Errorf("%w: connector returned no simulator for %s", dialog.ErrConfiguration, out.Target)
		return out
	}

	var registry *resultschema.Registry
	cfg := r.cfg.Conversation
	cfg.Skill = out.Target
	cfg.Logger = logger
	for _, c := range s.Conversations {
		if err := ctx.Err(); err != nil {
			out.Conversations = append(out.Conversations, ConversationReport{Name: c.Name, Err: err})
			continue
		}
		if session.Reset != nil {
			session.Reset()
		}
		if len(c.Turns) > 0 && registry == nil {
			if session.Model == nil {
				out.Err = fmt.Errorf("%w: no interaction model for %s", dialog.ErrConfiguration, out.Target)
				return out
			}
			registry, err = resultschema.BuildSchemasForBot(out.Target, session.Model)
			if err != nil {
				out.Err = fmt.Errorf("build result schemas: %w", err)
				return out
			}
		}
		started := r.cfg.Now()
		cr := r.runConversation(ctx, session, registry, cfg, c)
		cr.Duration = r.cfg.Now().Sub(started)
		if cr.Passed {
			logger.Info("conversation passed", "conversation", c.Name, "turns", cr.Turns)
		} else {
			logger.Warn("conversation failed", "conversation", c.Name, "error", cr.Err)
		}
		out.Conversations = append(out.Conversations, cr)
	}
	return out
}

func (r *Runner) runConversation(ctx context.Context, session *Session, registry *resultschema.Registry, cfg conversation.Config, c Conversation) ConversationReport {
	cr := ConversationReport{Name: c.Name}
	switch {
	case len(c.Steps) > 0:
		cr.Style = "steps"
		var meta conversation.IntentMetadata
		if session.Model != nil {
			meta = session.Model
		}
		result, err := conversation.New(session.Simulator, meta, cfg).Run(ctx, c.Intent, c.Steps)
		cr.Turns = len(result.Turns)
		if err == nil {
			err = result.Failure()
		}
		cr.Err = err
	case len(c.Turns) > 0:
		cr.Style = "turns"
		turns, err := expectedTurns(registry, c)
		if err != nil {
			cr.Err = err
			break
		}
		reports, err := conversation.NewVerifier(session.Simulator, cfg).Verify(ctx, turns)
		cr.Turns = len(reports)
		cr.Err = err
	default:
		cr.Style = "script"
		outcomes, err := conversation.RunScript(ctx, session.Simulator, c.Script, nil, cfg)
		cr.Turns = len(outcomes)
		cr.Err = err
	}
	cr.Passed = cr.Err == nil
	return cr
}

func expectedTurns(registry *resultschema.Registry, c Conversation) ([]conversation.ExpectedTurn, error) {
	turns := make([]conversation.ExpectedTurn, 0, len(c.Turns))
	for i, t := range c.Turns {
		intent := t.Intent
		if intent == "" {
			intent = c.Intent
		}
		schema, err := registry.ForIntent(intent)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}
		fields, err := t.Fields()
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}
		want, err := schema.NewResult(dialog.DialogState(t.DialogState), fields...)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}
		turns = append(turns, conversation.ExpectedTurn{Send: t.Send, Expect: want})
	}
	return turns, nil
}

// Err joins the failures of a report, or returns nil when everything passed.
func (r Report) Err() error {
	var errs []error
	for _, s := range r.Suites {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("suite %s: %w", s.Name, s.Err))
			continue
		}
		for _, c := range s.Conversations {
			if c.Err != nil {
				errs = append(errs, fmt.Errorf("suite %s conversation %s: %w", s.Name, c.Name, c.Err))
			}
		}
	}
	return errors.Join(errs...)
}
