package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/config"
	"github.com/tiger/lex-bot-tester/internal/conversation"
	"github.com/tiger/lex-bot-tester/internal/suite"
	"github.com/tiger/lex-bot-tester/internal/testbuilder"
)

var (
	errUsage  = errors.New("usage")
	errFailed = errors.New("conversations failed")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, time.Now)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, now func() time.Time) int {
	if len(args) > 0 {
		switch args[0] {
		case "help", "-h", "--help":
			printUsage(stdout)
			return 0
		}
	}
	cfg, err := config.FromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bot-tester: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	logger.Debug("configuration loaded", "config", cfg)

	live := &liveBackend{cfg: cfg, logger: logger, now: now}
	a := &app{
		cfg:        cfg,
		logger:     logger,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		now:        now,
		connector:  live,
		skill:      live.skill,
		skillNames: live.skillNames,
	}
	return a.exec(ctx, args)
}

type app struct {
	cfg    config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	// sleep paces turns; nil uses the real clock.
	sleep      func(ctx context.Context, d time.Duration) error
	connector  suite.Connector
	skill      func(ctx context.Context, name string) (skill, error)
	skillNames func() ([]string, error)
}

func (a *app) exec(ctx context.Context, args []string) int {
	err := a.dispatch(ctx, args)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		_, _ = fmt.Fprintf(a.stderr, "bot-tester: %v\n", err)
		printUsage(a.stderr)
		return 2
	default:
		_, _ = fmt.Fprintf(a.stderr, "bot-tester: %v\n", err)
		return 1
	}
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		if len(rest) != 1 {
			return fmt.Errorf("%w: run <file|dir>", errUsage)
		}
		return a.runSuites(ctx, rest[0])
	case "watch":
		if len(rest) != 1 {
			return fmt.Errorf("%w: watch <dir>", errUsage)
		}
		return a.watch(ctx, rest[0])
	case "learn":
		if len(rest) < 2 || len(rest) > 3 {
			return fmt.Errorf("%w: learn <skill> <intent> [output]", errUsage)
		}
		output := ""
		if len(rest) == 3 {
			output = rest[2]
		}
		return a.learn(ctx, rest[0], rest[1], output)
	case "model":
		if len(rest) != 1 {
			return fmt.Errorf("%w: model <skill>", errUsage)
		}
		return a.model(ctx, rest[0])
	case "simulate":
		if len(rest) < 2 {
			return fmt.Errorf("%w: simulate <skill> <text...>", errUsage)
		}
		return a.simulate(ctx, rest[0], rest[1:])
	case "skills":
		return a.listSkills()
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) conversationConfig() conversation.Config {
	return conversation.Config{
		Retry:      conversation.RetryPolicy{ForgiveOnce: a.cfg.ForgiveOnce},
		TurnPacing: a.cfg.TurnPacing,
		Sleep:      a.sleep,
		Logger:     a.logger,
		Verbose:    a.cfg.Verbose,
	}
}

func (a *app) runner() *suite.Runner {
	return suite.NewRunner(a.connector, suite.RunnerConfig{
		Concurrency:  a.cfg.Concurrency,
		Conversation: a.conversationConfig(),
		Logger:       a.logger,
		Now:          a.now,
	})
}

func (a *app) runSuites(ctx context.Context, path string) error {
	suites, err := suite.Load(path)
	if err != nil {
		return err
	}
	report := a.runner().Run(ctx, suites)
	if err := suite.RenderSummary(a.stdout, report); err != nil {
		return err
	}
	if _, failed := report.Counts(); failed > 0 {
		return fmt.Errorf("%d %w", failed, errFailed)
	}
	return nil
}

func (a *app) watch(ctx context.Context, dir string) error {
	runner := a.runner()
	a.logger.Info("watching suites", "dir", dir)
	return suite.Watch(ctx, dir, suite.WatchConfig{RunOnStart: true, Logger: a.logger}, func(ctx context.Context, suites []*suite.Suite) {
		report := runner.Run(ctx, suites)
		if err := suite.RenderSummary(a.stdout, report); err != nil {
			a.logger.Error("render summary failed", "error", err)
		}
	})
}

func (a *app) learn(ctx context.Context, skillName, intent, output string) error {
	sk, err := a.skill(ctx, skillName)
	if err != nil {
		return err
	}
	model, err := sk.InteractionModel(ctx)
	if err != nil {
		return err
	}
	builder := testbuilder.New(testbuilder.Config{Now: a.now, Logger: a.logger})
	steps, err := builder.Learn(model, intent, testbuilder.NewPromptInput(a.stdin, a.stdout))
	if err != nil {
		return err
	}
	raw, err := builder.RenderSuite("", testbuilder.Target{
		Platform: suite.PlatformAlexa,
		Skill:    skillName,
		Locale:   a.cfg.Locale,
	}, intent, steps)
	if err != nil {
		return err
	}
	if output == "" {
		_, err = a.stdout.Write(raw)
		return err
	}
	if err := os.WriteFile(output, raw, 0o644); err != nil {
		return fmt.Errorf("write suite: %w", err)
	}
	_, _ = fmt.Fprintf(a.stdout, "wrote %s\n", output)
	return nil
}

func (a *app) model(ctx context.Context, skillName string) error {
	sk, err := a.skill(ctx, skillName)
	if err != nil {
		return err
	}
	model, err := sk.InteractionModel(ctx)
	if err != nil {
		return err
	}
	etag, err := sk.InteractionModelETag(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stdout, "etag: %s\n", etag)
	model.Dump(a.stdout)
	return nil
}

func (a *app) simulate(ctx context.Context, skillName string, texts []string) error {
	sk, err := a.skill(ctx, skillName)
	if err != nil {
		return err
	}
	outcomes, err := conversation.RunScript(ctx, sk, texts, conversation.NewGuesser(nil), a.conversationConfig())
	for _, o := range outcomes {
		_, _ = fmt.Fprintf(a.stdout, "< %s\n", outcomeLine(o))
	}
	return err
}

func (a *app) listSkills() error {
	names, err := a.skillNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		_, _ = fmt.Fprintln(a.stdout, name)
	}
	return nil
}

func outcomeLine(o dialog.Outcome) string {
	var out []string
	for _, s := range []*dialog.Speech{o.Speech, o.RepromptSpeech} {
		if s == nil {
			continue
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, " | ")
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "bot-tester usage:")
	_, _ = fmt.Fprintln(w, "  bot-tester run <file|dir>")
	_, _ = fmt.Fprintln(w, "  bot-tester watch <dir>")
	_, _ = fmt.Fprintln(w, "  bot-tester learn <skill> <intent> [output]")
	_, _ = fmt.Fprintln(w, "  bot-tester model <skill>")
	_, _ = fmt.Fprintln(w, "  bot-tester simulate <skill> <text...>")
	_, _ = fmt.Fprintln(w, "  bot-tester skills")
	_, _ = fmt.Fprintln(w, "Simulate texts may use $random and $guess to play number guessing skills.")
}
