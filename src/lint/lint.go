// Package lint runs psalm on a single PHP file and turns what it finds into diagnostics.
package lint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/psalm-langserver/src/cli"
	"github.com/thought-machine/psalm-langserver/src/core"
	"github.com/thought-machine/psalm-langserver/src/metrics"
	"github.com/thought-machine/psalm-langserver/src/process"
)

var log = logging.MustGetLogger("lint")

// A Linter runs psalm for individual files.
type Linter struct {
	config   *core.Configuration
	executor *process.Executor
	record   func(result metrics.Result, duration time.Duration, issues int)
}

// New creates a new Linter.
func New(config *core.Configuration, executor *process.Executor) *Linter {
	return &Linter{config: config, executor: executor, record: metrics.Record}
}

// Config returns the configuration this linter was created with.
func (l *Linter) Config() *core.Configuration {
	return l.config
}

// Target resolves a file into a lint target. It returns ErrNotApplicable for files we don't lint.
func (l *Linter) Target(roots []string, filename string) (*Target, error) {
	t, err := NewTarget(l.config, roots, filename)
	if err != nil {
		l.record(metrics.Skipped, 0, 0)
	}
	return t, err
}

// Lint runs psalm on the given target and returns the issues it found.
// Psalm exits unsuccessfully whenever it finds anything, so the exit status alone isn't treated
// as a failure; it's only an error if the output can't be parsed or the run didn't complete.
func (l *Linter) Lint(ctx context.Context, target *Target) ([]Issue, error) {
	stages, err := Command(l.config, target.Path)
	if err != nil {
		l.record(metrics.Failure, 0, 0)
		return nil, err
	}
	p := process.Pipeline{
		Dir:       target.Root,
		Timeout:   time.Duration(l.config.Psalm.Timeout),
		MaxStderr: int(l.config.Psalm.MaxStderr),
		Stages:    stages,
	}
	log.Debug("Linting %s in %s: %s", target.Path, target.Root, p)
	start := time.Now()
	stdout, stderr, err := l.executor.ExecPipeline(ctx, p)
	duration := time.Since(start)
	if ctx.Err() != nil {
		l.record(metrics.Cancelled, duration, 0)
		return nil, err
	} else if errors.Is(err, context.DeadlineExceeded) {
		log.Warning("Timed out linting %s after %s", target.Path, duration.Round(time.Millisecond))
		l.record(metrics.Failure, duration, 0)
		return nil, err
	}
	issues, perr := ParseIssues(stdout)
	if perr != nil {
		l.record(metrics.Failure, duration, 0)
		return nil, failure(perr, err, stderr)
	} else if err != nil {
		log.Debug("psalm reported issues for %s: %s", target.Path, err)
	}
	log.Info("Linted %s in %s: %d issues", target.Path, duration.Round(time.Millisecond), len(issues))
	l.record(metrics.Success, duration, len(issues))
	return issues, nil
}

// LintFile is a convenience that resolves and lints a single file.
func (l *Linter) LintFile(ctx context.Context, roots []string, filename string) (*Target, []Issue, error) {
	target, err := l.Target(roots, filename)
	if err != nil {
		return nil, nil, err
	}
	issues, err := l.Lint(ctx, target)
	return target, issues, err
}

// failure combines the reasons a run failed into a single error, with whatever psalm wrote to stderr.
func failure(parseErr, execErr error, stderr []byte) error {
	err := parseErr
	if execErr != nil {
		err = fmt.Errorf("%w: %w", execErr, parseErr)
	}
	if s := strings.TrimSpace(string(cli.StripAnsi.ReplaceAllLiteral(stderr, nil))); s != "" {
		return fmt.Errorf("%w\n%s", err, s)
	}
	return err
}
