package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alessio/shellescape"
	"github.com/hashicorp/go-multierror"
)

// A Pipeline is a sequence of commands, each with its stdout connected to the next one's stdin.
type Pipeline struct {
	// Dir is the working directory of every command.
	Dir string
	// Env is the environment of every command. If it's nil they inherit ours.
	Env []string
	// Timeout applies to the pipeline as a whole. Zero means no timeout.
	Timeout time.Duration
	// MaxStderr is the most stderr that is kept. Zero means no limit.
	MaxStderr int
	// Stages are the argv of each command, in order.
	Stages [][]string
}

// String returns the equivalent shell command line, for logging.
func (p Pipeline) String() string {
	parts := make([]string, len(p.Stages))
	for i, stage := range p.Stages {
		parts[i] = shellescape.QuoteCommand(stage)
	}
	return strings.Join(parts, " | ")
}

// ExecPipeline runs a pipeline to completion. It returns the stdout of the final stage,
// the stderr of all stages and any error that occurred.
// A stage exiting unsuccessfully doesn't stop the others; the errors of all stages are combined.
// If the context is done or the timeout expires first, every stage is killed and the error
// wraps the context's error.
func (e *Executor) ExecPipeline(ctx context.Context, p Pipeline) ([]byte, []byte, error) {
	if len(p.Stages) == 0 {
		return nil, nil, fmt.Errorf("empty pipeline")
	}
	for i, stage := range p.Stages {
		if len(stage) == 0 {
			return nil, nil, fmt.Errorf("stage %d of pipeline is empty", i+1)
		}
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var stdout bytes.Buffer
	stderr := &safeBuffer{limit: p.MaxStderr}
	cmds := make([]*exec.Cmd, len(p.Stages))
	for i, argv := range p.Stages {
		cmd := e.ExecCommand(argv[0], argv[1:]...)
		cmd.Dir = p.Dir
		cmd.Env = p.Env
		cmd.Stderr = stderr
		cmds[i] = cmd
	}
	cmds[len(cmds)-1].Stdout = &stdout
	if err := e.start(cmds); err != nil {
		return nil, stderr.Bytes(), err
	}

	// We deliberately don't use CommandContext because it will only send SIGKILL to the
	// immediate child, and docker-compose deserves a chance to clean up after itself.
	errs := make([]error, len(cmds))
	done := make([]chan struct{}, len(cmds))
	// Every stage's exit status is wanted, not just the first failure, so this is a plain WaitGroup.
	var wg sync.WaitGroup
	for i, cmd := range cmds {
		done[i] = make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done[i])
			defer e.removeProcess(cmd)
			errs[i] = cmd.Wait()
		}()
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		var kill sync.WaitGroup
		for i, cmd := range cmds {
			kill.Add(1)
			go func() {
				defer kill.Done()
				e.KillProcess(cmd, done[i])
			}()
		}
		kill.Wait()
		<-finished
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s: %w", p.Stages[0][0], ctx.Err())
	}

	var result *multierror.Error
	for i, err := range errs {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("stage %d of %d (%s): %w", i+1, len(cmds), p.Stages[i][0], err))
		}
	}
	if result != nil {
		result.ErrorFormat = joinErrors
	}
	return stdout.Bytes(), stderr.Bytes(), result.ErrorOrNil()
}

// start connects the commands' stdin & stdout together and starts them all.
// If any of them fails to start, the ones already started are killed.
func (e *Executor) start(cmds []*exec.Cmd) error {
	var pipes []*os.File
	// Our copies of the pipes must be closed once the children have them, otherwise the readers never see EOF.
	defer func() {
		for _, f := range pipes {
			f.Close()
		}
	}()
	for i := 0; i < len(cmds)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			e.discard(cmds, 0)
			return err
		}
		pipes = append(pipes, r, w)
		cmds[i].Stdout = w
		cmds[i+1].Stdin = r
	}
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			e.discard(cmds, i)
			return fmt.Errorf("failed to start %s: %w", cmd.Args[0], err)
		}
	}
	return nil
}

// discard kills the first n commands, which have been started, and forgets about all of them.
func (e *Executor) discard(cmds []*exec.Cmd, n int) {
	for _, cmd := range cmds[:n] {
		signalGroup(cmd, syscall.SIGKILL)
		cmd.Wait()
	}
	for _, cmd := range cmds {
		e.removeProcess(cmd)
	}
}

// joinErrors formats a multierror on a single line.
func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
