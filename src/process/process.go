// Package process implements generic subprocess management functions.
package process

import (
	"bytes"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/psalm-langserver/src/cli"
)

var log = logging.MustGetLogger("process")

// termGracePeriod is how long a process group gets to exit after a SIGTERM before it gets a SIGKILL.
const termGracePeriod = 100 * time.Millisecond

// An Executor handles starting, running and monitoring a set of subprocesses.
// It registers as a signal handler to attempt to terminate them all at process exit.
type Executor struct {
	processes map[*exec.Cmd]struct{}
	mutex     sync.Mutex
}

// New returns a new Executor.
func New() *Executor {
	o := &Executor{
		processes: map[*exec.Cmd]struct{}{},
	}
	cli.AtExit(o.killAll) // Kill any subprocess if we are ourselves killed
	return o
}

func (e *Executor) registerProcess(cmd *exec.Cmd) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.processes[cmd] = struct{}{}
}

func (e *Executor) removeProcess(cmd *exec.Cmd) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.processes, cmd)
}

// KillProcess kills a process group, attempting to send it a SIGTERM first followed by a SIGKILL
// shortly after if it hasn't exited. done must be closed by whoever is waiting on the process once it has.
func (e *Executor) KillProcess(cmd *exec.Cmd, done <-chan struct{}) {
	if !signalGroup(cmd, syscall.SIGTERM) || !waitFor(done, termGracePeriod) {
		signalGroup(cmd, syscall.SIGKILL)
		if !waitFor(done, time.Second) {
			log.Error("Failed to kill inferior process %d", cmd.Process.Pid)
		}
	}
	e.removeProcess(cmd)
}

// signalGroup sends a signal to the process group of the given command.
// It returns false if the command was never started.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) bool {
	if cmd.Process == nil {
		log.Debug("Not signalling process, it seems to have not started yet")
		return false
	}
	log.Debug("Sending signal %s to -%d", sig, cmd.Process.Pid)
	syscall.Kill(-cmd.Process.Pid, sig) // Kill the group - we always set one in ExecCommand.
	return true
}

// waitFor waits for the channel to close or the timeout to expire, whichever comes first.
// It returns true if the channel closed.
func waitFor(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// killAll kills all subprocesses of this executor.
// Nothing is necessarily waiting on them so this doesn't hang around to see them go.
func (e *Executor) killAll() {
	e.mutex.Lock()
	processes := make([]*exec.Cmd, 0, len(e.processes))
	for proc := range e.processes {
		processes = append(processes, proc)
	}
	e.processes = map[*exec.Cmd]struct{}{}
	e.mutex.Unlock()

	for _, proc := range processes {
		signalGroup(proc, syscall.SIGTERM)
	}
	if len(processes) > 0 {
		time.Sleep(termGracePeriod)
		for _, proc := range processes {
			signalGroup(proc, syscall.SIGKILL)
		}
	}
}

// safeBuffer is an io.Writer that ensures that only one thread writes to it at a time.
// This is important because several processes in a pipeline write their stderr to the same buffer.
// Anything written past the limit is discarded; a zero limit keeps everything.
type safeBuffer struct {
	sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (sb *safeBuffer) Write(b []byte) (int, error) {
	sb.Lock()
	defer sb.Unlock()
	if sb.limit > 0 {
		if remaining := sb.limit - sb.buf.Len(); remaining < len(b) {
			if remaining > 0 {
				sb.buf.Write(b[:remaining])
			}
			return len(b), nil
		}
	}
	return sb.buf.Write(b)
}

func (sb *safeBuffer) Bytes() []byte {
	sb.Lock()
	defer sb.Unlock()
	return sb.buf.Bytes()
}
