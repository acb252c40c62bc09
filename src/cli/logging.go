// Contains various utility functions related to logging.

package cli

import (
	"io"
	"os"
	"path"
	"strings"

	cli "github.com/peterebden/go-cli-init/v5/logging"
	"github.com/peterebden/go-deferred-regex"
	"golang.org/x/term"
	"gopkg.in/op/go-logging.v1"

	logger "github.com/thought-machine/psalm-langserver/src/cli/logging"
)

var log = logger.Log

// StdErrIsATerminal is true if the process' stderr is an interactive TTY.
var StdErrIsATerminal = IsATerminal(os.Stderr)

// StdOutIsATerminal is true if the process' stdout is an interactive TTY.
// It is never true while serving the language server over stdio.
var StdOutIsATerminal = IsATerminal(os.Stdout)

// StripAnsi is a regex to find & replace ANSI console escape sequences.
var StripAnsi = deferredregex.DeferredRegex{Re: "\x1b[^m]+m"}

// logLevel is the current verbosity level that is set.
var logLevel = logging.WARNING

var fileLogLevel = logging.WARNING
var fileBackend logging.Backend

// A Verbosity is used as a flag to define logging verbosity.
type Verbosity = cli.Verbosity

// InitLogging initialises logging backends.
// Everything goes to stderr; stdout belongs to whatever protocol we're speaking.
func InitLogging(verbosity Verbosity) {
	logLevel = logging.Level(verbosity)
	setLogBackend(logging.NewLogBackend(os.Stderr, "", 0))
}

// InitFileLogging initialises an optional logging backend to a file.
func InitFileLogging(logFile string, logFileLevel Verbosity, append bool) {
	fileLogLevel = logging.Level(logFileLevel)
	if err := os.MkdirAll(path.Dir(logFile), os.ModeDir|0775); err != nil {
		log.Fatalf("Error creating log file directory: %s", err)
	}
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if append {
		flags = os.O_RDWR | os.O_CREATE | os.O_APPEND
	}
	file, err := os.OpenFile(logFile, flags, 0666)
	if err != nil {
		log.Fatalf("Error opening log file: %s", err)
	}
	fileBackend = logging.NewBackendFormatter(logging.NewLogBackend(logFileWriter{file: file}, "", 0), logFormatter(false))
	setLogBackend(logging.NewLogBackend(os.Stderr, "", 0))
	AtExit(func() {
		fileBackend = nil
		setLogBackend(logging.NewLogBackend(os.Stderr, "", 0))
		file.Close()
	})
}

// logFileWriter strips any ANSI codes that make it through to the file.
type logFileWriter struct {
	file io.Writer
}

func (writer logFileWriter) Write(p []byte) (n int, err error) {
	if _, err := writer.file.Write(StripAnsi.ReplaceAllLiteral(p, []byte{})); err != nil {
		return 0, err
	}
	return len(p), nil
}

func logFormatter(coloured bool) logging.Formatter {
	formatStr := "%{time:15:04:05.000} %{level:7s}: %{message}"
	if coloured {
		formatStr = "%{color}" + formatStr + "%{color:reset}"
	}
	return logging.MustStringFormatter(formatStr)
}

func setLogBackend(backend logging.Backend) {
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, logFormatter(StdErrIsATerminal)))
	leveled.SetLevel(logLevel, "")
	if fileBackend == nil {
		logging.SetBackend(leveled)
		return
	}
	fileLeveled := logging.AddModuleLevel(fileBackend)
	fileLeveled.SetLevel(fileLogLevel, "")
	logging.SetBackend(leveled, fileLeveled)
}

// RPCLogWrapper wraps a logger to implement the jsonrpc2 Logger interface.
// Protocol traffic is noisy so it all goes out at debug level.
type RPCLogWrapper struct {
	Log *logging.Logger
}

// Printf implements the jsonrpc2.Logger interface.
func (w *RPCLogWrapper) Printf(tmpl string, args ...interface{}) {
	w.Log.Debugf(strings.TrimRight(tmpl, "\n"), args...)
}

// IsATerminal returns true if the given file is an interactive TTY.
func IsATerminal(file *os.File) bool {
	return term.IsTerminal(int(file.Fd()))
}

// DebugEnabled returns true if we're logging at debug verbosity to any backend.
func DebugEnabled() bool {
	return logLevel >= logging.DEBUG || (fileBackend != nil && fileLogLevel >= logging.DEBUG)
}
