package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sourcegraph/jsonrpc2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/psalm-langserver/src/cli"
	"github.com/thought-machine/psalm-langserver/src/core"
	"github.com/thought-machine/psalm-langserver/src/lint"
	"github.com/thought-machine/psalm-langserver/src/mcp"
	"github.com/thought-machine/psalm-langserver/src/metrics"
	"github.com/thought-machine/psalm-langserver/src/output"
	"github.com/thought-machine/psalm-langserver/src/process"
	"github.com/thought-machine/psalm-langserver/src/scm"
	"github.com/thought-machine/psalm-langserver/src/watch"
	"github.com/thought-machine/psalm-langserver/tools/psalm_langserver/lsp"
)

var log = logging.MustGetLogger("psalm_langserver")

const version = "1.0.0"

var opts = struct {
	Usage        string
	Verbosity    cli.Verbosity `short:"v" long:"verbosity" default:"warning" description:"Verbosity of output (higher number = more output)"`
	LogFile      cli.Filepath  `long:"log_file" description:"File to echo full logging output to"`
	LogFileLevel cli.Verbosity `long:"log_file_level" default:"debug" description:"Log level for file output"`
	Config       cli.Filepaths `short:"c" long:"config" description:"Additional config files to read. Can be given more than once."`

	Serve struct {
		Mode string `short:"m" long:"mode" default:"stdio" choice:"stdio" choice:"tcp" description:"Mode of the language server communication"`
		Host string `short:"H" long:"host" default:"127.0.0.1" description:"TCP host to listen on"`
		Port int    `short:"p" long:"port" default:"4387" description:"TCP port to listen on"`
	} `command:"serve" description:"Runs the language server"`

	Lint struct {
		Root cli.Filepaths `short:"r" long:"root" description:"Workspace root. Can be given more than once; defaults to the enclosing git repository."`
		Jobs int           `short:"j" long:"jobs" default:"4" description:"Number of files to lint at once"`
		Args struct {
			Files cli.Filepaths `positional-arg-name:"files" required:"true" description:"Files to lint"`
		} `positional-args:"true"`
	} `command:"lint" description:"Lints files once and prints the results"`

	Watch struct {
		Root cli.Filepaths `short:"r" long:"root" description:"Workspace root to watch. Can be given more than once; defaults to the enclosing git repository."`
		Jobs int           `short:"j" long:"jobs" default:"4" description:"Number of files to lint at once"`
	} `command:"watch" description:"Watches for changes to files and lints them"`

	MCP struct {
		Root cli.Filepaths `short:"r" long:"root" description:"Workspace root. Can be given more than once; defaults to the enclosing git repository."`
	} `command:"mcp" description:"Runs a Model Context Protocol server on stdio"`
}{
	Usage: `
psalm_langserver runs psalm inside a docker-compose service on PHP files as they're saved,
filters the results through the project's baseline and reports them as diagnostics.

It speaks the language server protocol; plug it into your editor with the serve command.
The lint and watch commands do the same from a terminal, and mcp exposes it to coding assistants.
`,
}

var commands = map[string]func(config *core.Configuration, configFiles []string, executor *process.Executor) bool{
	"serve": serve,
	"lint":  lintOnce,
	"watch": watchFiles,
	"mcp":   serveMCP,
}

func main() {
	command := cli.ParseFlagsOrDie("psalm_langserver", &opts)
	cli.InitLogging(opts.Verbosity)
	if opts.LogFile != "" {
		cli.InitFileLogging(string(opts.LogFile), opts.LogFileLevel, false)
	}
	configFiles := append(core.DefaultConfigFiles(), opts.Config.AsStrings()...)
	config, err := core.ReadConfigFiles(configFiles)
	if err != nil {
		log.Fatalf("Error reading config file: %s", err)
	}
	metrics.InitFromConfig(config)
	success := commands[command](config, configFiles, process.New())
	metrics.Stop()
	cli.RunAtExit()
	if !success {
		os.Exit(1)
	}
}

func serve(config *core.Configuration, configFiles []string, executor *process.Executor) bool {
	newHandler := func() *lsp.Handler {
		return lsp.NewHandler(config, configFiles, func(config *core.Configuration) lsp.Linter {
			return lint.New(config, executor)
		})
	}
	if opts.Serve.Mode == "tcp" {
		addr := net.JoinHostPort(opts.Serve.Host, strconv.Itoa(opts.Serve.Port))
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Error("Failed to listen on %s: %s", addr, err)
			return false
		}
		log.Notice("psalm_langserver: listening on %s", addr)
		for {
			conn, err := lis.Accept()
			if err != nil {
				log.Error("Failed to accept connection: %s", err)
				return false
			}
			log.Info("Accepted connection from %s", conn.RemoteAddr())
			go func() {
				<-newConn(conn, newHandler()).DisconnectNotify()
				log.Info("connection from %s closed", conn.RemoteAddr())
			}()
		}
	}
	log.Info("psalm_langserver: reading on stdin, writing on stdout")
	<-newConn(stdrwc{}, newHandler()).DisconnectNotify()
	log.Info("connection closed")
	return true
}

func newConn(rwc io.ReadWriteCloser, handler jsonrpc2.Handler) *jsonrpc2.Conn {
	var connOpts []jsonrpc2.ConnOpt
	if cli.DebugEnabled() {
		connOpts = append(connOpts, jsonrpc2.LogMessages(&cli.RPCLogWrapper{Log: log}))
	}
	return jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}), handler, connOpts...)
}

// lintOnce lints the files given on the command line.
func lintOnce(config *core.Configuration, configFiles []string, executor *process.Executor) bool {
	roots := defaultRoots(opts.Lint.Root)
	files, err := opts.Lint.Args.Files.Abs()
	if err != nil {
		log.Fatalf("%s", err)
	}
	printer := output.Printer{Coloured: cli.StdOutIsATerminal}
	issues, failures := lintFiles(context.Background(), lint.New(config, executor), roots, files, opts.Lint.Jobs, printer)
	fmt.Print(printer.Summary(len(files), issues, failures))
	return failures == 0
}

// watchFiles lints files whenever they change, until we're killed.
func watchFiles(config *core.Configuration, configFiles []string, executor *process.Executor) bool {
	roots := defaultRoots(opts.Watch.Root)
	w, err := watch.New(roots, config.Project.Extension)
	if err != nil {
		log.Error("Error setting up watcher: %s", err)
		return false
	}
	linter := lint.New(config, executor)
	printer := output.Printer{Coloured: cli.StdOutIsATerminal}
	ctx := context.Background()
	log.Notice("And now my watch begins...")
	if err := w.Run(ctx, func(files []string) {
		lintFiles(ctx, linter, roots, files, opts.Watch.Jobs, printer)
	}); err != nil {
		log.Error("Error watching files: %s", err)
		return false
	}
	return true
}

func serveMCP(config *core.Configuration, configFiles []string, executor *process.Executor) bool {
	roots := defaultRoots(opts.MCP.Root)
	s := mcp.NewServer(lint.New(config, executor), core.NewWorkspace(roots...), version)
	if err := server.ServeStdio(s); err != nil {
		log.Error("MCP server failed: %s", err)
		return false
	}
	return true
}

// lintFiles lints the given files, up to jobs at a time, and prints the results in the order given.
// It returns the number of issues found and the number of files that couldn't be linted.
func lintFiles(ctx context.Context, linter *lint.Linter, roots, files []string, jobs int, printer output.Printer) (issues, failures int) {
	type result struct {
		target *lint.Target
		issues []lint.Issue
		err    error
	}
	results := make([]result, len(files))
	var g errgroup.Group
	g.SetLimit(max(jobs, 1))
	for i, file := range files {
		g.Go(func() error {
			target, found, err := linter.LintFile(ctx, roots, file)
			results[i] = result{target: target, issues: found, err: err}
			return nil
		})
	}
	g.Wait()
	for i, r := range results {
		if errors.Is(r.err, lint.ErrNotApplicable) {
			log.Warning("Not linting %s, it isn't in a %s project", files[i], linter.Config().Project.Name)
		} else if r.err != nil {
			failures++
			fmt.Print(printer.Failure(files[i], r.err))
		} else {
			issues += len(r.issues)
			fmt.Print(printer.Diagnostics(r.target.Path, lint.Diagnostics(r.issues)))
		}
	}
	return issues, failures
}

// defaultRoots returns the workspace roots to use for the command-line modes.
func defaultRoots(given cli.Filepaths) []string {
	roots, err := given.Abs()
	if err != nil {
		log.Fatalf("%s", err)
	}
	roots, err = scm.DefaultRoots(roots)
	if err != nil {
		log.Fatalf("Can't determine workspace root: %s", err)
	}
	log.Debug("Workspace roots: %s", roots)
	return roots
}

type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (stdrwc) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
