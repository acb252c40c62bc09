// Package lsp implements the Language Server Protocol for psalm diagnostics.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/psalm-langserver/src/core"
	"github.com/thought-machine/psalm-langserver/src/lint"
)

var log = logging.MustGetLogger("lsp")

// A Handler is a handler suitable for use with jsonrpc2.
// There is one per connection; it holds all the state of the editor session.
type Handler struct {
	Conn        Conn
	configFiles []string
	newLinter   func(*core.Configuration) Linter
	workspace   *core.Workspace

	mutex     sync.Mutex // guards everything below, and Conn
	config    *core.Configuration
	linter    Linter
	seqs      map[string]int
	cancels   map[string]context.CancelFunc
	issues    map[string][]lint.Issue
	inflight  int
	failure   error
	progress  bool
	isStopped bool
}

// A Conn is a minimal set of the jsonrpc2.Conn that we need.
type Conn interface {
	io.Closer
	// Notify sends an asynchronous notification.
	Notify(ctx context.Context, method string, params interface{}, opts ...jsonrpc2.CallOption) error
	// Call sends a request and waits for the response.
	Call(ctx context.Context, method string, params, result interface{}, opts ...jsonrpc2.CallOption) error
}

// A Linter is the part of lint.Linter that the handler uses.
type Linter interface {
	// Target resolves a file into something to lint, or returns an error if we don't lint it.
	Target(roots []string, filename string) (*lint.Target, error)
	// Lint runs psalm on a single target.
	Lint(ctx context.Context, target *lint.Target) ([]lint.Issue, error)
}

// NewHandler returns a new Handler.
// The config files are re-read on initialisation along with the workspace's own config file,
// and newLinter is called to create a linter whenever the configuration changes.
func NewHandler(config *core.Configuration, configFiles []string, newLinter func(*core.Configuration) Linter) *Handler {
	return &Handler{
		configFiles: configFiles,
		newLinter:   newLinter,
		workspace:   core.NewWorkspace(),
		config:      config,
		linter:      newLinter(config),
		seqs:        map[string]int{},
		cancels:     map[string]context.CancelFunc{},
		issues:      map[string][]lint.Issue{},
	}
}

// Handle implements the jsonrpc2.Handler interface
func (h *Handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if conn != nil {
		h.mutex.Lock()
		if h.Conn == nil {
			h.Conn = conn
		}
		h.mutex.Unlock()
	}
	resp, err := h.handle(req.Method, req.Params)
	if req.Notif {
		if err != nil {
			log.Warning("Error handling %s: %s", req.Method, err)
		}
		return
	} else if err != nil {
		rpcErr := &jsonrpc2.Error{}
		if !errors.As(err, &rpcErr) {
			rpcErr = &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		}
		if err := conn.ReplyWithError(ctx, req.ID, rpcErr); err != nil {
			log.Error("Failed to send error response: %s", err)
		}
	} else if err := conn.Reply(ctx, req.ID, resp); err != nil {
		log.Error("Failed to send response: %s", err)
	}
}

// handle is the slightly higher-level handler that deals with individual methods.
func (h *Handler) handle(method string, params *json.RawMessage) (res interface{}, err error) {
	start := time.Now()
	log.Debug("Received %s message", method)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic in handler for %s: %s", method, r)
			log.Debug("%s\n%v", r, string(debug.Stack()))
			err = &jsonrpc2.Error{
				Code:    jsonrpc2.CodeInternalError,
				Message: fmt.Sprintf("%s", r),
			}
		} else {
			log.Debug("Handled %s message in %s", method, time.Since(start))
		}
	}()

	switch method {
	case "initialize":
		initParams := &initializeParams{}
		if err := unmarshal(params, initParams); err != nil {
			return nil, err
		}
		return h.initialize(initParams)
	case "initialized", "$/cancelRequest":
		// Nothing we answer takes long enough to be worth cancelling.
		return nil, nil
	case "shutdown":
		h.shutdown()
		return nil, nil
	case "exit":
		// exit is a request to terminate the process. We do this preferably by shutting
		// down the RPC connection but if we can't we just die.
		h.shutdown()
		h.mutex.Lock()
		conn := h.Conn
		h.mutex.Unlock()
		if conn != nil {
			if err := conn.Close(); err != nil {
				log.Fatalf("Failed to close connection: %s", err)
			}
		} else {
			log.Fatalf("No active connection to shut down")
		}
		return nil, nil
	case "textDocument/didOpen":
		didOpenParams := &lsp.DidOpenTextDocumentParams{}
		if err := unmarshal(params, didOpenParams); err != nil {
			return nil, err
		}
		return nil, h.lintDocument(didOpenParams.TextDocument.URI)
	case "textDocument/didChange":
		// psalm reads files from disk so there's nothing to do until they're saved.
		return nil, nil
	case "textDocument/didSave":
		didSaveParams := &lsp.DidSaveTextDocumentParams{}
		if err := unmarshal(params, didSaveParams); err != nil {
			return nil, err
		}
		return nil, h.lintDocument(didSaveParams.TextDocument.URI)
	case "textDocument/didClose":
		didCloseParams := &lsp.DidCloseTextDocumentParams{}
		if err := unmarshal(params, didCloseParams); err != nil {
			return nil, err
		}
		return nil, h.didClose(didCloseParams)
	case "textDocument/hover":
		positionParams := &lsp.TextDocumentPositionParams{}
		if err := unmarshal(params, positionParams); err != nil {
			return nil, err
		}
		return h.hover(positionParams)
	case "workspace/didChangeWorkspaceFolders":
		foldersParams := &didChangeWorkspaceFoldersParams{}
		if err := unmarshal(params, foldersParams); err != nil {
			return nil, err
		}
		return nil, h.didChangeWorkspaceFolders(foldersParams)
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not supported: " + method}
	}
}

// unmarshal decodes the params of a message.
func unmarshal(params *json.RawMessage, v interface{}) error {
	if params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	} else if err := json.Unmarshal(*params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

type initializeParams struct {
	lsp.InitializeParams
	// This hides the embedded one, which doesn't know about window capabilities.
	Capabilities     clientCapabilities `json:"capabilities"`
	WorkspaceFolders []workspaceFolder  `json:"workspaceFolders,omitempty"`
}

type clientCapabilities struct {
	Window struct {
		WorkDoneProgress bool `json:"workDoneProgress,omitempty"`
	} `json:"window,omitempty"`
}

type initializeResult struct {
	Capabilities serverCapabilities `json:"capabilities"`
}

type serverCapabilities struct {
	lsp.ServerCapabilities
	Workspace *workspaceCapabilities `json:"workspace,omitempty"`
}

type workspaceCapabilities struct {
	WorkspaceFolders struct {
		Supported           bool `json:"supported"`
		ChangeNotifications bool `json:"changeNotifications"`
	} `json:"workspaceFolders"`
}

func (h *Handler) initialize(params *initializeParams) (*initializeResult, error) {
	roots, err := params.roots()
	if err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	for _, root := range roots {
		h.workspace.Add(root)
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if len(roots) > 0 {
		configFiles := append(append([]string{}, h.configFiles...), core.ProjectConfigFile(roots[0]))
		if config, err := core.ReadConfigFiles(configFiles); err != nil {
			log.Error("Error reading configuration, keeping the existing one: %s", err)
		} else {
			h.config = config
			h.linter = h.newLinter(config)
		}
	}
	h.progress = params.Capabilities.Window.WorkDoneProgress
	log.Info("Initialised with workspace roots %s", roots)
	result := &initializeResult{
		Capabilities: serverCapabilities{
			ServerCapabilities: lsp.ServerCapabilities{
				TextDocumentSync: &lsp.TextDocumentSyncOptionsOrKind{
					Options: &lsp.TextDocumentSyncOptions{
						OpenClose: true,
						Change:    lsp.TDSKNone,
						Save:      &lsp.SaveOptions{},
					},
				},
				HoverProvider: true,
			},
			Workspace: &workspaceCapabilities{},
		},
	}
	result.Capabilities.Workspace.WorkspaceFolders.Supported = true
	result.Capabilities.Workspace.WorkspaceFolders.ChangeNotifications = true
	return result, nil
}

// shutdown cancels everything that's running.
func (h *Handler) shutdown() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.isStopped {
		return
	}
	h.isStopped = true
	for filename, cancel := range h.cancels {
		h.seqs[filename]++
		cancel()
		delete(h.cancels, filename)
	}
}
