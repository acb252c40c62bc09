package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/psalm-langserver/src/core"
	"github.com/thought-machine/psalm-langserver/src/lint"
)

// timeout is how long we wait for things that should happen.
const timeout = 5 * time.Second

// quiet is how long we wait to be sure that something doesn't happen.
const quiet = 100 * time.Millisecond

type message struct {
	Method  string
	Payload interface{}
}

type rpc struct {
	Closed        bool
	Notifications chan message
	Calls         chan message
}

func newRPC() *rpc {
	return &rpc{
		Notifications: make(chan message, 100),
		Calls:         make(chan message, 100),
	}
}

func (r *rpc) Close() error {
	r.Closed = true
	return nil
}

func (r *rpc) Notify(ctx context.Context, method string, params interface{}, opts ...jsonrpc2.CallOption) error {
	r.Notifications <- message{Method: method, Payload: params}
	return nil
}

func (r *rpc) Call(ctx context.Context, method string, params, result interface{}, opts ...jsonrpc2.CallOption) error {
	r.Calls <- message{Method: method, Payload: params}
	return nil
}

// next returns the next notification sent to the client.
func (r *rpc) next(t *testing.T) message {
	select {
	case msg := <-r.Notifications:
		return msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a notification")
		return message{}
	}
}

func (r *rpc) expectNothing(t *testing.T) {
	select {
	case msg := <-r.Notifications:
		t.Errorf("unexpected %s notification: %#v", msg.Method, msg.Payload)
	case <-time.After(quiet):
	}
}

// A fakeLinter hands each run to the test, which decides when and how it completes.
type fakeLinter struct {
	config *core.Configuration
	calls  chan *call
}

type call struct {
	Target *lint.Target
	Ctx    context.Context
	result chan result
}

type result struct {
	issues []lint.Issue
	err    error
}

func (c *call) complete(issues []lint.Issue, err error) {
	c.result <- result{issues: issues, err: err}
}

func (f *fakeLinter) Target(roots []string, filename string) (*lint.Target, error) {
	return lint.NewTarget(f.config, roots, filename)
}

func (f *fakeLinter) Lint(ctx context.Context, target *lint.Target) ([]lint.Issue, error) {
	c := &call{Target: target, Ctx: ctx, result: make(chan result)}
	f.calls <- c
	r := <-c.result
	return r.issues, r.err
}

// next returns the next run that's started.
func (f *fakeLinter) next(t *testing.T) *call {
	select {
	case c := <-f.calls:
		return c
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a lint run")
		return nil
	}
}

func (f *fakeLinter) expectNothing(t *testing.T) {
	select {
	case c := <-f.calls:
		t.Errorf("unexpected lint of %s", c.Target.Filename)
	case <-time.After(quiet):
	}
}

// newHandler returns a new handler that isn't initialised yet.
func newHandler(t *testing.T) (*Handler, *fakeLinter) {
	config, err := core.ReadConfigFiles(nil)
	require.NoError(t, err)
	linter := &fakeLinter{calls: make(chan *call, 10)}
	h := NewHandler(config, nil, func(config *core.Configuration) Linter {
		linter.config = config
		return linter
	})
	return h, linter
}

// initHandler is a wrapper around creating a new handler and initializing it on a new
// monitored project, which is returned.
func initHandler(t *testing.T) (*Handler, *rpc, *fakeLinter, string) {
	root := newProject(t, "plotbox-io/plotbox-app")
	h, linter := newHandler(t)
	r := newRPC()
	h.Conn = r
	require.NoError(t, h.Request("initialize", &initializeParams{
		WorkspaceFolders: []workspaceFolder{{URI: toURI(root)}},
	}, nil))
	require.NoError(t, h.Request("initialized", struct{}{}, nil))
	return h, r, linter, root
}

// newProject creates a project root with a manifest of the given name.
func newProject(t *testing.T, name string) string {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "composer.json"), []byte(`{"config": {"name": "`+name+`"}}`), 0644)
	require.NoError(t, err)
	return dir
}

func toURI(filename string) lsp.DocumentURI {
	return lsp.DocumentURI("file://" + filename)
}

func marshal(t *testing.T, v interface{}) *json.RawMessage {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	msg := json.RawMessage(b)
	return &msg
}

func save(t *testing.T, h *Handler, uri lsp.DocumentURI) {
	require.NoError(t, h.Request("textDocument/didSave", &lsp.DidSaveTextDocumentParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: uri},
	}, nil))
}

func foldersChange(added, removed []string) *didChangeWorkspaceFoldersParams {
	params := &didChangeWorkspaceFoldersParams{}
	for _, root := range added {
		params.Event.Added = append(params.Event.Added, workspaceFolder{URI: toURI(root)})
	}
	for _, root := range removed {
		params.Event.Removed = append(params.Event.Removed, workspaceFolder{URI: toURI(root)})
	}
	return params
}

func assertCode(t *testing.T, code int64, err error) {
	rpcErr := &jsonrpc2.Error{}
	if assert.True(t, errors.As(err, &rpcErr), "expected a jsonrpc2 error, got %v", err) {
		assert.Equal(t, code, rpcErr.Code)
	}
}

// Request is a slightly higher-level wrapper for testing that handles JSON serialisation.
func (h *Handler) Request(method string, req, resp interface{}) error {
	b, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("failed to encode request: %s", err)
	}
	msg := json.RawMessage(b)
	i, e := h.handle(method, &msg)
	if e != nil || resp == nil {
		return e
	}
	// serialise and deserialise, great...
	b, err = json.Marshal(i)
	if err != nil {
		log.Fatalf("failed to encode response: %s", err)
	} else if err := json.Unmarshal(b, resp); err != nil {
		log.Fatalf("failed to decode response: %s", err)
	}
	return e
}
