package lsp

import (
	"context"
	"path/filepath"

	"github.com/sourcegraph/go-lsp"

	"github.com/thought-machine/psalm-langserver/src/lint"
)

// lintDocument starts a lint of a document, if it's one we lint.
// Deciding that happens synchronously; the lint itself runs in the background.
func (h *Handler) lintDocument(uri lsp.DocumentURI) error {
	filename, err := fromURI(uri)
	if err != nil {
		return invalidParams(err)
	}
	h.mutex.Lock()
	linter := h.linter
	stopped := h.isStopped
	h.mutex.Unlock()
	if stopped {
		log.Warning("Not linting %s, server is shutting down", filename)
		return nil
	}
	target, err := linter.Target(h.workspace.Roots(), filename)
	if err != nil {
		log.Debug("Not linting %s: %s", filename, err)
		return nil
	}
	ctx, seq := h.start(target)
	go h.run(ctx, seq, uri, linter, target)
	return nil
}

// start registers a new run for a file, superseding any that's already going.
func (h *Handler) start(target *lint.Target) (context.Context, int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if cancel, present := h.cancels[target.Filename]; present {
		log.Debug("Cancelling previous run for %s", target.Path)
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.seqs[target.Filename]++
	h.cancels[target.Filename] = cancel
	h.inflight++
	if h.inflight == 1 {
		h.setStatus(linting, target.Path)
	}
	return ctx, h.seqs[target.Filename]
}

// run lints a target and reports the results, if they're still wanted by then.
func (h *Handler) run(ctx context.Context, seq int, uri lsp.DocumentURI, linter Linter, target *lint.Target) {
	token := h.beginProgress(ctx, target)
	issues, err := linter.Lint(ctx, target)
	h.endProgress(token)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.inflight--
	if latest := h.seqs[target.Filename]; seq != latest {
		log.Debug("Discarding results of run %d for %s, run %d has started since", seq, target.Path, latest)
	} else {
		if cancel, present := h.cancels[target.Filename]; present {
			cancel()
			delete(h.cancels, target.Filename)
		}
		if err != nil {
			h.fail(err)
		} else {
			h.failure = nil
			h.issues[target.Filename] = issues
			h.publish(uri, lint.Diagnostics(issues))
		}
	}
	if h.inflight == 0 {
		if h.failure != nil {
			h.setStatus(failed, h.failure.Error())
		} else {
			h.setStatus(ready, "")
		}
	}
}

// fail is the fatal error path for a run. The error is reported to the user and logged.
// The mutex must be held when calling it.
func (h *Handler) fail(err error) {
	log.Error("psalm failed: %s", err)
	h.failure = err
	h.notify("window/logMessage", &lsp.LogMessageParams{
		Type:    lsp.MTError,
		Message: err.Error(),
	})
	h.notify("window/showMessage", &lsp.ShowMessageParams{
		Type:    lsp.MTWarning,
		Message: statusText(failed, err.Error()),
	})
}

// publish sends diagnostics for a single file. The mutex must be held when calling it.
func (h *Handler) publish(uri lsp.DocumentURI, diags []lsp.Diagnostic) {
	h.notify("textDocument/publishDiagnostics", &lsp.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

// notify sends a notification to the client, if there is one. The mutex must be held when calling it
// so notifications arrive in the order the state changed.
func (h *Handler) notify(method string, params interface{}) {
	if h.Conn == nil {
		log.Debug("No connection, dropping %s notification", method)
		return
	}
	if err := h.Conn.Notify(context.Background(), method, params); err != nil {
		log.Error("Failed to send %s notification: %s", method, err)
	}
}

func (h *Handler) didClose(params *lsp.DidCloseTextDocumentParams) error {
	filename, err := fromURI(params.TextDocument.URI)
	if err != nil {
		return invalidParams(err)
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if cancel, present := h.cancels[filename]; present {
		log.Debug("Cancelling run for closed file %s", filepath.Base(filename))
		h.seqs[filename]++
		cancel()
		delete(h.cancels, filename)
	}
	return nil
}
