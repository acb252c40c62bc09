package lsp

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/thought-machine/psalm-langserver/src/lint"
)

// A state is the overall state of the server, as shown in the editor's status bar.
type state string

const (
	linting state = "linting"
	ready   state = "ready"
	failed  state = "failed"
)

// statusParams are the params of the psalm/status notification.
type statusParams struct {
	State   state  `json:"state"`
	Text    string `json:"text"`
	Tooltip string `json:"tooltip,omitempty"`
}

// statusText returns the text shown for a state. For failures the detail is the error.
func statusText(s state, detail string) string {
	switch s {
	case linting:
		return "Psalm Docker: linting…"
	case failed:
		// Only the first line; the rest is stderr which doesn't fit in a status bar.
		detail, _, _ = strings.Cut(detail, "\n")
		return "Psalm Docker: " + detail
	}
	return "Psalm Docker: " + string(s)
}

// setStatus updates the status shown in the editor. The mutex must be held when calling it.
func (h *Handler) setStatus(s state, detail string) {
	h.notify("psalm/status", &statusParams{
		State:   s,
		Text:    statusText(s, detail),
		Tooltip: detail,
	})
}

type workDoneProgressCreateParams struct {
	Token string `json:"token"`
}

type progressParams struct {
	Token string           `json:"token"`
	Value workDoneProgress `json:"value"`
}

type workDoneProgress struct {
	Kind    string `json:"kind"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// beginProgress reports the start of a run as work done progress, if the client supports it.
// It returns the token to pass to endProgress.
func (h *Handler) beginProgress(ctx context.Context, target *lint.Target) string {
	h.mutex.Lock()
	enabled, conn := h.progress, h.Conn
	h.mutex.Unlock()
	if !enabled || conn == nil {
		return ""
	}
	token := uuid.New().String()
	if err := conn.Call(ctx, "window/workDoneProgress/create", &workDoneProgressCreateParams{Token: token}, nil); err != nil {
		log.Warning("Failed to create progress token: %s", err)
		return ""
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.notify("$/progress", &progressParams{
		Token: token,
		Value: workDoneProgress{Kind: "begin", Title: "psalm", Message: target.Path},
	})
	return token
}

// endProgress reports the end of a run.
func (h *Handler) endProgress(token string) {
	if token == "" {
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.notify("$/progress", &progressParams{
		Token: token,
		Value: workDoneProgress{Kind: "end"},
	})
}
