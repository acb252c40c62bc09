package lsp

import (
	"fmt"

	"github.com/sourcegraph/go-lsp"

	"github.com/thought-machine/psalm-langserver/src/lint"
)

// hover describes any issues at the given position.
func (h *Handler) hover(params *lsp.TextDocumentPositionParams) (*lsp.Hover, error) {
	filename, err := fromURI(params.TextDocument.URI)
	if err != nil {
		return nil, invalidParams(err)
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	var contents []lsp.MarkedString
	var rng *lsp.Range
	for _, issue := range h.issues[filename] {
		d := issue.Diagnostic()
		if !contains(d.Range, params.Position) {
			continue
		}
		contents = append(contents, lsp.RawMarkedString(hoverText(&issue)))
		if rng == nil {
			rng = &d.Range
		}
	}
	if len(contents) == 0 {
		return nil, nil
	}
	return &lsp.Hover{Contents: contents, Range: rng}, nil
}

// hoverText returns the markdown describing a single issue.
func hoverText(issue *lint.Issue) string {
	return fmt.Sprintf("### %s: %s\n\n%s\n\nSee [%s](%s)", lint.Source, issue.Type, issue.Message, issue.Details.Link, issue.Details.Link)
}

// contains returns true if the range contains the given position.
func contains(r lsp.Range, pos lsp.Position) bool {
	return !before(pos, r.Start) && !before(r.End, pos)
}

// before returns true if a is strictly before b.
func before(a, b lsp.Position) bool {
	return a.Line < b.Line || (a.Line == b.Line && a.Character < b.Character)
}
