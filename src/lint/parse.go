package lint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sourcegraph/go-lsp"
)

// ErrBadOutput is returned when the output of a run isn't the list of issues we expect.
var ErrBadOutput = errors.New("expected a JSON array of issues")

// Source is the source attached to every diagnostic we produce.
const Source = "psalm"

// An Issue is a single problem reported by psalm, after it's been through the baseline filter.
type Issue struct {
	Type     string       `json:"type"`
	Message  string       `json:"message"`
	File     string       `json:"file,omitempty"`
	Line     int          `json:"line,omitempty"`
	Severity string       `json:"severity,omitempty"`
	Details  *ToolDetails `json:"original_tool_details"`
}

// ToolDetails are the parts of psalm's own output that the baseline tool passes through.
// Lines and columns are 1-indexed.
type ToolDetails struct {
	Link       string `json:"link"`
	LineFrom   int    `json:"line_from"`
	ColumnFrom int    `json:"column_from"`
	LineTo     int    `json:"line_to"`
	ColumnTo   int    `json:"column_to"`
}

// UnmarshalJSON implements json.Unmarshaler.
// It also accepts psalm's own format, where the details are inline, which is what we get
// when the baseline is disabled.
func (issue *Issue) UnmarshalJSON(data []byte) error {
	type plain Issue // Avoids recursing into this function.
	var flat struct {
		plain
		FilePath string `json:"file_path"`
		ToolDetails
	}
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	*issue = Issue(flat.plain)
	if issue.Details == nil && flat.LineFrom > 0 {
		details := flat.ToolDetails
		issue.Details = &details
		if issue.File == "" {
			issue.File = flat.FilePath
		}
		if issue.Line == 0 {
			issue.Line = flat.LineFrom
		}
	}
	return nil
}

// ParseIssues parses the output of a lint run. It must be a JSON array of issues.
func ParseIssues(data []byte) ([]Issue, error) {
	if data = bytes.TrimSpace(data); len(data) == 0 || data[0] != '[' {
		return nil, fmt.Errorf("%w, got %s", ErrBadOutput, describe(data))
	}
	issues := []Issue{}
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadOutput, err)
	}
	for i, issue := range issues {
		if issue.Details == nil {
			return nil, fmt.Errorf("%w: issue %d (%s) has no original_tool_details", ErrBadOutput, i+1, issue.Type)
		}
	}
	return issues, nil
}

// describe returns a short description of some unexpected output.
func describe(data []byte) string {
	const maxLen = 200
	if len(data) == 0 {
		return "no output"
	} else if len(data) > maxLen {
		return fmt.Sprintf("%q...", data[:maxLen])
	}
	return fmt.Sprintf("%q", data)
}

// Diagnostic converts this issue to an LSP diagnostic.
func (issue *Issue) Diagnostic() lsp.Diagnostic {
	return lsp.Diagnostic{
		Range: lsp.Range{
			// -1 because psalm's positions are 1-indexed but lsp Positions are 0-indexed.
			Start: position(issue.Details.LineFrom, issue.Details.ColumnFrom),
			End:   position(issue.Details.LineTo, issue.Details.ColumnTo),
		},
		Severity: lsp.Warning,
		Code:     issue.Type,
		Source:   Source,
		Message:  issue.Text(),
	}
}

// Text returns the message shown for this issue.
func (issue *Issue) Text() string {
	return fmt.Sprintf("%s: %s. %s (See %s)", Source, issue.Type, issue.Message, issue.Details.Link)
}

func position(line, column int) lsp.Position {
	return lsp.Position{Line: max(line-1, 0), Character: max(column-1, 0)}
}

// Diagnostics converts a set of issues to diagnostics. The result is never nil so
// it always serialises to an array.
func Diagnostics(issues []Issue) []lsp.Diagnostic {
	diags := make([]lsp.Diagnostic, len(issues))
	for i, issue := range issues {
		diags[i] = issue.Diagnostic()
	}
	return diags
}
