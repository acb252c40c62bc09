// Package mcp exposes the linter to AI coding assistants as a Model Context Protocol server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sourcegraph/go-lsp"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/psalm-langserver/src/core"
	"github.com/thought-machine/psalm-langserver/src/lint"
)

var log = logging.MustGetLogger("mcp")

// A Linter is the part of lint.Linter that the server uses.
type Linter interface {
	Config() *core.Configuration
	LintFile(ctx context.Context, roots []string, filename string) (*lint.Target, []lint.Issue, error)
}

// NewServer creates a new MCP server with the psalm tools registered.
func NewServer(linter Linter, workspace *core.Workspace, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"psalm-langserver",
		version,
		server.WithToolCapabilities(true),
	)
	s.AddTool(
		mcplib.NewTool("psalm_lint_file",
			mcplib.WithDescription("Runs psalm on a single PHP file and returns the issues that aren't in the baseline"),
			mcplib.WithString("file",
				mcplib.Required(),
				mcplib.Description("Path to the file, either absolute or relative to the workspace root"),
			),
		),
		handleLintFile(linter, workspace),
	)
	s.AddTool(
		mcplib.NewTool("psalm_check_project",
			mcplib.WithDescription("Reports whether a directory is a project that psalm-langserver lints"),
			mcplib.WithString("root",
				mcplib.Description("Project root to check (defaults to the workspace root)"),
			),
		),
		handleCheckProject(linter, workspace),
	)
	return s
}

type lintResult struct {
	File        string           `json:"file"`
	Root        string           `json:"root"`
	Path        string           `json:"path"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics"`
}

func handleLintFile(linter Linter, workspace *core.Workspace) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		file, err := request.RequireString("file")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		roots := workspace.Roots()
		if !filepath.IsAbs(file) && len(roots) > 0 {
			file = filepath.Join(roots[0], file)
		}
		target, issues, err := linter.LintFile(ctx, roots, file)
		if errors.Is(err, lint.ErrNotApplicable) {
			return errorResult(fmt.Sprintf("%s is not in a project that is linted", file)), nil
		} else if err != nil {
			log.Error("Failed to lint %s: %s", file, err)
			return errorResult(fmt.Sprintf("psalm failed: %s", err)), nil
		}
		return jsonResult(lintResult{
			File:        target.Filename,
			Root:        target.Root,
			Path:        target.Path,
			Diagnostics: lint.Diagnostics(issues),
		})
	}
}

type projectResult struct {
	Root      string `json:"root"`
	Manifest  string `json:"manifest"`
	Project   string `json:"project"`
	Monitored bool   `json:"monitored"`
}

func handleCheckProject(linter Linter, workspace *core.Workspace) server.ToolHandlerFunc {
	return func(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		root := request.GetString("root", "")
		if root == "" {
			if roots := workspace.Roots(); len(roots) > 0 {
				root = roots[0]
			} else {
				return errorResult("no root given and there is no workspace root"), nil
			}
		}
		config := linter.Config()
		monitored, err := core.IsMonitoredProject(config, root)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return jsonResult(projectResult{
			Root:      root,
			Manifest:  filepath.Join(root, config.Project.Manifest),
			Project:   config.Project.Name,
			Monitored: monitored,
		})
	}
}

// jsonResult marshals v to JSON and returns it as a text content result.
func jsonResult(v interface{}) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(string(data))},
	}, nil
}

// errorResult returns an error content result.
func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(msg)},
		IsError: true,
	}
}
