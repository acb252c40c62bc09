package lsp

import (
	"fmt"
	"net/url"

	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
)

// A workspaceFolder is one of the folders open in the editor.
type workspaceFolder struct {
	URI  lsp.DocumentURI `json:"uri"`
	Name string          `json:"name"`
}

type didChangeWorkspaceFoldersParams struct {
	Event struct {
		Added   []workspaceFolder `json:"added"`
		Removed []workspaceFolder `json:"removed"`
	} `json:"event"`
}

// roots returns the workspace roots from the initialize params. The workspace folders are
// preferred, then the root URI and finally the deprecated root path.
func (p *initializeParams) roots() ([]string, error) {
	if len(p.WorkspaceFolders) > 0 {
		roots := make([]string, len(p.WorkspaceFolders))
		for i, folder := range p.WorkspaceFolders {
			root, err := fromURI(folder.URI)
			if err != nil {
				return nil, err
			}
			roots[i] = root
		}
		return roots, nil
	} else if p.RootURI != "" {
		root, err := fromURI(p.RootURI)
		if err != nil {
			return nil, err
		}
		return []string{root}, nil
	} else if p.RootPath != "" {
		return []string{p.RootPath}, nil
	}
	return nil, nil
}

func (h *Handler) didChangeWorkspaceFolders(params *didChangeWorkspaceFoldersParams) error {
	for _, folder := range params.Event.Removed {
		root, err := fromURI(folder.URI)
		if err != nil {
			return invalidParams(err)
		}
		log.Info("Removing workspace root %s", root)
		h.workspace.Remove(root)
	}
	for _, folder := range params.Event.Added {
		root, err := fromURI(folder.URI)
		if err != nil {
			return invalidParams(err)
		}
		log.Info("Adding workspace root %s", root)
		h.workspace.Add(root)
	}
	return nil
}

// fromURI converts a DocumentURI to a path.
func fromURI(uri lsp.DocumentURI) (string, error) {
	u, err := url.Parse(string(uri))
	if err != nil {
		return "", fmt.Errorf("invalid uri %s: %w", uri, err)
	} else if u.Scheme != "file" {
		return "", fmt.Errorf("invalid uri %s: only file URIs are supported", uri)
	}
	return u.Path, nil
}

func invalidParams(err error) error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
}
