package client

import (
	"os"
	"path/filepath"
)

// Document is an editor buffer that has not been saved to disk.
type Document struct {
	// Path is the buffer's intended file path, may be empty
	Path string
	Text string
}

// Workspace answers the two questions evaluations need about the editor.
type Workspace interface {
	// FirstFolder returns the first open folder, or "" with none open
	FirstFolder() string

	// UnsavedDocument returns the active document if it has unsaved edits
	UnsavedDocument() (Document, bool)
}

// StaticWorkspace is a fixed folder with an optional unsaved document
type StaticWorkspace struct {
	Folder   string
	Document *Document
}

func (w StaticWorkspace) FirstFolder() string { return w.Folder }

func (w StaticWorkspace) UnsavedDocument() (Document, bool) {
	if w.Document == nil {
		return Document{}, false
	}
	return *w.Document, true
}

// DirWorkspace returns a workspace rooted at dir, or at the current
// directory when dir is empty. It never has unsaved documents.
func DirWorkspace(dir string) (StaticWorkspace, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return StaticWorkspace{}, err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return StaticWorkspace{}, err
	}
	return StaticWorkspace{Folder: abs}, nil
}
