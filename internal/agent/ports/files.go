package ports

import "context"

// FileStore reads and writes workspace files. Write batches are atomic:
// either every write lands or none does.
type FileStore interface {
	// ReadFile returns the current content of path. A missing file yields
	// an error satisfying errors.Is(err, fs.ErrNotExist).
	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFiles applies the batch atomically.
	WriteFiles(ctx context.Context, writes []FileWrite) error
}

// FileWrite is one entry in an atomic write batch.
type FileWrite struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Delete  bool   `json:"delete,omitempty"`
}
