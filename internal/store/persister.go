package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Persister mirrors committed state to durable storage.
type Persister interface {
	// Load returns the stored state. ok is false when nothing has been stored yet.
	Load(ctx context.Context) (state *State, ok bool, err error)
	// Save atomically replaces the stored state.
	Save(ctx context.Context, state *State) error
}

var errMissingStatePath = errors.New("store: state path is required")

// FilePersister keeps the state as one JSON document on an afero filesystem.
type FilePersister struct {
	fs   afero.Fs
	path string
}

// NewFilePersister builds a persister for path. A nil fs means the OS filesystem.
func NewFilePersister(fs afero.Fs, path string) (*FilePersister, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errMissingStatePath
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FilePersister{fs: fs, path: filepath.Clean(path)}, nil
}

// Path returns the location of the JSON document.
func (p *FilePersister) Path() string {
	return p.path
}

func (p *FilePersister) Load(_ context.Context) (*State, bool, error) {
	raw, err := afero.ReadFile(p.fs, p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: read %s: %w", p.path, err)
	}
	state := NewState()
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, false, fmt.Errorf("store: decode %s: %w", p.path, err)
	}
	// Older files may lack a collection entirely.
	loaded := state.Clone()
	normalizeLegacyEmails(loaded)
	return loaded, true, nil
}

// normalizeLegacyEmails lowercases addresses written before emails were normalized on input,
// so email lookups keep matching them.
func normalizeLegacyEmails(state *State) {
	for i := range state.Users {
		state.Users[i].Email = strings.ToLower(strings.TrimSpace(state.Users[i].Email))
	}
}

func (p *FilePersister) Save(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}

	temp, err := afero.TempFile(p.fs, dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tempName := temp.Name()
	if _, err := temp.Write(payload); err != nil {
		temp.Close()
		p.fs.Remove(tempName) //nolint:errcheck
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		p.fs.Remove(tempName) //nolint:errcheck
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		p.fs.Remove(tempName) //nolint:errcheck
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := p.fs.Rename(tempName, p.path); err != nil {
		p.fs.Remove(tempName) //nolint:errcheck
		return fmt.Errorf("store: replace %s: %w", p.path, err)
	}
	return nil
}
