package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
)

// FileArtifactStore implements core.ArtifactStore on the local filesystem.
//
// Layout is <root>/<jobID>/<kind>/<filename>. References are write-once; a job
// is deleted by renaming its directory aside and removing it, so a concurrent
// Open sees either the old tree or not_found, never a half-deleted job.
type FileArtifactStore struct {
	root string
}

// NewFileArtifactStore creates the store rooted at dir, creating it if needed.
func NewFileArtifactStore(dir string) (*FileArtifactStore, error) {
	if dir == "" {
		return nil, apperrors.InvalidInput("storage root is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileArtifactStore{root: dir}, nil
}

// Root returns the storage root directory.
func (s *FileArtifactStore) Root() string {
	return s.root
}

// JobDir returns the workspace directory for a job, creating it if needed.
func (s *FileArtifactStore) JobDir(jobID string) (string, error) {
	if jobID == "" {
		return "", apperrors.InvalidInput("job id is required")
	}
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

// Put stores the content under the reference. The write goes to a temp file
// first and is renamed into place, so readers never observe partial content.
func (s *FileArtifactStore) Put(_ context.Context, ref model.ArtifactRef, content io.Reader) error {
	if err := ref.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid artifact ref")
	}

	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		return apperrors.Conflictf("artifact %s/%s/%s already exists", ref.JobID, ref.Kind, ref.Filename)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+ref.Filename+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("finalize artifact: %w", err)
	}
	return nil
}

// Open returns a reader for the stored bytes.
func (s *FileArtifactStore) Open(_ context.Context, ref model.ArtifactRef) (io.ReadCloser, error) {
	if err := ref.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid artifact ref")
	}
	f, err := os.Open(s.path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NotFoundf("artifact %s/%s/%s not found", ref.JobID, ref.Kind, ref.Filename)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// DeleteJob removes every artifact belonging to the job.
func (s *FileArtifactStore) DeleteJob(_ context.Context, jobID string) error {
	if jobID == "" {
		return apperrors.InvalidInput("job id is required")
	}
	dir := filepath.Join(s.root, jobID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	// Rename aside first so the removal is atomic from a reader's view.
	tomb := dir + ".deleting"
	if err := os.Rename(dir, tomb); err != nil {
		return fmt.Errorf("unlink job dir: %w", err)
	}
	if err := os.RemoveAll(tomb); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return nil
}

func (s *FileArtifactStore) path(ref model.ArtifactRef) string {
	return filepath.Join(s.root, ref.JobID, string(ref.Kind), ref.Filename)
}
