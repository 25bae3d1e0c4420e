// Package store implements C2: the versioned artifact store. It depends
// only on small interfaces for its SQL and filesystem collaborators —
// internal/db and internal/fsstore provide the real pgx/os-backed
// implementations described as "out of scope, interfaces only" in spec
// §1; tests exercise this package against in-memory fakes of both.
package store

import (
	"context"

	"github.com/edwin0419/particlelab/pkg/models"
)

// ImageRepo is the SQL collaborator's image table access.
type ImageRepo interface {
	GetImage(ctx context.Context, id string) (*models.Image, error)
}

// RunRepo is the SQL collaborator's run table access.
type RunRepo interface {
	GetRun(ctx context.Context, id string) (*models.Run, error)
}

// ArtifactRepo is the SQL collaborator's artifact table access. Every
// method that mutates state is expected to run inside a transaction the
// caller controls; NextVersion additionally requires the collaborator to
// serialize concurrent callers for the same (run, stage) pair (spec §4.2,
// §5) via whatever isolation mechanism it owns — this package only
// declares the contract.
type ArtifactRepo interface {
	// NextVersion returns 1 + max(existing versions for (run, stage)), or
	// 1 if none, as one atomic read-modify-write.
	NextVersion(ctx context.Context, runID string, stage models.StageID) (int, error)
	// InsertArtifact persists a from-scratch artifact row.
	InsertArtifact(ctx context.Context, a *models.Artifact) error
	// ListByRun returns every artifact for a run, in no particular order;
	// callers group/sort as needed.
	ListByRun(ctx context.Context, runID string) ([]*models.Artifact, error)
	// GetArtifact fetches a single artifact by id.
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	// ArtifactsInVersion returns every artifact sharing (runID, stage, version).
	ArtifactsInVersion(ctx context.Context, runID string, stage models.StageID, version int) ([]*models.Artifact, error)
	// UpdateParams overwrites one artifact's params (used by rename).
	UpdateParams(ctx context.Context, id string, params map[string]interface{}) error
	// DeleteArtifact removes one artifact row.
	DeleteArtifact(ctx context.Context, id string) error
}

// Blob is the filesystem collaborator: byte-level storage primitives
// rooted at a single storage_root, named out of scope in spec §1.
type Blob interface {
	// WriteFile writes data at relPath (relative to storage root),
	// creating parent directories as needed.
	WriteFile(relPath string, data []byte) error
	// ReadFile reads the file at relPath.
	ReadFile(relPath string) ([]byte, error)
	// RemoveAll removes relPath and everything beneath it.
	RemoveAll(relPath string) error
	// Rename moves everything under oldRelPath to newRelPath, creating
	// newRelPath's parent directories as needed. Used to stage writes
	// under a scratch directory before they are known by their final
	// version-numbered path (spec §8 version-contiguity invariant).
	Rename(oldRelPath, newRelPath string) error
	// Resolve canonicalizes relPath against the storage root and returns
	// an error if the result would escape the root (path traversal).
	Resolve(relPath string) (string, error)
}
