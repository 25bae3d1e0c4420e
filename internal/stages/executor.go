// Package stages implements C4: the ten stage executors. Each executor
// normalizes its params (internal/params), resolves its upstream
// artifact(s) (internal/resolver), runs the pixel kernels (internal/kernels),
// writes output files, and commits a new artifact (internal/store) —
// rolling back the write on any failure so no partial artifact is ever
// visible (spec §4.4 "Failure semantics").
package stages

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"path/filepath"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/resolver"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// Executor wires the stage algorithms to their collaborators.
type Executor struct {
	Store  *store.ArtifactStore
	Images store.ImageRepo
	Runs   store.RunRepo
}

func NewExecutor(st *store.ArtifactStore, images store.ImageRepo, runs store.RunRepo) *Executor {
	return &Executor{Store: st, Images: images, Runs: runs}
}

// loadIndex builds the in-memory lineage index for one run (spec §9
// "Deep reference walks").
func (e *Executor) loadIndex(ctx context.Context, runID string) (*resolver.Index, error) {
	arts, err := e.Store.Repo.ListByRun(ctx, runID)
	if err != nil {
		return nil, errs.Internalf(err, "failed to load artifacts for run %s", runID)
	}
	return resolver.BuildIndex(runID, arts), nil
}

// sourceImage loads the run's original image bytes as a grayscale buffer.
func (e *Executor) sourceImage(ctx context.Context, run *models.Run) (*kernels.Gray, *models.Image, error) {
	img, err := e.Images.GetImage(ctx, run.ImageID)
	if err != nil {
		return nil, nil, err
	}
	data, err := e.Store.Blob.ReadFile(img.StoragePath)
	if err != nil {
		return nil, nil, errs.Internalf(err, "failed to read source image for run %s", run.ID)
	}
	g, err := codec.DecodeAny(data)
	if err != nil {
		return nil, nil, err
	}
	return g, img, nil
}

// artifactGray reads artifact's file at index as a grayscale buffer.
func (e *Executor) artifactGray(ctx context.Context, a *models.Artifact, index int) (*kernels.Gray, error) {
	data, _, err := e.Store.GetFile(ctx, a, index)
	if err != nil {
		return nil, err
	}
	return codec.DecodeAny(data)
}

// artifactMask reads artifact's file at index as a binary mask.
func (e *Executor) artifactMask(ctx context.Context, a *models.Artifact, index int) (*kernels.Mask, error) {
	data, _, err := e.Store.GetFile(ctx, a, index)
	if err != nil {
		return nil, err
	}
	return codec.DecodeMaskPNG(data)
}

// writeJSON marshals v and writes it under dir/name, returning the
// relative file path.
func (e *Executor) writeJSON(dir, name string, v interface{}) (models.ArtifactFile, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return models.ArtifactFile{}, errs.Internalf(err, "failed to marshal %s", name)
	}
	rel := filepath.Join(dir, name)
	if err := e.Store.Blob.WriteFile(rel, data); err != nil {
		return models.ArtifactFile{}, errs.Internalf(err, "failed to write %s", name)
	}
	return models.ArtifactFile{Path: rel, Mime: "application/json"}, nil
}

// writePNG writes PNG bytes under dir/name, returning the relative file path.
func (e *Executor) writePNG(dir, name string, data []byte) (models.ArtifactFile, error) {
	rel := filepath.Join(dir, name)
	if err := e.Store.Blob.WriteFile(rel, data); err != nil {
		return models.ArtifactFile{}, errs.Internalf(err, "failed to write %s", name)
	}
	return models.ArtifactFile{Path: rel, Mime: "image/png"}, nil
}

// decodeBase64PNG decodes a base64-encoded PNG payload supplied in a raw
// params bag, surfacing corruption as invalid_input.
func decodeBase64PNG(field string, v interface{}) ([]byte, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errs.InvalidInputf("%s: corrupt base64 payload", field)
	}
	return data, nil
}

// pxFromUm converts a micrometer length to pixels given the run's scale,
// returning 0 if umPerPx is non-positive.
func pxFromUm(umValue, umPerPx float64) float64 {
	if umPerPx <= 0 {
		return 0
	}
	return umValue / umPerPx
}

func round(v float64) int { return int(math.Round(v)) }

func clampIntRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
