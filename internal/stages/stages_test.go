package stages

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// fakeRepo is an in-memory store.ArtifactRepo for exercising executors
// without a real Postgres collaborator.
type fakeRepo struct {
	images    map[string]*models.Image
	runs      map[string]*models.Run
	artifacts map[string]*models.Artifact
	versions  map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		images:    make(map[string]*models.Image),
		runs:      make(map[string]*models.Run),
		artifacts: make(map[string]*models.Artifact),
		versions:  make(map[string]int),
	}
}

func (r *fakeRepo) GetImage(ctx context.Context, id string) (*models.Image, error) {
	img, ok := r.images[id]
	if !ok {
		return nil, errs.NotFoundf("image %s not found", id)
	}
	return img, nil
}

func (r *fakeRepo) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, ok := r.runs[id]
	if !ok {
		return nil, errs.NotFoundf("run %s not found", id)
	}
	return run, nil
}

func (r *fakeRepo) NextVersion(ctx context.Context, runID string, stage models.StageID) (int, error) {
	k := fmt.Sprintf("%s|%d", runID, stage)
	r.versions[k]++
	return r.versions[k], nil
}

func (r *fakeRepo) InsertArtifact(ctx context.Context, a *models.Artifact) error {
	r.artifacts[a.ID] = a
	return nil
}

func (r *fakeRepo) ListByRun(ctx context.Context, runID string) ([]*models.Artifact, error) {
	var out []*models.Artifact
	for _, a := range r.artifacts {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	a, ok := r.artifacts[id]
	if !ok {
		return nil, errs.NotFoundf("artifact %s not found", id)
	}
	return a, nil
}

func (r *fakeRepo) ArtifactsInVersion(ctx context.Context, runID string, stage models.StageID, version int) ([]*models.Artifact, error) {
	var out []*models.Artifact
	for _, a := range r.artifacts {
		if a.RunID == runID && a.Stage == stage && a.Version == version {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateParams(ctx context.Context, id string, params map[string]interface{}) error {
	a, ok := r.artifacts[id]
	if !ok {
		return errs.NotFoundf("artifact %s not found", id)
	}
	a.Params = params
	return nil
}

func (r *fakeRepo) DeleteArtifact(ctx context.Context, id string) error {
	delete(r.artifacts, id)
	return nil
}

// fakeBlob is an in-memory store.Blob.
type fakeBlob struct {
	files map[string][]byte
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{files: make(map[string][]byte)}
}

func (b *fakeBlob) WriteFile(relPath string, data []byte) error {
	b.files[relPath] = data
	return nil
}

func (b *fakeBlob) ReadFile(relPath string) ([]byte, error) {
	d, ok := b.files[relPath]
	if !ok {
		return nil, errs.NotFoundf("no such file: %s", relPath)
	}
	return d, nil
}

func (b *fakeBlob) RemoveAll(relPath string) error {
	for k := range b.files {
		if k == relPath || strings.HasPrefix(k, relPath+"/") {
			delete(b.files, k)
		}
	}
	return nil
}

func (b *fakeBlob) Resolve(relPath string) (string, error) {
	return relPath, nil
}

func (b *fakeBlob) Rename(oldRelPath, newRelPath string) error {
	for k, v := range b.files {
		if k == oldRelPath {
			delete(b.files, k)
			b.files[newRelPath] = v
			continue
		}
		if strings.HasPrefix(k, oldRelPath+"/") {
			delete(b.files, k)
			b.files[newRelPath+strings.TrimPrefix(k, oldRelPath)] = v
		}
	}
	return nil
}

func newTestExecutor(t *testing.T) (*Executor, *fakeRepo, *fakeBlob) {
	t.Helper()
	repo := newFakeRepo()
	blob := newFakeBlob()
	st := store.New(repo, blob)
	return NewExecutor(st, repo, repo), repo, blob
}

func seedImage(t *testing.T, repo *fakeRepo, blob *fakeBlob, id string, w, h int) {
	t.Helper()
	g := kernels.NewGray(w, h)
	data, err := codec.EncodePNG(g)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	path := id + "/original.png"
	blob.files[path] = data
	repo.images[id] = &models.Image{ID: id, Filename: "src.png", Mime: "image/png", Width: w, Height: h, StoragePath: path}
}

func TestExecuteStage1_RecordsManualCalibration(t *testing.T) {
	e, repo, blob := newTestExecutor(t)
	seedImage(t, repo, blob, "img-1", 100, 100)
	run := &models.Run{ID: "run-1", ImageID: "img-1"}
	repo.runs[run.ID] = run

	a, err := e.ExecuteStage1(context.Background(), run, params.Raw{
		"um_per_px":      0.5,
		"crop_bottom_px": 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Stage != models.Stage1 || a.Version != 1 {
		t.Fatalf("expected stage 1 version 1, got stage=%d version=%d", a.Stage, a.Version)
	}
	if a.Params["um_per_px"] != 0.5 {
		t.Fatalf("expected um_per_px 0.5 recorded, got %v", a.Params["um_per_px"])
	}
	if len(a.Files) != 2 {
		t.Fatalf("expected preview + calibration files, got %d", len(a.Files))
	}
}

func TestExecuteStage1_RejectsMissingCalibrationInput(t *testing.T) {
	e, repo, blob := newTestExecutor(t)
	seedImage(t, repo, blob, "img-1", 100, 100)
	run := &models.Run{ID: "run-1", ImageID: "img-1"}
	repo.runs[run.ID] = run

	_, err := e.ExecuteStage1(context.Background(), run, params.Raw{})
	if err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid_input when neither measurement nor manual um_per_px given, got %v", err)
	}
}

func TestExecuteStage45_PassesThroughStage5MaskUnchanged(t *testing.T) {
	e, repo, blob := newTestExecutor(t)
	run := &models.Run{ID: "run-1", ImageID: "img-1"}
	repo.runs[run.ID] = run

	m := kernels.NewMask(4, 4)
	m.Set(1, 1, true)
	maskPNG, err := codec.EncodeMaskPNG(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stage5 := &models.Artifact{
		ID: "s5-1", RunID: run.ID, Stage: models.Stage5, Version: 1,
		ArtifactType: "mask",
		Files:        []models.ArtifactFile{{Path: "run-1/step5/s5-1/mask.png", Mime: "image/png"}},
	}
	blob.files["run-1/step5/s5-1/mask.png"] = maskPNG
	repo.artifacts[stage5.ID] = stage5

	out, err := e.ExecuteStage45(context.Background(), run, params.Raw{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Stage != models.Stage45 {
		t.Fatalf("expected stage 45, got %d", out.Stage)
	}
	if out.ArtifactType != "checkpoint" {
		t.Fatalf("expected artifact_type checkpoint, got %q", out.ArtifactType)
	}
	if out.Params["input_artifact_id"] != "s5-1" {
		t.Fatalf("expected input_artifact_id s5-1, got %v", out.Params["input_artifact_id"])
	}

	gotBytes, _, err := e.Store.GetFile(context.Background(), out, 0)
	if err != nil {
		t.Fatalf("unexpected error reading checkpointed file: %v", err)
	}
	back, err := codec.DecodeMaskPNG(gotBytes)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if !back.At(1, 1) {
		t.Fatalf("expected checkpointed mask to preserve the foreground pixel unchanged")
	}
}

func TestExecuteStage45_FailsWithoutAStage5Artifact(t *testing.T) {
	e, repo, _ := newTestExecutor(t)
	run := &models.Run{ID: "run-1", ImageID: "img-1"}
	repo.runs[run.ID] = run

	_, err := e.ExecuteStage45(context.Background(), run, params.Raw{})
	if err == nil || !errs.Is(err, errs.PrerequisiteUnmet) {
		t.Fatalf("expected prerequisite_unmet without a committed stage 5 artifact, got %v", err)
	}
}
