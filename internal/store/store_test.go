package store

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/pkg/models"
)

// fakeRepo is an in-memory ArtifactRepo for exercising ArtifactStore
// without a real Postgres collaborator.
type fakeRepo struct {
	artifacts map[string]*models.Artifact
	versions  map[string]int // runID|stage -> highest version
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{artifacts: make(map[string]*models.Artifact), versions: make(map[string]int)}
}

func verKey(runID string, stage models.StageID) string {
	return fmt.Sprintf("%s|%d", runID, stage)
}

func (r *fakeRepo) NextVersion(ctx context.Context, runID string, stage models.StageID) (int, error) {
	k := verKey(runID, stage)
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

// fakeBlob is an in-memory Blob.
type fakeBlob struct {
	files   map[string][]byte
	removed []string
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
	b.removed = append(b.removed, relPath)
	for k := range b.files {
		if k == relPath || strings.HasPrefix(k, relPath+"/") {
			delete(b.files, k)
		}
	}
	return nil
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

func (b *fakeBlob) Resolve(relPath string) (string, error) {
	if strings.Contains(relPath, "..") {
		return "", errs.InvalidInputf("path escapes storage root: %s", relPath)
	}
	return relPath, nil
}

func TestStepDir1Shape_UsesLiteral45ForStage45(t *testing.T) {
	dir := StepDir1Shape("run-1", models.Stage45, "artifact-1")
	if dir != "run-1/step4.5/artifact-1" {
		t.Fatalf("expected run-1/step4.5/artifact-1, got %q", dir)
	}
}

func TestStepDirVShape_UsesUnderscoreAndVPrefix(t *testing.T) {
	dir := StepDirVShape("run-1", models.Stage3, 2)
	if dir != "run-1/step_3/v2" {
		t.Fatalf("expected run-1/step_3/v2, got %q", dir)
	}
}

func TestNextVersion_IncrementsPerRunAndStage(t *testing.T) {
	s := New(newFakeRepo(), newFakeBlob())
	v1, err := s.NextVersion(context.Background(), "run-1", models.Stage1)
	if err != nil || v1 != 1 {
		t.Fatalf("expected first version 1, got %d err=%v", v1, err)
	}
	v2, err := s.NextVersion(context.Background(), "run-1", models.Stage1)
	if err != nil || v2 != 2 {
		t.Fatalf("expected second version 2, got %d err=%v", v2, err)
	}
	v1Other, err := s.NextVersion(context.Background(), "run-1", models.Stage2)
	if err != nil || v1Other != 1 {
		t.Fatalf("expected independent counter per stage, got %d err=%v", v1Other, err)
	}
}

func TestCommit_PersistsRowAndBackfillsIDAndCreatedAt(t *testing.T) {
	repo := newFakeRepo()
	blob := newFakeBlob()
	s := New(repo, blob)
	blob.files["run-1/step1/a1/file.png"] = []byte("data")

	a := &models.Artifact{ID: "a1", RunID: "run-1", Stage: models.Stage1, Version: 1,
		Files: []models.ArtifactFile{{Path: "run-1/step1/a1/file.png", Mime: "image/png"}}}
	if err := s.Commit(context.Background(), a, "run-1/step1/a1"); err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}
	if _, ok := blob.files["run-1/step1/a1/file.png"]; !ok {
		t.Fatalf("expected committed file to remain on disk")
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Fatalf("expected Commit to backfill id and created_at")
	}
}

func TestListGrouped_SortsStagesAndVersionsDescending(t *testing.T) {
	repo := newFakeRepo()
	blob := newFakeBlob()
	s := New(repo, blob)

	mustInsert := func(id string, stage models.StageID, version int) {
		if err := repo.InsertArtifact(context.Background(), &models.Artifact{
			ID: id, RunID: "run-1", Stage: stage, Version: version,
		}); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	mustInsert("s1v1", models.Stage1, 1)
	mustInsert("s1v2", models.Stage1, 2)
	mustInsert("s2v1", models.Stage2, 1)

	groups, err := s.ListGrouped(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 stage groups, got %d", len(groups))
	}
	if groups[0].Stage != models.Stage1 || groups[1].Stage != models.Stage2 {
		t.Fatalf("expected groups ordered by stage ascending, got %v then %v", groups[0].Stage, groups[1].Stage)
	}
	if groups[0].Artifacts[0].ID != "s1v2" {
		t.Fatalf("expected highest version first within a stage, got %s", groups[0].Artifacts[0].ID)
	}
}

func TestGetFile_RejectsPathEscapingStorageRoot(t *testing.T) {
	s := New(newFakeRepo(), newFakeBlob())
	a := &models.Artifact{ID: "a1", Files: []models.ArtifactFile{{Path: "../../etc/passwd"}}}
	if _, _, err := s.GetFile(context.Background(), a, 0); err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid_input for path traversal, got %v", err)
	}
}

func TestGetFile_RejectsOutOfRangeIndex(t *testing.T) {
	s := New(newFakeRepo(), newFakeBlob())
	a := &models.Artifact{ID: "a1", Files: nil}
	if _, _, err := s.GetFile(context.Background(), a, 0); err == nil || !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected not_found for out-of-range index, got %v", err)
	}
}

func TestGetFile_ReturnsBytesAndMime(t *testing.T) {
	repo := newFakeRepo()
	blob := newFakeBlob()
	blob.files["run-1/step1/a1/file.png"] = []byte("hello")
	s := New(repo, blob)
	a := &models.Artifact{ID: "a1", Files: []models.ArtifactFile{{Path: "run-1/step1/a1/file.png", Mime: "image/png"}}}

	data, mime, err := s.GetFile(context.Background(), a, 0)
	if err != nil || string(data) != "hello" || mime != "image/png" {
		t.Fatalf("unexpected result: data=%q mime=%q err=%v", data, mime, err)
	}
}

func TestRenameVersion_UpdatesEverySiblingPreservingOtherParams(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo, newFakeBlob())
	a1 := &models.Artifact{ID: "a1", RunID: "run-1", Stage: models.Stage9, Version: 1, Params: map[string]interface{}{"k": "v"}}
	a2 := &models.Artifact{ID: "a2", RunID: "run-1", Stage: models.Stage9, Version: 1}
	repo.InsertArtifact(context.Background(), a1)
	repo.InsertArtifact(context.Background(), a2)

	if err := s.RenameVersion(context.Background(), a1, "my label"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.artifacts["a1"].Params["version_name"] != "my label" || repo.artifacts["a1"].Params["k"] != "v" {
		t.Fatalf("expected version_name set and existing params preserved, got %v", repo.artifacts["a1"].Params)
	}
	if repo.artifacts["a2"].Params["version_name"] != "my label" {
		t.Fatalf("expected sibling a2 renamed too, got %v", repo.artifacts["a2"].Params)
	}
}

func TestDeleteVersion_RemovesEverySiblingAndTheirDirectories(t *testing.T) {
	repo := newFakeRepo()
	blob := newFakeBlob()
	s := New(repo, blob)
	a1 := &models.Artifact{ID: "a1", RunID: "run-1", Stage: models.Stage9, Version: 1,
		Files: []models.ArtifactFile{{Path: "run-1/step9/a1/file.png"}}}
	a2 := &models.Artifact{ID: "a2", RunID: "run-1", Stage: models.Stage9, Version: 1,
		Files: []models.ArtifactFile{{Path: "run-1/step9/a2/file.png"}}}
	repo.InsertArtifact(context.Background(), a1)
	repo.InsertArtifact(context.Background(), a2)
	blob.files["run-1/step9/a1/file.png"] = []byte("x")
	blob.files["run-1/step9/a2/file.png"] = []byte("y")

	if err := s.DeleteVersion(context.Background(), a1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.artifacts["a1"]; ok {
		t.Fatalf("expected a1 to be deleted")
	}
	if _, ok := repo.artifacts["a2"]; ok {
		t.Fatalf("expected sibling a2 to be deleted too")
	}
	if len(blob.removed) != 2 {
		t.Fatalf("expected both sibling directories removed, got %v", blob.removed)
	}
}

func TestGetArtifact_TranslatesMissingRowToNotFound(t *testing.T) {
	s := New(newFakeRepo(), newFakeBlob())
	if _, err := s.GetArtifact(context.Background(), "missing"); err == nil || !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}
