package store

import (
	"context"
	"testing"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/pkg/models"
)

func TestExportHistory_IncludesOnlyStages1Through8(t *testing.T) {
	repo := newFakeRepo()
	blob := newFakeBlob()
	s := New(repo, blob)

	inScope := &models.Artifact{ID: "a1", RunID: "run-1", Stage: models.Stage4, Version: 1,
		Files: []models.ArtifactFile{{Path: "run-1/step4/a1/mask.png", Mime: "image/png"}}}
	outOfScope := &models.Artifact{ID: "a2", RunID: "run-1", Stage: models.Stage9, Version: 1}
	repo.InsertArtifact(context.Background(), inScope)
	repo.InsertArtifact(context.Background(), outOfScope)
	blob.files["run-1/step4/a1/mask.png"] = []byte("png-bytes")

	doc, err := s.ExportHistory(context.Background(), &models.Run{ID: "run-1", ImageID: "img-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Artifacts) != 1 || doc.Artifacts[0].SourceArtifactID != "a1" {
		t.Fatalf("expected only the stage-4 artifact exported, got %+v", doc.Artifacts)
	}
	if len(doc.Artifacts[0].Files) != 1 || doc.Artifacts[0].Files[0].DataBase64 == "" {
		t.Fatalf("expected file embedded as base64, got %+v", doc.Artifacts[0].Files)
	}
}

func TestExportHistory_SkipsArtifactsWithMissingFilesOnDisk(t *testing.T) {
	repo := newFakeRepo()
	blob := newFakeBlob()
	s := New(repo, blob)

	a := &models.Artifact{ID: "a1", RunID: "run-1", Stage: models.Stage1, Version: 1,
		Files: []models.ArtifactFile{{Path: "run-1/step1/a1/missing.png", Mime: "image/png"}}}
	repo.InsertArtifact(context.Background(), a)
	// deliberately never write the underlying blob bytes

	doc, err := s.ExportHistory(context.Background(), &models.Run{ID: "run-1", ImageID: "img-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Artifacts) != 1 {
		t.Fatalf("expected the artifact row still exported, got %d", len(doc.Artifacts))
	}
	if len(doc.Artifacts[0].Files) != 0 {
		t.Fatalf("expected the missing file to be skipped, got %+v", doc.Artifacts[0].Files)
	}
}

func TestImportHistory_AllocatesFreshIDsAndRemapsReferences(t *testing.T) {
	repo := newFakeRepo()
	blob := newFakeBlob()
	s := New(repo, blob)

	doc := &ExportDocument{
		SchemaVersion: 1,
		RunID:         "run-1",
		ImageID:       "img-1",
		Artifacts: []ExportedArtifact{
			{SourceArtifactID: "src-1", StepID: 1, Version: 1, ArtifactType: "calibration"},
			{
				SourceArtifactID: "src-2", StepID: 2, Version: 1, ArtifactType: "processed",
				Params: map[string]interface{}{"input_artifact_id": "src-1"},
				Files:  []ExportedFile{{Filename: "out.png", MimeType: "image/png", DataBase64: "aGVsbG8="}},
			},
		},
	}

	n, err := s.ImportHistory(context.Background(), &models.Run{ID: "run-1", ImageID: "img-1"}, doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 artifacts imported, got %d", n)
	}

	var imported2 *models.Artifact
	for _, a := range repo.artifacts {
		if a.Stage == models.Stage2 {
			imported2 = a
		}
	}
	if imported2 == nil {
		t.Fatalf("expected a stage-2 artifact to be imported")
	}
	ref, _ := imported2.Params["input_artifact_id"].(string)
	if ref == "" || ref == "src-1" {
		t.Fatalf("expected input_artifact_id remapped to a freshly allocated id, got %q", ref)
	}
	if _, ok := repo.artifacts[ref]; !ok {
		t.Fatalf("expected the remapped id to point at an actually-imported artifact")
	}
}

func TestImportHistory_RejectsUnrecognizedStageBeforeWritingAnything(t *testing.T) {
	repo := newFakeRepo()
	blob := newFakeBlob()
	s := New(repo, blob)

	doc := &ExportDocument{
		Artifacts: []ExportedArtifact{
			{SourceArtifactID: "src-1", StepID: 99, Version: 1},
		},
	}

	_, err := s.ImportHistory(context.Background(), &models.Run{ID: "run-1"}, doc)
	if err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid_input for unrecognized stage, got %v", err)
	}
	if len(repo.artifacts) != 0 {
		t.Fatalf("expected no artifacts written on validation failure, got %d", len(repo.artifacts))
	}
}

func TestImportHistory_RejectsCorruptBase64(t *testing.T) {
	repo := newFakeRepo()
	blob := newFakeBlob()
	s := New(repo, blob)

	doc := &ExportDocument{
		Artifacts: []ExportedArtifact{
			{
				SourceArtifactID: "src-1", StepID: 1, Version: 1,
				Files: []ExportedFile{{Filename: "f.png", MimeType: "image/png", DataBase64: "not-valid-base64!!"}},
			},
		},
	}

	_, err := s.ImportHistory(context.Background(), &models.Run{ID: "run-1"}, doc)
	if err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid_input for corrupt base64, got %v", err)
	}
}
