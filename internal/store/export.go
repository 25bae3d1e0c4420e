package store

import (
	"context"
	"encoding/base64"
	"log"
	"sort"
	"time"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/pkg/models"
)

// ExportedFile is one file embedded in a history export payload.
type ExportedFile struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	DataBase64  string `json:"data_base64"`
}

// ExportedArtifact is one artifact record inside a history export.
type ExportedArtifact struct {
	SourceArtifactID string                 `json:"source_artifact_id"`
	StepID           int                    `json:"step_id"`
	Version          int                    `json:"version"`
	ArtifactType     string                 `json:"artifact_type"`
	Params           map[string]interface{} `json:"params"`
	CreatedAt        time.Time              `json:"created_at"`
	Files            []ExportedFile         `json:"files"`
}

// ExportDocument is the full history export JSON (spec §4.2, §6).
type ExportDocument struct {
	SchemaVersion int                 `json:"schema_version"`
	ExportSteps   []int               `json:"export_steps"`
	RunID         string              `json:"run_id"`
	ImageID       string              `json:"image_id"`
	ExportedAt    time.Time           `json:"exported_at"`
	Artifacts     []ExportedArtifact  `json:"artifacts"`
}

// exportableStages is stages 1..8, the only stages carried by history
// export/import (spec §4.2).
var exportableStages = map[models.StageID]bool{
	models.Stage1: true, models.Stage2: true, models.Stage3: true, models.Stage4: true,
	models.Stage5: true, models.Stage6: true, models.Stage7: true, models.Stage8: true,
}

// ExportHistory builds the export document for run, embedding every
// stage-1..8 artifact's files as base64. Files whose bytes are missing on
// disk are skipped with a logged warning rather than failing the export.
func (s *ArtifactStore) ExportHistory(ctx context.Context, run *models.Run) (*ExportDocument, error) {
	all, err := s.Repo.ListByRun(ctx, run.ID)
	if err != nil {
		return nil, errs.Internalf(err, "failed to list artifacts for run %s", run.ID)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Stage != all[j].Stage {
			return all[i].Stage < all[j].Stage
		}
		if all[i].Version != all[j].Version {
			return all[i].Version < all[j].Version
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	doc := &ExportDocument{
		SchemaVersion: 1,
		ExportSteps:   []int{1, 2, 3, 4, 5, 6, 7, 8},
		RunID:         run.ID,
		ImageID:       run.ImageID,
		ExportedAt:    time.Now().UTC(),
	}

	for _, a := range all {
		if !exportableStages[a.Stage] {
			continue
		}
		ea := ExportedArtifact{
			SourceArtifactID: a.ID,
			StepID:           int(a.Stage),
			Version:          a.Version,
			ArtifactType:     a.ArtifactType,
			Params:           a.Params,
			CreatedAt:        a.CreatedAt,
		}
		for _, f := range a.Files {
			data, err := s.Blob.ReadFile(f.Path)
			if err != nil {
				log.Printf("history export: skipping missing file %s for artifact %s: %v", f.Path, a.ID, err)
				continue
			}
			ea.Files = append(ea.Files, ExportedFile{
				Filename:   baseName(f.Path),
				MimeType:   f.Mime,
				DataBase64: base64.StdEncoding.EncodeToString(data),
			})
		}
		doc.Artifacts = append(doc.Artifacts, ea)
	}

	return doc, nil
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
