package store

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/pkg/models"
)

const artifactIDSuffix = "_artifact_id"

type importPlanItem struct {
	newID   string
	stage   models.StageID
	artType string
	params  map[string]interface{}
	created ExportedArtifact
	files   []plannedFile
}

type plannedFile struct {
	filename string
	mime     string
	data     []byte
}

// ImportHistory imports a previously exported document into run,
// allocating fresh artifact ids and versions and remapping every
// `*_artifact_id` reference from its source id to the newly allocated id
// (spec §4.2, §9 "History import remap"). Malformed items (bad base64,
// unrecognized stage) fail the whole import before anything is written.
func (s *ArtifactStore) ImportHistory(ctx context.Context, run *models.Run, doc *ExportDocument) (int, error) {
	idMap := make(map[string]string, len(doc.Artifacts))
	for _, ea := range doc.Artifacts {
		idMap[ea.SourceArtifactID] = NewArtifactID()
	}

	plans := make([]importPlanItem, 0, len(doc.Artifacts))
	for _, ea := range doc.Artifacts {
		stage := models.StageID(ea.StepID)
		if !stage.Valid() {
			return 0, errs.InvalidInputf("import: unrecognized stage id %d", ea.StepID)
		}

		files := make([]plannedFile, 0, len(ea.Files))
		for _, ef := range ea.Files {
			data, err := base64.StdEncoding.DecodeString(ef.DataBase64)
			if err != nil {
				return 0, errs.InvalidInputf("import: corrupt base64 for file %s of artifact %s", ef.Filename, ea.SourceArtifactID)
			}
			files = append(files, plannedFile{
				filename: filepath.Base(ef.Filename),
				mime:     ef.MimeType,
				data:     data,
			})
		}

		remapped := remapArtifactIDs(ea.Params, idMap).(map[string]interface{})

		plans = append(plans, importPlanItem{
			newID:   idMap[ea.SourceArtifactID],
			stage:   stage,
			artType: ea.ArtifactType,
			params:  remapped,
			created: ea,
			files:   files,
		})
	}

	imported := 0
	var writtenDirs []string
	for _, plan := range plans {
		version, err := s.Repo.NextVersion(ctx, run.ID, plan.stage)
		if err != nil {
			rollbackDirs(s.Blob, writtenDirs)
			return 0, errs.Internalf(err, "import: failed to allocate version for stage %d", plan.stage)
		}

		dir := filepath.Join(run.ID, "history_import", "step_"+stageNum(plan.stage), "v"+strconv.Itoa(version), plan.newID)
		var artifactFiles []models.ArtifactFile
		for _, f := range plan.files {
			rel := filepath.Join(dir, f.filename)
			if err := s.Blob.WriteFile(rel, f.data); err != nil {
				rollbackDirs(s.Blob, writtenDirs)
				return 0, errs.Internalf(err, "import: failed to write file %s", rel)
			}
			artifactFiles = append(artifactFiles, models.ArtifactFile{Path: rel, Mime: f.mime})
		}
		writtenDirs = append(writtenDirs, dir)

		artifact := &models.Artifact{
			ID:           plan.newID,
			RunID:        run.ID,
			Stage:        plan.stage,
			Version:      version,
			ArtifactType: plan.artType,
			Params:       plan.params,
			Files:        artifactFiles,
			CreatedAt:    plan.created.CreatedAt,
		}
		if err := s.Repo.InsertArtifact(ctx, artifact); err != nil {
			rollbackDirs(s.Blob, writtenDirs)
			return 0, errs.Internalf(err, "import: failed to insert artifact %s", plan.newID)
		}
		imported++
	}

	return imported, nil
}

func rollbackDirs(b Blob, dirs []string) {
	for _, d := range dirs {
		_ = b.RemoveAll(d)
	}
}

// remapArtifactIDs walks a JSON-decoded value tree, replacing any string
// value whose immediate parent key ends in "_artifact_id" with its mapped
// replacement (left unchanged if not present in idMap). No other
// heuristic is applied (spec §9).
func remapArtifactIDs(v interface{}, idMap map[string]string) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if strings.HasSuffix(k, artifactIDSuffix) {
				if s, ok := val.(string); ok {
					if mapped, found := idMap[s]; found {
						out[k] = mapped
						continue
					}
					out[k] = s
					continue
				}
			}
			out[k] = remapArtifactIDs(val, idMap)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = remapArtifactIDs(item, idMap)
		}
		return out
	default:
		return v
	}
}
