package stages

import (
	"context"
	"sort"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// ContourRecord is one emitted contour (spec §4.4 "S8 Contour extraction").
type ContourRecord struct {
	ID     int              `json:"id"`
	Kind   string           `json:"kind"`
	BBox   kernels.BBox     `json:"bbox"`
	Points []kernels.Point  `json:"points"`
}

// ExecuteStage8 runs the Contour Extraction stage: traces outer polygons
// from the chosen mask artifact and merges in pore contours computed from
// outer AND NOT solid of the matching Step-7 artifact (spec §4.4 "S8
// Contour extraction").
func (e *Executor) ExecuteStage8(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	p := params.NormalizeStep8(raw)

	var maskArtifact *models.Artifact
	if p.MaskArtifactID != "" {
		a, ok := ix.Get(p.MaskArtifactID)
		if !ok {
			return nil, errs.InvalidInputf("artifact %s does not belong to this run", p.MaskArtifactID)
		}
		maskArtifact = a
	} else if a, ok := ix.Latest(models.Stage6); ok {
		maskArtifact = a
	} else if a, ok := ix.Latest(models.Stage5); ok {
		maskArtifact = a
	} else {
		return nil, errs.PrerequisiteUnmetf("stage 8 requires a committed stage 5 or stage 6 artifact")
	}
	solidMask, err := e.artifactMask(ctx, maskArtifact, 0)
	if err != nil {
		return nil, err
	}

	var records []ContourRecord
	for _, pts := range kernels.TraceContours(solidMask) {
		records = append(records, ContourRecord{Kind: "solid", BBox: kernels.BBoxOf(pts), Points: pts})
	}

	var poreArtifact *models.Artifact
	if p.PoreStage7ID != "" {
		if a, ok := ix.Get(p.PoreStage7ID); ok {
			poreArtifact = a
		}
	} else if a, ok := ix.Latest(models.Stage7); ok {
		poreArtifact = a
	}
	if poreArtifact != nil && len(poreArtifact.Files) > 1 {
		solid, errS := e.artifactMask(ctx, poreArtifact, 0)
		outer, errO := e.artifactMask(ctx, poreArtifact, 1)
		if errS == nil && errO == nil {
			pores := outer.AndNot(solid)
			for _, pts := range kernels.TraceContours(pores) {
				records = append(records, ContourRecord{Kind: "pore", BBox: kernels.BBoxOf(pts), Points: pts})
			}
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].BBox.MinY != records[j].BBox.MinY {
			return records[i].BBox.MinY < records[j].BBox.MinY
		}
		if records[i].BBox.MinX != records[j].BBox.MinX {
			return records[i].BBox.MinX < records[j].BBox.MinX
		}
		return records[i].Kind == "solid" && records[j].Kind != "solid"
	})
	for i := range records {
		records[i].ID = i
	}

	artifactID := store.NewArtifactID()
	dir := store.StepDir1Shape(run.ID, models.Stage8, artifactID)

	contoursFile, err := e.writeJSON(dir, "contours.json", records)
	if err != nil {
		return nil, err
	}

	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage8)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage8,
		Version:      version,
		ArtifactType: "contours",
		Params: map[string]interface{}{
			"mask_artifact_id": maskArtifact.ID,
		},
		Files: []models.ArtifactFile{contoursFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}
