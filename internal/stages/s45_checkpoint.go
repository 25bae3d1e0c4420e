package stages

import (
	"context"

	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/resolver"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// ExecuteStage45 runs the "4.5" stage: an auxiliary passthrough that
// checkpoints the Step-5 mask unchanged before morphology begins (spec
// §3 "Stage id 45 denotes '4.5'..."). It commits a new versioned
// artifact carrying the same mask bytes so later stages and history
// export/import have a stable (run, stage, version) anchor between
// manual editing and morphological recovery, without re-deriving or
// mutating any pixels.
func (e *Executor) ExecuteStage45(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if err := resolver.RequirePrerequisite(ix, models.Stage45); err != nil {
		return nil, err
	}

	p := params.NormalizeStep45(raw)

	input, err := resolver.ResolveInput(ix, models.Stage45, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	data, _, err := e.Store.GetFile(ctx, input, 0)
	if err != nil {
		return nil, err
	}

	artifactID := store.NewArtifactID()
	dir := store.StepDir1Shape(run.ID, models.Stage45, artifactID)

	maskFile, err := e.writePNG(dir, "step4_5_mask.png", data)
	if err != nil {
		return nil, err
	}

	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage45)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage45,
		Version:      version,
		ArtifactType: "checkpoint",
		Params: map[string]interface{}{
			"input_artifact_id": input.ID,
		},
		Files: []models.ArtifactFile{maskFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}
