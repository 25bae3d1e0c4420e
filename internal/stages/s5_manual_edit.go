package stages

import (
	"context"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/resolver"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// ExecuteStage5 runs the Manual Edit stage: accepts a client-uploaded
// edited mask and records it unchanged along with brush provenance
// (spec §4.4 "S5 Manual edit").
func (e *Executor) ExecuteStage5(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if err := resolver.RequirePrerequisite(ix, models.Stage5); err != nil {
		return nil, err
	}

	editedPNG, err := decodeBase64PNG("edited_mask", raw["edited_mask"])
	if err != nil {
		return nil, err
	}

	p, err := params.NormalizeStep5(raw, editedPNG)
	if err != nil {
		return nil, err
	}

	base, err := resolver.ResolveInput(ix, models.Stage5, p.BaseMaskArtifactID)
	if err != nil {
		return nil, err
	}
	baseMask, err := e.artifactMask(ctx, base, 0)
	if err != nil {
		return nil, err
	}

	editedMask, err := e.decodeStrictMask(p.EditedMaskPNG)
	if err != nil {
		return nil, err
	}
	if editedMask.W != baseMask.W || editedMask.H != baseMask.H {
		return nil, errs.InvalidInputf("편집된 마스크 크기가 원본 마스크와 일치해야 합니다.")
	}

	artifactID := store.NewArtifactID()
	dir := store.StepDir1Shape(run.ID, models.Stage5, artifactID)

	editedFile, err := e.writePNG(dir, "step5_mask_edited.png", p.EditedMaskPNG)
	if err != nil {
		return nil, err
	}

	paramsOut := map[string]interface{}{
		"base_mask_artifact_id": base.ID,
	}
	if p.HasBrushMode {
		paramsOut["brush_mode"] = p.BrushMode
	}
	if p.HasBrushSizePx {
		paramsOut["brush_size_px"] = p.BrushSizePx
	}

	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage5)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage5,
		Version:      version,
		ArtifactType: "manual_edit",
		Params:       paramsOut,
		Files:        []models.ArtifactFile{editedFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}

// decodeStrictMask decodes PNG bytes into a mask, requiring every pixel
// to already be exactly 0 or 255 (spec §4.4 "S5 Manual edit" — "contain
// only values {0, 255}").
func (e *Executor) decodeStrictMask(data []byte) (*kernels.Mask, error) {
	g, err := codec.DecodeAny(data)
	if err != nil {
		return nil, err
	}
	for _, v := range g.Pix {
		if v != 0 && v != 255 {
			return nil, errs.InvalidInputf("편집된 마스크는 0 또는 255 값만 포함해야 합니다.")
		}
	}
	return kernels.MaskFromGray(g), nil
}
