package stages

import (
	"context"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// ExecuteStage1 runs the Calibration stage: crops the bottom crop_bottom_px
// rows (scale-bar region) and records µm/px, either from a manual value or
// a two-point pixel measurement (spec §4.4 "S1 Calibration").
func (e *Executor) ExecuteStage1(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	src, _, err := e.sourceImage(ctx, run)
	if err != nil {
		return nil, err
	}

	p, err := params.NormalizeStep1(raw, src.H)
	if err != nil {
		return nil, err
	}

	umPerPx := 0.0
	if p.Measurement != nil {
		umPerPx = p.Measurement.RealUm / p.Measurement.PixelDistance
	} else if p.UmPerPxManual != nil {
		umPerPx = *p.UmPerPxManual
	}
	if umPerPx <= 0 {
		return nil, errs.PrerequisiteUnmetf("계산된 µm/px 값이 0보다 커야 합니다.")
	}

	croppedH := src.H - p.CropBottomPx
	preview := kernels.NewGray(src.W, croppedH)
	for y := 0; y < croppedH; y++ {
		for x := 0; x < src.W; x++ {
			preview.Set(x, y, src.At(x, y))
		}
	}

	artifactID := store.NewArtifactID()
	dir := store.StepDir1Shape(run.ID, models.Stage1, artifactID)

	previewPNG, err := codec.EncodePNG(preview)
	if err != nil {
		return nil, err
	}
	previewFile, err := e.writePNG(dir, "step1_preview.png", previewPNG)
	if err != nil {
		return nil, err
	}

	calib := map[string]interface{}{
		"um_per_px":      umPerPx,
		"crop_bottom_px": p.CropBottomPx,
	}
	if p.Measurement != nil {
		calib["measurement"] = p.Measurement
	}
	calibFile, err := e.writeJSON(dir, "calibration.json", calib)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage1)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage1,
		Version:      version,
		ArtifactType: "calibration",
		Params:       calib,
		Files:        []models.ArtifactFile{previewFile, calibFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}
