package stages

import (
	"context"
	"path/filepath"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/resolver"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// ExecuteStage2 runs the Intensity Adjustment stage: autocontrast, then
// brightness/contrast, then gamma, then optional CLAHE (spec §4.4
// "S2 Intensity adjustment").
func (e *Executor) ExecuteStage2(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if err := resolver.RequirePrerequisite(ix, models.Stage2); err != nil {
		return nil, err
	}

	src, _, err := e.sourceImage(ctx, run)
	if err != nil {
		return nil, err
	}

	p := params.NormalizeStep2(raw)

	work := kernels.Autocontrast(src, p.BlackClipPct, 100-p.WhiteClipPct)
	bcLUT := kernels.BrightnessContrastLUT(p.Brightness, 1+p.Contrast/100)
	work = bcLUT.Apply(work)
	gammaLUT := kernels.GammaLUT(p.Gamma)
	work = gammaLUT.Apply(work)
	if p.ClaheEnabled {
		tile := params.ResolveClaheTileSize(work.W, work.H, p.ClaheTile)
		alpha := params.ClampFloat(p.ClaheStrength/10, 0, 1)
		work = kernels.ClaheApprox(work, alpha, tile)
	}

	artifactID := store.NewArtifactID()
	scratch := store.StepDir1Shape(run.ID, models.Stage2, artifactID)

	previewPNG, err := codec.EncodePNG(work)
	if err != nil {
		return nil, err
	}
	previewFile, err := e.writePNG(scratch, "step2_preview.png", previewPNG)
	if err != nil {
		return nil, err
	}

	// NextVersion is allocated only once every file has landed under a
	// scratch directory, then that directory is renamed into its final
	// version-numbered home — a write failure above can never burn a
	// version (spec §8 "versions form a contiguous sequence 1..K").
	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage2)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(scratch)
		return nil, err
	}
	dir := store.StepDirVShape(run.ID, models.Stage2, version)
	if err := e.Store.Blob.Rename(scratch, dir); err != nil {
		_ = e.Store.Blob.RemoveAll(scratch)
		return nil, err
	}
	previewFile.Path = filepath.Join(dir, filepath.Base(previewFile.Path))

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage2,
		Version:      version,
		ArtifactType: "intensity",
		Params: map[string]interface{}{
			"brightness":      p.Brightness,
			"contrast":        p.Contrast,
			"gamma":           p.Gamma,
			"clahe_enabled":   p.ClaheEnabled,
			"clahe_strength":  p.ClaheStrength,
			"black_clip_pct":  p.BlackClipPct,
			"white_clip_pct":  p.WhiteClipPct,
			"clahe_tile":      p.ClaheTile,
		},
		Files: []models.ArtifactFile{previewFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}
