package stages

import (
	"context"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/resolver"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// ExecuteStage7 runs the Hole Handling + Closing stage, producing the
// (solid, outer) mask pair (spec §4.4 "S7 Hole handling + closing").
func (e *Executor) ExecuteStage7(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if err := resolver.RequirePrerequisite(ix, models.Stage7); err != nil {
		return nil, err
	}

	p, err := params.NormalizeStep7(raw)
	if err != nil {
		return nil, err
	}

	base, err := resolver.ResolveInput(ix, models.Stage7, p.BaseMaskArtifactID)
	if err != nil {
		return nil, err
	}
	solid, err := e.artifactMask(ctx, base, 0)
	if err != nil {
		return nil, err
	}

	var outer *kernels.Mask
	switch p.HoleMode {
	case params.HoleFillAll:
		outer = fillSmallHoles(solid, int(^uint(0)>>1))
	case params.HoleFillSmall:
		area := 0.0
		if p.MaxHoleAreaUm2 != nil {
			area = *p.MaxHoleAreaUm2
		}
		umPerPx, err := resolver.Calibration(ix)
		if err != nil {
			return nil, err
		}
		maxAreaPx := round(area / (umPerPx * umPerPx))
		outer = fillSmallHoles(solid, maxAreaPx)
	default: // keep
		outer = solid.Clone()
	}

	if p.ClosingEnabled {
		umPerPx, err := resolver.Calibration(ix)
		if err != nil {
			return nil, err
		}
		radius := clampIntRange(round(pxFromUm(p.ClosingRadiusUm, umPerPx)), 0, 128)
		if radius > 0 {
			outer = kernels.BinaryClosing(outer, radius)
		}
	}

	outer = outer.Union(solid)

	outerArea := outer.CountForeground()
	solidArea := solid.CountForeground()
	porosity := 0.0
	if outerArea > 0 {
		porosity = float64(outerArea-solidArea) / float64(outerArea)
	}

	artifactID := store.NewArtifactID()
	dir := store.StepDir1Shape(run.ID, models.Stage7, artifactID)

	solidPNG, err := codec.EncodeMaskPNG(solid)
	if err != nil {
		return nil, err
	}
	solidFile, err := e.writePNG(dir, "mask_solid.png", solidPNG)
	if err != nil {
		return nil, err
	}

	outerPNG, err := codec.EncodeMaskPNG(outer)
	if err != nil {
		return nil, err
	}
	outerFile, err := e.writePNG(dir, "mask_outer.png", outerPNG)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	metrics := map[string]interface{}{
		"solid_area": solidArea,
		"outer_area": outerArea,
		"porosity":   porosity,
	}
	metricsFile, err := e.writeJSON(dir, "metrics.json", metrics)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	paramsOut := map[string]interface{}{
		"base_mask_artifact_id": base.ID,
		"hole_mode":             p.HoleMode,
		"closing_enabled":       p.ClosingEnabled,
		"closing_radius_um":     p.ClosingRadiusUm,
	}
	if p.MaxHoleAreaUm2 != nil {
		paramsOut["max_hole_area_um2"] = *p.MaxHoleAreaUm2
	}

	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage7)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage7,
		Version:      version,
		ArtifactType: "holes",
		Params:       paramsOut,
		Files:        []models.ArtifactFile{solidFile, outerFile, metricsFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}

// PreviewStage7 runs the Hole Handling + Closing algorithm on a
// downscaled copy of the base mask and returns the upscaled outer-mask
// PNG, writing nothing to the store (spec §4.5 "Preview renderers").
func (e *Executor) PreviewStage7(ctx context.Context, run *models.Run, raw params.Raw) ([]byte, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	p, err := params.NormalizeStep7(raw)
	if err != nil {
		return nil, err
	}
	base, err := resolver.ResolveInput(ix, models.Stage7, p.BaseMaskArtifactID)
	if err != nil {
		return nil, err
	}
	solidFull, err := e.artifactMask(ctx, base, 0)
	if err != nil {
		return nil, err
	}

	w, h := kernels.ScaledDims(solidFull.W, solidFull.H, previewLongestEdge(params.QualityFast))
	scale := 1.0
	if solidFull.W > 0 {
		scale = float64(w) / float64(solidFull.W)
	}
	solid := kernels.ResizeMask(solidFull, w, h)

	var outer *kernels.Mask
	switch p.HoleMode {
	case params.HoleFillAll:
		outer = fillSmallHoles(solid, int(^uint(0)>>1))
	case params.HoleFillSmall:
		area := 0.0
		if p.MaxHoleAreaUm2 != nil {
			area = *p.MaxHoleAreaUm2
		}
		umPerPx, err := resolver.Calibration(ix)
		if err != nil {
			return nil, err
		}
		maxAreaPx := round(area / (umPerPx * umPerPx) * scale * scale)
		outer = fillSmallHoles(solid, maxAreaPx)
	default:
		outer = solid.Clone()
	}

	if p.ClosingEnabled {
		umPerPx, err := resolver.Calibration(ix)
		if err != nil {
			return nil, err
		}
		radius := clampIntRange(round(pxFromUm(p.ClosingRadiusUm, umPerPx)*scale), 0, 128)
		if radius > 0 {
			outer = kernels.BinaryClosing(outer, radius)
		}
	}
	outer = outer.Union(solid)

	upscaled := kernels.ResizeMask(outer, solidFull.W, solidFull.H)
	return codec.EncodeMaskPNG(upscaled)
}
