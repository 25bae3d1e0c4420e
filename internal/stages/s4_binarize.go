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

// ExecuteStage4 runs the Binarization stage, in either structure or
// simple mode, followed by geodesic reconstruction and small-component
// removal (spec §4.4 "S4 Binarization").
func (e *Executor) ExecuteStage4(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if err := resolver.RequirePrerequisite(ix, models.Stage4); err != nil {
		return nil, err
	}

	p, err := params.NormalizeStep4(raw)
	if err != nil {
		return nil, err
	}

	input, err := resolver.ResolveInput(ix, models.Stage4, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	src, err := e.artifactGray(ctx, input, 0)
	if err != nil {
		return nil, err
	}

	umPerPx, err := resolver.Calibration(ix)
	if err != nil {
		return nil, err
	}

	otsu := kernels.OtsuThreshold(src)

	var seedThresh, candThresh int
	var seed, candidate *kernels.Mask
	if p.Mode == params.BinarizeSimple {
		thresh := clampIntRange(otsu+round((50-p.SeedSensitivity)/50*22), 0, 255)
		seedThresh, candThresh = thresh, thresh
		seed = thresholdMask(src, thresh)
		candidate = seed
	} else {
		seedThresh = clampIntRange(otsu+round((50-p.SeedSensitivity)/50*26), 0, 255)
		candThresh = clampIntRange(otsu+round((50-p.CandidateSensitivity)/50*34), 0, 255)
		seed = thresholdMask(src, seedThresh)

		sigma := 0.45 * p.StructureScalePx
		blurred := kernels.GaussianBlur(src, sigma)
		sobel := kernels.SobelMagnitudeF(src)
		candidate = kernels.NewMask(src.W, src.H)
		for y := 0; y < src.H; y++ {
			for x := 0; x < src.W; x++ {
				if int(src.At(x, y)) <= candThresh {
					continue
				}
				localContrast := float64(src.At(x, y)) - float64(blurred.At(x, y))
				if sobel[y*src.W+x] > p.GradientThreshold || localContrast > p.ContrastThreshold {
					candidate.Set(x, y, true)
				}
			}
		}
	}

	grown := kernels.GeodesicReconstruct(seed, candidate)

	minAreaPx := 0
	if umPerPx > 0 {
		minAreaPx = round(p.MinAreaUm2 / (umPerPx * umPerPx))
	}
	cleaned := kernels.RemoveSmallComponents(grown, minAreaPx)

	// The resolved Step-3 artifact stores its exclude mask as files[1]
	// (spec §6 "Stage-produced file names").
	if len(input.Files) > 1 {
		if excludeMask, err := e.artifactMask(ctx, input, 1); err == nil {
			cleaned = cleaned.AndNot(excludeMask)
		}
	}

	artifactID := store.NewArtifactID()
	dir := store.StepDir1Shape(run.ID, models.Stage4, artifactID)

	maskPNG, err := codec.EncodeMaskPNG(cleaned)
	if err != nil {
		return nil, err
	}
	maskFile, err := e.writePNG(dir, "step4_mask.png", maskPNG)
	if err != nil {
		return nil, err
	}

	paramsOut := map[string]interface{}{
		"mode":                  p.Mode,
		"seed_sensitivity":      p.SeedSensitivity,
		"candidate_sensitivity": p.CandidateSensitivity,
		"gradient_threshold":    p.GradientThreshold,
		"contrast_threshold":    p.ContrastThreshold,
		"structure_scale_px":    p.StructureScalePx,
		"min_area_um2":          p.MinAreaUm2,
		"preview_layer":         p.PreviewLayer,
		"input_artifact_id":     input.ID,
		"otsu_threshold":        otsu,
		"seed_threshold":        seedThresh,
		"candidate_threshold":   candThresh,
	}
	paramsFile, err := e.writeJSON(dir, "params.json", paramsOut)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	qc := map[string]interface{}{
		"seed_pixels":      seed.CountForeground(),
		"candidate_pixels": candidate.CountForeground(),
		"grown_pixels":     grown.CountForeground(),
		"final_pixels":     cleaned.CountForeground(),
	}
	qcFile, err := e.writeJSON(dir, "qc.json", qc)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage4)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage4,
		Version:      version,
		ArtifactType: "binarize",
		Params:       paramsOut,
		Files:        []models.ArtifactFile{maskFile, paramsFile, qcFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}

// PreviewStage4 runs the Binarization algorithm on a downscaled copy of
// the input and returns the requested preview_layer as an upscaled mask
// PNG, writing nothing to the store (spec §4.5 "Preview renderers").
func (e *Executor) PreviewStage4(ctx context.Context, run *models.Run, raw params.Raw) ([]byte, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	p, err := params.NormalizeStep4(raw)
	if err != nil {
		return nil, err
	}
	input, err := resolver.ResolveInput(ix, models.Stage4, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	srcFull, err := e.artifactGray(ctx, input, 0)
	if err != nil {
		return nil, err
	}
	umPerPx, err := resolver.Calibration(ix)
	if err != nil {
		return nil, err
	}

	w, h := kernels.ScaledDims(srcFull.W, srcFull.H, previewLongestEdge(params.QualityFast))
	src := kernels.ResizeGray(srcFull, w, h)
	scale := 1.0
	if srcFull.W > 0 {
		scale = float64(w) / float64(srcFull.W)
	}

	otsu := kernels.OtsuThreshold(src)
	var seed, candidate *kernels.Mask
	var seedThresh, candThresh int
	if p.Mode == params.BinarizeSimple {
		thresh := clampIntRange(otsu+round((50-p.SeedSensitivity)/50*22), 0, 255)
		seedThresh, candThresh = thresh, thresh
		seed = thresholdMask(src, thresh)
		candidate = seed
	} else {
		seedThresh = clampIntRange(otsu+round((50-p.SeedSensitivity)/50*26), 0, 255)
		candThresh = clampIntRange(otsu+round((50-p.CandidateSensitivity)/50*34), 0, 255)
		seed = thresholdMask(src, seedThresh)

		sigma := 0.45 * p.StructureScalePx * scale
		blurred := kernels.GaussianBlur(src, sigma)
		sobel := kernels.SobelMagnitudeF(src)
		candidate = kernels.NewMask(src.W, src.H)
		for y := 0; y < src.H; y++ {
			for x := 0; x < src.W; x++ {
				if int(src.At(x, y)) <= candThresh {
					continue
				}
				localContrast := float64(src.At(x, y)) - float64(blurred.At(x, y))
				if sobel[y*src.W+x] > p.GradientThreshold || localContrast > p.ContrastThreshold {
					candidate.Set(x, y, true)
				}
			}
		}
	}

	grown := kernels.GeodesicReconstruct(seed, candidate)
	minAreaPx := 0
	if umPerPx > 0 {
		minAreaPx = round(p.MinAreaUm2 / (umPerPx * umPerPx) * scale * scale)
	}
	cleaned := kernels.RemoveSmallComponents(grown, minAreaPx)

	var chosen *kernels.Mask
	switch p.PreviewLayer {
	case params.PreviewLayerSeed:
		chosen = seed
	case params.PreviewLayerCandidate:
		chosen = candidate
	default:
		chosen = cleaned
	}

	upscaled := kernels.ResizeMask(chosen, srcFull.W, srcFull.H)
	return codec.EncodeMaskPNG(upscaled)
}

func thresholdMask(g *kernels.Gray, thresh int) *kernels.Mask {
	out := kernels.NewMask(g.W, g.H)
	for i, v := range g.Pix {
		if int(v) > thresh {
			out.Pix[i] = 1
		}
	}
	return out
}
