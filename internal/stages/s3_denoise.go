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

// denoiseBilateral approximates bilateral filtering as a Gaussian blur at
// sigma_space followed by an edge-preserving composite (spec §4.4 "S3
// Denoise", bilateral formulas).
func denoiseBilateral(src *kernels.Gray, strength, edge float64, accurate bool) *kernels.Gray {
	ratio := strength / 100
	sigmaSpace := params.ClampFloat(1.4+ratio*7.2, 1, 8.5) * (1 - edge*0.25)
	extra := 0.0
	if accurate {
		extra = 1
	}
	_ = params.ClampFloat(float64(round(1.8*sigmaSpace))+extra, 1, 7) // radius, informational only
	blurred := kernels.GaussianBlur(src, sigmaSpace)
	return kernels.CompositeEdgePreserve(src, blurred, edge)
}

// denoiseNLM approximates non-local-means as a median+box-blur blend
// followed by an edge-preserving composite (spec §4.4 "S3 Denoise", NLM
// formulas).
func denoiseNLM(src *kernels.Gray, strength, edge float64) *kernels.Gray {
	ratio := strength / 100
	h := params.ClampFloat(2+ratio*30, 1, 24) * (1 - edge*0.75)
	medianKernel := 3 + 2*clampIntRange(round(h/8), 0, 3)
	alpha := params.ClampFloat(h/24, 0.08, 0.88)

	med := kernels.MedianFilter(src, medianKernel)
	boxed := kernels.BoxBlur(med, 2)
	blend := kernels.NewGray(src.W, src.H)
	for i := range blend.Pix {
		v := float64(src.Pix[i])*(1-alpha) + float64(boxed.Pix[i])*alpha
		blend.Pix[i] = clampFloat255(v)
	}
	return kernels.CompositeEdgePreserve(src, blend, edge)
}

func clampFloat255(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// ExecuteStage3 runs the Denoise stage (spec §4.4 "S3 Denoise").
func (e *Executor) ExecuteStage3(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if err := resolver.RequirePrerequisite(ix, models.Stage3); err != nil {
		return nil, err
	}

	excludeMaskPNG, err := decodeBase64PNG("exclude_mask", raw["exclude_mask"])
	if err != nil {
		return nil, err
	}

	p, err := params.NormalizeStep3(raw, excludeMaskPNG)
	if err != nil {
		return nil, err
	}

	input, err := resolver.ResolveInput(ix, models.Stage3, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	src, err := e.artifactGray(ctx, input, 0)
	if err != nil {
		return nil, err
	}

	var out *kernels.Gray
	if p.Strength <= 0 {
		out = src.Clone()
	} else if p.Method == params.MethodNLM {
		out = denoiseNLM(src, p.Strength, p.EdgeProtect/100)
	} else {
		out = denoiseBilateral(src, p.Strength, p.EdgeProtect/100, p.QualityMode == params.QualityAccurate)
	}
	if p.RefinementPass && p.Strength > 0 {
		if p.Method == params.MethodNLM {
			out = denoiseNLM(out, p.Strength*0.5, p.EdgeProtect/100)
		} else {
			out = denoiseBilateral(out, p.Strength*0.5, p.EdgeProtect/100, p.QualityMode == params.QualityAccurate)
		}
	}

	var excludeMask *kernels.Mask
	if len(p.ExcludeMaskPNG) > 0 {
		excludeMask, err = codec.DecodeMaskPNG(p.ExcludeMaskPNG)
		if err != nil {
			return nil, err
		}
		for y := 0; y < out.H; y++ {
			for x := 0; x < out.W; x++ {
				if excludeMask.At(x, y) {
					out.Set(x, y, src.At(x, y))
				}
			}
		}
	} else {
		excludeMask = kernels.NewMask(src.W, src.H)
	}

	lapBefore := kernels.LaplacianVariance(src)
	lapAfter := kernels.LaplacianVariance(out)
	noiseReductionPct := 0.0
	if lapBefore > 0 {
		noiseReductionPct = (lapBefore - lapAfter) / lapBefore * 100
	}
	sobelBefore := kernels.MeanSobel(src, nil)
	sobelAfter := kernels.MeanSobel(out, nil)
	edgePreservePct := 100.0
	if sobelBefore > 0 {
		edgePreservePct = sobelAfter / sobelBefore * 100
	}

	artifactID := store.NewArtifactID()
	scratch := store.StepDir1Shape(run.ID, models.Stage3, artifactID)

	denoisedPNG, err := codec.EncodePNG(out)
	if err != nil {
		return nil, err
	}
	denoisedFile, err := e.writePNG(scratch, "step3_denoised.png", denoisedPNG)
	if err != nil {
		return nil, err
	}

	excludeMaskPNGBytes, err := codec.EncodeMaskPNG(excludeMask)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(scratch)
		return nil, err
	}
	excludeFile, err := e.writePNG(scratch, "step3_exclude_mask.png", excludeMaskPNGBytes)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(scratch)
		return nil, err
	}

	qc := map[string]interface{}{
		"noise_reduction_pct": noiseReductionPct,
		"edge_preserve_pct":   edgePreservePct,
	}
	qcFile, err := e.writeJSON(scratch, "qc.json", qc)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(scratch)
		return nil, err
	}

	// NextVersion is allocated only once every file has landed under a
	// scratch directory, then that directory is renamed into its final
	// version-numbered home — a write failure above can never burn a
	// version (spec §8 "versions form a contiguous sequence 1..K").
	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage3)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(scratch)
		return nil, err
	}
	dir := store.StepDirVShape(run.ID, models.Stage3, version)
	if err := e.Store.Blob.Rename(scratch, dir); err != nil {
		_ = e.Store.Blob.RemoveAll(scratch)
		return nil, err
	}
	denoisedFile.Path = filepath.Join(dir, filepath.Base(denoisedFile.Path))
	excludeFile.Path = filepath.Join(dir, filepath.Base(excludeFile.Path))
	qcFile.Path = filepath.Join(dir, filepath.Base(qcFile.Path))

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage3,
		Version:      version,
		ArtifactType: "denoise",
		Params: map[string]interface{}{
			"method":            p.Method,
			"quality_mode":      p.QualityMode,
			"strength":          p.Strength,
			"edge_protect":      p.EdgeProtect,
			"refinement_pass":   p.RefinementPass,
			"exclude_roi":       p.ExcludeROI,
			"input_artifact_id": input.ID,
		},
		Files: []models.ArtifactFile{denoisedFile, excludeFile, qcFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}

// previewLongestEdge returns the preview downscale budget for a quality
// mode (spec §4.5 "Previews downscale the longest edge to 900 (fast) or
// 1200 (accurate) pixels and upscale the result back").
func previewLongestEdge(quality string) int {
	if quality == params.QualityAccurate {
		return 1200
	}
	return 900
}

// PreviewStage3 runs the Denoise algorithm on a downscaled copy of the
// input and returns the upscaled PNG, writing nothing to the store (spec
// §4.5 "Preview renderers").
func (e *Executor) PreviewStage3(ctx context.Context, run *models.Run, raw params.Raw) ([]byte, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	excludeMaskPNG, err := decodeBase64PNG("exclude_mask", raw["exclude_mask"])
	if err != nil {
		return nil, err
	}
	p, err := params.NormalizeStep3(raw, excludeMaskPNG)
	if err != nil {
		return nil, err
	}
	input, err := resolver.ResolveInput(ix, models.Stage3, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	src, err := e.artifactGray(ctx, input, 0)
	if err != nil {
		return nil, err
	}

	edge := previewLongestEdge(p.QualityMode)
	w, h := kernels.ScaledDims(src.W, src.H, edge)
	small := kernels.ResizeGray(src, w, h)

	var out *kernels.Gray
	if p.Strength <= 0 {
		out = small.Clone()
	} else if p.Method == params.MethodNLM {
		out = denoiseNLM(small, p.Strength, p.EdgeProtect/100)
	} else {
		out = denoiseBilateral(small, p.Strength, p.EdgeProtect/100, p.QualityMode == params.QualityAccurate)
	}
	if p.RefinementPass && p.Strength > 0 {
		if p.Method == params.MethodNLM {
			out = denoiseNLM(out, p.Strength*0.5, p.EdgeProtect/100)
		} else {
			out = denoiseBilateral(out, p.Strength*0.5, p.EdgeProtect/100, p.QualityMode == params.QualityAccurate)
		}
	}
	upscaled := kernels.ResizeGray(out, src.W, src.H)
	return codec.EncodePNG(upscaled)
}
