package stages

import (
	"context"
	"math"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/resolver"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// ExecuteStage6 runs the Morphological Recovery stage: expands the S5
// mask into adjacent pixels that match the foreground's intensity and
// gradient profile (spec §4.4 "S6 Morphological recovery").
func (e *Executor) ExecuteStage6(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if err := resolver.RequirePrerequisite(ix, models.Stage6); err != nil {
		return nil, err
	}

	p := params.NormalizeStep6(raw)

	maskArtifact, err := resolver.ResolveInput(ix, models.Stage6, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	mask, err := e.artifactMask(ctx, maskArtifact, 0)
	if err != nil {
		return nil, err
	}
	if mask.CountForeground() == 0 {
		return nil, errs.PrerequisiteUnmetf("마스크에 전경 픽셀이 없습니다.")
	}

	grayArtifact, err := resolver.ResolveAncestor(ix, maskArtifact, []string{"input_artifact_id", "base_mask_artifact_id"}, models.Stage3)
	if err != nil {
		return nil, err
	}
	gray, err := e.artifactGray(ctx, grayArtifact, 0)
	if err != nil {
		return nil, err
	}

	umPerPx, err := resolver.Calibration(ix)
	if err != nil {
		return nil, err
	}

	mu, sigma := meanStdWithinMask(gray, mask)
	kSigma := params.ClampFloat(2.3-p.Sensitivity/100*1.8, 0.5, 2.3)
	intensityThreshold := params.ClampFloat(mu-kSigma*sigma, 0, 255)

	edge := p.EdgeProtect / 100
	meanSobel := kernels.MeanSobel(gray, mask)
	gradMax := params.ClampFloat(meanSobel*(2.2-edge*1.4)+(18-edge*10), 4, 220)

	maxExpandPx := clampIntRange(round(pxFromUm(p.MaxExpandUm, umPerPx)), 0, 512)

	if maxExpandPx == 0 {
		// spec §8 boundary behavior: max_expand_um = 0 returns the input
		// mask unchanged.
		return e.commitStage6(ctx, run, maskArtifact, mask, mu, sigma, intensityThreshold, gradMax, maxExpandPx, p)
	}

	dist := kernels.DistanceTransform(invertMask(mask))
	sobelFull := kernels.SobelMagnitude(gray)

	expanded := mask.Clone()
	for y := 0; y < mask.H; y++ {
		for x := 0; x < mask.W; x++ {
			if mask.At(x, y) {
				continue
			}
			d := dist[y*mask.W+x]
			if d > maxExpandPx {
				continue
			}
			if int(gray.At(x, y)) >= round(intensityThreshold) && float64(sobelFull.At(x, y)) <= gradMax {
				expanded.Set(x, y, true)
			}
		}
	}

	if p.FillHolesEnabled {
		maxHoleArea := clampIntRange(round(float64((maxExpandPx+1)*(maxExpandPx+1))*0.4), 4, 4000)
		expanded = fillSmallHoles(expanded, maxHoleArea)
	}

	minComponentPx := 1
	if maxExpandPx > 2 {
		minComponentPx = clampIntRange(round(float64(maxExpandPx)*0.8), 1, 36)
	}
	expanded = kernels.RemoveSmallComponents(expanded, minComponentPx)

	return e.commitStage6(ctx, run, maskArtifact, expanded, mu, sigma, intensityThreshold, gradMax, maxExpandPx, p)
}

func (e *Executor) commitStage6(ctx context.Context, run *models.Run, maskArtifact *models.Artifact, result *kernels.Mask, mu, sigma, intensityThreshold, gradMax float64, maxExpandPx int, p params.Step6Params) (*models.Artifact, error) {
	artifactID := store.NewArtifactID()
	dir := store.StepDir1Shape(run.ID, models.Stage6, artifactID)

	maskPNG, err := codec.EncodeMaskPNG(result)
	if err != nil {
		return nil, err
	}
	maskFile, err := e.writePNG(dir, "step6_recovered_mask.png", maskPNG)
	if err != nil {
		return nil, err
	}

	paramsOut := map[string]interface{}{
		"sensitivity":         p.Sensitivity,
		"edge_protect":        p.EdgeProtect,
		"max_expand_um":       p.MaxExpandUm,
		"fill_holes_enabled":  p.FillHolesEnabled,
		"input_artifact_id":   maskArtifact.ID,
		"intensity_threshold": intensityThreshold,
		"grad_max":            gradMax,
		"max_expand_px":       maxExpandPx,
	}
	paramsFile, err := e.writeJSON(dir, "params.json", paramsOut)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	qc := map[string]interface{}{
		"mean_intensity": mu,
		"std_intensity":  sigma,
		"final_pixels":   result.CountForeground(),
	}
	qcFile, err := e.writeJSON(dir, "qc.json", qc)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage6)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage6,
		Version:      version,
		ArtifactType: "morphology",
		Params:       paramsOut,
		Files:        []models.ArtifactFile{maskFile, paramsFile, qcFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}

// PreviewStage6 runs the Morphological Recovery algorithm on a downscaled
// copy of the mask/grayscale pair and returns the upscaled mask PNG,
// writing nothing to the store (spec §4.5 "Preview renderers").
func (e *Executor) PreviewStage6(ctx context.Context, run *models.Run, raw params.Raw) ([]byte, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	p := params.NormalizeStep6(raw)

	maskArtifact, err := resolver.ResolveInput(ix, models.Stage6, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	maskFull, err := e.artifactMask(ctx, maskArtifact, 0)
	if err != nil {
		return nil, err
	}
	grayArtifact, err := resolver.ResolveAncestor(ix, maskArtifact, []string{"input_artifact_id", "base_mask_artifact_id"}, models.Stage3)
	if err != nil {
		return nil, err
	}
	grayFull, err := e.artifactGray(ctx, grayArtifact, 0)
	if err != nil {
		return nil, err
	}
	umPerPx, err := resolver.Calibration(ix)
	if err != nil {
		return nil, err
	}

	w, h := kernels.ScaledDims(maskFull.W, maskFull.H, previewLongestEdge(params.QualityFast))
	scale := 1.0
	if maskFull.W > 0 {
		scale = float64(w) / float64(maskFull.W)
	}
	mask := kernels.ResizeMask(maskFull, w, h)
	gray := kernels.ResizeGray(grayFull, w, h)
	if mask.CountForeground() == 0 {
		return codec.EncodeMaskPNG(kernels.ResizeMask(mask, maskFull.W, maskFull.H))
	}

	mu, sigma := meanStdWithinMask(gray, mask)
	kSigma := params.ClampFloat(2.3-p.Sensitivity/100*1.8, 0.5, 2.3)
	intensityThreshold := params.ClampFloat(mu-kSigma*sigma, 0, 255)

	edge := p.EdgeProtect / 100
	meanSobel := kernels.MeanSobel(gray, mask)
	gradMax := params.ClampFloat(meanSobel*(2.2-edge*1.4)+(18-edge*10), 4, 220)

	maxExpandPx := clampIntRange(round(pxFromUm(p.MaxExpandUm, umPerPx)*scale), 0, 512)
	if maxExpandPx == 0 {
		return codec.EncodeMaskPNG(kernels.ResizeMask(mask, maskFull.W, maskFull.H))
	}

	dist := kernels.DistanceTransform(invertMask(mask))
	sobelFull := kernels.SobelMagnitude(gray)
	expanded := mask.Clone()
	for y := 0; y < mask.H; y++ {
		for x := 0; x < mask.W; x++ {
			if mask.At(x, y) {
				continue
			}
			d := dist[y*mask.W+x]
			if d > maxExpandPx {
				continue
			}
			if int(gray.At(x, y)) >= round(intensityThreshold) && float64(sobelFull.At(x, y)) <= gradMax {
				expanded.Set(x, y, true)
			}
		}
	}
	if p.FillHolesEnabled {
		maxHoleArea := clampIntRange(round(float64((maxExpandPx+1)*(maxExpandPx+1))*0.4), 4, 4000)
		expanded = fillSmallHoles(expanded, maxHoleArea)
	}
	minComponentPx := 1
	if maxExpandPx > 2 {
		minComponentPx = clampIntRange(round(float64(maxExpandPx)*0.8), 1, 36)
	}
	expanded = kernels.RemoveSmallComponents(expanded, minComponentPx)

	upscaled := kernels.ResizeMask(expanded, maskFull.W, maskFull.H)
	return codec.EncodeMaskPNG(upscaled)
}

func meanStdWithinMask(g *kernels.Gray, m *kernels.Mask) (mean, std float64) {
	n := 0
	sum := 0.0
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			if m.At(x, y) {
				sum += float64(g.At(x, y))
				n++
			}
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean = sum / float64(n)
	var variance float64
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			if m.At(x, y) {
				d := float64(g.At(x, y)) - mean
				variance += d * d
			}
		}
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance)
}

func invertMask(m *kernels.Mask) *kernels.Mask {
	out := kernels.NewMask(m.W, m.H)
	for i, v := range m.Pix {
		if v == 0 {
			out.Pix[i] = 1
		}
	}
	return out
}

// fillSmallHoles fills background components enclosed by foreground whose
// area does not exceed maxArea, by flood-filling background from the
// image border and treating any unreached background component as a hole.
func fillSmallHoles(m *kernels.Mask, maxArea int) *kernels.Mask {
	bg := invertMask(m)
	comps := kernels.ConnectedComponents(bg, 4, 0)
	out := m.Clone()
	for _, c := range comps {
		touchesBorder := false
		for _, idx := range c.Pixels {
			x, y := idx%m.W, idx/m.W
			if x == 0 || y == 0 || x == m.W-1 || y == m.H-1 {
				touchesBorder = true
				break
			}
		}
		if touchesBorder || c.Area() > maxArea {
			continue
		}
		for _, idx := range c.Pixels {
			out.Pix[idx] = 1
		}
	}
	return out
}
