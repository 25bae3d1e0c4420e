package stages

import (
	"context"
	"encoding/json"
	"math"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/resolver"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// PolygonRecord is one emitted polygon (spec §4.4 "S9 Polygonization").
type PolygonRecord struct {
	ID     int                `json:"id"`
	Kind   string             `json:"kind"`
	Points []kernels.PointF   `json:"points"`
}

// ExecuteStage9 runs the Polygonization stage: resamples, smooths, and
// densifies every Step-8 contour into a clean polygon (spec §4.4 "S9
// Polygonization").
func (e *Executor) ExecuteStage9(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if err := resolver.RequirePrerequisite(ix, models.Stage9); err != nil {
		return nil, err
	}

	p := params.NormalizeStep9(raw)

	input, err := resolver.ResolveInput(ix, models.Stage9, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	data, _, err := e.Store.GetFile(ctx, input, 0)
	if err != nil {
		return nil, err
	}
	var contours []ContourRecord
	if err := json.Unmarshal(data, &contours); err != nil {
		return nil, errs.Internalf(err, "failed to parse stage 8 contours")
	}

	smoothRadius := clampIntRange(round(p.SmoothLevel/100*6), 0, 32)

	polys := make([]PolygonRecord, 0, len(contours))
	for _, c := range contours {
		ring := toFloatRing(c.Points)
		resampled := resamplePolygon(ring, p.ResampleStepPx)
		smoothed := smoothPolygon(resampled, smoothRadius)
		dense := densifyPolygon(smoothed, p.MaxVertexGapPx)
		polys = append(polys, PolygonRecord{ID: c.ID, Kind: c.Kind, Points: roundPoints(dense)})
	}

	umPerPx, calibErr := resolver.Calibration(ix)
	if calibErr != nil {
		umPerPx = 0
	}
	preview, err := e.renderPolygonPreview(ctx, input, ix, polys, umPerPx)
	if err != nil {
		return nil, err
	}

	artifactID := store.NewArtifactID()
	dir := store.StepDir1Shape(run.ID, models.Stage9, artifactID)

	polyFile, err := e.writeJSON(dir, "polygons.json", polys)
	if err != nil {
		return nil, err
	}

	var previewFile models.ArtifactFile
	if preview != nil {
		previewPNG, err := codec.EncodeRGBAPNG(preview.ToImage())
		if err != nil {
			_ = e.Store.Blob.RemoveAll(dir)
			return nil, err
		}
		previewFile, err = e.writePNG(dir, "step9_preview.png", previewPNG)
		if err != nil {
			_ = e.Store.Blob.RemoveAll(dir)
			return nil, err
		}
	}

	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage9)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	files := []models.ArtifactFile{polyFile}
	if previewFile.Path != "" {
		files = append(files, previewFile)
	}

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage9,
		Version:      version,
		ArtifactType: "polygonize",
		Params: map[string]interface{}{
			"resample_step_px":  p.ResampleStepPx,
			"smooth_level":      p.SmoothLevel,
			"max_vertex_gap_px": p.MaxVertexGapPx,
			"input_artifact_id": input.ID,
		},
		Files: files,
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}

// PreviewStage9 runs the Polygonization algorithm at full resolution (it
// has no documented downscale budget) and returns the polygon overlay
// PNG without writing anything to the store (spec §4.5 "Preview
// renderers").
func (e *Executor) PreviewStage9(ctx context.Context, run *models.Run, raw params.Raw) ([]byte, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	p := params.NormalizeStep9(raw)

	input, err := resolver.ResolveInput(ix, models.Stage9, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	data, _, err := e.Store.GetFile(ctx, input, 0)
	if err != nil {
		return nil, err
	}
	var contours []ContourRecord
	if err := json.Unmarshal(data, &contours); err != nil {
		return nil, errs.Internalf(err, "failed to parse stage 8 contours")
	}

	smoothRadius := clampIntRange(round(p.SmoothLevel/100*6), 0, 32)
	polys := make([]PolygonRecord, 0, len(contours))
	for _, c := range contours {
		ring := toFloatRing(c.Points)
		resampled := resamplePolygon(ring, p.ResampleStepPx)
		smoothed := smoothPolygon(resampled, smoothRadius)
		dense := densifyPolygon(smoothed, p.MaxVertexGapPx)
		polys = append(polys, PolygonRecord{ID: c.ID, Kind: c.Kind, Points: roundPoints(dense)})
	}

	preview, err := e.renderPolygonPreview(ctx, input, ix, polys, 0)
	if err != nil {
		return nil, err
	}
	if preview == nil {
		return nil, errs.PrerequisiteUnmetf("stage 9 preview requires a resolvable grayscale ancestor")
	}
	return codec.EncodeRGBAPNG(preview.ToImage())
}

func (e *Executor) renderPolygonPreview(ctx context.Context, input *models.Artifact, ix *resolver.Index, polys []PolygonRecord, umPerPx float64) (*kernels.Gray, error) {
	grayArtifact, err := resolver.ResolveAncestor(ix, input, []string{"mask_artifact_id", "input_artifact_id", "base_mask_artifact_id"}, models.Stage3)
	if err != nil {
		return nil, nil
	}
	g, err := e.artifactGray(ctx, grayArtifact, 0)
	if err != nil {
		return nil, nil
	}
	out := g.Clone()
	for _, poly := range polys {
		n := len(poly.Points)
		for i := 0; i < n; i++ {
			a := poly.Points[i]
			b := poly.Points[(i+1)%n]
			for _, pt := range kernels.BresenhamLine(int(a.X), int(a.Y), int(b.X), int(b.Y)) {
				out.Set(pt.X, pt.Y, 255)
			}
		}
	}
	return out, nil
}

func toFloatRing(pts []kernels.Point) []kernels.PointF {
	out := make([]kernels.PointF, len(pts))
	for i, p := range pts {
		out[i] = kernels.PointF{X: float64(p.X), Y: float64(p.Y)}
	}
	return out
}

func ringLength(pts []kernels.PointF) float64 {
	n := len(pts)
	total := 0.0
	for i := 0; i < n; i++ {
		a, b := pts[i], pts[(i+1)%n]
		total += math.Hypot(b.X-a.X, b.Y-a.Y)
	}
	return total
}

// resamplePolygon walks the closed ring at uniform arc-length spacing.
func resamplePolygon(pts []kernels.PointF, step float64) []kernels.PointF {
	if len(pts) < 3 || step <= 0 {
		return pts
	}
	perimeter := ringLength(pts)
	if perimeter <= 0 {
		return pts
	}
	n := int(perimeter / step)
	if n < 3 {
		n = 3
	}
	out := make([]kernels.PointF, 0, n)
	segIdx := 0
	segPos := 0.0
	segLen := math.Hypot(pts[1].X-pts[0].X, pts[1].Y-pts[0].Y)
	dist := 0.0
	for i := 0; i < n; i++ {
		target := float64(i) * perimeter / float64(n)
		for dist+segLen < target && segIdx < len(pts)-1 {
			dist += segLen
			segIdx++
			a, b := pts[segIdx%len(pts)], pts[(segIdx+1)%len(pts)]
			segLen = math.Hypot(b.X-a.X, b.Y-a.Y)
		}
		segPos = 0
		if segLen > 0 {
			segPos = (target - dist) / segLen
		}
		a, b := pts[segIdx%len(pts)], pts[(segIdx+1)%len(pts)]
		out = append(out, kernels.PointF{X: a.X + (b.X-a.X)*segPos, Y: a.Y + (b.Y-a.Y)*segPos})
	}
	return out
}

// smoothPolygon applies a circular moving average of the given radius.
func smoothPolygon(pts []kernels.PointF, radius int) []kernels.PointF {
	if radius <= 0 || len(pts) < 3 {
		return pts
	}
	n := len(pts)
	out := make([]kernels.PointF, n)
	for i := 0; i < n; i++ {
		var sx, sy float64
		count := 0
		for k := -radius; k <= radius; k++ {
			p := pts[((i+k)%n+n)%n]
			sx += p.X
			sy += p.Y
			count++
		}
		out[i] = kernels.PointF{X: sx / float64(count), Y: sy / float64(count)}
	}
	return out
}

// densifyPolygon inserts points so no segment exceeds maxGap.
func densifyPolygon(pts []kernels.PointF, maxGap float64) []kernels.PointF {
	if len(pts) < 2 || maxGap <= 0 {
		return pts
	}
	n := len(pts)
	out := make([]kernels.PointF, 0, n)
	for i := 0; i < n; i++ {
		a, b := pts[i], pts[(i+1)%n]
		out = append(out, a)
		segLen := math.Hypot(b.X-a.X, b.Y-a.Y)
		if segLen > maxGap {
			steps := int(math.Ceil(segLen / maxGap))
			for s := 1; s < steps; s++ {
				t := float64(s) / float64(steps)
				out = append(out, kernels.PointF{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t})
			}
		}
	}
	return out
}

func roundPoints(pts []kernels.PointF) []kernels.PointF {
	out := make([]kernels.PointF, len(pts))
	for i, p := range pts {
		out[i] = kernels.PointF{X: round3(p.X), Y: round3(p.Y)}
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
