package stages

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/resolver"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// SplitLine is one boundary polyline between two adjacent watershed
// labels (spec §4.4 "S10 Watershed split of overlapping particles").
type SplitLine struct {
	LabelA int             `json:"labelA"`
	LabelB int             `json:"labelB"`
	Points []kernels.Point `json:"points"`
}

// ExecuteStage10 runs the Watershed Split stage: for every input polygon,
// rasterizes it, optionally splits it via priority-flood watershed seeded
// at distance-transform peaks, and re-emits consecutive global labels
// (spec §4.4 "S10 Watershed split of overlapping particles").
func (e *Executor) ExecuteStage10(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if err := resolver.RequirePrerequisite(ix, models.Stage10); err != nil {
		return nil, err
	}

	p := params.NormalizeStep10(raw)

	input, err := resolver.ResolveInput(ix, models.Stage10, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	data, _, err := e.Store.GetFile(ctx, input, 0)
	if err != nil {
		return nil, err
	}
	var polys []PolygonRecord
	if err := json.Unmarshal(data, &polys); err != nil {
		return nil, errs.Internalf(err, "failed to parse stage 9 polygons")
	}

	var gray *kernels.Gray
	if p.GrayscaleArtifactID != "" {
		if a, ok := ix.Get(p.GrayscaleArtifactID); ok {
			gray, _ = e.artifactGray(ctx, a, 0)
		}
	} else if a, ok := ix.Latest(models.Stage3); ok {
		gray, _ = e.artifactGray(ctx, a, 0)
	}

	bounds := boundsOfPolygons(polys)
	labelMap := make([]int, bounds.W*bounds.H)
	nextLabel := 1
	warnings := []string{}
	var splitLines []SplitLine

	for _, poly := range polys {
		if len(poly.Points) < 3 {
			continue
		}
		localBBox := localBounds(poly.Points)
		local := rasterizePolygon(poly.Points, localBBox)

		var labels []int
		labelCount := 1
		if p.SplitStrength <= 0 {
			labels = make([]int, local.W*local.H)
			for i, v := range local.Pix {
				if v != 0 {
					labels[i] = 1
				}
			}
		} else {
			labels, labelCount, warnings = splitOnePolygon(local, gray, localBBox, p, warnings)
		}

		remap := make(map[int]int, labelCount)
		for i, v := range labels {
			if v == 0 {
				continue
			}
			lbl, ok := remap[v]
			if !ok {
				lbl = nextLabel
				nextLabel++
				remap[v] = lbl
			}
			x := localBBox.MinX + i%local.W
			y := localBBox.MinY + i/local.W
			gx, gy := x-bounds.MinX, y-bounds.MinY
			if gx >= 0 && gy >= 0 && gx < bounds.W && gy < bounds.H {
				labelMap[gy*bounds.W+gx] = lbl
			}
		}
		splitLines = append(splitLines, boundarySplitLines(labels, local, localBBox, remap)...)
	}

	labelCountFinal := nextLabel - 1

	segMask := kernels.NewMask(bounds.W, bounds.H)
	for i, v := range labelMap {
		if v != 0 {
			segMask.Pix[i] = 1
		}
	}

	artifactID := store.NewArtifactID()
	dir := store.StepDir1Shape(run.ID, models.Stage10, artifactID)

	labelsPNG, err := encodeLabels16(bounds.W, bounds.H, labelMap)
	if err != nil {
		return nil, err
	}
	labelsFile, err := e.writePNG(dir, "labels.png", labelsPNG)
	if err != nil {
		return nil, err
	}

	labelsVisPNG, err := encodeLabelsVis(bounds.W, bounds.H, labelMap)
	if err != nil {
		return nil, err
	}
	labelsVisFile, err := e.writePNG(dir, "labels_vis.png", labelsVisPNG)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	segPNG, err := codec.EncodeMaskPNG(segMask)
	if err != nil {
		return nil, err
	}
	segFile, err := e.writePNG(dir, "segmented_mask.png", segPNG)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	overlay := boundaryOverlay(gray, segMask, bounds)
	overlayPNG, err := codec.EncodeRGBAPNG(overlay)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}
	overlayFile, err := e.writePNG(dir, "boundary_overlay.png", overlayPNG)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	splitLinesFile, err := e.writeJSON(dir, "split_lines.json", splitLines)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	qc := map[string]interface{}{
		"polygon_count":  len(polys),
		"label_count":    labelCountFinal,
		"split_disabled": p.SplitStrength <= 0,
		"warnings":       warnings,
	}
	qcFile, err := e.writeJSON(dir, "qc.json", qc)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	version, err := e.Store.NextVersion(ctx, run.ID, models.Stage10)
	if err != nil {
		_ = e.Store.Blob.RemoveAll(dir)
		return nil, err
	}

	artifact := &models.Artifact{
		ID:           artifactID,
		RunID:        run.ID,
		Stage:        models.Stage10,
		Version:      version,
		ArtifactType: "watershed",
		Params: map[string]interface{}{
			"split_strength":         p.SplitStrength,
			"min_center_distance_px": p.MinCenterDistancePx,
			"min_particle_area":      p.MinParticleArea,
			"input_artifact_id":      input.ID,
		},
		Files: []models.ArtifactFile{labelsFile, labelsVisFile, segFile, overlayFile, splitLinesFile, qcFile},
	}
	if err := e.Store.Commit(ctx, artifact, dir); err != nil {
		return nil, err
	}
	return artifact, nil
}

// PreviewStage10 runs the Watershed Split algorithm and returns the label
// visualization PNG without writing anything to the store (spec §4.5
// "Preview renderers").
func (e *Executor) PreviewStage10(ctx context.Context, run *models.Run, raw params.Raw) ([]byte, error) {
	ix, err := e.loadIndex(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	p := params.NormalizeStep10(raw)

	input, err := resolver.ResolveInput(ix, models.Stage10, p.InputArtifactID)
	if err != nil {
		return nil, err
	}
	data, _, err := e.Store.GetFile(ctx, input, 0)
	if err != nil {
		return nil, err
	}
	var polys []PolygonRecord
	if err := json.Unmarshal(data, &polys); err != nil {
		return nil, errs.Internalf(err, "failed to parse stage 9 polygons")
	}

	var gray *kernels.Gray
	if p.GrayscaleArtifactID != "" {
		if a, ok := ix.Get(p.GrayscaleArtifactID); ok {
			gray, _ = e.artifactGray(ctx, a, 0)
		}
	} else if a, ok := ix.Latest(models.Stage3); ok {
		gray, _ = e.artifactGray(ctx, a, 0)
	}

	bounds := boundsOfPolygons(polys)
	labelMap := make([]int, bounds.W*bounds.H)
	nextLabel := 1
	for _, poly := range polys {
		if len(poly.Points) < 3 {
			continue
		}
		localBBox := localBounds(poly.Points)
		local := rasterizePolygon(poly.Points, localBBox)

		var labels []int
		if p.SplitStrength <= 0 {
			labels = make([]int, local.W*local.H)
			for i, v := range local.Pix {
				if v != 0 {
					labels[i] = 1
				}
			}
		} else {
			labels, _, _ = splitOnePolygon(local, gray, localBBox, p, nil)
		}

		remap := make(map[int]int)
		for i, v := range labels {
			if v == 0 {
				continue
			}
			lbl, ok := remap[v]
			if !ok {
				lbl = nextLabel
				nextLabel++
				remap[v] = lbl
			}
			x := localBBox.MinX + i%local.W
			y := localBBox.MinY + i/local.W
			gx, gy := x-bounds.MinX, y-bounds.MinY
			if gx >= 0 && gy >= 0 && gx < bounds.W && gy < bounds.H {
				labelMap[gy*bounds.W+gx] = lbl
			}
		}
	}

	return encodeLabelsVis(bounds.W, bounds.H, labelMap)
}

type intBBox struct{ MinX, MinY, W, H int }

func boundsOfPolygons(polys []PolygonRecord) intBBox {
	minX, minY := math.MaxInt32, math.MaxInt32
	maxX, maxY := math.MinInt32, math.MinInt32
	for _, poly := range polys {
		for _, p := range poly.Points {
			if int(p.X) < minX {
				minX = int(p.X)
			}
			if int(p.Y) < minY {
				minY = int(p.Y)
			}
			if int(p.X) > maxX {
				maxX = int(p.X)
			}
			if int(p.Y) > maxY {
				maxY = int(p.Y)
			}
		}
	}
	if minX > maxX {
		return intBBox{}
	}
	return intBBox{MinX: minX, MinY: minY, W: maxX - minX + 2, H: maxY - minY + 2}
}

func localBounds(pts []kernels.PointF) intBBox {
	minX, minY := math.MaxInt32, math.MaxInt32
	maxX, maxY := math.MinInt32, math.MinInt32
	for _, p := range pts {
		if int(p.X) < minX {
			minX = int(p.X)
		}
		if int(p.Y) < minY {
			minY = int(p.Y)
		}
		if int(p.X) > maxX {
			maxX = int(p.X)
		}
		if int(p.Y) > maxY {
			maxY = int(p.Y)
		}
	}
	return intBBox{MinX: minX - 1, MinY: minY - 1, W: maxX - minX + 3, H: maxY - minY + 3}
}

// rasterizePolygon fills poly's interior at bbox's local coordinate
// frame using scanline even-odd fill.
func rasterizePolygon(poly []kernels.PointF, bbox intBBox) *kernels.Mask {
	out := kernels.NewMask(bbox.W, bbox.H)
	n := len(poly)
	for y := 0; y < bbox.H; y++ {
		yCoord := float64(bbox.MinY+y) + 0.5
		var xs []float64
		for i := 0; i < n; i++ {
			a, b := poly[i], poly[(i+1)%n]
			if (a.Y <= yCoord && b.Y > yCoord) || (b.Y <= yCoord && a.Y > yCoord) {
				t := (yCoord - a.Y) / (b.Y - a.Y)
				xs = append(xs, a.X+t*(b.X-a.X))
			}
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := clampIntRange(round(xs[i])-bbox.MinX, 0, bbox.W-1)
			x1 := clampIntRange(round(xs[i+1])-bbox.MinX, 0, bbox.W-1)
			for x := x0; x <= x1; x++ {
				out.Set(x, y, true)
			}
		}
	}
	return out
}

// splitOnePolygon splits local's foreground region into watershed labels.
func splitOnePolygon(local *kernels.Mask, gray *kernels.Gray, bbox intBBox, p params.Step10Params, warnings []string) ([]int, int, []string) {
	ratio := p.SplitStrength / 100
	seedH := params.ClampFloat(4.5-ratio*3.5, 1, 4.5)

	dt := kernels.DistanceTransform(local)
	dtMax := kernels.MaxFinite(dt)
	if dtMax == 0 {
		labels := make([]int, len(local.Pix))
		for i, v := range local.Pix {
			if v != 0 {
				labels[i] = 1
			}
		}
		return labels, 1, warnings
	}

	peaks := findPeaks(dt, local.W, local.H, int(seedH), p.MinCenterDistancePx)
	var edgeNorm []float64
	edgeWeight := 0.0
	if gray != nil {
		edgeWeight = params.ClampFloat(0.08+ratio*0.37, 0, 0.45)
		edgeNorm = localEdge(gray, bbox, local.W, local.H)
	}

	runWatershed := func(peaks []kernels.Point) ([]int, int) {
		if len(peaks) == 0 {
			_, idx := maxDT(dt)
			peaks = []kernels.Point{{X: idx % local.W, Y: idx / local.W}}
		}
		markers := make([]int, len(local.Pix))
		for i, pt := range peaks {
			markers[pt.Y*local.W+pt.X] = i + 1
		}
		elevation := make([]float64, len(local.Pix))
		edgeMax := 0.0
		if edgeNorm != nil {
			for _, v := range edgeNorm {
				if v > edgeMax {
					edgeMax = v
				}
			}
		}
		for i := range elevation {
			e := 1 - float64(dt[i])/float64(dtMax)
			if edgeNorm != nil && edgeMax > 0 {
				e += edgeWeight * edgeNorm[i] / edgeMax
			}
			elevation[i] = e
		}
		labels := kernels.PriorityFloodWatershed(local, elevation, markers)
		return labels, len(peaks)
	}

	labels, count := runWatershed(peaks)
	if count <= 1 && len(peaks) <= 1 {
		peaks2 := findPeaks(dt, local.W, local.H, int(seedH*0.7), p.MinCenterDistancePx*0.8)
		if len(peaks2) > 1 {
			labels, count = runWatershed(peaks2)
		}
	}

	labels, count = removeSmallLabels(labels, count, int(p.MinParticleArea), local)
	return labels, count, warnings
}

func maxDT(dt []int) (int, int) {
	best, idx := -1, 0
	for i, v := range dt {
		if v > best {
			best = v
			idx = i
		}
	}
	return best, idx
}

// findPeaks greedily selects local maxima of dt separated by at least
// minDist, each strictly greater than at least one 8-neighbor.
func findPeaks(dt []int, w, h int, minHeight int, minDist float64) []kernels.Point {
	type cand struct {
		x, y, v int
	}
	var cands []cand
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := dt[y*w+x]
			if v < minHeight {
				continue
			}
			greater := false
			for dy := -1; dy <= 1 && !greater; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					if v > dt[ny*w+nx] {
						greater = true
						break
					}
				}
			}
			if greater {
				cands = append(cands, cand{x, y, v})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].v != cands[j].v {
			return cands[i].v > cands[j].v
		}
		if cands[i].y != cands[j].y {
			return cands[i].y < cands[j].y
		}
		return cands[i].x < cands[j].x
	})
	var out []kernels.Point
	for _, c := range cands {
		ok := true
		for _, o := range out {
			if math.Hypot(float64(c.x-o.X), float64(c.y-o.Y)) < minDist {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, kernels.Point{X: c.x, Y: c.y})
		}
	}
	return out
}

func localEdge(gray *kernels.Gray, bbox intBBox, w, h int) []float64 {
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = float64(gray.At(bbox.MinX+x, bbox.MinY+y))
		}
	}
	return out
}

func removeSmallLabels(labels []int, count int, minArea int, local *kernels.Mask) ([]int, int) {
	areas := make(map[int]int)
	for _, v := range labels {
		if v != 0 {
			areas[v]++
		}
	}
	keep := make(map[int]bool)
	for lbl, area := range areas {
		if area >= minArea {
			keep[lbl] = true
		}
	}
	if len(keep) == 0 {
		out := make([]int, len(labels))
		for i, v := range local.Pix {
			if v != 0 {
				out[i] = 1
			}
		}
		return out, 1
	}
	relabel := make(map[int]int)
	next := 1
	out := make([]int, len(labels))
	for i, v := range labels {
		if v == 0 || !keep[v] {
			continue
		}
		nl, ok := relabel[v]
		if !ok {
			nl = next
			next++
			relabel[v] = nl
		}
		out[i] = nl
	}
	return out, next - 1
}

// boundarySplitLines builds one split-line polyline per pair of adjacent
// non-zero labels: the pair's boundary band is skeletonized to a 1px-wide
// curve, the longest path through that curve is walked end to end, and
// both ends are snapped to local's outer contour (spec §4.4 "skeletonize
// then longest-path", "polyline ends snapped to the outer mask boundary").
func boundarySplitLines(labels []int, local *kernels.Mask, bbox intBBox, remap map[int]int) []SplitLine {
	w, h := local.W, local.H
	var out []SplitLine
	for _, pair := range uniqueLabelPairs(labels, w, h) {
		a, b := pair[0], pair[1]
		band := boundaryBandMask(labels, w, h, a, b)
		skeleton := kernels.ZhangSuenThin(band)
		path := longestSkeletonPath(skeleton)
		if len(path) == 0 {
			continue
		}
		path[0] = snapToOuterBoundary(local, path[0])
		path[len(path)-1] = snapToOuterBoundary(local, path[len(path)-1])

		pts := make([]kernels.Point, len(path))
		for i, p := range path {
			pts[i] = kernels.Point{X: bbox.MinX + p.X, Y: bbox.MinY + p.Y}
		}
		la, lb := remap[a], remap[b]
		if la > lb {
			la, lb = lb, la
		}
		out = append(out, SplitLine{LabelA: la, LabelB: lb, Points: pts})
	}
	return out
}

// uniqueLabelPairs finds every pair of distinct non-zero labels that share
// a 4-neighbor edge, each pair reported once with the smaller id first.
func uniqueLabelPairs(labels []int, w, h int) [][2]int {
	seen := make(map[[2]int]bool)
	var out [][2]int
	add := func(a, b int) {
		if a == b {
			return
		}
		if a > b {
			a, b = b, a
		}
		key := [2]int{a, b}
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := labels[y*w+x]
			if v == 0 {
				continue
			}
			if x+1 < w {
				if n := labels[y*w+x+1]; n != 0 && n != v {
					add(v, n)
				}
			}
			if y+1 < h {
				if n := labels[(y+1)*w+x]; n != 0 && n != v {
					add(v, n)
				}
			}
		}
	}
	return out
}

// boundaryBandMask marks every pixel of label a or b that 4-touches the
// other label, producing the (roughly 2px-wide) seam that gets thinned
// down to the split line's skeleton.
func boundaryBandMask(labels []int, w, h, a, b int) *kernels.Mask {
	band := kernels.NewMask(w, h)
	neighbors := [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := labels[y*w+x]
			if v != a && v != b {
				continue
			}
			other := b
			if v == b {
				other = a
			}
			for _, d := range neighbors {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				if labels[ny*w+nx] == other {
					band.Set(x, y, true)
					band.Set(nx, ny, true)
				}
			}
		}
	}
	return band
}

var eightConnected = [8][2]int{
	{0, -1}, {1, -1}, {1, 0}, {1, 1},
	{0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

// farthestSkeletonPoint runs a BFS from start over skeleton's foreground
// pixels (8-connectivity) and returns the last pixel visited (the
// farthest one reachable) along with each visited pixel's BFS parent.
func farthestSkeletonPoint(skeleton *kernels.Mask, start kernels.Point) (kernels.Point, map[kernels.Point]kernels.Point) {
	visited := map[kernels.Point]bool{start: true}
	parent := map[kernels.Point]kernels.Point{}
	queue := []kernels.Point{start}
	farthest := start
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		farthest = cur
		for _, d := range eightConnected {
			next := kernels.Point{X: cur.X + d[0], Y: cur.Y + d[1]}
			if !skeleton.At(next.X, next.Y) || visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	return farthest, parent
}

// longestSkeletonPath walks a skeleton mask end to end via the standard
// double-BFS longest-path approximation: BFS from an arbitrary pixel to
// find one endpoint, then BFS from that endpoint to find the other and
// recover the path between them.
func longestSkeletonPath(skeleton *kernels.Mask) []kernels.Point {
	var seed kernels.Point
	found := false
	for y := 0; y < skeleton.H && !found; y++ {
		for x := 0; x < skeleton.W; x++ {
			if skeleton.At(x, y) {
				seed = kernels.Point{X: x, Y: y}
				found = true
				break
			}
		}
	}
	if !found {
		return nil
	}

	end1, _ := farthestSkeletonPoint(skeleton, seed)
	end2, parent := farthestSkeletonPoint(skeleton, end1)

	path := []kernels.Point{end2}
	for cur := end2; cur != end1; {
		p, ok := parent[cur]
		if !ok {
			break
		}
		path = append(path, p)
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// snapToOuterBoundary returns the pixel of local's outer contour nearest
// to pt (spec §4.4 "polyline ends snapped to the outer mask boundary").
func snapToOuterBoundary(local *kernels.Mask, pt kernels.Point) kernels.Point {
	best := pt
	bestDist := -1
	for y := 0; y < local.H; y++ {
		for x := 0; x < local.W; x++ {
			if !isContourPixel(local, x, y) {
				continue
			}
			dx, dy := x-pt.X, y-pt.Y
			dist := dx*dx + dy*dy
			if bestDist == -1 || dist < bestDist {
				bestDist = dist
				best = kernels.Point{X: x, Y: y}
			}
		}
	}
	return best
}

func isContourPixel(m *kernels.Mask, x, y int) bool {
	if !m.At(x, y) {
		return false
	}
	return !m.At(x-1, y) || !m.At(x+1, y) || !m.At(x, y-1) || !m.At(x, y+1)
}

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// writePNGChunk appends one length-prefixed, CRC-trailed PNG chunk to buf.
func writePNGChunk(buf *bytes.Buffer, chunkType string, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])

	typeBytes := []byte(chunkType)
	buf.Write(typeBytes)
	buf.Write(data)

	crc := crc32.NewIEEE()
	crc.Write(typeBytes)
	crc.Write(data)
	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], crc.Sum32())
	buf.Write(crcBytes[:])
}

// encodeLabels16 packs the label map as a 16-bit grayscale PNG with
// samples in little-endian byte order, matching the original's
// `_labels_to_uint16_image` output exactly (spec §9 "Label image
// packing"). image/png's Gray16 path always emits big-endian samples per
// the PNG spec's network byte order, so this hand-writes the IHDR/IDAT/
// IEND chunks instead of delegating to it.
func encodeLabels16(w, h int, labels []int) ([]byte, error) {
	stride := 1 + w*2
	raw := make([]byte, h*stride)
	for y := 0; y < h; y++ {
		row := raw[y*stride : (y+1)*stride]
		row[0] = 0 // filter type "None"
		for x := 0; x < w; x++ {
			v := uint16(labels[y*w+x])
			o := 1 + x*2
			row[o] = byte(v)        // low byte first: little-endian
			row[o+1] = byte(v >> 8) // high byte
		}
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return nil, errs.Internalf(err, "failed to compress labels.png")
	}
	if err := zw.Close(); err != nil {
		return nil, errs.Internalf(err, "failed to finalize labels.png compression")
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(w))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(h))
	ihdr[8] = 16 // bit depth
	ihdr[9] = 0  // color type: grayscale
	ihdr[10] = 0 // compression method
	ihdr[11] = 0 // filter method
	ihdr[12] = 0 // interlace method

	var out bytes.Buffer
	out.Write(pngSignature)
	writePNGChunk(&out, "IHDR", ihdr)
	writePNGChunk(&out, "IDAT", compressed.Bytes())
	writePNGChunk(&out, "IEND", nil)
	return out.Bytes(), nil
}

// encodeLabelsVis packs the label id into RGB byte order (low byte → R,
// mid byte → G, high byte → B), matching the original's
// `_step10_labels_to_rgb_image` PIL "RGB" byte layout exactly (spec §9
// "labels_vis.png packs the 24-bit id into BGR order" — "BGR" there names
// the low-to-high byte order of the packed integer, not the channel
// assignment; R is least-significant per the original).
func encodeLabelsVis(w, h int, labels []int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, v := range labels {
		x, y := i%w, i/w
		r := byte(v & 0xFF)
		g := byte((v >> 8) & 0xFF)
		b := byte((v >> 16) & 0xFF)
		img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
	}
	return codec.EncodeRGBAPNG(img)
}

func boundaryOverlay(gray *kernels.Gray, seg *kernels.Mask, bounds intBBox) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, bounds.W, bounds.H))
	for y := 0; y < bounds.H; y++ {
		for x := 0; x < bounds.W; x++ {
			v := uint8(0)
			if gray != nil {
				v = gray.At(bounds.MinX+x, bounds.MinY+y)
			}
			c := color.RGBA{R: v, G: v, B: v, A: 255}
			if seg.At(x, y) {
				c = color.RGBA{R: v, G: 255, B: v, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}
