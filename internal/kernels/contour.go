package kernels

// Point is an integer 2-D point in pixel-corner coordinate space (so a
// W x H mask's corners range over [0,W] x [0,H]).
type Point struct{ X, Y int }

// PointF is a float64 2-D point, used by the polygon/resample kernels.
type PointF struct{ X, Y float64 }

type edge struct {
	From, To Point
}

// TraceContours walks the axis-aligned outer polygon of every foreground
// component of m by emitting a unit edge at every foreground/background
// boundary and chaining edges tail-to-head into closed loops (spec
// §4.1 "Boundary tracing"). Loops shorter than 3 vertices are discarded;
// collinear triples are removed from the survivors. Edges are emitted so
// the mask interior lies to the right of the directed edge (clockwise in
// image coordinates, y-down).
func TraceContours(m *Mask) [][]Point {
	w, h := m.W, m.H
	var edges []edge

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !m.At(x, y) {
				continue
			}
			if !m.At(x, y-1) { // top open -> left-to-right along top
				edges = append(edges, edge{Point{x, y}, Point{x + 1, y}})
			}
			if !m.At(x+1, y) { // right open -> top-to-bottom along right
				edges = append(edges, edge{Point{x + 1, y}, Point{x + 1, y + 1}})
			}
			if !m.At(x, y+1) { // bottom open -> right-to-left along bottom
				edges = append(edges, edge{Point{x + 1, y + 1}, Point{x, y + 1}})
			}
			if !m.At(x-1, y) { // left open -> bottom-to-top along left
				edges = append(edges, edge{Point{x, y + 1}, Point{x, y}})
			}
		}
	}

	if len(edges) == 0 {
		return nil
	}

	index := make(map[Point][]int, len(edges))
	for i, e := range edges {
		index[e.From] = append(index[e.From], i)
	}
	used := make([]bool, len(edges))

	var loops [][]Point
	for start := range edges {
		if used[start] {
			continue
		}
		var loop []Point
		cur := start
		for {
			used[cur] = true
			loop = append(loop, edges[cur].From)
			next := edges[cur].To
			if next == edges[start].From {
				break
			}
			candidates := index[next]
			found := -1
			for _, c := range candidates {
				if !used[c] {
					found = c
					break
				}
			}
			if found < 0 {
				break
			}
			cur = found
		}
		if len(loop) >= 3 {
			loops = append(loops, removeCollinear(loop))
		}
	}

	return loops
}

// removeCollinear drops points that lie exactly between their neighbors
// on a shared axis-aligned segment (three consecutive boundary-edge
// vertices with no turn).
func removeCollinear(pts []Point) []Point {
	n := len(pts)
	if n < 3 {
		return pts
	}
	out := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		prev := pts[(i-1+n)%n]
		cur := pts[i]
		next := pts[(i+1)%n]
		dx1, dy1 := cur.X-prev.X, cur.Y-prev.Y
		dx2, dy2 := next.X-cur.X, next.Y-cur.Y
		cross := dx1*dy2 - dy1*dx2
		if cross != 0 {
			out = append(out, cur)
		}
	}
	if len(out) < 3 {
		return pts
	}
	return out
}

// SignedArea computes the signed area of a closed integer polygon via the
// shoelace formula; positive for clockwise loops in image (y-down)
// coordinates as produced by TraceContours.
func SignedArea(pts []Point) float64 {
	n := len(pts)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a := pts[i]
		b := pts[(i+1)%n]
		sum += float64(a.X)*float64(b.Y) - float64(b.X)*float64(a.Y)
	}
	return sum / 2
}

// SignedAreaF is the PointF variant of SignedArea.
func SignedAreaF(pts []PointF) float64 {
	n := len(pts)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a := pts[i]
		b := pts[(i+1)%n]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum / 2
}

// BBox is an axis-aligned integer rectangle [MinX,MaxX) x [MinY,MaxY).
type BBox struct{ MinX, MinY, MaxX, MaxY int }

// BBoxOf computes the tight bounding box of pts.
func BBoxOf(pts []Point) BBox {
	if len(pts) == 0 {
		return BBox{}
	}
	b := BBox{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y}
	for _, p := range pts[1:] {
		if p.X < b.MinX {
			b.MinX = p.X
		}
		if p.X > b.MaxX {
			b.MaxX = p.X
		}
		if p.Y < b.MinY {
			b.MinY = p.Y
		}
		if p.Y > b.MaxY {
			b.MaxY = p.Y
		}
	}
	return b
}
