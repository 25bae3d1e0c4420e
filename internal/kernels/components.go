package kernels

// Component is one connected foreground region, stored as a flat list of
// pixel indices (y*W+x) for cheap iteration and area computation.
type Component struct {
	Pixels []int
}

// Area returns the pixel count of the component.
func (c Component) Area() int { return len(c.Pixels) }

var neighbors4 = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
var neighbors8 = [8][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}

// ConnectedComponents labels the foreground of m via BFS flood fill using
// 4- or 8-connectivity (connectivity must be 4 or 8), returning one
// Component per connected region. minPixels, if > 0, filters out
// components smaller than that pixel count.
func ConnectedComponents(m *Mask, connectivity int, minPixels int) []Component {
	offsets := neighbors4[:]
	if connectivity == 8 {
		offsets = neighbors8[:]
	}

	visited := make([]bool, len(m.Pix))
	var out []Component
	queue := make([]int, 0, 256)

	for start := 0; start < len(m.Pix); start++ {
		if visited[start] || m.Pix[start] == 0 {
			continue
		}
		queue = queue[:0]
		queue = append(queue, start)
		visited[start] = true
		var pixels []int

		for len(queue) > 0 {
			idx := queue[0]
			queue = queue[1:]
			pixels = append(pixels, idx)

			x := idx % m.W
			y := idx / m.W
			for _, off := range offsets {
				nx, ny := x+off[0], y+off[1]
				if nx < 0 || ny < 0 || nx >= m.W || ny >= m.H {
					continue
				}
				nidx := ny*m.W + nx
				if visited[nidx] || m.Pix[nidx] == 0 {
					continue
				}
				visited[nidx] = true
				queue = append(queue, nidx)
			}
		}

		if minPixels <= 0 || len(pixels) >= minPixels {
			out = append(out, Component{Pixels: pixels})
		}
	}

	return out
}

// MaskFromComponents ORs the given components into a fresh mask of shape
// w x h.
func MaskFromComponents(w, h int, comps []Component) *Mask {
	out := NewMask(w, h)
	for _, c := range comps {
		for _, idx := range c.Pixels {
			out.Pix[idx] = 1
		}
	}
	return out
}

// RemoveSmallComponents keeps only the connected components of m with at
// least minPixels foreground pixels (4-connectivity).
func RemoveSmallComponents(m *Mask, minPixels int) *Mask {
	comps := ConnectedComponents(m, 4, minPixels)
	return MaskFromComponents(m.W, m.H, comps)
}
