package kernels

import "container/heap"

type wsItem struct {
	idx  int
	elev float64
}

type wsQueue []wsItem

func (q wsQueue) Len() int            { return len(q) }
func (q wsQueue) Less(i, j int) bool  { return q[i].elev < q[j].elev }
func (q wsQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *wsQueue) Push(x interface{}) { *q = append(*q, x.(wsItem)) }
func (q *wsQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// PriorityFloodWatershed labels every foreground pixel of mask with the
// id of the marker that reaches it first under increasing elevation
// (spec §4.1 "Priority-flood watershed"): markers holds one entry per
// pixel, >0 for seeded marker pixels and 0 elsewhere; elevation holds the
// per-pixel cost landscape (lower = claimed sooner). Foreground pixels
// not 8-connected through the mask to any marker keep label 0; the BFS
// fallback below walks the same 8-connectivity and so cannot reach them.
func PriorityFloodWatershed(mask *Mask, elevation []float64, markers []int) []int {
	w, h := mask.W, mask.H
	n := w * h
	labels := make([]int, n)
	visited := make([]bool, n)

	pq := &wsQueue{}
	heap.Init(pq)
	for i, l := range markers {
		if l > 0 && mask.Pix[i] != 0 {
			labels[i] = l
			visited[i] = true
			heap.Push(pq, wsItem{idx: i, elev: elevation[i]})
		}
	}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(wsItem)
		idx := item.idx
		lbl := labels[idx]
		x := idx % w
		y := idx / w

		for _, off := range neighbors8 {
			nx, ny := x+off[0], y+off[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			nidx := ny*w + nx
			if visited[nidx] || mask.Pix[nidx] == 0 {
				continue
			}
			visited[nidx] = true
			labels[nidx] = lbl
			heap.Push(pq, wsItem{idx: nidx, elev: elevation[nidx]})
		}
	}

	fillUnreachedByBFS(mask, labels, visited)
	return labels
}

// fillUnreachedByBFS expands outward in BFS order from every visited
// foreground pixel, giving each unvisited foreground pixel it reaches
// through 8-connected foreground the label of the pixel it came from.
// Foreground pixels with no 8-connected foreground path to a labeled
// pixel are not reached and keep label 0.
func fillUnreachedByBFS(mask *Mask, labels []int, visited []bool) {
	w, h := mask.W, mask.H
	var queue []int
	for i, v := range visited {
		if v && mask.Pix[i] != 0 {
			queue = append(queue, i)
		}
	}

	for len(queue) > 0 {
		var next []int
		for _, idx := range queue {
			x := idx % w
			y := idx / w
			lbl := labels[idx]
			for _, off := range neighbors8 {
				nx, ny := x+off[0], y+off[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				nidx := ny*w + nx
				if visited[nidx] || mask.Pix[nidx] == 0 {
					continue
				}
				visited[nidx] = true
				labels[nidx] = lbl
				next = append(next, nidx)
			}
		}
		queue = next
	}
}
