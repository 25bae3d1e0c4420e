package kernels

import (
	"container/heap"
	"math"
)

// CostField is a row-major W x H grid of traversal costs used by
// DijkstraGrid.
type CostField struct {
	W, H int
	Cost []float64
}

type pqItem struct {
	idx  int
	dist float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

const sqrt2 = 1.4142135623730951

// DijkstraGrid computes shortest paths from src over an 8-neighbor
// weighted grid using a binary heap, with diagonal steps costing
// sqrt(2) times the average endpoint cost (spec §4.1). Returns the
// distance array and a predecessor array (-1 where unreached) so callers
// can reconstruct a path to any target.
func DijkstraGrid(cf *CostField, src Point) (dist []float64, prev []int) {
	n := cf.W * cf.H
	dist = make([]float64, n)
	prev = make([]int, n)
	visited := make([]bool, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}

	srcIdx := src.Y*cf.W + src.X
	if src.X < 0 || src.Y < 0 || src.X >= cf.W || src.Y >= cf.H {
		return dist, prev
	}
	dist[srcIdx] = 0

	pq := &priorityQueue{{idx: srcIdx, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		if visited[item.idx] {
			continue
		}
		visited[item.idx] = true

		x := item.idx % cf.W
		y := item.idx / cf.W

		for _, off := range neighbors8 {
			nx, ny := x+off[0], y+off[1]
			if nx < 0 || ny < 0 || nx >= cf.W || ny >= cf.H {
				continue
			}
			nidx := ny*cf.W + nx
			if visited[nidx] {
				continue
			}
			stepCost := (cf.Cost[item.idx] + cf.Cost[nidx]) / 2
			if off[0] != 0 && off[1] != 0 {
				stepCost *= sqrt2
			}
			nd := dist[item.idx] + stepCost
			if nd < dist[nidx] {
				dist[nidx] = nd
				prev[nidx] = item.idx
				heap.Push(pq, pqItem{idx: nidx, dist: nd})
			}
		}
	}

	return dist, prev
}

// ReconstructPath walks prev from dst back to its source, returning the
// path in source-to-destination order, or nil if dst is unreached.
func ReconstructPath(prev []int, w int, dst Point) []Point {
	idx := dst.Y*w + dst.X
	if idx < 0 || idx >= len(prev) {
		return nil
	}
	var rev []Point
	cur := idx
	for cur != -1 {
		rev = append(rev, Point{cur % w, cur / w})
		cur = prev[cur]
	}
	out := make([]Point, len(rev))
	for i, p := range rev {
		out[len(rev)-1-i] = p
	}
	return out
}
