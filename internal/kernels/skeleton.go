package kernels

// ZhangSuenThin skeletonizes m via the standard two-substep Zhang-Suen
// algorithm, iterating until no pixel can be removed, bounded by
// (w*h)/2 iterations as a safety stop (spec §4.1).
func ZhangSuenThin(m *Mask) *Mask {
	w, h := m.W, m.H
	cur := m.Clone()
	maxIter := (w * h) / 2
	if maxIter < 1 {
		maxIter = 1
	}

	for iter := 0; iter < maxIter; iter++ {
		removed1 := thinSubstep(cur, true)
		removed2 := thinSubstep(cur, false)
		if len(removed1) == 0 && len(removed2) == 0 {
			break
		}
	}
	return cur
}

// p2..p9 clockwise from the north neighbor, per the standard formulation.
func neighborRing(m *Mask, x, y int) [8]bool {
	return [8]bool{
		m.At(x, y-1),   // p2 N
		m.At(x+1, y-1), // p3 NE
		m.At(x+1, y),   // p4 E
		m.At(x+1, y+1), // p5 SE
		m.At(x, y+1),   // p6 S
		m.At(x-1, y+1), // p7 SW
		m.At(x-1, y),   // p8 W
		m.At(x-1, y-1), // p9 NW
	}
}

func countTransitions(ring [8]bool) int {
	count := 0
	for i := 0; i < 8; i++ {
		a := ring[i]
		b := ring[(i+1)%8]
		if !a && b {
			count++
		}
	}
	return count
}

func countOnes(ring [8]bool) int {
	n := 0
	for _, v := range ring {
		if v {
			n++
		}
	}
	return n
}

// thinSubstep performs one Zhang-Suen sub-iteration (step 1 if first is
// true, else step 2) in place on m, returning the indices removed.
func thinSubstep(m *Mask, first bool) []int {
	w, h := m.W, m.H
	var toRemove []int

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !m.At(x, y) {
				continue
			}
			ring := neighborRing(m, x, y)
			b := countOnes(ring)
			if b < 2 || b > 6 {
				continue
			}
			a := countTransitions(ring)
			if a != 1 {
				continue
			}
			p2, p4, p6, p8 := ring[0], ring[2], ring[4], ring[6]
			if first {
				if p2 && p4 && p6 {
					continue
				}
				if p4 && p6 && p8 {
					continue
				}
			} else {
				if p2 && p4 && p8 {
					continue
				}
				if p2 && p6 && p8 {
					continue
				}
			}
			toRemove = append(toRemove, y*w+x)
		}
	}

	for _, idx := range toRemove {
		m.Pix[idx] = 0
	}
	return toRemove
}
