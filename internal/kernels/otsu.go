package kernels

// OtsuThreshold computes the Otsu threshold over the 256-bin histogram of
// g, maximizing the between-class variance. Ties are broken by the
// smallest threshold. Degenerate (zero-size or constant-value) input
// returns 0 rather than panicking.
func OtsuThreshold(g *Gray) int {
	if len(g.Pix) == 0 {
		return 0
	}

	var hist [256]int
	for _, v := range g.Pix {
		hist[v]++
	}

	total := len(g.Pix)
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * float64(c)
	}

	var sumB, wB float64
	bestVar := -1.0
	bestThresh := 0

	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			bestThresh = t
		}
	}

	return bestThresh
}
