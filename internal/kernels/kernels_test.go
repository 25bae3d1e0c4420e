package kernels

import "testing"

func TestOtsuThreshold_Checkerboard(t *testing.T) {
	g := NewGray(8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if (x/4+y/4)%2 == 0 {
				g.Set(x, y, 200)
			} else {
				g.Set(x, y, 20)
			}
		}
	}
	th := OtsuThreshold(g)
	if th < 20 || th > 200 {
		t.Fatalf("expected threshold between the two classes, got %d", th)
	}
}

func TestMaskUnionAndAndNot(t *testing.T) {
	a := NewMask(4, 4)
	a.Set(0, 0, true)
	a.Set(1, 1, true)

	b := NewMask(4, 4)
	b.Set(1, 1, true)
	b.Set(2, 2, true)

	union := a.Union(b)
	if union.CountForeground() != 3 {
		t.Fatalf("expected 3 foreground pixels in union, got %d", union.CountForeground())
	}

	diff := a.AndNot(b)
	if diff.CountForeground() != 1 || !diff.At(0, 0) {
		t.Fatalf("expected AndNot to leave only (0,0) foreground")
	}
}

func TestMaskRoundTripThroughGray(t *testing.T) {
	m := NewMask(5, 5)
	m.Set(2, 2, true)
	m.Set(4, 4, true)

	g := m.ToGray()
	back := MaskFromGray(g)

	if back.CountForeground() != m.CountForeground() {
		t.Fatalf("round-trip changed foreground pixel count: got %d want %d", back.CountForeground(), m.CountForeground())
	}
	if !back.At(2, 2) || !back.At(4, 4) {
		t.Fatalf("round-trip lost a foreground pixel")
	}
}

func TestConnectedComponents_Checkerboard32px(t *testing.T) {
	const n = 8
	const sq = 32
	m := NewMask(n*sq, n*sq)
	for by := 0; by < n; by++ {
		for bx := 0; bx < n; bx++ {
			if (bx+by)%2 != 0 {
				continue
			}
			for y := 0; y < sq; y++ {
				for x := 0; x < sq; x++ {
					m.Set(bx*sq+x, by*sq+y, true)
				}
			}
		}
	}
	comps := ConnectedComponents(m, 4, 0)
	if len(comps) != 32 {
		t.Fatalf("expected 32 components, got %d", len(comps))
	}
	for _, c := range comps {
		if c.Area() != sq*sq {
			t.Fatalf("expected every component to have area %d, got %d", sq*sq, c.Area())
		}
	}
}

func TestDistanceTransform_InteriorFartherThanEdge(t *testing.T) {
	m := NewMask(9, 9)
	for y := 1; y < 8; y++ {
		for x := 1; x < 8; x++ {
			m.Set(x, y, true)
		}
	}
	dist := DistanceTransform(m)
	center := dist[4*9+4]
	edge := dist[1*9+1]
	if center <= edge {
		t.Fatalf("expected center distance (%d) > edge distance (%d)", center, edge)
	}
}

func TestScaledDims_NoopWithinBudget(t *testing.T) {
	w, h := ScaledDims(600, 400, 900)
	if w != 600 || h != 400 {
		t.Fatalf("expected dims unchanged when already within budget, got %dx%d", w, h)
	}
}

func TestScaledDims_PreservesAspectRatio(t *testing.T) {
	w, h := ScaledDims(1800, 900, 900)
	if w != 900 || h != 450 {
		t.Fatalf("expected 900x450, got %dx%d", w, h)
	}
}

func TestResizeMask_PreservesBinaryContract(t *testing.T) {
	m := NewMask(4, 4)
	m.Set(0, 0, true)
	m.Set(1, 0, true)

	resized := ResizeMask(m, 8, 8)
	if resized.W != 8 || resized.H != 8 {
		t.Fatalf("expected resized mask to be 8x8, got %dx%d", resized.W, resized.H)
	}
	if resized.CountForeground() == 0 {
		t.Fatalf("expected some foreground pixels to survive upscaling")
	}
}
