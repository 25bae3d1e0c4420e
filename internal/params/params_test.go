package params

import (
	"math"
	"testing"

	"github.com/edwin0419/particlelab/internal/errs"
)

func TestClampFloat_Bounds(t *testing.T) {
	if v := ClampFloat(5, 0, 10); v != 5 {
		t.Fatalf("expected in-range value unchanged, got %v", v)
	}
	if v := ClampFloat(-1, 0, 10); v != 0 {
		t.Fatalf("expected clamp to min, got %v", v)
	}
	if v := ClampFloat(99, 0, 10); v != 10 {
		t.Fatalf("expected clamp to max, got %v", v)
	}
}

func TestClampFloat_NonFinite(t *testing.T) {
	nan := ClampFloat(math.NaN(), 0, 10)
	if nan != 0 {
		t.Fatalf("expected NaN to clamp to min, got %v", nan)
	}
	posInf := ClampFloat(math.Inf(1), 0, 10)
	if posInf != 10 {
		t.Fatalf("expected +Inf to clamp to max, got %v", posInf)
	}
	negInf := ClampFloat(math.Inf(-1), 0, 10)
	if negInf != 0 {
		t.Fatalf("expected -Inf to clamp to min, got %v", negInf)
	}
}

func TestClampInt_Bounds(t *testing.T) {
	if v := ClampInt(5, 0, 10); v != 5 {
		t.Fatalf("expected in-range value unchanged, got %v", v)
	}
	if v := ClampInt(-1, 0, 10); v != 0 {
		t.Fatalf("expected clamp to min, got %v", v)
	}
	if v := ClampInt(99, 0, 10); v != 10 {
		t.Fatalf("expected clamp to max, got %v", v)
	}
}

func TestToFloat_AcceptsStringAndNumericTypes(t *testing.T) {
	if v := ToFloat(float64(3.5), 0); v != 3.5 {
		t.Fatalf("expected 3.5, got %v", v)
	}
	if v := ToFloat("2.25", 0); v != 2.25 {
		t.Fatalf("expected string parse 2.25, got %v", v)
	}
	if v := ToFloat("not-a-number", 9); v != 9 {
		t.Fatalf("expected fallback on unparsable string, got %v", v)
	}
	if v := ToFloat(nil, 9); v != 9 {
		t.Fatalf("expected fallback on nil, got %v", v)
	}
}

func TestToInt_AcceptsStringAndNumericTypes(t *testing.T) {
	if v := ToInt(float64(7.9), 0); v != 7 {
		t.Fatalf("expected truncation to 7, got %v", v)
	}
	if v := ToInt("12", 0); v != 12 {
		t.Fatalf("expected string parse 12, got %v", v)
	}
	if v := ToInt("nope", 5); v != 5 {
		t.Fatalf("expected fallback on unparsable string, got %v", v)
	}
}

func TestToBool_RecognizesCommonTokens(t *testing.T) {
	cases := map[string]bool{
		"true": true, "1": true, "yes": true, "on": true,
		"false": false, "0": false, "no": false, "off": false, "": false,
	}
	for in, want := range cases {
		if got := ToBool(in, !want); got != want {
			t.Fatalf("ToBool(%q) = %v, want %v", in, got, want)
		}
	}
	if got := ToBool("garbage", true); got != true {
		t.Fatalf("expected fallback on unrecognized string, got %v", got)
	}
	if got := ToBool(true, false); got != true {
		t.Fatalf("expected native bool passthrough, got %v", got)
	}
}

func TestToString_RejectsEmptyAndNonString(t *testing.T) {
	if s, ok := ToString("hello"); !ok || s != "hello" {
		t.Fatalf("expected (\"hello\", true), got (%q, %v)", s, ok)
	}
	if _, ok := ToString(""); ok {
		t.Fatalf("expected empty string to report ok=false")
	}
	if _, ok := ToString(42); ok {
		t.Fatalf("expected non-string to report ok=false")
	}
}

func TestNormalizeMethod_AcceptsKoreanAliasesAndDefaults(t *testing.T) {
	v, err := NormalizeMethod("양방향")
	if err != nil || v != MethodBilateral {
		t.Fatalf("expected bilateral from Korean alias, got %q err=%v", v, err)
	}
	v, err = NormalizeMethod("")
	if err != nil || v != MethodBilateral {
		t.Fatalf("expected default bilateral on empty input, got %q err=%v", v, err)
	}
	v, err = NormalizeMethod("nlm")
	if err != nil || v != MethodNLM {
		t.Fatalf("expected nlm, got %q err=%v", v, err)
	}
	if _, err := NormalizeMethod("bogus"); err == nil {
		t.Fatalf("expected error for unrecognized method")
	} else if !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected InvalidInput kind, got %v", err)
	}
}

func TestNormalizeBrushMode_OptionalProvenance(t *testing.T) {
	if v, ok := NormalizeBrushMode("삭제"); !ok || v != BrushDelete {
		t.Fatalf("expected delete from Korean alias, got %q ok=%v", v, ok)
	}
	if v, ok := NormalizeBrushMode("restore"); !ok || v != BrushRestore {
		t.Fatalf("expected restore, got %q ok=%v", v, ok)
	}
	if _, ok := NormalizeBrushMode(""); ok {
		t.Fatalf("expected empty brush_mode to report ok=false, not an error")
	}
	if _, ok := NormalizeBrushMode("unknown"); ok {
		t.Fatalf("expected unrecognized brush_mode to report ok=false, not an error")
	}
}

func TestResolveClaheTileSize_ScalesWithShortEdgeAndTileName(t *testing.T) {
	small := ResolveClaheTileSize(1000, 2000, ClaheSmall)
	medium := ResolveClaheTileSize(1000, 2000, ClaheMedium)
	large := ResolveClaheTileSize(1000, 2000, ClaheLarge)
	if !(small < medium && medium < large) {
		t.Fatalf("expected small < medium < large tile sizes, got %d %d %d", small, medium, large)
	}
}

func TestResolveClaheTileSize_ClampsTinyImages(t *testing.T) {
	v := ResolveClaheTileSize(4, 4, ClaheSmall)
	if v < 16 {
		t.Fatalf("expected a floor of 16px even for tiny images, got %d", v)
	}
}

func TestNormalizeStep45_ExtractsInputArtifactID(t *testing.T) {
	p := NormalizeStep45(Raw{"input_artifact_id": "abc-123"})
	if p.InputArtifactID != "abc-123" {
		t.Fatalf("expected abc-123, got %q", p.InputArtifactID)
	}
	p = NormalizeStep45(Raw{})
	if p.InputArtifactID != "" {
		t.Fatalf("expected empty default, got %q", p.InputArtifactID)
	}
}
