// Package params implements C6: per-stage parameter schemas, numeric
// clamps, and the localized enum alias tables the original UI exposes
// (Korean labels alongside their English/canonical equivalents). Every
// normalize function is pure and silent about clamping; enum violations
// return an *errs.Error of kind InvalidInput with a Korean message,
// matching SPEC_FULL §4.7. Two enums are exceptions: NormalizePreviewLayer
// and NormalizeClaheTile return no error and map an unrecognized value to
// their default (mask and auto).
package params

import (
	"strings"

	"github.com/edwin0419/particlelab/internal/errs"
)

// lookup folds the input to lowercase/trimmed and resolves it through a
// alias table, falling back to a second pass against the raw trimmed
// input (the Python original does this for brush_mode since Korean
// strings are case-invariant but still needs the untouched form).
func lookup(table map[string]string, raw string, fallback string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if fallback != "" {
			return fallback, true
		}
		return "", false
	}
	if v, ok := table[strings.ToLower(trimmed)]; ok {
		return v, true
	}
	if v, ok := table[trimmed]; ok {
		return v, true
	}
	return "", false
}

// Denoise methods (S3).
const (
	MethodBilateral = "bilateral"
	MethodNLM       = "nlm"
)

var methodAliases = map[string]string{
	"bilateral":      MethodBilateral,
	"양방향 필터(기본)":    MethodBilateral,
	"양방향 필터":        MethodBilateral,
	"양방향":           MethodBilateral,
	"nlm":            MethodNLM,
	"비국소 평균(nlm)":   MethodNLM,
	"비국소 평균":        MethodNLM,
}

// NormalizeMethod resolves a denoise method string, defaulting to bilateral.
func NormalizeMethod(raw string) (string, error) {
	v, ok := lookup(methodAliases, raw, MethodBilateral)
	if !ok {
		return "", errs.InvalidInputf("3단계 방법은 양방향 필터 또는 비국소 평균(NLM)만 지원합니다.")
	}
	return v, nil
}

// Quality modes (S3 preview/execute fidelity).
const (
	QualityFast     = "fast"
	QualityAccurate = "accurate"
)

var qualityAliases = map[string]string{
	"fast":       QualityFast,
	"빠름":         QualityFast,
	"빠름(미리보기)":   QualityFast,
	"accurate":   QualityAccurate,
	"정확":         QualityAccurate,
	"정확(원본)":    QualityAccurate,
}

// NormalizeQuality resolves a quality_mode string, defaulting to fast.
func NormalizeQuality(raw string) (string, error) {
	v, ok := lookup(qualityAliases, raw, QualityFast)
	if !ok {
		return "", errs.InvalidInputf("처리 모드는 빠름 또는 정확만 지원합니다.")
	}
	return v, nil
}

// Binarization modes (S4).
const (
	BinarizeStructure = "structure"
	BinarizeSimple    = "simple"
)

var binarizeModeAliases = map[string]string{
	"structure":     BinarizeStructure,
	"구조 기반 이진화(추천)": BinarizeStructure,
	"구조 기반 이진화":     BinarizeStructure,
	"구조 기반":         BinarizeStructure,
	"simple":        BinarizeSimple,
	"단순 임계값(디버그)":   BinarizeSimple,
	"단순 임계값":        BinarizeSimple,
}

// NormalizeBinarizeMode resolves a S4 mode string, defaulting to structure.
func NormalizeBinarizeMode(raw string) (string, error) {
	v, ok := lookup(binarizeModeAliases, raw, BinarizeStructure)
	if !ok {
		return "", errs.InvalidInputf("4단계 모드는 구조 기반 또는 단순 임계값만 지원합니다.")
	}
	return v, nil
}

// Preview layers (S4 preview).
const (
	PreviewLayerSeed       = "seed"
	PreviewLayerCandidate  = "candidate"
	PreviewLayerMask       = "mask"
	PreviewLayerMaskBinary = "mask_binary"
)

var previewLayerAliases = map[string]string{
	"seed":        PreviewLayerSeed,
	"candidate":   PreviewLayerCandidate,
	"mask":        PreviewLayerMask,
	"mask_binary": PreviewLayerMaskBinary,
	"최종 마스크":      PreviewLayerMask,
	"최종 마스크(흑백)":  PreviewLayerMaskBinary,
	"흑백":          PreviewLayerMaskBinary,
}

// NormalizePreviewLayer resolves a preview_layer string, defaulting to mask.
func NormalizePreviewLayer(raw string) string {
	v, ok := lookup(previewLayerAliases, raw, PreviewLayerMask)
	if !ok {
		return PreviewLayerMask
	}
	return v
}

// Brush modes (S5 manual edit provenance).
const (
	BrushDelete  = "delete"
	BrushRestore = "restore"
)

var brushModeAliases = map[string]string{
	"삭제":      BrushDelete,
	"복원":      BrushRestore,
	"delete":  BrushDelete,
	"erase":   BrushDelete,
	"restore": BrushRestore,
}

// NormalizeBrushMode resolves a brush_mode string. An empty/unrecognized
// value yields ("", false) since brush_mode is optional provenance, never
// a hard validation failure (the Python original treats an unmapped value
// as None rather than raising).
func NormalizeBrushMode(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if v, ok := brushModeAliases[strings.ToLower(trimmed)]; ok {
		return v, true
	}
	if v, ok := brushModeAliases[trimmed]; ok {
		return v, true
	}
	return "", false
}

// Hole handling modes (S7).
const (
	HoleFillAll   = "fill_all"
	HoleFillSmall = "fill_small"
	HoleKeep      = "keep"
)

var holeModeAliases = map[string]string{
	"fill_all":        HoleFillAll,
	"모든 공극 채우기(추천)": HoleFillAll,
	"모든 공극 채우기":      HoleFillAll,
	"fill_small":      HoleFillSmall,
	"작은 공극만 채우기":     HoleFillSmall,
	"keep":            HoleKeep,
	"공극 유지":           HoleKeep,
}

// NormalizeHoleMode resolves a hole_mode string, defaulting to fill_all.
func NormalizeHoleMode(raw string) (string, error) {
	v, ok := lookup(holeModeAliases, raw, HoleFillAll)
	if !ok {
		return "", errs.InvalidInputf("공극 처리 방식이 올바르지 않습니다.")
	}
	return v, nil
}

// CLAHE tile sizes (S2).
const (
	ClaheAuto   = "auto"
	ClaheSmall  = "small"
	ClaheMedium = "medium"
	ClaheLarge  = "large"
)

var claheTileAliases = map[string]string{
	"자동":     ClaheAuto,
	"작게":     ClaheSmall,
	"보통":     ClaheMedium,
	"크게":     ClaheLarge,
	"auto":   ClaheAuto,
	"small":  ClaheSmall,
	"medium": ClaheMedium,
	"large":  ClaheLarge,
}

// NormalizeClaheTile resolves a clahe_tile string, defaulting to auto.
func NormalizeClaheTile(raw string) string {
	v, ok := lookup(claheTileAliases, raw, ClaheAuto)
	if !ok {
		return ClaheAuto
	}
	return v
}

// ResolveClaheTileSize computes the CLAHE tile edge length in pixels for
// the given image dimensions, per SPEC_FULL §4.7.
func ResolveClaheTileSize(width, height int, tile string) int {
	shortEdge := width
	if height < shortEdge {
		shortEdge = height
	}
	if shortEdge < 16 {
		shortEdge = 16
	}
	switch tile {
	case ClaheSmall:
		return maxInt(16, shortEdge/16)
	case ClaheMedium:
		return maxInt(24, shortEdge/10)
	case ClaheLarge:
		return maxInt(32, shortEdge/6)
	default:
		return maxInt(24, shortEdge/12)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
