package params

import (
	"github.com/edwin0419/particlelab/internal/errs"
)

// Raw is the untyped params bag a stage receives before normalization —
// the "StepExecuteRequest{params:{}}" escape hatch named in spec §9,
// kept only as the decode target; every stage immediately normalizes it
// into one of the typed records below.
type Raw map[string]interface{}

// TwoPointMeasurement is an optional manual scale measurement for S1.
type TwoPointMeasurement struct {
	AX, AY, BX, BY float64
	PixelDistance  float64
	RealUm         float64
}

// Step1Params is the normalized record for the Calibration stage.
type Step1Params struct {
	CropBottomPx  int
	Measurement   *TwoPointMeasurement
	UmPerPxManual *float64
}

// NormalizeStep1 normalizes raw S1 params. height is the source image
// height, needed to validate crop_bottom_px < height.
func NormalizeStep1(raw Raw, height int) (Step1Params, error) {
	crop := ToInt(raw["crop_bottom_px"], 0)
	if crop < 0 {
		crop = 0
	}
	if crop >= height {
		return Step1Params{}, errs.InvalidInputf("잘라낼 하단 영역이 이미지 높이보다 크거나 같습니다.")
	}

	out := Step1Params{CropBottomPx: crop}

	if v, ok := raw["um_per_px"]; ok {
		f := ToFloat(v, 0)
		if f > 0 {
			out.UmPerPxManual = &f
		}
	}

	m, ok := raw["measurement"].(map[string]interface{})
	if ok && len(m) > 0 {
		tm := TwoPointMeasurement{
			AX:            ToFloat(m["ax"], 0),
			AY:            ToFloat(m["ay"], 0),
			BX:            ToFloat(m["bx"], 0),
			BY:            ToFloat(m["by"], 0),
			PixelDistance: ToFloat(m["pixel_distance"], 0),
			RealUm:        ToFloat(m["real_um"], 0),
		}
		if tm.PixelDistance <= 0 || tm.RealUm <= 0 {
			return Step1Params{}, errs.InvalidInputf("측정값(픽셀 거리, 실제 길이)은 0보다 커야 합니다.")
		}
		out.Measurement = &tm
	}

	if out.Measurement == nil && out.UmPerPxManual == nil {
		return Step1Params{}, errs.InvalidInputf("교정을 위해 측정값 또는 µm/px 값이 필요합니다.")
	}

	return out, nil
}

// Step2Params is the normalized record for the Intensity Adjustment stage.
type Step2Params struct {
	Brightness    float64
	Contrast      float64
	Gamma         float64
	ClaheEnabled  bool
	ClaheStrength float64
	BlackClipPct  float64
	WhiteClipPct  float64
	ClaheTile     string
}

// NormalizeStep2 normalizes raw S2 params, applying the white/black clip
// auto-correction invariant (SPEC_FULL §4.7).
func NormalizeStep2(raw Raw) Step2Params {
	p := Step2Params{
		Brightness:    ClampFloat(ToFloat(raw["brightness"], 0), -100, 100),
		Contrast:      ClampFloat(ToFloat(raw["contrast"], 0), -100, 100),
		Gamma:         ClampFloat(ToFloat(raw["gamma"], 1), 0.2, 5),
		ClaheEnabled:  ToBool(raw["clahe_enabled"], false),
		ClaheStrength: ClampFloat(ToFloat(raw["clahe_strength"], 0), 0, 10),
		BlackClipPct:  ClampFloat(ToFloat(raw["black_clip_pct"], 0.5), 0, 5),
		WhiteClipPct:  ClampFloat(ToFloat(raw["white_clip_pct"], 99.5), 95, 100),
	}
	if s, ok := raw["clahe_tile"].(string); ok {
		p.ClaheTile = NormalizeClaheTile(s)
	} else {
		p.ClaheTile = ClaheAuto
	}
	if p.WhiteClipPct <= p.BlackClipPct {
		wc := p.BlackClipPct + 1
		if wc < 95 {
			wc = 95
		}
		if wc > 100 {
			wc = 100
		}
		p.WhiteClipPct = wc
	}
	return p
}

// Step3Params is the normalized record for the Denoise stage.
type Step3Params struct {
	Method           string
	QualityMode      string
	Strength         float64 // 0..100
	EdgeProtect      float64 // 0..100
	InputArtifactID  string
	ExcludeMaskPNG   []byte // raw PNG bytes, decoded from base64 by the caller
	ExcludeROI       interface{}
	RefinementPass   bool
}

// NormalizeStep3 normalizes raw S3 params. excludeMaskPNG must already be
// base64-decoded by the stage executor (base64 failures are invalid_input
// at the decode call site, not here).
func NormalizeStep3(raw Raw, excludeMaskPNG []byte) (Step3Params, error) {
	method, err := NormalizeMethod(stringOr(raw["method"], MethodBilateral))
	if err != nil {
		return Step3Params{}, err
	}
	quality, err := NormalizeQuality(stringOr(raw["quality_mode"], QualityFast))
	if err != nil {
		return Step3Params{}, err
	}
	p := Step3Params{
		Method:         method,
		QualityMode:    quality,
		Strength:       ClampFloat(ToFloat(raw["strength"], 50), 0, 100),
		EdgeProtect:    ClampFloat(ToFloat(raw["edge_protect"], 0), 0, 100),
		RefinementPass: ToBool(raw["refinement_pass"], false),
		ExcludeMaskPNG: excludeMaskPNG,
		ExcludeROI:     raw["exclude_roi"],
	}
	if s, ok := raw["input_artifact_id"].(string); ok {
		p.InputArtifactID = s
	}
	return p, nil
}

// Step4Params is the normalized record for the Binarization stage.
type Step4Params struct {
	Mode                 string
	SeedSensitivity      float64
	CandidateSensitivity float64
	GradientThreshold    float64
	ContrastThreshold    float64
	StructureScalePx     float64
	MinAreaUm2           float64
	PreviewLayer         string
	InputArtifactID      string
}

// NormalizeStep4 normalizes raw S4 params. Defaults for
// gradient_threshold/contrast_threshold/structure_scale_px/min_area_um2
// are not pinned down numerically by the source spec; the values below
// are this package's own choice.
func NormalizeStep4(raw Raw) (Step4Params, error) {
	mode, err := NormalizeBinarizeMode(stringOr(raw["mode"], BinarizeStructure))
	if err != nil {
		return Step4Params{}, err
	}
	p := Step4Params{
		Mode:                 mode,
		SeedSensitivity:      ClampFloat(ToFloat(raw["seed_sensitivity"], 50), 0, 100),
		CandidateSensitivity: ClampFloat(ToFloat(raw["candidate_sensitivity"], 50), 0, 100),
		GradientThreshold:    ClampFloat(ToFloat(raw["gradient_threshold"], 12), 0, 255),
		ContrastThreshold:    ClampFloat(ToFloat(raw["contrast_threshold"], 10), 0, 255),
		StructureScalePx:     ClampFloat(ToFloat(raw["structure_scale_px"], 12), 1, 512),
		MinAreaUm2:           ClampFloat(ToFloat(raw["min_area_um2"], 1), 0, 1e9),
		PreviewLayer:         NormalizePreviewLayer(stringOr(raw["preview_layer"], PreviewLayerMask)),
	}
	if s, ok := raw["input_artifact_id"].(string); ok {
		p.InputArtifactID = s
	}
	return p, nil
}

// Step5Params is the normalized record for the Manual Edit stage.
type Step5Params struct {
	BaseMaskArtifactID string
	EditedMaskPNG      []byte
	BrushMode          string
	HasBrushMode       bool
	BrushSizePx        int
	HasBrushSizePx     bool
}

// NormalizeStep5 normalizes raw S5 params. editedMaskPNG must already be
// base64-decoded.
func NormalizeStep5(raw Raw, editedMaskPNG []byte) (Step5Params, error) {
	if len(editedMaskPNG) == 0 {
		return Step5Params{}, errs.InvalidInputf("편집된 마스크 데이터가 비어 있습니다.")
	}
	p := Step5Params{EditedMaskPNG: editedMaskPNG}
	if s, ok := raw["base_mask_artifact_id"].(string); ok {
		p.BaseMaskArtifactID = s
	}
	if s, ok := raw["brush_mode"].(string); ok {
		if v, found := NormalizeBrushMode(s); found {
			p.BrushMode = v
			p.HasBrushMode = true
		}
	}
	size := ToInt(raw["brush_size_px"], 0)
	if size > 0 {
		p.BrushSizePx = ClampInt(size, 1, 300)
		p.HasBrushSizePx = true
	}
	return p, nil
}

// Step6Params is the normalized record for the Morphological Recovery stage.
type Step6Params struct {
	Sensitivity       float64
	EdgeProtect       float64
	MaxExpandUm       float64
	FillHolesEnabled  bool
	InputArtifactID   string
}

// NormalizeStep6 normalizes raw S6 params.
func NormalizeStep6(raw Raw) Step6Params {
	p := Step6Params{
		Sensitivity:      ClampFloat(ToFloat(raw["sensitivity"], 50), 0, 100),
		EdgeProtect:      ClampFloat(ToFloat(raw["edge_protect"], 50), 0, 100),
		MaxExpandUm:      ClampFloat(ToFloat(raw["max_expand_um"], 0), 0, 10000),
		FillHolesEnabled: ToBool(raw["fill_holes_enabled"], true),
	}
	if s, ok := raw["input_artifact_id"].(string); ok {
		p.InputArtifactID = s
	}
	return p
}

// Step7Params is the normalized record for the Hole Handling stage.
type Step7Params struct {
	BaseMaskArtifactID string
	HoleMode           string
	MaxHoleAreaUm2     *float64
	ClosingEnabled     bool
	ClosingRadiusUm    float64
}

// NormalizeStep7 normalizes raw S7 params.
func NormalizeStep7(raw Raw) (Step7Params, error) {
	holeMode, err := NormalizeHoleMode(stringOr(raw["hole_mode"], HoleFillAll))
	if err != nil {
		return Step7Params{}, err
	}
	p := Step7Params{
		BaseMaskArtifactID: stringOr(raw["base_mask_artifact_id"], ""),
		HoleMode:           holeMode,
		ClosingEnabled:     ToBool(raw["closing_enabled"], false),
		ClosingRadiusUm:    ClampFloat(ToFloat(raw["closing_radius_um"], 0), 0, 10),
	}
	if holeMode == HoleFillSmall {
		area := ToFloat(raw["max_hole_area_um2"], 0)
		if area <= 0 {
			return Step7Params{}, errs.InvalidInputf("작은 공극만 채우기 모드에서는 최대 공극 크기(µm²)를 입력해야 합니다.")
		}
		area = ClampFloat(area, 0.0001, 1e9)
		p.MaxHoleAreaUm2 = &area
	} else if area := ToFloat(raw["max_hole_area_um2"], 0); area > 0 {
		area = ClampFloat(area, 0.0001, 1e9)
		p.MaxHoleAreaUm2 = &area
	}
	return p, nil
}

// Step8Params is the normalized record for the Contour Extraction stage.
type Step8Params struct {
	MaskArtifactID string // explicit override; resolver falls back otherwise
	PoreStage7ID   string // explicit override for the Step-7 pore source
}

// NormalizeStep8 normalizes raw S8 params.
func NormalizeStep8(raw Raw) Step8Params {
	return Step8Params{
		MaskArtifactID: stringOr(raw["mask_artifact_id"], ""),
		PoreStage7ID:   stringOr(raw["pore_artifact_id"], ""),
	}
}

// Step45Params is the normalized record for the 4.5 passthrough stage.
type Step45Params struct {
	InputArtifactID string
}

// NormalizeStep45 normalizes raw S4.5 params.
func NormalizeStep45(raw Raw) Step45Params {
	return Step45Params{InputArtifactID: stringOr(raw["input_artifact_id"], "")}
}

// Step9Params is the normalized record for the Polygonization stage.
type Step9Params struct {
	ResampleStepPx  float64
	SmoothLevel     float64
	MaxVertexGapPx  float64
	InputArtifactID string
}

// NormalizeStep9 normalizes raw S9 params.
func NormalizeStep9(raw Raw) Step9Params {
	p := Step9Params{
		ResampleStepPx: ClampFloat(ToFloat(raw["resample_step_px"], 4), 0.5, 256),
		SmoothLevel:    ClampFloat(ToFloat(raw["smooth_level"], 30), 0, 100),
		MaxVertexGapPx: ClampFloat(ToFloat(raw["max_vertex_gap_px"], 12), 1, 512),
	}
	if s, ok := raw["input_artifact_id"].(string); ok {
		p.InputArtifactID = s
	}
	return p
}

// Step10Params is the normalized record for the Watershed Split stage.
type Step10Params struct {
	SplitStrength       float64
	MinCenterDistancePx float64
	MinParticleArea     float64
	GrayscaleArtifactID string
	InputArtifactID     string
}

// NormalizeStep10 normalizes raw S10 params.
func NormalizeStep10(raw Raw) Step10Params {
	p := Step10Params{
		SplitStrength:       ClampFloat(ToFloat(raw["split_strength"], 50), -1e9, 100),
		MinCenterDistancePx: ClampFloat(ToFloat(raw["min_center_distance_px"], 10), 1, 1024),
		MinParticleArea:     ClampFloat(ToFloat(raw["min_particle_area"], 20), 0, 1e9),
		GrayscaleArtifactID: stringOr(raw["grayscale_artifact_id"], ""),
	}
	if s, ok := raw["input_artifact_id"].(string); ok {
		p.InputArtifactID = s
	}
	return p
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
