package api

import (
	"testing"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/stages"
	"github.com/edwin0419/particlelab/pkg/models"
)

func TestStageExecutors_CoversEveryPipelineStage(t *testing.T) {
	dispatch := stageExecutors(&stages.Executor{})
	for _, stage := range models.AllStages {
		if _, ok := dispatch[stage]; !ok {
			t.Fatalf("expected a dispatch entry for stage %d", stage)
		}
	}
	if len(dispatch) != len(models.AllStages) {
		t.Fatalf("expected exactly %d dispatch entries, got %d", len(models.AllStages), len(dispatch))
	}
}

func TestParseStageParam_AcceptsLiteral4Dot5(t *testing.T) {
	stage, err := parseStageParam("4.5")
	if err != nil || stage != models.Stage45 {
		t.Fatalf("expected stage 45, got %v err=%v", stage, err)
	}
}

func TestParseStageParam_AcceptsNumericStages(t *testing.T) {
	stage, err := parseStageParam("7")
	if err != nil || stage != models.Stage7 {
		t.Fatalf("expected stage 7, got %v err=%v", stage, err)
	}
}

func TestParseStageParam_RejectsUnrecognizedStage(t *testing.T) {
	if _, err := parseStageParam("99"); err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid_input for unrecognized step id, got %v", err)
	}
}

func TestParseStageParam_RejectsNonNumeric(t *testing.T) {
	if _, err := parseStageParam("abc"); err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid_input for non-numeric step id, got %v", err)
	}
}

func TestPreviewableStages_MatchesSpecSet(t *testing.T) {
	want := map[models.StageID]bool{
		models.Stage3: true, models.Stage4: true, models.Stage6: true,
		models.Stage7: true, models.Stage9: true, models.Stage10: true,
	}
	if len(previewableStages) != len(want) {
		t.Fatalf("expected %d previewable stages, got %d", len(want), len(previewableStages))
	}
	for stage := range want {
		if !previewableStages[stage] {
			t.Fatalf("expected stage %d to be previewable", stage)
		}
	}
}

func TestMimeOrDefault_FallsBackOnEmpty(t *testing.T) {
	if got := mimeOrDefault(""); got != "application/octet-stream" {
		t.Fatalf("expected application/octet-stream fallback, got %q", got)
	}
	if got := mimeOrDefault("image/png"); got != "image/png" {
		t.Fatalf("expected passthrough of a real mime type, got %q", got)
	}
}

func TestBindJSONBytes_DecodesIntoTarget(t *testing.T) {
	var out struct {
		Name string `json:"name"`
	}
	if err := bindJSONBytes([]byte(`{"name":"particle-1"}`), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name != "particle-1" {
		t.Fatalf("expected name particle-1, got %q", out.Name)
	}
}

func TestBindJSONBytes_RejectsMalformedJSON(t *testing.T) {
	var out struct{}
	if err := bindJSONBytes([]byte(`not json`), &out); err == nil {
		t.Fatalf("expected an error decoding malformed JSON")
	}
}
