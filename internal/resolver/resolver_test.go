package resolver

import (
	"testing"
	"time"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/pkg/models"
)

const runID = "run-1"

func artifact(id string, stage models.StageID, version int, params map[string]interface{}) *models.Artifact {
	return &models.Artifact{
		ID:        id,
		RunID:     runID,
		Stage:     stage,
		Version:   version,
		Params:    params,
		CreatedAt: time.Unix(int64(version), 0),
	}
}

func TestPrerequisite_Stage45RequiresStage5(t *testing.T) {
	pre, ok := Prerequisite(models.Stage45)
	if !ok || pre != models.Stage5 {
		t.Fatalf("expected stage 45 to require stage 5, got %v ok=%v", pre, ok)
	}
}

func TestPrerequisite_RootStagesHaveNone(t *testing.T) {
	if _, ok := Prerequisite(models.Stage1); ok {
		t.Fatalf("expected stage 1 to have no prerequisite")
	}
	if _, ok := Prerequisite(models.Stage8); ok {
		t.Fatalf("expected stage 8 to have no prerequisite")
	}
}

func TestBuildIndex_OrdersByVersionThenCreatedAtDesc(t *testing.T) {
	a1 := artifact("a1", models.Stage1, 1, nil)
	a2 := artifact("a2", models.Stage1, 2, nil)
	a3 := artifact("a3", models.Stage1, 3, nil)
	ix := BuildIndex(runID, []*models.Artifact{a1, a2, a3})

	latest, ok := ix.Latest(models.Stage1)
	if !ok || latest.ID != "a3" {
		t.Fatalf("expected a3 as latest (highest version), got %v", latest)
	}
}

func TestIndex_GetRejectsArtifactsFromAnotherRun(t *testing.T) {
	foreign := &models.Artifact{ID: "x1", RunID: "other-run", Stage: models.Stage1, Version: 1}
	ix := BuildIndex(runID, []*models.Artifact{foreign})
	if _, ok := ix.Get("x1"); ok {
		t.Fatalf("expected Get to reject an artifact belonging to a different run")
	}
}

func TestLatestVersionGroup_ReturnsAllArtifactsSharingTopVersion(t *testing.T) {
	a1 := artifact("a1", models.Stage9, 2, nil)
	a2 := artifact("a2", models.Stage9, 2, nil)
	a3 := artifact("a3", models.Stage9, 1, nil)
	ix := BuildIndex(runID, []*models.Artifact{a1, a2, a3})

	group := ix.LatestVersionGroup(models.Stage9)
	if len(group) != 2 {
		t.Fatalf("expected 2 artifacts sharing version 2, got %d", len(group))
	}
}

func TestRequirePrerequisite_FailsWhenPredecessorMissing(t *testing.T) {
	ix := BuildIndex(runID, nil)
	err := RequirePrerequisite(ix, models.Stage2)
	if err == nil || !errs.Is(err, errs.PrerequisiteUnmet) {
		t.Fatalf("expected prerequisite_unmet error, got %v", err)
	}
}

func TestRequirePrerequisite_PassesForRootStage(t *testing.T) {
	ix := BuildIndex(runID, nil)
	if err := RequirePrerequisite(ix, models.Stage1); err != nil {
		t.Fatalf("expected no error for root stage, got %v", err)
	}
}

func TestResolveInput_FallsBackToLatestWhenNoExplicitID(t *testing.T) {
	s1 := artifact("s1", models.Stage1, 1, nil)
	ix := BuildIndex(runID, []*models.Artifact{s1})

	got, err := ResolveInput(ix, models.Stage2, "")
	if err != nil || got.ID != "s1" {
		t.Fatalf("expected fallback to s1, got %v err=%v", got, err)
	}
}

func TestResolveInput_RejectsExplicitIDOfWrongStage(t *testing.T) {
	s1 := artifact("s1", models.Stage1, 1, nil)
	s2 := artifact("s2", models.Stage2, 1, nil)
	ix := BuildIndex(runID, []*models.Artifact{s1, s2})

	_, err := ResolveInput(ix, models.Stage3, "s1")
	if err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid_input for wrong-stage explicit id, got %v", err)
	}
}

func TestResolveInput_RejectsExplicitIDFromAnotherRun(t *testing.T) {
	s1 := artifact("s1", models.Stage1, 1, nil)
	foreign := &models.Artifact{ID: "x1", RunID: "other-run", Stage: models.Stage1, Version: 1}
	ix := BuildIndex(runID, []*models.Artifact{s1, foreign})

	_, err := ResolveInput(ix, models.Stage2, "x1")
	if err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid_input for explicit id from another run, got %v", err)
	}
}

func TestWalkLineage_FollowsChainToTargetStage(t *testing.T) {
	s1 := artifact("s1", models.Stage1, 1, nil)
	s2 := artifact("s2", models.Stage2, 1, map[string]interface{}{"input_artifact_id": "s1"})
	s3 := artifact("s3", models.Stage3, 1, map[string]interface{}{"input_artifact_id": "s2"})
	ix := BuildIndex(runID, []*models.Artifact{s1, s2, s3})

	got, ok := WalkLineage(ix, s3, []string{"input_artifact_id"}, models.Stage1, 5)
	if !ok || got.ID != "s1" {
		t.Fatalf("expected walk to reach s1, got %v ok=%v", got, ok)
	}
}

func TestWalkLineage_StopsAtMaxHops(t *testing.T) {
	s1 := artifact("s1", models.Stage1, 1, nil)
	s2 := artifact("s2", models.Stage2, 1, map[string]interface{}{"input_artifact_id": "s1"})
	ix := BuildIndex(runID, []*models.Artifact{s1, s2})

	_, ok := WalkLineage(ix, s2, []string{"input_artifact_id"}, models.Stage1, 0)
	if ok {
		t.Fatalf("expected zero-hop walk to fail to reach an ancestor")
	}
}

func TestResolveAncestor_FallsBackToLatestWhenChainBroken(t *testing.T) {
	s1 := artifact("s1", models.Stage1, 1, nil)
	s2 := artifact("s2", models.Stage2, 1, nil) // no lineage ref back to s1
	ix := BuildIndex(runID, []*models.Artifact{s1, s2})

	got, err := ResolveAncestor(ix, s2, []string{"input_artifact_id"}, models.Stage1)
	if err != nil || got.ID != "s1" {
		t.Fatalf("expected fallback to latest stage-1 artifact, got %v err=%v", got, err)
	}
}

func TestCalibration_RequiresPositiveUmPerPx(t *testing.T) {
	good := artifact("s1", models.Stage1, 1, map[string]interface{}{"um_per_px": 0.42})
	ix := BuildIndex(runID, []*models.Artifact{good})
	v, err := Calibration(ix)
	if err != nil || v != 0.42 {
		t.Fatalf("expected 0.42, got %v err=%v", v, err)
	}

	bad := artifact("s2", models.Stage1, 2, map[string]interface{}{"um_per_px": -1.0})
	ix2 := BuildIndex(runID, []*models.Artifact{bad})
	if _, err := Calibration(ix2); err == nil || !errs.Is(err, errs.PrerequisiteUnmet) {
		t.Fatalf("expected prerequisite_unmet for non-positive um_per_px, got %v", err)
	}
}
