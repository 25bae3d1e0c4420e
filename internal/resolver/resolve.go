package resolver

import (
	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/pkg/models"
)

// RequirePrerequisite fails with prerequisite_unmet unless stage's
// required predecessor (if any) has at least one committed artifact in
// this run (spec §4.3).
func RequirePrerequisite(ix *Index, stage models.StageID) error {
	pre, ok := Prerequisite(stage)
	if !ok {
		return nil
	}
	if _, found := ix.Latest(pre); !found {
		return errs.PrerequisiteUnmetf("stage %d requires a committed stage %d artifact", stage, pre)
	}
	return nil
}

// ResolveInput resolves the upstream artifact for stage, preferring an
// explicit artifact id (which must belong to this run and be of the
// required prerequisite stage) and falling back to the prerequisite
// stage's latest artifact (spec §4.3).
func ResolveInput(ix *Index, stage models.StageID, explicitID string) (*models.Artifact, error) {
	pre, ok := Prerequisite(stage)
	if !ok {
		return nil, errs.Internalf(nil, "stage %d has no prerequisite to resolve", stage)
	}

	if explicitID != "" {
		a, found := ix.Get(explicitID)
		if !found {
			return nil, errs.InvalidInputf("artifact %s does not belong to this run", explicitID)
		}
		if a.Stage != pre {
			return nil, errs.InvalidInputf("artifact %s is stage %d, expected stage %d", explicitID, a.Stage, pre)
		}
		return a, nil
	}

	a, found := ix.Latest(pre)
	if !found {
		return nil, errs.PrerequisiteUnmetf("stage %d requires a committed stage %d artifact", stage, pre)
	}
	return a, nil
}

// WalkLineage follows the chain of keys (e.g. "input_artifact_id",
// "base_mask_artifact_id") starting at start, looking for the first
// ancestor artifact of targetStage. If any link in the chain is missing
// or unresolvable, it returns (nil, false) so the caller can fall back to
// the latest artifact of targetStage (spec §4.3, §9 "Deep reference
// walks").
func WalkLineage(ix *Index, start *models.Artifact, keys []string, targetStage models.StageID, maxHops int) (*models.Artifact, bool) {
	cur := start
	for hop := 0; hop < maxHops; hop++ {
		if cur == nil {
			return nil, false
		}
		if cur.Stage == targetStage {
			return cur, true
		}
		var next *models.Artifact
		for _, k := range keys {
			id, ok := cur.ArtifactRef(k)
			if !ok {
				continue
			}
			a, found := ix.Get(id)
			if !found {
				continue
			}
			next = a
			break
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// ResolveAncestor finds the nearest ancestor of targetStage reachable
// from start by walking keys, falling back to the latest artifact of
// targetStage if the chain is broken or absent.
func ResolveAncestor(ix *Index, start *models.Artifact, keys []string, targetStage models.StageID) (*models.Artifact, error) {
	if a, ok := WalkLineage(ix, start, keys, targetStage, len(models.AllStages)+1); ok {
		return a, nil
	}
	a, found := ix.Latest(targetStage)
	if !found {
		return nil, errs.PrerequisiteUnmetf("no stage %d artifact found for lineage fallback", targetStage)
	}
	return a, nil
}

// Calibration reads um_per_px from the latest Stage-1 artifact's params.
// A missing, zero, or negative value is an error (spec §4.3).
func Calibration(ix *Index) (float64, error) {
	a, found := ix.Latest(models.Stage1)
	if !found {
		return 0, errs.PrerequisiteUnmetf("no stage 1 calibration artifact found")
	}
	v, ok := a.Params["um_per_px"]
	if !ok {
		return 0, errs.PrerequisiteUnmetf("stage 1 artifact has no um_per_px")
	}
	f, ok := v.(float64)
	if !ok || f <= 0 {
		return 0, errs.PrerequisiteUnmetf("stage 1 um_per_px is not a positive number")
	}
	return f, nil
}
