package resolver

import (
	"sort"

	"github.com/edwin0419/particlelab/pkg/models"
)

// Index is the in-memory lineage index built once per request from every
// artifact row of a single run (spec §9).
type Index struct {
	byID    map[string]*models.Artifact
	byStage map[models.StageID][]*models.Artifact // version desc, created_at desc
	runID   string
}

// BuildIndex builds a lineage Index from every artifact of one run.
func BuildIndex(runID string, artifacts []*models.Artifact) *Index {
	ix := &Index{
		byID:    make(map[string]*models.Artifact, len(artifacts)),
		byStage: make(map[models.StageID][]*models.Artifact),
		runID:   runID,
	}
	for _, a := range artifacts {
		ix.byID[a.ID] = a
		ix.byStage[a.Stage] = append(ix.byStage[a.Stage], a)
	}
	for stage := range ix.byStage {
		arts := ix.byStage[stage]
		sort.Slice(arts, func(i, j int) bool {
			if arts[i].Version != arts[j].Version {
				return arts[i].Version > arts[j].Version
			}
			return arts[i].CreatedAt.After(arts[j].CreatedAt)
		})
		ix.byStage[stage] = arts
	}
	return ix
}

// Get returns the artifact with the given id, if it belongs to this run.
func (ix *Index) Get(id string) (*models.Artifact, bool) {
	a, ok := ix.byID[id]
	if !ok || a.RunID != ix.runID {
		return nil, false
	}
	return a, true
}

// Latest returns the highest-version artifact of the given stage.
func (ix *Index) Latest(stage models.StageID) (*models.Artifact, bool) {
	arts := ix.byStage[stage]
	if len(arts) == 0 {
		return nil, false
	}
	return arts[0], true
}

// LatestVersionGroup returns the artifacts sharing the highest version number
// of the given stage (a "version" is atomic and may contain >1 artifact).
func (ix *Index) LatestVersionGroup(stage models.StageID) []*models.Artifact {
	arts := ix.byStage[stage]
	if len(arts) == 0 {
		return nil
	}
	top := arts[0].Version
	var out []*models.Artifact
	for _, a := range arts {
		if a.Version == top {
			out = append(out, a)
		}
	}
	return out
}

// ByID returns the artifact with the given id regardless of stage, for
// chain walks that need to inspect an arbitrary upstream artifact's
// params (still constrained to this run via Get's RunID check upstream).
func (ix *Index) ByID(id string) (*models.Artifact, bool) { return ix.Get(id) }
