// Package resolver implements C3: the stage prerequisite graph, upstream
// artifact resolution (explicit id with latest-version fallback), deep
// lineage walks for non-immediate ancestors, and scale calibration
// lookup. Built once per request from the artifact rows of a single run,
// per spec §9 "Deep reference walks" → "a small in-memory lineage index".
package resolver

import (
	"github.com/edwin0419/particlelab/pkg/models"
)

// prerequisite maps each stage to its required predecessor, per spec §4.3:
// 2→1, 3→2, 4→3, 5→4, 45→5, 6→5, 7→6, 9→8, 10→9. Stages 1 and 8 have no
// prerequisite and are always runnable.
var prerequisite = map[models.StageID]models.StageID{
	models.Stage2:  models.Stage1,
	models.Stage3:  models.Stage2,
	models.Stage4:  models.Stage3,
	models.Stage5:  models.Stage4,
	models.Stage45: models.Stage5,
	models.Stage6:  models.Stage5,
	models.Stage7:  models.Stage6,
	models.Stage9:  models.Stage8,
	models.Stage10: models.Stage9,
}

// Prerequisite returns the stage required before s can run, and whether
// one exists.
func Prerequisite(s models.StageID) (models.StageID, bool) {
	p, ok := prerequisite[s]
	return p, ok
}
