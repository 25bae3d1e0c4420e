package store

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/pkg/models"
)

// ArtifactStore is C2: the versioned artifact store. It never touches a
// network socket or a disk directly — every persistence and byte
// operation goes through ArtifactRepo and Blob.
type ArtifactStore struct {
	Repo ArtifactRepo
	Blob Blob
}

func New(repo ArtifactRepo, blob Blob) *ArtifactStore {
	return &ArtifactStore{Repo: repo, Blob: blob}
}

// NextVersion delegates to the SQL collaborator's one-statement
// read-modify-write (spec §4.2, §5).
func (s *ArtifactStore) NextVersion(ctx context.Context, runID string, stage models.StageID) (int, error) {
	v, err := s.Repo.NextVersion(ctx, runID, stage)
	if err != nil {
		return 0, errs.Internalf(err, "failed to allocate version for run %s stage %d", runID, stage)
	}
	return v, nil
}

// StepDir1Shape builds the "step<n>/<artifact_id>/" directory used by
// stages 1, 4, 5, 6, 7, 8, 9, 10 (spec §6).
func StepDir1Shape(runID string, stage models.StageID, artifactID string) string {
	return filepath.Join(runID, stageDirName(stage), artifactID)
}

// StepDirVShape builds the "step_<n>/v<version>/" directory used by
// stages 2 and 3 (spec §6).
func StepDirVShape(runID string, stage models.StageID, version int) string {
	return filepath.Join(runID, "step_"+stageNum(stage), "v"+strconv.Itoa(version))
}

func stageDirName(stage models.StageID) string {
	return "step" + stageNum(stage)
}

func stageNum(stage models.StageID) string {
	if stage == models.Stage45 {
		return "4.5"
	}
	return strconv.Itoa(int(stage))
}

// NewArtifactID allocates a fresh artifact id.
func NewArtifactID() string { return uuid.NewString() }

// Commit atomically persists an artifact row whose files have already
// been written under storage root by the caller (spec §4.2). On
// InsertArtifact failure the caller is responsible for best-effort
// deletion of the written files (spec §4.4 "Failure semantics"); Commit
// itself performs that cleanup here so every executor gets it for free.
func (s *ArtifactStore) Commit(ctx context.Context, a *models.Artifact, dir string) error {
	if a.ID == "" {
		a.ID = NewArtifactID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := s.Repo.InsertArtifact(ctx, a); err != nil {
		_ = s.Blob.RemoveAll(dir)
		return errs.Internalf(err, "failed to commit artifact %s", a.ID)
	}
	return nil
}

// StageGroup is one stage's artifacts, sorted by version then created_at
// descending (spec §4.2 list_grouped).
type StageGroup struct {
	Stage     models.StageID
	Artifacts []*models.Artifact
}

// ListGrouped returns every artifact for run grouped by stage, each stage
// sorted by version descending and, within a version, by creation
// timestamp descending.
func (s *ArtifactStore) ListGrouped(ctx context.Context, runID string) ([]StageGroup, error) {
	all, err := s.Repo.ListByRun(ctx, runID)
	if err != nil {
		return nil, errs.Internalf(err, "failed to list artifacts for run %s", runID)
	}

	byStage := make(map[models.StageID][]*models.Artifact)
	for _, a := range all {
		byStage[a.Stage] = append(byStage[a.Stage], a)
	}

	var stages []models.StageID
	for st := range byStage {
		stages = append(stages, st)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })

	groups := make([]StageGroup, 0, len(stages))
	for _, st := range stages {
		arts := byStage[st]
		sort.Slice(arts, func(i, j int) bool {
			if arts[i].Version != arts[j].Version {
				return arts[i].Version > arts[j].Version
			}
			return arts[i].CreatedAt.After(arts[j].CreatedAt)
		})
		groups = append(groups, StageGroup{Stage: st, Artifacts: arts})
	}
	return groups, nil
}

// GetFile resolves files[index].path against storage root and returns its
// bytes, rejecting any path that would escape the root (spec §4.2, §8).
func (s *ArtifactStore) GetFile(ctx context.Context, a *models.Artifact, index int) ([]byte, string, error) {
	if index < 0 || index >= len(a.Files) {
		return nil, "", errs.NotFoundf("file index %d out of range for artifact %s", index, a.ID)
	}
	f := a.Files[index]
	if _, err := s.Blob.Resolve(f.Path); err != nil {
		return nil, "", errs.InvalidInputf("file path escapes storage root: %s", f.Path)
	}
	data, err := s.Blob.ReadFile(f.Path)
	if err != nil {
		return nil, "", errs.NotFoundf("file not found on disk: %s", f.Path)
	}
	return data, f.Mime, nil
}

// RenameVersion writes params.version_name = newName for every artifact
// sharing (run, stage, version), preserving all other params (spec §4.2).
func (s *ArtifactStore) RenameVersion(ctx context.Context, a *models.Artifact, newName string) error {
	siblings, err := s.Repo.ArtifactsInVersion(ctx, a.RunID, a.Stage, a.Version)
	if err != nil {
		return errs.Internalf(err, "failed to load version siblings")
	}
	for _, sib := range siblings {
		p := make(map[string]interface{}, len(sib.Params)+1)
		for k, v := range sib.Params {
			p[k] = v
		}
		p["version_name"] = newName
		if err := s.Repo.UpdateParams(ctx, sib.ID, p); err != nil {
			return errs.Internalf(err, "failed to rename artifact %s", sib.ID)
		}
	}
	return nil
}

// DeleteVersion deletes every artifact sharing (run, stage, version) and
// removes each unique directory referenced in their files (spec §4.2,
// §3's "a version is atomic").
func (s *ArtifactStore) DeleteVersion(ctx context.Context, a *models.Artifact) error {
	siblings, err := s.Repo.ArtifactsInVersion(ctx, a.RunID, a.Stage, a.Version)
	if err != nil {
		return errs.Internalf(err, "failed to load version siblings")
	}

	dirs := make(map[string]struct{})
	for _, sib := range siblings {
		for _, f := range sib.Files {
			dirs[filepath.Dir(f.Path)] = struct{}{}
		}
	}
	for _, sib := range siblings {
		if err := s.Repo.DeleteArtifact(ctx, sib.ID); err != nil {
			return errs.Internalf(err, "failed to delete artifact %s", sib.ID)
		}
	}
	for dir := range dirs {
		_ = s.Blob.RemoveAll(dir)
	}
	return nil
}

// GetArtifact fetches one artifact by id, translating a missing row into
// a not_found error.
func (s *ArtifactStore) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	a, err := s.Repo.GetArtifact(ctx, id)
	if err != nil {
		return nil, errs.NotFoundf("artifact %s not found", id)
	}
	return a, nil
}
