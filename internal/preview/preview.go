// Package preview implements C5: side-effect-free dry-runs of the
// preview-capable stages (S3, S4, S6, S7, S9, S10). A preview renderer
// runs the same normalization and algorithm as its executor but never
// commits an artifact — it only returns the proposed output so a client
// can iterate on parameters cheaply (spec §4.5 "Preview renderers").
package preview

import (
	"context"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/stages"
	"github.com/edwin0419/particlelab/pkg/models"
)

// Renderer dispatches a preview request to the stage's executor-shared
// algorithm. It is stateless beyond the wrapped Executor, so a single
// Renderer can serve every run concurrently.
type Renderer struct {
	Executor *stages.Executor
}

func NewRenderer(e *stages.Executor) *Renderer {
	return &Renderer{Executor: e}
}

// MimePNG is returned for every preview-capable stage: none of S3, S4,
// S6, S7, S9, or S10 has a JSON-only preview payload.
const MimePNG = "image/png"

// Render runs the preview for stage and returns its PNG bytes. Only
// stages in {3, 4, 6, 7, 9, 10} support preview (spec §6 "POST
// /runs/{run}/steps/{n}/preview for n ∈ {3,4,6,7,9,10}").
func (r *Renderer) Render(ctx context.Context, run *models.Run, stage models.StageID, raw params.Raw) ([]byte, string, error) {
	switch stage {
	case models.Stage3:
		data, err := r.Executor.PreviewStage3(ctx, run, raw)
		return data, MimePNG, err
	case models.Stage4:
		data, err := r.Executor.PreviewStage4(ctx, run, raw)
		return data, MimePNG, err
	case models.Stage6:
		data, err := r.Executor.PreviewStage6(ctx, run, raw)
		return data, MimePNG, err
	case models.Stage7:
		data, err := r.Executor.PreviewStage7(ctx, run, raw)
		return data, MimePNG, err
	case models.Stage9:
		data, err := r.Executor.PreviewStage9(ctx, run, raw)
		return data, MimePNG, err
	case models.Stage10:
		data, err := r.Executor.PreviewStage10(ctx, run, raw)
		return data, MimePNG, err
	default:
		return nil, "", errs.InvalidInputf("stage %d has no preview renderer", stage)
	}
}
