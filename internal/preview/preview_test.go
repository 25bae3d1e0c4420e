package preview

import (
	"context"
	"testing"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/pkg/models"
)

func TestRender_RejectsStagesWithoutAPreviewRenderer(t *testing.T) {
	r := NewRenderer(nil)
	nonPreviewable := []models.StageID{models.Stage1, models.Stage2, models.Stage5, models.Stage8, models.Stage45}
	for _, stage := range nonPreviewable {
		_, _, err := r.Render(context.Background(), &models.Run{ID: "run-1"}, stage, params.Raw{})
		if err == nil || !errs.Is(err, errs.InvalidInput) {
			t.Fatalf("expected invalid_input for stage %d, got %v", stage, err)
		}
	}
}
