package jewelry

import (
	"context"
	"log/slog"

	"github.com/meit-swami/jewellery/modules/gpu"
	"github.com/meit-swami/jewellery/modules/placement"
)

// Provisioner resolves a category and optional asset reference into a Model.
type Provisioner struct {
	loader Loader
	ledger *gpu.Ledger
}

// NewProvisioner returns a provisioner. loader may be nil, in which case
// only templates are produced.
func NewProvisioner(loader Loader, ledger *gpu.Ledger) *Provisioner {
	if ledger == nil {
		ledger = gpu.NewLedger()
	}
	return &Provisioner{loader: loader, ledger: ledger}
}

// Provision loads modelRef when set and falls back to the category template
// on any load failure. The returned model is hidden.
//
// The only error is ctx cancellation.
func (p *Provisioner) Provision(ctx context.Context, c placement.Category, modelRef string) (*Model, error) {
	if modelRef != "" && p.loader != nil {
		meshes, err := p.loader.Load(ctx, modelRef)
		if err == nil {
			m := newModel(c, SourceAsset, meshes, p.ledger)
			slog.Info("jewelry: asset model loaded",
				"model_id", m.ID,
				"category", c.String(),
				"ref", modelRef,
				"meshes", len(meshes),
				"vertices", m.VertexCount(),
			)
			return m, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("jewelry: failed to load custom model, using template",
			"category", c.String(),
			"ref", modelRef,
			"error", err,
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meshes := TemplateMeshes(c)
	m := newModel(c, SourceTemplate, meshes, p.ledger)
	if len(meshes) == 0 {
		slog.Warn("jewelry: no template for category, model renders nothing", "category", c.String())
	}
	slog.Info("jewelry: template model generated",
		"model_id", m.ID,
		"category", c.String(),
		"meshes", len(meshes),
		"vertices", m.VertexCount(),
	)
	return m, nil
}
