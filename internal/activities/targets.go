package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/registry"
)

// FetchTargetsInput names the organization whose configured targets the
// quality gate should assess against.
type FetchTargetsInput struct {
	OrganizationID string `json:"organization_id"`
}

// FetchTargetsResult carries the registry entities for the organization.
type FetchTargetsResult struct {
	Targets []registry.Entity `json:"targets"`
}

// FetchTargets loads the organization's configured targets from the registry.
// Registry access reads a file, so it stays out of workflow code; an unknown
// organization yields an empty target list and the gate's coverage rules
// degrade to volume and recency checks.
func (a *Activities) FetchTargets(ctx context.Context, in FetchTargetsInput) (FetchTargetsResult, error) {
	targets := registry.TargetsForOrg(in.OrganizationID)
	if len(targets) == 0 {
		a.logger.Debug("FetchTargets: no targets configured",
			zap.String("organization_id", in.OrganizationID))
	}
	return FetchTargetsResult{Targets: targets}, nil
}
