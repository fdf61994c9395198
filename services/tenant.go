package services

import (
	"context"

	"github.com/luminastats/lumina-core/structs"
)

// TenantProvider supplies per-workspace settings. Implementations may read
// from a workspace registry service; StaticTenantProvider is enough when all
// workspaces share one configuration.
type TenantProvider interface {
	Timezone(ctx context.Context, workspaceID string) (string, error)
	MetricContext(ctx context.Context, workspaceID string) (structs.MetricContext, error)
}

// StaticTenantProvider returns the same settings for every workspace
type StaticTenantProvider struct {
	DefaultTimezone string
	Context         structs.MetricContext
}

func (p *StaticTenantProvider) Timezone(_ context.Context, _ string) (string, error) {
	if p.DefaultTimezone == "" {
		return "UTC", nil
	}
	return p.DefaultTimezone, nil
}

func (p *StaticTenantProvider) MetricContext(_ context.Context, _ string) (structs.MetricContext, error) {
	return p.Context, nil
}
