package api

import (
	"context"
	"fmt"

	"github.com/rickgao/fleet-live/internal/model"
)

// CreateMaintenance validates and records a maintenance entry.
func (c *Client) CreateMaintenance(ctx context.Context, m model.MaintenanceCreate) (*model.Maintenance, error) {
	if err := validatePayload(m); err != nil {
		return nil, fmt.Errorf("create maintenance: %w", err)
	}

	var resp envelope[*model.Maintenance]
	if err := c.Post(ctx, "v1/maintenance", m, &resp); err != nil {
		return nil, fmt.Errorf("create maintenance: %w", err)
	}

	return resp.Data, nil
}
