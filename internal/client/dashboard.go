package client

import (
	"context"

	"golang.org/x/sync/errgroup"

	"nycmg-backend/internal/models"
)

type Dashboard struct {
	Stats  models.StatsResponse
	Recent []*models.ErrorRecord
	Health models.HealthResponse
}

// LoadDashboard fetches stats, recent errors and health concurrently.
// The first failure cancels the other requests.
func (c *Client) LoadDashboard(ctx context.Context, recentLimit int) (*Dashboard, error) {
	var d Dashboard
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stats, err := c.Stats(ctx)
		d.Stats = stats
		return err
	})
	g.Go(func() error {
		recent, err := c.Recent(ctx, recentLimit)
		d.Recent = recent.Errors
		return err
	})
	g.Go(func() error {
		health, err := c.Health(ctx)
		d.Health = health
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}
