package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/fleet-live/internal/model"
)

// ErrNotFound is returned when a lookup succeeds at the HTTP level but the
// response carries no record.
var ErrNotFound = errors.New("not found")

// envelope is the server's {"data": ...} response wrapper.
type envelope[T any] struct {
	Data T `json:"data"`
}

// ListVehiclesOptions selects a page of vehicles.
type ListVehiclesOptions struct {
	Page  int
	Limit int
}

// ListVehicles fetches a page of vehicles.
func (c *Client) ListVehicles(ctx context.Context, opts ListVehiclesOptions) (*model.Page[model.Vehicle], error) {
	var ro []RequestOption
	if opts.Page > 0 {
		ro = append(ro, WithQuery("page", strconv.Itoa(opts.Page)))
	}
	if opts.Limit > 0 {
		ro = append(ro, WithQuery("limit", strconv.Itoa(opts.Limit)))
	}

	var resp envelope[envelope[model.Page[model.Vehicle]]]
	if err := c.Get(ctx, "v1/vehicle", &resp, ro...); err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}

	return &resp.Data.Data, nil
}

// GetVehicle fetches a single vehicle by id.
func (c *Client) GetVehicle(ctx context.Context, id string) (*model.Vehicle, error) {
	if id == "" {
		return nil, fmt.Errorf("get vehicle: %w: empty id", ErrInvalidPayload)
	}

	var resp envelope[*model.Vehicle]
	if err := c.Get(ctx, "v1/vehicle/"+url.PathEscape(id), &resp); err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("get vehicle %s: failed to fetch vehicle: %w", id, ErrNotFound)
	}

	return resp.Data, nil
}

// CreateVehicle validates and creates a vehicle, returning its new id.
func (c *Client) CreateVehicle(ctx context.Context, v model.VehicleCreate) (string, error) {
	if err := validatePayload(v); err != nil {
		return "", fmt.Errorf("create vehicle: %w", err)
	}

	var resp envelope[envelope[model.VehicleCreated]]
	if err := c.Post(ctx, "v1/vehicle", v, &resp); err != nil {
		return "", fmt.Errorf("create vehicle: %w", err)
	}
	if resp.Data.Data.ID == "" {
		return "", errors.New("create vehicle: response carried no id")
	}

	return resp.Data.Data.ID, nil
}

// UpdateVehicle validates and applies v to the vehicle with the given id.
func (c *Client) UpdateVehicle(ctx context.Context, id string, v model.VehicleCreate) (*model.Vehicle, error) {
	if id == "" {
		return nil, fmt.Errorf("update vehicle: %w: empty id", ErrInvalidPayload)
	}
	if err := validatePayload(v); err != nil {
		return nil, fmt.Errorf("update vehicle %s: %w", id, err)
	}

	var resp envelope[*model.Vehicle]
	if err := c.Patch(ctx, "v1/vehicle/"+url.PathEscape(id), v, &resp); err != nil {
		return nil, fmt.Errorf("update vehicle %s: %w", id, err)
	}

	return resp.Data, nil
}
