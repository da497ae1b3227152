package location

import (
	"context"
	"errors"
)

// Unknown is recorded when no location could be resolved
const Unknown = "Unknown"

// ErrNoPosition is returned when no coordinates are available for a scan
var ErrNoPosition = errors.New("no position available")

// Coordinates is a WGS84 position
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Resolver resolves the capture location into a human-readable address
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Positioner reports where the device currently is
type Positioner interface {
	Position(ctx context.Context) (Coordinates, error)
}

type coordinatesKey struct{}

// WithCoordinates returns a context carrying the device coordinates reported with a scan
func WithCoordinates(ctx context.Context, c Coordinates) context.Context {
	return context.WithValue(ctx, coordinatesKey{}, c)
}

// CoordinatesFromContext returns the coordinates stored by WithCoordinates
func CoordinatesFromContext(ctx context.Context) (Coordinates, bool) {
	c, ok := ctx.Value(coordinatesKey{}).(Coordinates)
	return c, ok
}

// ContextPositioner reads coordinates from the request context, falling back to a fixed
// position when the client sent none
type ContextPositioner struct {
	Fallback *Coordinates
}

// Position implements Positioner
func (p ContextPositioner) Position(ctx context.Context) (Coordinates, error) {
	if c, ok := CoordinatesFromContext(ctx); ok {
		return c, nil
	}
	if p.Fallback != nil {
		return *p.Fallback, nil
	}
	return Coordinates{}, ErrNoPosition
}
