package httpapi

import (
	"context"

	"resitrack.org/internal/client"
	"resitrack.org/internal/listing"
	"resitrack.org/internal/location"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/records"
)

// Upstream is the records backend as seen by the API. *client.Client
// implements it.
type Upstream interface {
	Snapshot(ctx context.Context) (client.Me, permission.Snapshot, error)
	ServicePermissions(ctx context.Context, service string) (permission.Map, error)

	Locations(ctx context.Context) ([]location.Location, error)
	CreateLocation(ctx context.Context, l location.Location) (location.Location, error)
	CreateFacility(ctx context.Context, name string) (location.Location, error)
	DeleteLocation(ctx context.Context, id string) error

	ListMovements(ctx context.Context, q listing.Query[records.MovementFilter]) (listing.Page[movement.Movement], error)
	CreateMovement(ctx context.Context, m movement.Movement) (movement.Movement, error)
	SetMovementChecked(ctx context.Context, id string, checked bool) error
	DeleteMovement(ctx context.Context, id string) error
	ArchiveMovements(ctx context.Context, olderThanDays int) (int, error)

	ListDeaths(ctx context.Context, q listing.Query[records.DeathFilter]) (listing.Page[records.Death], error)
	CreateDeath(ctx context.Context, d records.Death) (records.Death, error)
	SetDeathChecked(ctx context.Context, id string, checked bool) error
	DeleteDeath(ctx context.Context, id string) error

	ListHistory(ctx context.Context, q listing.Query[records.HistoryFilter]) (listing.Page[records.HistoryEntry], error)

	NoMovementDays(ctx context.Context, service string) ([]records.NoMovementDay, error)
	DeclareNoMovementDay(ctx context.Context, day records.NoMovementDay) (records.NoMovementDay, error)
	DeleteNoMovementDay(ctx context.Context, date, service string) error
}

var _ Upstream = (*client.Client)(nil)
