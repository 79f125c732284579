package storage

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"encoretalks/internal/domain/bookings"
	"encoretalks/internal/domain/experts"
	"encoretalks/internal/domain/users"
)

// Container bundles the per-entity repositories behind their interfaces so
// services and handlers can be wired against fakes in tests.
type Container struct {
	Users    users.Store
	Experts  experts.Store
	Bookings bookings.Store
}

func NewContainer(db *pgxpool.Pool) *Container {
	return &Container{
		Users:    users.NewRepository(db),
		Experts:  experts.NewRepository(db),
		Bookings: bookings.NewRepository(db),
	}
}
