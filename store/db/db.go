// Package db dispatches to a concrete database driver based on the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/drclabs/recall/internal/profile"
	"github.com/drclabs/recall/store"
	"github.com/drclabs/recall/store/db/postgres"
	"github.com/drclabs/recall/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %q", profile.Driver)
	}
}
