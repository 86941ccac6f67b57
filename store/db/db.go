package db

import (
	"github.com/pkg/errors"

	"github.com/kaloyanBozhkov/linkbase/internal/profile"
	"github.com/kaloyanBozhkov/linkbase/store"
	"github.com/kaloyanBozhkov/linkbase/store/db/postgres"
	"github.com/kaloyanBozhkov/linkbase/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "postgres":
		return postgres.NewDB(profile)
	case "sqlite":
		return sqlite.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
