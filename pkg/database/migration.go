package database

import (
	"io/fs"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

type migrationLogger struct {
	ectologger.Logger
}

func (l migrationLogger) Verbose() bool {
	return false
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

type MigrationConfig struct {
	// Version pins the schema to a version; zero migrates to the latest.
	Version uint
	// Force marks the schema clean at a version before migrating, used to recover from a dirty state.
	Force int
}

type MigrationService struct {
	config MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config MigrationConfig) *MigrationService {
	return &MigrationService{config: config, logger: logger}
}

// Migrate applies the SQL files found at dir inside files against db.
func (ms *MigrationService) Migrate(db DB, files fs.FS, dir string) error {
	source, err := iofs.New(files, dir)
	if err != nil {
		return errors.Wrap(err, "failed to open migration source")
	}

	driver, err := postgres.WithInstance(db.Unwrap().DB, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return errors.Wrap(err, "failed to create migrate instance")
	}
	m.Log = migrationLogger{Logger: ms.logger}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			return errors.Wrapf(err, "failed to force database to version %d", ms.config.Force)
		}
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}

	switch {
	case err == nil:
		ms.logger.Infof("Database migrations completed in %v", time.Since(start))
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	version, dirty, _ := m.Version()
	ms.logger.WithError(err).Errorf("Failed to apply migrations. Database version is dirty=%t at version %d", dirty, version)
	return errors.Wrap(err, "failed to apply migrations")
}
