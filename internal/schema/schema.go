// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package schema creates and upgrades application tables.
//
// Migrations are embedded into the binary, one set per backend.
package schema

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/backends/postgresql"
	"github.com/appserver/appserver/internal/backends/sqlite"
	"github.com/appserver/appserver/internal/util/lazyerrors"
)

//go:embed migrations
var migrations embed.FS

// Version is the schema version after all migrations are applied.
const Version = 1

// Migrate applies all pending migrations for the given backend.
//
// It uses its own connection, not any handle.
func Migrate(ctx context.Context, b backends.Backend, l *zap.Logger) error {
	m, err := newMigrate(ctx, b, l)
	if err != nil {
		return err
	}

	defer closeMigrate(m, l)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	err = m.Up()

	switch {
	case err == nil:
	case errors.Is(err, migrate.ErrNoChange):
		l.Debug("Schema is up to date")
	default:
		return lazyerrors.Error(err)
	}

	v, dirty, err := m.Version()
	if err != nil {
		return lazyerrors.Error(err)
	}

	if dirty {
		return lazyerrors.Errorf("schema version %d is dirty", v)
	}

	l.Info("Schema migrated", zap.String("backend", b.Name()), zap.Uint("version", v))

	return nil
}

// Drop drops all application tables.
func Drop(ctx context.Context, b backends.Backend, l *zap.Logger) error {
	m, err := newMigrate(ctx, b, l)
	if err != nil {
		return err
	}

	defer closeMigrate(m, l)

	if err = m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return lazyerrors.Error(err)
	}

	return nil
}

// newMigrate returns a migration runner for the backend.
func newMigrate(ctx context.Context, b backends.Backend, l *zap.Logger) (*migrate.Migrate, error) {
	db, err := b.Open(ctx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	var driver database.Driver

	switch name := b.Name(); name {
	case postgresql.Name:
		driver, err = migratepgx.WithInstance(db, new(migratepgx.Config))
	case sqlite.Name:
		driver, err = migratesqlite.WithInstance(db, new(migratesqlite.Config))
	default:
		err = fmt.Errorf("no migrations for backend %q", name)
	}

	if err != nil {
		_ = db.Close()
		return nil, lazyerrors.Error(err)
	}

	dir, err := fs.Sub(migrations, "migrations")
	if err != nil {
		_ = driver.Close()
		return nil, lazyerrors.Error(err)
	}

	src, err := iofs.New(dir, b.Name())
	if err != nil {
		_ = driver.Close()
		return nil, lazyerrors.Error(err)
	}

	m, err := migrate.NewWithInstance("iofs", src, b.Name(), driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()

		return nil, lazyerrors.Error(err)
	}

	m.Log = &logger{l: l.Named("migrate").Sugar()}

	return m, nil
}

// closeMigrate closes the migration runner and its connection.
func closeMigrate(m *migrate.Migrate, l *zap.Logger) {
	srcErr, dbErr := m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		l.Warn("Failed to close migrations", zap.Error(err))
	}
}

// logger adapts zap to migrate.Logger.
type logger struct {
	l *zap.SugaredLogger
}

// Printf implements migrate.Logger.
func (ml *logger) Printf(format string, v ...any) {
	ml.l.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

// Verbose implements migrate.Logger.
func (ml *logger) Verbose() bool {
	return ml.l.Desugar().Core().Enabled(zap.DebugLevel)
}

// check interfaces
var (
	_ migrate.Logger = (*logger)(nil)
)
