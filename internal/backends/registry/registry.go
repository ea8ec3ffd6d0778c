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

// Package registry selects the backend implementation from configuration.
package registry

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/backends/postgresql"
	"github.com/appserver/appserver/internal/backends/sqlite"
)

// Backend identifiers accepted in configuration.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Config represents backend configuration.
type Config struct {
	// Backend is one of Postgres or SQLite; empty means SQLite.
	Backend string

	PostgreSQL postgresql.Config
	SQLitePath string
}

// NewBackend returns the backend selected by the configuration.
func NewBackend(c *Config, l *zap.Logger) (backends.Backend, error) {
	switch c.Backend {
	case Postgres, postgresql.Name:
		return postgresql.New(&c.PostgreSQL, l.Named(postgresql.Name))

	case SQLite, "":
		return sqlite.New(c.SQLitePath, l.Named(sqlite.Name)), nil

	default:
		return nil, fmt.Errorf("unknown backend %q, expected %q or %q", c.Backend, Postgres, SQLite)
	}
}
