// Package geo resolves country, state and city references for addresses.
package geo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"

	"github.com/fjod/go_checkout/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

// FindCountry returns nil, nil when the id is unknown.
func (r *Repository) FindCountry(ctx context.Context, id int64) (*domain.GeoRef, error) {
	return r.find(ctx, `SELECT id, name, iso2 FROM countries WHERE id = ?`, id)
}

func (r *Repository) FindState(ctx context.Context, id int64) (*domain.GeoRef, error) {
	return r.find(ctx, `SELECT id, name, code FROM states WHERE id = ?`, id)
}

func (r *Repository) FindCity(ctx context.Context, id int64) (*domain.GeoRef, error) {
	return r.find(ctx, `SELECT id, name, '' FROM cities WHERE id = ?`, id)
}

func (r *Repository) find(ctx context.Context, query string, id int64) (*domain.GeoRef, error) {
	var g domain.GeoRef
	err := r.db.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.Name, &g.Code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query geo reference %d: %w", id, err)
	}
	return &g, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
