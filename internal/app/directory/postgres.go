package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Connect opens a pgx-backed sqlx handle and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

type PostgresDirectory struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) DevicesForUser(ctx context.Context, userID string) ([]Device, error) {
	var devices []Device

	query := "SELECT device_id, user_id, verified FROM device_bindings WHERE user_id = $1 AND verified ORDER BY device_id"

	if err := d.db.SelectContext(ctx, &devices, query, userID); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

func (d *PostgresDirectory) DeviceByID(ctx context.Context, deviceID string) (Device, error) {
	var dev Device

	query := "SELECT device_id, user_id, verified FROM device_bindings WHERE device_id = $1"

	err := d.db.GetContext(ctx, &dev, query, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("get device: %w", err)
	}
	return dev, nil
}
