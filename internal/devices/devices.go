// Package devices is the opaque repository of registered remote hosts.
package devices

import (
	"context"
	"database/sql"
	"time"

	"github.com/gravitational/trace"
)

// AuthType is how the gateway authenticates to a device.
type AuthType string

const (
	AuthPassword AuthType = "password"
	AuthKey      AuthType = "key"
)

// Device is a registered remote host plus however it is reached.
type Device struct {
	ID                int64
	Name              string
	Hostname          string
	Port              int
	Username          string
	AuthType          AuthType
	EncryptedPassword string // vault-encrypted, empty unless AuthType == AuthPassword
	KeyFilename       string // vault key handle (path of the encrypted key file in the keys directory), empty unless AuthType == AuthKey
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Repository stores and retrieves Device records. It never interprets
// credential contents; that's the vault's and credential materializer's
// job.
type Repository struct {
	db *sql.DB
}

// New wraps db as a device Repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, hostname, port, username, auth_type,
		encrypted_password, key_filename, created_at, updated_at FROM devices ORDER BY name`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, d)
	}
	return out, trace.Wrap(rows.Err())
}

func (r *Repository) Get(ctx context.Context, id int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, hostname, port, username, auth_type,
		encrypted_password, key_filename, created_at, updated_at FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("device %d not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &d, nil
}

func (r *Repository) Create(ctx context.Context, d *Device) (*Device, error) {
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	res, err := r.db.ExecContext(ctx, `INSERT INTO devices
		(name, hostname, port, username, auth_type, encrypted_password, key_filename, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.Hostname, d.Port, d.Username, d.AuthType,
		nullable(d.EncryptedPassword), nullable(d.KeyFilename), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	d.ID = id
	return d, nil
}

func (r *Repository) Update(ctx context.Context, d *Device) (*Device, error) {
	d.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE devices SET name=?, hostname=?, port=?, username=?,
		auth_type=?, encrypted_password=?, key_filename=?, updated_at=? WHERE id=?`,
		d.Name, d.Hostname, d.Port, d.Username, d.AuthType,
		nullable(d.EncryptedPassword), nullable(d.KeyFilename), d.UpdatedAt, d.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if n == 0 {
		return nil, trace.NotFound("device %d not found", d.ID)
	}
	return d, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.NotFound("device %d not found", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(s scanner) (Device, error) {
	var d Device
	var encPass, keyFile sql.NullString
	err := s.Scan(&d.ID, &d.Name, &d.Hostname, &d.Port, &d.Username, &d.AuthType,
		&encPass, &keyFile, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Device{}, err
	}
	d.EncryptedPassword = encPass.String
	d.KeyFilename = keyFile.String
	return d, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
