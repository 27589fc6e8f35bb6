// Package pgmetadata implements core.MetadataClient against PostgreSQL via jackc/pgx/v5,
// mirroring the teacher's repository style (prepared queries, pgerrcode-based conflict
// classification, pgxutil-bridged transactions).
//
// Expected schema (created out of band, not by this package):
//
//	CREATE TABLE metadata_objects (
//	    object_id   TEXT PRIMARY KEY,
//	    tenant      TEXT NOT NULL,
//	    object_type TEXT NOT NULL,
//	    version     TEXT NOT NULL DEFAULT '',
//	    payload     BYTEA,
//	    attributes  JSONB NOT NULL DEFAULT '{}',
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
package pgmetadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/data/pgxutil"
	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
)

// Client is the PostgreSQL-backed core.MetadataClient.
type Client struct {
	DB *sql.DB
}

// New constructs a Client over an already-configured *sql.DB (see config.MetadataConfig).
func New(db *sql.DB) *Client {
	return &Client{DB: db}
}

var _ core.MetadataClient = (*Client)(nil)

func (c *Client) LoadObjects(ctx context.Context, tenant string, selectors []model.Selector) ([]model.Object, error) {
	if len(selectors) == 0 {
		return nil, nil
	}

	out := make([]model.Object, 0, len(selectors))
	err := pgxutil.WithPgxConn(ctx, c.DB, func(conn *pgx.Conn) error {
		for _, sel := range selectors {
			obj, err := c.loadOneTx(ctx, conn, tenant, sel)
			if err != nil {
				return err
			}
			out = append(out, obj)
		}
		return nil
	})
	if err != nil {
		return nil, errors.MapDBError(err)
	}
	return out, nil
}

func (c *Client) loadOneTx(ctx context.Context, conn *pgx.Conn, tenant string, sel model.Selector) (model.Object, error) {
	var query string
	var args []any
	if sel.Version != "" {
		query = `SELECT object_id, object_type, version, payload FROM metadata_objects
			WHERE tenant = $1 AND object_type = $2 AND object_id = $3 AND version = $4`
		args = []any{tenant, string(sel.ObjectType), sel.ObjectID, sel.Version}
	} else {
		query = `SELECT object_id, object_type, version, payload FROM metadata_objects
			WHERE tenant = $1 AND object_type = $2 AND object_id = $3
			ORDER BY updated_at DESC LIMIT 1`
		args = []any{tenant, string(sel.ObjectType), sel.ObjectID}
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return model.Object{}, err
	}
	defer rows.Close()

	row, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (storedObject, error) {
		var o storedObject
		var objType string
		if err := row.Scan(&o.ObjectID, &objType, &o.Version, &o.Payload); err != nil {
			return storedObject{}, err
		}
		o.ObjectType = model.ObjectType(objType)
		return o, nil
	})
	if err != nil {
		return model.Object{}, err
	}

	return model.Object{
		Selector: sel,
		Header:   model.ObjectHeader{ObjectID: row.ObjectID, ObjectType: row.ObjectType, Version: row.Version},
		Payload:  row.Payload,
	}, nil
}

// storedObject is the scan target for a metadata_objects row.
type storedObject struct {
	ObjectID   string
	ObjectType model.ObjectType
	Version    string
	Payload    []byte
}

func (c *Client) PreallocateIDs(ctx context.Context, tenant string, requests []model.PreallocateRequest) ([]model.ObjectHeader, error) {
	headers := make([]model.ObjectHeader, 0)

	err := pgxutil.WithPgxTx(ctx, c.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		for _, req := range requests {
			for i := 0; i < req.Count; i++ {
				id := uuid.NewString()
				_, err := tx.Exec(ctx, `
					INSERT INTO metadata_objects (object_id, tenant, object_type, version, attributes)
					VALUES ($1, $2, $3, '', '{}')
				`, id, tenant, string(req.ObjectType))
				if err != nil {
					return err
				}
				headers = append(headers, model.ObjectHeader{ObjectID: id, ObjectType: req.ObjectType, Version: ""})
			}
		}
		return nil
	}})
	if err != nil {
		return nil, errors.MapDBError(err)
	}
	return headers, nil
}

func (c *Client) SaveInitialMetadata(ctx context.Context, tenant string, jobDef []byte, preallocatedID string) (model.ObjectHeader, error) {
	var header model.ObjectHeader
	err := pgxutil.WithPgxConn(ctx, c.DB, func(conn *pgx.Conn) error {
		row := conn.QueryRow(ctx, `
			UPDATE metadata_objects
			SET payload = $1, version = '1', updated_at = now()
			WHERE object_id = $2 AND tenant = $3
			RETURNING object_id, object_type, version
		`, []byte(jobDef), preallocatedID, tenant)

		var objType string
		if err := row.Scan(&header.ObjectID, &objType, &header.Version); err != nil {
			return err
		}
		header.ObjectType = model.ObjectType(objType)
		return nil
	})
	if err != nil {
		return model.ObjectHeader{}, errors.MapDBError(err)
	}
	return header, nil
}

func (c *Client) SaveResultMetadata(ctx context.Context, tenant string, writes []model.WriteRequest) ([]model.ObjectHeader, error) {
	if len(writes) == 0 {
		return nil, nil
	}

	headers := make([]model.ObjectHeader, 0, len(writes))
	err := pgxutil.WithPgxTx(ctx, c.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		for _, w := range writes {
			header, err := saveOneWriteTx(ctx, tx, tenant, w)
			if err != nil {
				return err
			}
			headers = append(headers, header)
		}
		return nil
	}})
	if err != nil {
		return nil, errors.MapDBError(err)
	}
	return headers, nil
}

func saveOneWriteTx(ctx context.Context, tx pgx.Tx, tenant string, w model.WriteRequest) (model.ObjectHeader, error) {
	attrs, err := attributesToJSON(w.Attributes)
	if err != nil {
		return model.ObjectHeader{}, fmt.Errorf("encode attributes: %w", err)
	}

	var header model.ObjectHeader
	if w.PreallocateID != "" {
		row := tx.QueryRow(ctx, `
			UPDATE metadata_objects
			SET payload = $1, object_type = $2, attributes = $3, version = '1', updated_at = now()
			WHERE object_id = $4 AND tenant = $5
			RETURNING object_id, object_type, version
		`, w.Payload, string(w.ObjectType), attrs, w.PreallocateID, tenant)
		var objType string
		if err := row.Scan(&header.ObjectID, &objType, &header.Version); err != nil {
			return model.ObjectHeader{}, err
		}
		header.ObjectType = model.ObjectType(objType)
		return header, nil
	}

	id := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO metadata_objects (object_id, tenant, object_type, version, payload, attributes)
		VALUES ($1, $2, $3, '1', $4, $5)
		RETURNING object_id, object_type, version
	`, id, tenant, string(w.ObjectType), w.Payload, attrs)
	var objType string
	if err := row.Scan(&header.ObjectID, &objType, &header.Version); err != nil {
		return model.ObjectHeader{}, err
	}
	header.ObjectType = model.ObjectType(objType)
	return header, nil
}

func attributesToJSON(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(attrs)
}
