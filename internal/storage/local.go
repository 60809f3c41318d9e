package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LocalStore keeps objects in the objects table of the workspace database.
type LocalStore struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s LocalStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s LocalStore) List(ctx context.Context, prefix string) ([]Object, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key,content_type,size,updated_at FROM objects WHERE instr(key,?)=1 ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()
	out := []Object{}
	for rows.Next() {
		obj, err := scanObject(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (s LocalStore) Put(ctx context.Context, obj Object, data []byte) (Object, error) {
	if err := ValidateKey(obj.Key); err != nil {
		return Object{}, err
	}
	obj.ContentType = contentType(obj.ContentType)
	obj.Size = int64(len(data))
	obj.UpdatedAt = s.now().UTC().Truncate(time.Second)
	if data == nil {
		data = []byte{}
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO objects(key,content_type,size,data,updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET content_type=excluded.content_type, size=excluded.size, data=excluded.data, updated_at=excluded.updated_at`,
		obj.Key, obj.ContentType, obj.Size, data, obj.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", obj.Key, err)
	}
	return obj, nil
}

func (s LocalStore) Get(ctx context.Context, key string) (Object, []byte, error) {
	if err := ValidateKey(key); err != nil {
		return Object{}, nil, err
	}
	var data []byte
	row := s.DB.QueryRowContext(ctx, `SELECT key,content_type,size,updated_at,data FROM objects WHERE key=?`, key)
	obj, err := scanObject(func(dest ...any) error { return row.Scan(append(dest, &data)...) })
	if errors.Is(err, sql.ErrNoRows) {
		return Object{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Object{}, nil, err
	}
	return obj, data, nil
}

func (s LocalStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM objects WHERE key=?`, key)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

func scanObject(scan func(dest ...any) error) (Object, error) {
	var (
		obj     Object
		updated string
	)
	if err := scan(&obj.Key, &obj.ContentType, &obj.Size, &updated); err != nil {
		return Object{}, err
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(updated))
	if err != nil {
		return Object{}, fmt.Errorf("object %s: bad timestamp %q", obj.Key, updated)
	}
	obj.UpdatedAt = ts
	return obj, nil
}
