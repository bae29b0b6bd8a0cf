package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/docpath"
	"github.com/roach88/carelink/internal/query"
	"github.com/roach88/carelink/internal/querysql"
)

// Get reads one document, subject to the get rule. A missing document is
// returned with Exists false.
func (d *Database) Get(ctx context.Context, path string) (backend.Document, error) {
	p, err := docpath.Document(path)
	if err != nil {
		return backend.Document{}, &backend.Error{Code: backend.CodeInvalidArgument, Op: AccessGet, Path: path, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(AccessGet, path); err != nil {
		return backend.Document{}, err
	}
	if !d.rules.Allows(AccessGet, p.String()) {
		return backend.Document{}, denied(AccessGet, p.String())
	}
	return d.readDocument(ctx, p)
}

// Query runs q once, subject to the list rule.
func (d *Database) Query(ctx context.Context, q query.Query) ([]backend.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(AccessList, q.Collection); err != nil {
		return nil, err
	}
	if !d.rules.Allows(AccessList, q.Collection) {
		return nil, denied(AccessList, q.Collection)
	}
	return d.runQuery(ctx, q)
}

func (d *Database) readDocument(ctx context.Context, p docpath.Path) (backend.Document, error) {
	var raw string
	err := d.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE path = ?", p.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.NewDocument(p.String(), p.ID(), false, nil, nil), nil
	}
	if err != nil {
		return backend.Document{}, fmt.Errorf("read %s: %w", p, err)
	}

	data, err := decodeData(raw)
	if err != nil {
		return backend.Document{}, &backend.Error{Code: backend.CodeInvalidData, Op: AccessGet, Path: p.String(), Err: err}
	}
	return backend.NewDocument(p.String(), p.ID(), true, data, nil), nil
}

func (d *Database) runQuery(ctx context.Context, q query.Query) ([]backend.Document, error) {
	stmt, params, err := querysql.Compile(q)
	if err != nil {
		return nil, &backend.Error{Code: backend.CodeInvalidArgument, Op: AccessList, Path: q.Collection, Err: err}
	}

	rows, err := d.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := make([]backend.Document, 0)
	for rows.Next() {
		var path, id, raw string
		if err := rows.Scan(&path, &id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, &backend.Error{Code: backend.CodeInvalidData, Op: AccessList, Path: path, Err: err}
		}
		docs = append(docs, backend.NewDocument(path, id, true, data, nil))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return docs, nil
}

func decodeData(raw string) (map[string]any, error) {
	data := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	return data, nil
}

func encodeData(data backend.Fields) (string, error) {
	if data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode document body: %w", err)
	}
	return string(raw), nil
}

func denied(op, path string) error {
	return backend.Errorf(backend.CodePermissionDenied, op, path, "missing or insufficient permissions")
}
