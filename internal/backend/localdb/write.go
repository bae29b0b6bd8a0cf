package localdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/docpath"
)

// Create inserts a new document; CodeAlreadyExists if the path is taken.
func (d *Database) Create(ctx context.Context, path string, data backend.Fields) error {
	return d.write(ctx, AccessCreate, path, func(tx *sql.Tx, p docpath.Path, existing map[string]any) (string, error) {
		if existing != nil {
			return "", backend.Errorf(backend.CodeAlreadyExists, AccessCreate, p.String(), "document already exists")
		}
		return AccessCreate, insert(ctx, tx, p, data)
	})
}

// Set overwrites a document, or deep-merges data into it when merge is
// true. It is checked as a create when the document is missing and as an
// update otherwise.
func (d *Database) Set(ctx context.Context, path string, data backend.Fields, merge bool) error {
	return d.write(ctx, "set", path, func(tx *sql.Tx, p docpath.Path, existing map[string]any) (string, error) {
		if existing == nil {
			return AccessCreate, insert(ctx, tx, p, data)
		}
		next := data
		if merge {
			next = mergeFields(existing, data)
		}
		return AccessUpdate, replace(ctx, tx, p, next)
	})
}

// Update sets fields of an existing document. Keys may be dotted field
// paths ("address.city"). CodeNotFound if the document is missing.
func (d *Database) Update(ctx context.Context, path string, data backend.Fields) error {
	return d.write(ctx, AccessUpdate, path, func(tx *sql.Tx, p docpath.Path, existing map[string]any) (string, error) {
		if existing == nil {
			return "", backend.Errorf(backend.CodeNotFound, AccessUpdate, p.String(), "no document to update")
		}
		if len(data) == 0 {
			return "", backend.Errorf(backend.CodeInvalidArgument, AccessUpdate, p.String(), "no fields to update")
		}
		for k, v := range data {
			setField(existing, k, v)
		}
		return AccessUpdate, replace(ctx, tx, p, existing)
	})
}

// Delete removes a document. Deleting a missing document succeeds.
func (d *Database) Delete(ctx context.Context, path string) error {
	return d.write(ctx, AccessDelete, path, func(tx *sql.Tx, p docpath.Path, existing map[string]any) (string, error) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE path = ?", p.String()); err != nil {
			return "", fmt.Errorf("delete %s: %w", p, err)
		}
		return AccessDelete, nil
	})
}

// mutator applies one write inside tx. existing is nil when the document
// is missing. It returns the access operation to check.
type mutator func(tx *sql.Tx, p docpath.Path, existing map[string]any) (access string, err error)

func (d *Database) write(ctx context.Context, op, path string, fn mutator) error {
	p, err := docpath.Document(path)
	if err != nil {
		return &backend.Error{Code: backend.CodeInvalidArgument, Op: op, Path: path, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(op, path); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", op, path, err)
	}
	defer tx.Rollback()

	existing, err := readExisting(ctx, tx, p)
	if err != nil {
		return err
	}

	access, err := fn(tx, p, existing)
	if err != nil {
		return err
	}
	if !d.rules.Allows(access, p.String()) {
		return denied(access, p.String())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", op, path, err)
	}

	d.notify(p)
	return nil
}

func readExisting(ctx context.Context, tx *sql.Tx, p docpath.Path) (map[string]any, error) {
	var raw string
	err := tx.QueryRowContext(ctx, "SELECT data FROM documents WHERE path = ?", p.String()).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return decodeData(raw)
}

func insert(ctx context.Context, tx *sql.Tx, p docpath.Path, data backend.Fields) error {
	raw, err := encodeData(data)
	if err != nil {
		return &backend.Error{Code: backend.CodeInvalidArgument, Op: AccessCreate, Path: p.String(), Err: err}
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO documents (path, collection, id, data) VALUES (?, ?, ?, ?)",
		p.String(), p.Parent().String(), p.ID(), raw)
	if err != nil {
		return fmt.Errorf("insert %s: %w", p, err)
	}
	return nil
}

func replace(ctx context.Context, tx *sql.Tx, p docpath.Path, data backend.Fields) error {
	raw, err := encodeData(data)
	if err != nil {
		return &backend.Error{Code: backend.CodeInvalidArgument, Op: AccessUpdate, Path: p.String(), Err: err}
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE documents SET data = ?, version = version + 1 WHERE path = ?",
		raw, p.String())
	if err != nil {
		return fmt.Errorf("update %s: %w", p, err)
	}
	return nil
}

// mergeFields deep-merges src into dst. Nested maps merge; other values
// replace.
func mergeFields(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		sv, srcMap := v.(map[string]any)
		dv, dstMap := dst[k].(map[string]any)
		if srcMap && dstMap {
			dst[k] = mergeFields(dv, sv)
			continue
		}
		dst[k] = v
	}
	return dst
}

// setField assigns v at a dotted field path, creating intermediate maps.
func setField(data map[string]any, field string, v any) {
	parts := strings.Split(field, ".")
	cur := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}
