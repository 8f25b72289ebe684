package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for object and state persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetObject retrieves an object by ID.
	// Returns ErrObjectNotFound if the object does not exist.
	GetObject(ctx context.Context, id string) (*Object, error)

	// ListObjects retrieves every object in the tree rooted at prefix.
	// An empty prefix lists all objects.
	ListObjects(ctx context.Context, prefix string) ([]Object, error)

	// CreateObject inserts a new object.
	// Returns ErrObjectExists if an object with the same ID already exists.
	CreateObject(ctx context.Context, obj *Object) error

	// UpdateObject modifies an existing object.
	// Returns ErrObjectNotFound if the object does not exist.
	UpdateObject(ctx context.Context, obj *Object) error

	// DeleteTree removes the object at root, everything below it and their states.
	// It returns the number of objects removed.
	DeleteTree(ctx context.Context, root string) (int, error)

	// GetState retrieves the current value of a state.
	// Returns ErrStateNotFound if no value has been written.
	GetState(ctx context.Context, id string) (*State, error)

	// ListStates retrieves every state value in the tree rooted at prefix.
	ListStates(ctx context.Context, prefix string) ([]State, error)

	// SetState inserts or replaces a state value.
	SetState(ctx context.Context, st State) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open database whose
// schema has been migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const objectColumns = `id, type, name, role, value_type, readable, writable, native, created_at, updated_at`

// GetObject implements Repository.
func (r *SQLiteRepository) GetObject(ctx context.Context, id string) (*Object, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+objectColumns+" FROM objects WHERE id = ?", id)
	obj, err := scanObject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("querying object: %w", err)
	}
	return obj, nil
}

// ListObjects implements Repository.
func (r *SQLiteRepository) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	query := "SELECT " + objectColumns + " FROM objects"
	args := treeArgs(prefix)
	if len(args) > 0 {
		query += " WHERE " + treeClause
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying objects: %w", err)
	}
	defer rows.Close()

	var objects []Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning object: %w", err)
		}
		objects = append(objects, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating objects: %w", err)
	}
	return objects, nil
}

// CreateObject implements Repository.
func (r *SQLiteRepository) CreateObject(ctx context.Context, obj *Object) error {
	native, err := marshalNative(obj.Native)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO objects ("+objectColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		obj.ID,
		string(obj.Type),
		obj.Name,
		obj.Role,
		obj.ValueType,
		boolToInt(obj.Read),
		boolToInt(obj.Write),
		native,
		formatTime(obj.CreatedAt),
		formatTime(obj.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrObjectExists
		}
		return fmt.Errorf("inserting object: %w", err)
	}
	return nil
}

// UpdateObject implements Repository.
func (r *SQLiteRepository) UpdateObject(ctx context.Context, obj *Object) error {
	native, err := marshalNative(obj.Native)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE objects
		SET type = ?, name = ?, role = ?, value_type = ?, readable = ?, writable = ?, native = ?, updated_at = ?
		WHERE id = ?`,
		string(obj.Type),
		obj.Name,
		obj.Role,
		obj.ValueType,
		boolToInt(obj.Read),
		boolToInt(obj.Write),
		native,
		formatTime(obj.UpdatedAt),
		obj.ID,
	)
	if err != nil {
		return fmt.Errorf("updating object: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return ErrObjectNotFound
	}
	return nil
}

// DeleteTree implements Repository.
func (r *SQLiteRepository) DeleteTree(ctx context.Context, root string) (int, error) {
	args := treeArgs(root)
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: refusing to delete the whole tree", ErrInvalidID)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM states WHERE "+treeClause, args...); err != nil {
		return 0, fmt.Errorf("deleting states: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE "+treeClause, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting objects: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports rows affected

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return int(n), nil
}

// GetState implements Repository.
func (r *SQLiteRepository) GetState(ctx context.Context, id string) (*State, error) {
	row := r.db.QueryRowContext(ctx, "SELECT id, value, ack, updated_at FROM states WHERE id = ?", id)
	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("querying state: %w", err)
	}
	return st, nil
}

// ListStates implements Repository.
func (r *SQLiteRepository) ListStates(ctx context.Context, prefix string) ([]State, error) {
	query := "SELECT id, value, ack, updated_at FROM states"
	args := treeArgs(prefix)
	if len(args) > 0 {
		query += " WHERE " + treeClause
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning state: %w", err)
		}
		states = append(states, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating states: %w", err)
	}
	return states, nil
}

// SetState implements Repository.
func (r *SQLiteRepository) SetState(ctx context.Context, st State) error {
	value, err := json.Marshal(st.Value)
	if err != nil {
		return fmt.Errorf("marshalling state value: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO states (id, value, ack, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET value = excluded.value, ack = excluded.ack, updated_at = excluded.updated_at`,
		st.ID, string(value), boolToInt(st.Ack), formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}

// treeClause selects an id equal to the root or below it.
const treeClause = `(id = ? OR id LIKE ? ESCAPE '\')`

// treeArgs returns the arguments for treeClause, or nil for an empty root.
func treeArgs(root string) []any {
	if root == "" {
		return nil
	}
	return []any{root, escapeLike(root) + ".%"}
}

// escapeLike escapes LIKE wildcards; "_" is common in generated ids.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(scanner rowScanner) (*Object, error) {
	var (
		obj                  Object
		objType              string
		readable, writable   int
		native               sql.NullString
		createdAt, updatedAt string
	)
	if err := scanner.Scan(
		&obj.ID, &objType, &obj.Name, &obj.Role, &obj.ValueType,
		&readable, &writable, &native, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	obj.Type = ObjectType(objType)
	obj.Read = readable != 0
	obj.Write = writable != 0
	obj.CreatedAt = parseTime(createdAt)
	obj.UpdatedAt = parseTime(updatedAt)

	if native.Valid && native.String != "" {
		if err := json.Unmarshal([]byte(native.String), &obj.Native); err != nil {
			return nil, fmt.Errorf("unmarshalling native: %w", err)
		}
	}
	return &obj, nil
}

func scanState(scanner rowScanner) (*State, error) {
	var (
		st        State
		value     sql.NullString
		ack       int
		updatedAt string
	)
	if err := scanner.Scan(&st.ID, &value, &ack, &updatedAt); err != nil {
		return nil, err
	}
	st.Ack = ack != 0
	st.UpdatedAt = parseTime(updatedAt)

	if value.Valid && value.String != "" {
		if err := json.Unmarshal([]byte(value.String), &st.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling state value: %w", err)
		}
	}
	return &st, nil
}

func marshalNative(native map[string]any) (sql.NullString, error) {
	if len(native) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(native)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling native: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // format is controlled by formatTime
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
