// internal/common/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"poppins-pipeline/internal/events"
)

const (
	pgEventChannel       = "pipeline_events"
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

// patchExpr merges a patch into the stored document and removes only the
// keys the patch itself sets to null. jsonb_strip_nulls would also eat
// null values producers legitimately stored, nested ones included.
const patchExpr = `(doc || $3::jsonb) - ARRAY(SELECT key FROM jsonb_each($3::jsonb) WHERE value = 'null'::jsonb)::text[]`

// Schema is the table backing the Postgres Store.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    doc        JSONB NOT NULL,
    PRIMARY KEY (collection, id)
);
`

// Postgres is the alternative Store backend, keeping documents as JSONB
// rows. Create events travel over LISTEN/NOTIFY.
type Postgres struct {
	db    *sql.DB
	dbURL string
}

func NewPostgres(db *sql.DB, dbURL string) *Postgres {
	return &Postgres{db: db, dbURL: dbURL}
}

// OpenPostgres connects and applies the schema.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db, dbURL: dsn}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Postgres) Get(ctx context.Context, collection, id string, out interface{}) error {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Postgres) Set(ctx context.Context, collection, id string, doc interface{}) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc`,
		collection, id, []byte(data))
	return err
}

func (s *Postgres) Create(ctx context.Context, collection, id string, doc interface{}) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (collection, id, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc`,
		collection, id, []byte(data)); err != nil {
		return err
	}

	payload, err := json.Marshal(events.Event{Collection: collection, ID: id, Doc: data})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, pgEventChannel, string(payload)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Postgres) Patch(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET doc = `+patchExpr+`
		 WHERE collection = $1 AND id = $2`,
		collection, id, string(patch))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) UpdateIf(ctx context.Context, collection, id, field string, expect interface{}, patch map[string]interface{}) (bool, error) {
	data, err := json.Marshal(patch)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET doc = `+patchExpr+`
		 WHERE collection = $1 AND id = $2 AND COALESCE(doc->>$4, 'false') = $5`,
		collection, id, string(data), field, encodeScalar(expect))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	exists, err := s.Exists(ctx, collection, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *Postgres) Query(ctx context.Context, collection string, filters []Filter, limit int) ([]Record, error) {
	query, args := buildQuerySQL(collection, filters, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var data []byte
		if err := rows.Scan(&rec.ID, &data); err != nil {
			return nil, err
		}
		rec.Data = data
		out = append(out, rec)
	}
	return out, rows.Err()
}

func buildQuerySQL(collection string, filters []Filter, limit int) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, doc FROM records WHERE collection = $1`)
	args := []interface{}{collection}

	for _, f := range filters {
		n := len(args) + 1
		switch f.Op {
		case OpEqual:
			if fv, ok := toFloat(f.Value); ok {
				fmt.Fprintf(&sb, ` AND (doc->>'%s')::numeric = $%d`, f.Field, n)
				args = append(args, fv)
			} else if b, ok := f.Value.(bool); ok {
				fmt.Fprintf(&sb, ` AND COALESCE((doc->>'%s')::boolean, false) = $%d`, f.Field, n)
				args = append(args, b)
			} else {
				fmt.Fprintf(&sb, ` AND doc->>'%s' = $%d`, f.Field, n)
				args = append(args, encodeScalar(f.Value))
			}
		case OpLess:
			if fv, ok := toFloat(f.Value); ok {
				fmt.Fprintf(&sb, ` AND (doc->>'%s')::numeric < $%d`, f.Field, n)
				args = append(args, fv)
			} else {
				// RFC 3339 timestamps compare correctly as text.
				fmt.Fprintf(&sb, ` AND doc->>'%s' < $%d`, f.Field, n)
				args = append(args, encodeScalar(f.Value))
			}
		case OpArrayContains:
			fmt.Fprintf(&sb, ` AND doc->'%s' ? $%d`, f.Field, n)
			args = append(args, encodeScalar(f.Value))
		}
	}

	sb.WriteString(` ORDER BY id`)
	if limit > 0 {
		fmt.Fprintf(&sb, ` LIMIT %d`, limit)
	}
	return sb.String(), args
}

func encodeScalar(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		if f, ok := toFloat(v); ok {
			return fmt.Sprintf("%g", f)
		}
		return fmt.Sprintf("%v", v)
	}
}

func (s *Postgres) ListIDs(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM records WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) Exists(ctx context.Context, collection, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Postgres) BatchWrite(ctx context.Context, ops []WriteOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, op := range ops {
		switch op.Kind {
		case WriteSet:
			data, err := marshalDoc(op.Doc)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO records (collection, id, doc) VALUES ($1, $2, $3)
				 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc`,
				op.Collection, op.ID, []byte(data)); err != nil {
				return err
			}
		case WritePatch:
			patch, err := json.Marshal(op.Patch)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE records SET doc = `+patchExpr+`
				 WHERE collection = $1 AND id = $2`,
				op.Collection, op.ID, string(patch)); err != nil {
				return err
			}
		case WriteDelete:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM records WHERE collection = $1 AND id = $2`,
				op.Collection, op.ID); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Postgres) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = $1 AND id = $2`, collection, id)
	return err
}

func (s *Postgres) Publish(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, pgEventChannel, string(payload))
	return err
}

func (s *Postgres) Events(ctx context.Context) (<-chan events.Event, error) {
	listener := pq.NewListener(s.dbURL, listenerMinReconnect, listenerMaxReconnect, nil)
	if err := listener.Listen(pgEventChannel); err != nil {
		listener.Close()
		return nil, err
	}

	out := make(chan events.Event, 256)
	go func() {
		defer close(out)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					continue
				}
				var ev events.Event
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}
