// Package sqlite is a mattn/go-sqlite3-backed implementation of
// storage.Store, grounded on the teacher's engine/simple store_sqlite.go
// (WAL mode, context-scoped transactions) but with the schema created
// inline via CREATE TABLE IF NOT EXISTS instead of the teacher's external
// Atlas-CLI migration step, since that step hardcodes absolute local
// developer paths that do not travel with the repo. Transient
// "database is locked" errors are retried with failsafe-go the way the
// teacher retries flaky HTTP calls in pkg/http/client.go.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	_ "github.com/mattn/go-sqlite3"

	"mockexchange/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS hashes (
	key   TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, field)
);
CREATE TABLE IF NOT EXISTS sets (
	key    TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (key, member)
);
CREATE TABLE IF NOT EXISTS locks (
	key        TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (key, field)
);
`

// Store persists the abstract K/V model onto three SQLite tables.
type Store struct {
	db       *sql.DB
	executor failsafe.Executor[any]
}

// New opens (and migrates, if needed) the SQLite database at dsn.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && strings.Contains(err.Error(), "database is locked")
		}).
		WithBackoff(20*time.Millisecond, 200*time.Millisecond).
		WithMaxRetries(5).
		Build()

	return &Store{db: db, executor: failsafe.NewExecutor[any](retryPolicy)}, nil
}

func (s *Store) withRetry(fn func() error) error {
	_, err := s.executor.GetWithExecution(func(_ failsafe.Execution[any]) (any, error) {
		return nil, fn()
	})
	return err
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var value string
	var found bool
	err := s.withRetry(func() error {
		row := s.db.QueryRowContext(ctx, `SELECT value FROM hashes WHERE key=? AND field=?`, key, field)
		switch e := row.Scan(&value); e {
		case nil:
			found = true
			return nil
		case sql.ErrNoRows:
			found = false
			return nil
		default:
			return e
		}
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (s *Store) exists(ctx context.Context, table, column, key, value string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE key=? AND %s=?`, table, column), key, value).Scan(&n)
	return n > 0, err
}

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO hashes(key, field, value) VALUES(?, ?, ?)
			 ON CONFLICT(key, field) DO UPDATE SET value=excluded.value`,
			key, field, value)
		return err
	})
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	out := make(map[string]string)
	err := s.withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM hashes WHERE key=?`, key)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var f, v string
			if err := rows.Scan(&f, &v); err != nil {
				return err
			}
			out[f] = v
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) HDel(ctx context.Context, key, field string) error {
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM hashes WHERE key=? AND field=?`, key, field)
		return err
	})
}

func (s *Store) HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	var result float64
	err := s.withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var cur string
		row := tx.QueryRowContext(ctx, `SELECT value FROM hashes WHERE key=? AND field=?`, key, field)
		switch err := row.Scan(&cur); err {
		case nil, sql.ErrNoRows:
		default:
			return err
		}
		curVal, _ := strconv.ParseFloat(cur, 64)
		result = curVal + delta
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hashes(key, field, value) VALUES(?, ?, ?)
			 ON CONFLICT(key, field) DO UPDATE SET value=excluded.value`,
			key, field, strconv.FormatFloat(result, 'f', -1, 64)); err != nil {
			return err
		}
		return tx.Commit()
	})
	return result, err
}

func (s *Store) SAdd(ctx context.Context, key, member string) error {
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sets(key, member) VALUES(?, ?)`, key, member)
		return err
	})
}

func (s *Store) SRem(ctx context.Context, key, member string) error {
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sets WHERE key=? AND member=?`, key, member)
		return err
	})
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT member FROM sets WHERE key=?`, key)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m string
			if err := rows.Scan(&m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	found, err := s.exists(ctx, "sets", "member", key, member)
	return found, err
}

func (s *Store) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.withRetry(func() error {
		for _, table := range []string{"hashes", "sets"} {
			rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT key FROM %s WHERE instr(key, ?) = 1`, table), prefix)
			if err != nil {
				return err
			}
			func() {
				defer rows.Close()
				for rows.Next() {
					var k string
					if rows.Scan(&k) == nil {
						seen[k] = struct{}{}
					}
				}
			}()
		}
		return nil
	})
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out, err
}

func (s *Store) Unlink(ctx context.Context, keys ...string) error {
	return s.withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM hashes WHERE key=?`, k); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM sets WHERE key=?`, k); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

type sqlOp struct {
	kind  string
	key   string
	field string
	value string
	delta float64
}

type pipeliner struct {
	ops []sqlOp
}

func (p *pipeliner) HSet(key, field, value string) {
	p.ops = append(p.ops, sqlOp{kind: "hset", key: key, field: field, value: value})
}
func (p *pipeliner) HDel(key, field string) {
	p.ops = append(p.ops, sqlOp{kind: "hdel", key: key, field: field})
}
func (p *pipeliner) HIncrByFloat(key, field string, delta float64) {
	p.ops = append(p.ops, sqlOp{kind: "hincr", key: key, field: field, delta: delta})
}
func (p *pipeliner) SAdd(key, member string) {
	p.ops = append(p.ops, sqlOp{kind: "sadd", key: key, field: member})
}
func (p *pipeliner) SRem(key, member string) {
	p.ops = append(p.ops, sqlOp{kind: "srem", key: key, field: member})
}

// Pipeline runs fn's queued operations inside a single serializable
// transaction, matching the teacher's BeginTx(LevelSerializable) pattern.
func (s *Store) Pipeline(ctx context.Context, fn func(p storage.Pipeliner) error) error {
	pl := &pipeliner{}
	if err := fn(pl); err != nil {
		return err
	}
	return s.withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, o := range pl.ops {
			switch o.kind {
			case "hset":
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO hashes(key, field, value) VALUES(?, ?, ?)
					 ON CONFLICT(key, field) DO UPDATE SET value=excluded.value`,
					o.key, o.field, o.value); err != nil {
					return err
				}
			case "hdel":
				if _, err := tx.ExecContext(ctx, `DELETE FROM hashes WHERE key=? AND field=?`, o.key, o.field); err != nil {
					return err
				}
			case "hincr":
				var cur string
				row := tx.QueryRowContext(ctx, `SELECT value FROM hashes WHERE key=? AND field=?`, o.key, o.field)
				switch err := row.Scan(&cur); err {
				case nil, sql.ErrNoRows:
				default:
					return err
				}
				curVal, _ := strconv.ParseFloat(cur, 64)
				next := curVal + o.delta
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO hashes(key, field, value) VALUES(?, ?, ?)
					 ON CONFLICT(key, field) DO UPDATE SET value=excluded.value`,
					o.key, o.field, strconv.FormatFloat(next, 'f', -1, 64)); err != nil {
					return err
				}
			case "sadd":
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sets(key, member) VALUES(?, ?)`, o.key, o.field); err != nil {
					return err
				}
			case "srem":
				if _, err := tx.ExecContext(ctx, `DELETE FROM sets WHERE key=? AND member=?`, o.key, o.field); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	})
}

func (s *Store) SetNX(ctx context.Context, key, field, value string, ttlSeconds int64) (bool, error) {
	var won bool
	err := s.withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := time.Now().Unix()
		var expiresAt int64
		row := tx.QueryRowContext(ctx, `SELECT expires_at FROM locks WHERE key=? AND field=?`, key, field)
		switch err := row.Scan(&expiresAt); err {
		case nil:
			if expiresAt > now {
				won = false
				return tx.Commit()
			}
		case sql.ErrNoRows:
		default:
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO locks(key, field, value, expires_at) VALUES(?, ?, ?, ?)
			 ON CONFLICT(key, field) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
			key, field, value, now+ttlSeconds); err != nil {
			return err
		}
		won = true
		return tx.Commit()
	})
	return won, err
}

func (s *Store) Refresh(ctx context.Context, key, field, value string, ttlSeconds int64) (bool, error) {
	var ok bool
	err := s.withRetry(func() error {
		now := time.Now().Unix()
		res, err := s.db.ExecContext(ctx,
			`UPDATE locks SET expires_at=? WHERE key=? AND field=? AND value=? AND expires_at>?`,
			now+ttlSeconds, key, field, value, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = n > 0
		return nil
	})
	return ok, err
}

func (s *Store) Close() error { return s.db.Close() }

var _ storage.Store = (*Store)(nil)
