package pgkv

import (
	"context"
	"strings"

	"github.com/BearBump/LastMile/internal/kv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Storage keeps agent KV state in a postgres table, one row per (device, key).
// Used by depot installs where the agent runs next to a local postgres.
type Storage struct {
	db     *pgxpool.Pool
	device string
}

func New(connString, device string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db, device: device}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	err := s.db.QueryRow(ctx,
		`SELECT value FROM agent_kv WHERE device_id = $1 AND key = $2`, s.device, key).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(classify(err), "select kv")
	}
	return val, true, nil
}

func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO agent_kv (device_id, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (device_id, key)
DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`, s.device, key, value)
	if err != nil {
		return errors.Wrap(classify(err), "upsert kv")
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM agent_kv WHERE device_id = $1 AND key = $2`, s.device, key); err != nil {
		return errors.Wrap(classify(err), "delete kv")
	}
	return nil
}

func (s *Storage) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT key FROM agent_kv
WHERE device_id = $1 AND starts_with(key, $2)
ORDER BY key
`, s.device, prefix)
	if err != nil {
		return nil, errors.Wrap(classify(err), "select keys")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "scan key")
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate keys")
	}
	return out, nil
}

func (s *Storage) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// classify: class 53 (insufficient resources, e.g. disk_full) → kv.ErrStorageFull,
// connection failures → kv.ErrUnavailable.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "53") {
			return errors.Wrap(kv.ErrStorageFull, pgErr.Message)
		}
		return err
	}
	return errors.Wrap(kv.ErrUnavailable, err.Error())
}
