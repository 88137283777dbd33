package postgres

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	dberr "github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/store"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func keyEq(t store.Table, key store.Key) sq.Eq {
	return sq.Eq{"tbl": string(t), "pk": key.Partition, "rk": key.Row}
}

func (s *Store) Get(ctx context.Context, t store.Table, key store.Key) (*store.Entity, error) {
	db, err := s.Database()
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := psql.Select("data", "etag").From(recordsTable).Where(keyEq(t, key)).ToSql()
	if err != nil {
		return nil, dberr.NewDBInternalError("get_record", err)
	}

	ent := &store.Entity{Key: key}
	if err := db.QueryRow(ctx, sqlStr, args...).Scan(&ent.Data, &ent.ETag); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, dberr.NewDBInternalError("get_record", err)
	}
	return ent, nil
}

func (s *Store) Insert(ctx context.Context, t store.Table, key store.Key, data []byte) (string, error) {
	db, err := s.Database()
	if err != nil {
		return "", err
	}
	etag := uuid.NewString()
	sqlStr, args, err := psql.Insert(recordsTable).
		Columns("tbl", "pk", "rk", "data", "etag").
		Values(string(t), key.Partition, key.Row, string(data), etag).
		ToSql()
	if err != nil {
		return "", dberr.NewDBInternalError("insert_record", err)
	}

	if _, err := db.Exec(ctx, sqlStr, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return "", store.ErrExists
		}
		return "", dberr.NewDBInternalError("insert_record", err)
	}
	return etag, nil
}

func (s *Store) Replace(ctx context.Context, t store.Table, key store.Key, data []byte, etag string) (string, error) {
	db, err := s.Database()
	if err != nil {
		return "", err
	}
	next := uuid.NewString()
	q := psql.Update(recordsTable).
		Set("data", string(data)).
		Set("etag", next).
		Set("updated_at", sq.Expr("now()")).
		Where(keyEq(t, key))
	if etag != "" {
		q = q.Where(sq.Eq{"etag": etag})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", dberr.NewDBInternalError("replace_record", err)
	}

	tag, err := db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return "", dberr.NewDBInternalError("replace_record", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the etag moved on or the record is gone.
		if _, err := s.Get(ctx, t, key); err != nil {
			return "", err
		}
		return "", store.ErrConflict
	}
	return next, nil
}

func (s *Store) Upsert(ctx context.Context, t store.Table, key store.Key, data []byte) (string, error) {
	db, err := s.Database()
	if err != nil {
		return "", err
	}
	etag := uuid.NewString()
	sqlStr, args, err := psql.Insert(recordsTable).
		Columns("tbl", "pk", "rk", "data", "etag").
		Values(string(t), key.Partition, key.Row, string(data), etag).
		Suffix("ON CONFLICT (tbl, pk, rk) DO UPDATE SET data = EXCLUDED.data, etag = EXCLUDED.etag, updated_at = now()").
		ToSql()
	if err != nil {
		return "", dberr.NewDBInternalError("upsert_record", err)
	}
	if _, err := db.Exec(ctx, sqlStr, args...); err != nil {
		return "", dberr.NewDBInternalError("upsert_record", err)
	}
	return etag, nil
}

func (s *Store) Delete(ctx context.Context, t store.Table, key store.Key) error {
	db, err := s.Database()
	if err != nil {
		return err
	}
	sqlStr, args, err := psql.Delete(recordsTable).Where(keyEq(t, key)).ToSql()
	if err != nil {
		return dberr.NewDBInternalError("delete_record", err)
	}
	tag, err := db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return dberr.NewDBInternalError("delete_record", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, t store.Table, partition string) ([]*store.Entity, error) {
	db, err := s.Database()
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := psql.Select("rk", "data", "etag").
		From(recordsTable).
		Where(sq.Eq{"tbl": string(t), "pk": partition}).
		OrderBy("rk").
		ToSql()
	if err != nil {
		return nil, dberr.NewDBInternalError("list_records", err)
	}

	rows, err := db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, dberr.NewDBInternalError("list_records", err)
	}
	defer rows.Close()

	var out []*store.Entity
	for rows.Next() {
		ent := &store.Entity{Key: store.Key{Partition: partition}}
		if err := rows.Scan(&ent.Row, &ent.Data, &ent.ETag); err != nil {
			return nil, dberr.NewDBInternalError("list_records", err)
		}
		out = append(out, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.NewDBInternalError("list_records", err)
	}
	return out, nil
}
