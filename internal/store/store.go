package store

import (
	"context"
	"encoding/json"

	"github.com/webitel/report-orchestrator/internal/errors"
)

// Table names a record family. Every table is partitioned: a record is
// addressed by (partition, row).
type Table string

const (
	TableReports     Table = "reports"
	TableReportQueue Table = "report_queue"
	TableBatches     Table = "batches"
	TableBatchQueue  Table = "batch_queue"
	TableSessions    Table = "sessions"
	TableGenerators  Table = "id_generators"
)

type Key struct {
	Partition string
	Row       string
}

// Entity is a stored record with its concurrency token.
type Entity struct {
	Key
	Data []byte
	ETag string
}

var (
	ErrNotFound = errors.NotFound("record not found", errors.WithID("store.record.not_found"))
	ErrExists   = errors.Conflict("record already exists", errors.WithID("store.record.exists"))
	ErrConflict = errors.Conflict("record changed concurrently", errors.WithID("store.record.etag_mismatch"))
)

// Backend is a partitioned key-value store with per-record etags.
// Replace with a non-empty etag succeeds only if the stored etag still matches.
type Backend interface {
	Get(ctx context.Context, table Table, key Key) (*Entity, error)
	Insert(ctx context.Context, table Table, key Key, data []byte) (string, error)
	Replace(ctx context.Context, table Table, key Key, data []byte, etag string) (string, error)
	Upsert(ctx context.Context, table Table, key Key, data []byte) (string, error)
	Delete(ctx context.Context, table Table, key Key) error
	List(ctx context.Context, table Table, partition string) ([]*Entity, error)

	Open() error
	Close() error
}

type Store interface {
	Reports() ReportStore
	Batches() BatchStore
	Sessions() SessionStore
	Generators() GeneratorStore

	// ------------ Database Management ------------ //
	Open() error
	Close() error
}

func get[T any](ctx context.Context, b Backend, table Table, key Key) (*T, string, error) {
	ent, err := b.Get(ctx, table, key)
	if err != nil {
		return nil, "", err
	}
	var v T
	if err := json.Unmarshal(ent.Data, &v); err != nil {
		return nil, "", errors.NewDBInternalError("decode_"+string(table), err)
	}
	return &v, ent.ETag, nil
}

func list[T any](ctx context.Context, b Backend, table Table, partition string) ([]*T, error) {
	ents, err := b.List(ctx, table, partition)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(ents))
	for _, ent := range ents {
		var v T
		if err := json.Unmarshal(ent.Data, &v); err != nil {
			return nil, errors.NewDBInternalError("decode_"+string(table), err)
		}
		out = append(out, &v)
	}
	return out, nil
}

func encode(table Table, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewDBInternalError("encode_"+string(table), err)
	}
	return data, nil
}

func insert(ctx context.Context, b Backend, table Table, key Key, v any) (string, error) {
	data, err := encode(table, v)
	if err != nil {
		return "", err
	}
	return b.Insert(ctx, table, key, data)
}

func replace(ctx context.Context, b Backend, table Table, key Key, v any, etag string) (string, error) {
	data, err := encode(table, v)
	if err != nil {
		return "", err
	}
	return b.Replace(ctx, table, key, data, etag)
}

func upsert(ctx context.Context, b Backend, table Table, key Key, v any) (string, error) {
	data, err := encode(table, v)
	if err != nil {
		return "", err
	}
	return b.Upsert(ctx, table, key, data)
}

// deleteMissingOK removes a record, treating an absent record as already deleted.
func deleteMissingOK(ctx context.Context, b Backend, table Table, key Key) error {
	if err := b.Delete(ctx, table, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
