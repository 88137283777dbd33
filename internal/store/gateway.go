package store

import (
	"context"

	"github.com/webitel/report-orchestrator/internal/model"
)

type ReportStore interface {
	Get(ctx context.Context, serial, reportID string) (*model.ReportRecord, string, error)
	Insert(ctx context.Context, rec *model.ReportRecord) (string, error)
	Replace(ctx context.Context, rec *model.ReportRecord, etag string) (string, error)
	PutQueue(ctx context.Context, entry *model.ReportQueueEntry) error
	GetQueue(ctx context.Context, serial, reportID string) (*model.ReportQueueEntry, error)
	DeleteQueue(ctx context.Context, serial, reportID string) error
}

type BatchStore interface {
	Get(ctx context.Context, sessionID, batchID string) (*model.BatchRecord, string, error)
	Insert(ctx context.Context, rec *model.BatchRecord) (string, error)
	Replace(ctx context.Context, rec *model.BatchRecord, etag string) (string, error)
	PutQueue(ctx context.Context, entry *model.BatchQueueEntry) error
	GetQueue(ctx context.Context, sessionID, batchID string) (*model.BatchQueueEntry, error)
	DeleteQueue(ctx context.Context, sessionID, batchID string) error
}

type SessionStore interface {
	Get(ctx context.Context, address, sessionID string) (*model.Session, string, error)
	Insert(ctx context.Context, s *model.Session) (string, error)
	Replace(ctx context.Context, s *model.Session, etag string) (string, error)
}

// Generator is the counter record behind one identifier type.
type Generator struct {
	Type   string `json:"type"`
	Prefix string `json:"prefix"`
	NextID string `json:"nextID"`
}

type GeneratorStore interface {
	Get(ctx context.Context, recordType string) (*Generator, string, error)
	Insert(ctx context.Context, g *Generator) (string, error)
	Replace(ctx context.Context, g *Generator, etag string) (string, error)
	List(ctx context.Context) ([]*Generator, error)
}

// Gateway implements Store over any Backend.
type Gateway struct {
	backend Backend
}

func New(backend Backend) *Gateway {
	return &Gateway{backend: backend}
}

func (g *Gateway) Open() error  { return g.backend.Open() }
func (g *Gateway) Close() error { return g.backend.Close() }

func (g *Gateway) Reports() ReportStore       { return reports{g.backend} }
func (g *Gateway) Batches() BatchStore        { return batches{g.backend} }
func (g *Gateway) Sessions() SessionStore     { return sessions{g.backend} }
func (g *Gateway) Generators() GeneratorStore { return generators{g.backend} }

type reports struct{ b Backend }

func (r reports) Get(ctx context.Context, serial, reportID string) (*model.ReportRecord, string, error) {
	return get[model.ReportRecord](ctx, r.b, TableReports, Key{serial, reportID})
}

func (r reports) Insert(ctx context.Context, rec *model.ReportRecord) (string, error) {
	return insert(ctx, r.b, TableReports, Key{rec.Serial, rec.ReportID}, rec)
}

func (r reports) Replace(ctx context.Context, rec *model.ReportRecord, etag string) (string, error) {
	return replace(ctx, r.b, TableReports, Key{rec.Serial, rec.ReportID}, rec, etag)
}

func (r reports) PutQueue(ctx context.Context, entry *model.ReportQueueEntry) error {
	_, err := upsert(ctx, r.b, TableReportQueue, Key{entry.Serial, entry.ReportID}, entry)
	return err
}

func (r reports) GetQueue(ctx context.Context, serial, reportID string) (*model.ReportQueueEntry, error) {
	e, _, err := get[model.ReportQueueEntry](ctx, r.b, TableReportQueue, Key{serial, reportID})
	return e, err
}

func (r reports) DeleteQueue(ctx context.Context, serial, reportID string) error {
	return deleteMissingOK(ctx, r.b, TableReportQueue, Key{serial, reportID})
}

type batches struct{ b Backend }

func (s batches) Get(ctx context.Context, sessionID, batchID string) (*model.BatchRecord, string, error) {
	return get[model.BatchRecord](ctx, s.b, TableBatches, Key{sessionID, batchID})
}

func (s batches) Insert(ctx context.Context, rec *model.BatchRecord) (string, error) {
	return insert(ctx, s.b, TableBatches, Key{rec.SessionID, rec.BatchID}, rec)
}

func (s batches) Replace(ctx context.Context, rec *model.BatchRecord, etag string) (string, error) {
	return replace(ctx, s.b, TableBatches, Key{rec.SessionID, rec.BatchID}, rec, etag)
}

func (s batches) PutQueue(ctx context.Context, entry *model.BatchQueueEntry) error {
	_, err := upsert(ctx, s.b, TableBatchQueue, Key{entry.SessionID, entry.BatchID}, entry)
	return err
}

func (s batches) GetQueue(ctx context.Context, sessionID, batchID string) (*model.BatchQueueEntry, error) {
	e, _, err := get[model.BatchQueueEntry](ctx, s.b, TableBatchQueue, Key{sessionID, batchID})
	return e, err
}

func (s batches) DeleteQueue(ctx context.Context, sessionID, batchID string) error {
	return deleteMissingOK(ctx, s.b, TableBatchQueue, Key{sessionID, batchID})
}

type sessions struct{ b Backend }

func (s sessions) Get(ctx context.Context, address, sessionID string) (*model.Session, string, error) {
	return get[model.Session](ctx, s.b, TableSessions, Key{address, sessionID})
}

func (s sessions) Insert(ctx context.Context, sess *model.Session) (string, error) {
	return insert(ctx, s.b, TableSessions, Key{sess.Address, sess.SessionID}, sess)
}

func (s sessions) Replace(ctx context.Context, sess *model.Session, etag string) (string, error) {
	return replace(ctx, s.b, TableSessions, Key{sess.Address, sess.SessionID}, sess, etag)
}

// generatorPartition holds every generator row; the row key is the record type.
const generatorPartition = "generators"

type generators struct{ b Backend }

func (s generators) Get(ctx context.Context, recordType string) (*Generator, string, error) {
	return get[Generator](ctx, s.b, TableGenerators, Key{generatorPartition, recordType})
}

func (s generators) Insert(ctx context.Context, g *Generator) (string, error) {
	return insert(ctx, s.b, TableGenerators, Key{generatorPartition, g.Type}, g)
}

func (s generators) Replace(ctx context.Context, g *Generator, etag string) (string, error) {
	return replace(ctx, s.b, TableGenerators, Key{generatorPartition, g.Type}, g, etag)
}

func (s generators) List(ctx context.Context) ([]*Generator, error) {
	return list[Generator](ctx, s.b, TableGenerators, generatorPartition)
}
