package dispatcher

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/emitter"
	"github.com/vietddude/facilitator/internal/indexing/handler"
	"github.com/vietddude/facilitator/internal/infra/storage"
	"github.com/vietddude/facilitator/internal/infra/storage/memory"
)

var (
	gateway = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	proxy   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	h1      = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	secret  = common.HexToHash("0x5555555555555555555555555555555555555555555555555555555555555555")
)

func event(uts uint64, fields map[string]string) domain.EventRecord {
	r := domain.EventRecord{
		domain.FieldContractAddress: domain.String(gateway.Hex()),
		domain.FieldBlockNumber:     domain.Number(strconv.FormatUint(uts, 10)),
		domain.FieldUTS:             domain.Number(strconv.FormatUint(uts, 10)),
	}
	for k, v := range fields {
		r[k] = domain.String(v)
	}
	return r
}

func declared(uts uint64) domain.EventRecord {
	return event(uts, map[string]string{
		"_messageHash": h1.Hex(),
		"_staker":      proxy.Hex(),
		"_stakerNonce": "1",
		"_beneficiary": proxy.Hex(),
		"_amount":      "10",
	})
}

func progressed(uts uint64) domain.EventRecord {
	return event(uts, map[string]string{
		"_messageHash":  h1.Hex(),
		"_staker":       proxy.Hex(),
		"_stakerNonce":  "1",
		"_unlockSecret": secret.Hex(),
	})
}

type recordingEmitter struct {
	got []emitter.Notification
	err error
}

func (r *recordingEmitter) Emit(ctx context.Context, n emitter.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingEmitter) Close() error { return nil }

type countingHandler struct {
	calls atomic.Int32
	err   error
}

func (c *countingHandler) Persist(ctx context.Context, records []domain.EventRecord) (*handler.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &handler.Result{}, nil
}

func newDispatcher(t *testing.T, store *memory.MemoryStorage, em emitter.Emitter) *Dispatcher {
	t.Helper()
	reg, err := handler.DefaultRegistry(handler.Repositories{
		Messages: store.Messages(),
		Requests: store.Requests(),
	}, nil)
	require.NoError(t, err)
	return New(Config{Registry: reg, Store: store, Emitter: em, Requests: store.Requests()})
}

func watermark(entity domain.EntityType, ts uint64) domain.CursorAdvance {
	return domain.CursorAdvance{ContractAddress: gateway, EntityType: entity, Timestamp: ts}
}

func cursorAt(t *testing.T, store *memory.MemoryStorage, entity domain.EntityType) uint64 {
	t.Helper()
	c, err := store.Cursors().Get(context.Background(), gateway, entity)
	require.NoError(t, err)
	if c == nil {
		return 0
	}
	return c.Timestamp
}

func TestHandle_MergesHandlersAndCommitsWatermarks(t *testing.T) {
	store := memory.NewMemoryStorage()
	em := &recordingEmitter{}
	d := newDispatcher(t, store, em)

	err := d.Handle(context.Background(), Batch{
		Side: domain.ChainSideOrigin,
		Records: map[domain.EntityType][]domain.EventRecord{
			domain.EntityStakeIntentDeclared: {declared(5)},
			domain.EntityStakeProgressed:     {progressed(6)},
		},
		Watermarks: []domain.CursorAdvance{
			watermark(domain.EntityStakeIntentDeclared, 5),
			watermark(domain.EntityStakeProgressed, 6),
		},
	})
	require.NoError(t, err)

	m, err := store.Messages().Get(context.Background(), h1)
	require.NoError(t, err)
	require.Equal(t, domain.MessageStatusProgressed, m.SourceStatus)
	require.Equal(t, secret, m.Secret)
	require.Equal(t, gateway, m.GatewayAddress)
	require.Equal(t, uint64(10), m.Amount.Uint64())

	require.Equal(t, uint64(5), cursorAt(t, store, domain.EntityStakeIntentDeclared))
	require.Equal(t, uint64(6), cursorAt(t, store, domain.EntityStakeProgressed))

	require.Len(t, em.got, 1)
	n := em.got[0]
	require.NotEmpty(t, n.BatchID)
	require.Equal(t, domain.ChainSideOrigin, n.Side)
	require.Len(t, n.Changes, 1)
	require.Equal(t, domain.MessageStatusProgressed, n.Changes[0].SourceStatus)
}

func TestHandle_UnimplementedHandler(t *testing.T) {
	store := memory.NewMemoryStorage()
	em := &recordingEmitter{}
	reg := handler.NewRegistry()
	known := &countingHandler{}
	require.NoError(t, reg.Register(domain.EntityStakeProgressed, known))
	d := New(Config{Registry: reg, Store: store, Emitter: em})

	err := d.Handle(context.Background(), Batch{
		Records: map[domain.EntityType][]domain.EventRecord{
			domain.EntityStakeProgressed:     {progressed(1)},
			domain.EntityStakeIntentDeclared: {declared(1)},
		},
		Watermarks: []domain.CursorAdvance{watermark(domain.EntityStakeProgressed, 1)},
	})
	require.ErrorIs(t, err, ErrUnimplementedHandler)
	require.Contains(t, err.Error(), string(domain.EntityStakeIntentDeclared))

	require.Zero(t, known.calls.Load())
	require.Zero(t, cursorAt(t, store, domain.EntityStakeProgressed))
	m, _ := store.Messages().Get(context.Background(), h1)
	require.Nil(t, m)
	require.Empty(t, em.got)
}

func TestHandle_HandlerErrorAbortsBatch(t *testing.T) {
	store := memory.NewMemoryStorage()
	em := &recordingEmitter{}
	d := newDispatcher(t, store, em)

	bad := progressed(2)
	bad["_stakerNonce"] = domain.Number("1.5")

	err := d.Handle(context.Background(), Batch{
		Records: map[domain.EntityType][]domain.EventRecord{
			domain.EntityStakeIntentDeclared: {declared(1)},
			domain.EntityStakeProgressed:     {bad},
		},
		Watermarks: []domain.CursorAdvance{
			watermark(domain.EntityStakeIntentDeclared, 1),
			watermark(domain.EntityStakeProgressed, 2),
		},
	})
	require.ErrorIs(t, err, domain.ErrMalformedField)

	m, _ := store.Messages().Get(context.Background(), h1)
	require.Nil(t, m)
	require.Zero(t, cursorAt(t, store, domain.EntityStakeIntentDeclared))
	require.Zero(t, cursorAt(t, store, domain.EntityStakeProgressed))
	require.Empty(t, em.got)
}

func TestHandle_SaveErrorRollsBack(t *testing.T) {
	boom := errors.New("connection reset")
	store := memory.NewMemoryStorage()
	failing := &failingStore{inner: store, err: boom}
	reg, err := handler.DefaultRegistry(handler.Repositories{
		Messages: store.Messages(),
		Requests: store.Requests(),
	}, nil)
	require.NoError(t, err)
	em := &recordingEmitter{}
	d := New(Config{Registry: reg, Store: failing, Emitter: em})

	err = d.Handle(context.Background(), Batch{
		Records:    map[domain.EntityType][]domain.EventRecord{domain.EntityStakeIntentDeclared: {declared(1)}},
		Watermarks: []domain.CursorAdvance{watermark(domain.EntityStakeIntentDeclared, 1)},
	})
	require.ErrorIs(t, err, boom)
	require.True(t, failing.rolledBack)
	require.Zero(t, cursorAt(t, store, domain.EntityStakeIntentDeclared))
	require.Empty(t, em.got)
}

func TestHandle_EmitterFailureDoesNotFail(t *testing.T) {
	store := memory.NewMemoryStorage()
	em := &recordingEmitter{err: errors.New("publish failed")}
	d := newDispatcher(t, store, em)

	err := d.Handle(context.Background(), Batch{
		Records:    map[domain.EntityType][]domain.EventRecord{domain.EntityStakeIntentDeclared: {declared(1)}},
		Watermarks: []domain.CursorAdvance{watermark(domain.EntityStakeIntentDeclared, 1)},
	})
	require.NoError(t, err)
	require.Len(t, em.got, 1)
	require.Equal(t, uint64(1), cursorAt(t, store, domain.EntityStakeIntentDeclared))
}

func TestHandle_ReplayIsIdempotent(t *testing.T) {
	store := memory.NewMemoryStorage()
	em := &recordingEmitter{}
	d := newDispatcher(t, store, em)
	batch := Batch{
		Records: map[domain.EntityType][]domain.EventRecord{
			domain.EntityStakeIntentDeclared: {declared(3)},
			domain.EntityStakeProgressed:     {progressed(4)},
		},
		Watermarks: []domain.CursorAdvance{watermark(domain.EntityStakeProgressed, 4)},
	}

	require.NoError(t, d.Handle(context.Background(), batch))
	first, _ := store.Messages().Get(context.Background(), h1)

	require.NoError(t, d.Handle(context.Background(), batch))
	second, _ := store.Messages().Get(context.Background(), h1)

	require.Equal(t, first, second)
	require.Len(t, em.got, 1, "a replay changes nothing and emits nothing")
	require.Equal(t, uint64(4), cursorAt(t, store, domain.EntityStakeProgressed))
}

func TestHandle_EmptyBatch(t *testing.T) {
	store := memory.NewMemoryStorage()
	d := newDispatcher(t, store, nil)
	require.NoError(t, d.Handle(context.Background(), Batch{}))

	// Watermarks alone still commit.
	require.NoError(t, d.Handle(context.Background(), Batch{
		Watermarks: []domain.CursorAdvance{watermark(domain.EntityStakeRequested, 9)},
	}))
	require.Equal(t, uint64(9), cursorAt(t, store, domain.EntityStakeRequested))
}

type failingStore struct {
	inner      *memory.MemoryStorage
	err        error
	rolledBack bool
}

func (f *failingStore) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	uow, err := f.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingUnitOfWork{UnitOfWork: uow, store: f}, nil
}

type failingUnitOfWork struct {
	storage.UnitOfWork
	store *failingStore
}

func (u *failingUnitOfWork) SaveRequests(ctx context.Context, reqs []*domain.MessageTransferRequest) error {
	return u.store.err
}

func (u *failingUnitOfWork) Rollback() error {
	u.store.rolledBack = true
	return u.UnitOfWork.Rollback()
}

func requested(nonce string, uts uint64) domain.EventRecord {
	return event(uts, map[string]string{
		"_amount":      "10",
		"_beneficiary": proxy.Hex(),
		"_gasPrice":    "1",
		"_gasLimit":    "2",
		"_nonce":       nonce,
		"_stakerProxy": proxy.Hex(),
		"_gateway":     gateway.Hex(),
	})
}

func boundTo(t *testing.T, store *memory.MemoryStorage, hash common.Hash) *domain.MessageTransferRequest {
	t.Helper()
	r, err := store.Requests().GetByMessageHash(context.Background(), hash)
	require.NoError(t, err)
	return r
}

func TestHandle_BindsRequestDeclaredInSameBatch(t *testing.T) {
	store := memory.NewMemoryStorage()
	em := &recordingEmitter{}
	d := newDispatcher(t, store, em)

	err := d.Handle(context.Background(), Batch{
		Side: domain.ChainSideOrigin,
		Records: map[domain.EntityType][]domain.EventRecord{
			domain.EntityStakeRequested:      {requested("1", 3), requested("2", 4)},
			domain.EntityStakeIntentDeclared: {declared(5)},
		},
	})
	require.NoError(t, err)

	r := boundTo(t, store, h1)
	require.NotNil(t, r)
	require.Equal(t, uint64(1), r.Nonce.Uint64())

	others, err := store.Requests().FindBySenderProxyAndNonce(context.Background(), proxy, r.Nonce)
	require.NoError(t, err)
	require.Len(t, others, 1)

	require.Len(t, em.got, 1)
	require.Len(t, em.got[0].Changes, 3)
}

func TestHandle_SameBatchBindingNeedsRepository(t *testing.T) {
	store := memory.NewMemoryStorage()
	reg, err := handler.DefaultRegistry(handler.Repositories{
		Messages: store.Messages(),
		Requests: store.Requests(),
	}, nil)
	require.NoError(t, err)
	d := New(Config{Registry: reg, Store: store})

	require.NoError(t, d.Handle(context.Background(), Batch{
		Records: map[domain.EntityType][]domain.EventRecord{
			domain.EntityStakeRequested:      {requested("1", 3)},
			domain.EntityStakeIntentDeclared: {declared(5)},
		},
	}))
	require.Nil(t, boundTo(t, store, h1))
}

func TestHandle_SameBatchSkipsAlreadyBoundPair(t *testing.T) {
	store := memory.NewMemoryStorage()
	d := newDispatcher(t, store, nil)
	ctx := context.Background()

	// An earlier declaration for the same (proxy, nonce) already took a request.
	first := declared(2)
	first["_messageHash"] = domain.String(secret.Hex())
	require.NoError(t, d.Handle(ctx, Batch{Records: map[domain.EntityType][]domain.EventRecord{
		domain.EntityStakeRequested: {requested("1", 1)},
	}}))
	require.NoError(t, d.Handle(ctx, Batch{Records: map[domain.EntityType][]domain.EventRecord{
		domain.EntityStakeIntentDeclared: {first},
	}}))
	require.NotNil(t, boundTo(t, store, secret))

	second := requested("1", 4)
	second["_gasPrice"] = domain.String("9")
	require.NoError(t, d.Handle(ctx, Batch{Records: map[domain.EntityType][]domain.EventRecord{
		domain.EntityStakeRequested:      {second},
		domain.EntityStakeIntentDeclared: {declared(5)},
	}}))
	require.Nil(t, boundTo(t, store, h1))
}
