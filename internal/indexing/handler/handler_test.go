package handler

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/infra/storage/memory"
)

var (
	gatewayAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	cogatewayAdr = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	proxyAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	beneficiary  = common.HexToAddress("0x00000000000000000000000000000000000000b1")

	h1     = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	h2     = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
	secret = common.HexToHash("0x5555555555555555555555555555555555555555555555555555555555555555")
)

type fixture struct {
	t     *testing.T
	store *memory.MemoryStorage
	reg   *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewMemoryStorage()
	reg, err := DefaultRegistry(Repositories{Messages: store.Messages(), Requests: store.Requests()}, nil)
	require.NoError(t, err)
	return &fixture{t: t, store: store, reg: reg}
}

// run persists records through the registered handler and commits the result.
func (f *fixture) run(entity domain.EntityType, records ...domain.EventRecord) *Result {
	f.t.Helper()
	ctx := context.Background()
	h, ok := f.reg.Get(entity)
	require.True(f.t, ok, "no handler for %s", entity)

	res, err := h.Persist(ctx, records)
	require.NoError(f.t, err)

	uow, err := f.store.Begin(ctx)
	require.NoError(f.t, err)
	require.NoError(f.t, uow.SaveMessages(ctx, res.Messages))
	require.NoError(f.t, uow.SaveRequests(ctx, res.Requests))
	require.NoError(f.t, uow.Commit())
	return res
}

func (f *fixture) message(hash common.Hash) *domain.Message {
	f.t.Helper()
	m, err := f.store.Messages().Get(context.Background(), hash)
	require.NoError(f.t, err)
	require.NotNil(f.t, m)
	return m
}

func (f *fixture) request(hash common.Hash) *domain.MessageTransferRequest {
	f.t.Helper()
	r, err := f.store.Requests().Get(context.Background(), hash)
	require.NoError(f.t, err)
	require.NotNil(f.t, r)
	return r
}

func event(contract common.Address, uts uint64, fields map[string]string) domain.EventRecord {
	r := domain.EventRecord{
		domain.FieldContractAddress: domain.String(contract.Hex()),
		domain.FieldBlockNumber:     domain.Number(strconv.FormatUint(uts+1000, 10)),
		domain.FieldUTS:             domain.Number(strconv.FormatUint(uts, 10)),
	}
	for k, v := range fields {
		r[k] = domain.String(v)
	}
	return r
}

func redeemProgressed(hash common.Hash, uts uint64) domain.EventRecord {
	return event(cogatewayAdr, uts, map[string]string{
		fieldMessageHash:   hash.Hex(),
		fieldRedeemer:      proxyAddr.Hex(),
		fieldRedeemerNonce: "1",
		fieldAmount:        "100",
		fieldUnlockSecret:  secret.Hex(),
	})
}

func redeemDeclared(hash common.Hash, uts uint64) domain.EventRecord {
	return event(cogatewayAdr, uts, map[string]string{
		fieldMessageHash:   hash.Hex(),
		fieldRedeemer:      proxyAddr.Hex(),
		fieldRedeemerNonce: "1",
		fieldBeneficiary:   beneficiary.Hex(),
		fieldAmount:        "100",
	})
}

func stakeDeclared(hash common.Hash, nonce string, uts uint64) domain.EventRecord {
	return event(gatewayAddr, uts, map[string]string{
		fieldMessageHash: hash.Hex(),
		fieldStaker:      proxyAddr.Hex(),
		fieldStakerNonce: nonce,
		fieldBeneficiary: beneficiary.Hex(),
		fieldAmount:      "340282366920938463463374607431768211456", // 2^128
	})
}

func stakeProgressed(hash common.Hash, uts uint64) domain.EventRecord {
	return event(gatewayAddr, uts, map[string]string{
		fieldMessageHash:  hash.Hex(),
		fieldStaker:       proxyAddr.Hex(),
		fieldStakerNonce:  "7",
		fieldUnlockSecret: secret.Hex(),
	})
}

func stakeRequested(nonce string, uts uint64) domain.EventRecord {
	return event(gatewayAddr, uts, map[string]string{
		fieldAmount:      "1000",
		fieldBeneficiary: beneficiary.Hex(),
		fieldGasPrice:    "2",
		fieldGasLimit:    "3",
		fieldNonce:       nonce,
		fieldStaker:      beneficiary.Hex(),
		"_stakerProxy":   proxyAddr.Hex(),
		"_gateway":       gatewayAddr.Hex(),
	})
}

func requestHashFor(nonce uint64, amount uint64) common.Hash {
	return domain.NewRequestHash(
		domain.MessageTypeStake, uint256.NewInt(amount), beneficiary,
		uint256.NewInt(2), uint256.NewInt(3), uint256.NewInt(nonce),
		proxyAddr, gatewayAddr,
	)
}

// =============================================================================
// Scenarios
// =============================================================================

func TestProgressBeforeDeclare(t *testing.T) {
	f := newFixture(t)

	f.run(domain.EntityRedeemProgressed, redeemProgressed(h1, 10))

	m := f.message(h1)
	require.Equal(t, domain.MessageStatusProgressed, m.SourceStatus)
	require.Equal(t, domain.MessageStatusUndeclared, m.TargetStatus)
	require.Equal(t, secret, m.Secret)
	require.Equal(t, proxyAddr, m.Sender)
	require.Equal(t, uint64(1), m.Nonce.Uint64())
	require.Equal(t, domain.MessageTypeRedeem, m.Type)
	require.Equal(t, domain.DirectionAuxiliaryToOrigin, m.Direction)

	// The late declaration does not downgrade but still adds what only it carries.
	f.run(domain.EntityRedeemIntentDeclared, redeemDeclared(h1, 5))

	m = f.message(h1)
	require.Equal(t, domain.MessageStatusProgressed, m.SourceStatus)
	require.Equal(t, beneficiary, m.Beneficiary)
	require.Equal(t, cogatewayAdr, m.GatewayAddress)
	require.Equal(t, uint64(1005), m.SourceDeclarationBlockHeight.Uint64())
	require.Equal(t, secret, m.Secret)
}

func TestIdempotence(t *testing.T) {
	f := newFixture(t)
	batch := []domain.EventRecord{stakeDeclared(h1, "7", 1), stakeDeclared(h2, "8", 2)}

	first := f.run(domain.EntityStakeIntentDeclared, batch...)
	require.Len(t, first.Messages, 2)
	once := []*domain.Message{f.message(h1), f.message(h2)}

	second := f.run(domain.EntityStakeIntentDeclared, batch...)
	require.True(t, second.Empty())
	require.Equal(t, once, []*domain.Message{f.message(h1), f.message(h2)})
}

func TestOrderIndependence(t *testing.T) {
	orders := map[string][]domain.EntityType{
		"declare then progress": {domain.EntityStakeIntentDeclared, domain.EntityStakeProgressed},
		"progress then declare": {domain.EntityStakeProgressed, domain.EntityStakeIntentDeclared},
	}
	records := map[domain.EntityType]domain.EventRecord{
		domain.EntityStakeIntentDeclared: stakeDeclared(h1, "7", 1),
		domain.EntityStakeProgressed:     stakeProgressed(h1, 2),
	}

	var results []*domain.Message
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			for _, entity := range order {
				f.run(entity, records[entity])
			}
			m := f.message(h1)
			m.CreatedAt, m.UpdatedAt = time.Time{}, time.Time{}
			results = append(results, m)
		})
	}
	require.Len(t, results, 2)
	require.Equal(t, results[0], results[1])
	require.Equal(t, domain.MessageStatusProgressed, results[0].SourceStatus)
}

func TestSameHashRecordsFollowEventTime(t *testing.T) {
	f := newFixture(t)
	early := common.HexToHash("0xe1")
	late := common.HexToHash("0xe2")

	confirmed := func(lock common.Hash, uts uint64) domain.EventRecord {
		return event(cogatewayAdr, uts, map[string]string{
			fieldMessageHash: h1.Hex(),
			fieldStaker:      proxyAddr.Hex(),
			fieldStakerNonce: "7",
			fieldHashLock:    lock.Hex(),
			fieldBlockHeight: "99",
		})
	}

	// Delivered out of event-time order; the earliest record fills first.
	f.run(domain.EntityStakeIntentConfirmed, confirmed(late, 9), confirmed(early, 3))

	m := f.message(h1)
	require.Equal(t, early, m.HashLock)
	require.Equal(t, domain.MessageStatusDeclared, m.TargetStatus)
	require.Equal(t, uint64(99), m.SourceDeclarationBlockHeight.Uint64())
}

func TestRevocationBranch(t *testing.T) {
	revert := func(hash common.Hash, uts uint64) domain.EventRecord {
		return event(gatewayAddr, uts, map[string]string{
			fieldMessageHash: hash.Hex(),
			fieldStaker:      proxyAddr.Hex(),
			fieldStakerNonce: "7",
		})
	}

	t.Run("revocation after progress is absorbed", func(t *testing.T) {
		f := newFixture(t)
		f.run(domain.EntityStakeProgressed, stakeProgressed(h1, 1))
		res := f.run(domain.EntityRevertStakeIntentDeclared, revert(h1, 2))
		require.True(t, res.Empty())
		require.Equal(t, domain.MessageStatusProgressed, f.message(h1).SourceStatus)
	})

	t.Run("progress after revoke is absorbed", func(t *testing.T) {
		f := newFixture(t)
		f.run(domain.EntityStakeIntentDeclared, stakeDeclared(h1, "7", 1))
		f.run(domain.EntityRevertStakeIntentDeclared, revert(h1, 2))
		require.Equal(t, domain.MessageStatusRevocationDeclared, f.message(h1).SourceStatus)

		f.run(domain.EntityRevertStakeProgressed, revert(h1, 3))
		f.run(domain.EntityStakeProgressed, stakeProgressed(h1, 4))
		f.run(domain.EntityStakeIntentDeclared, stakeDeclared(h1, "7", 1))
		require.Equal(t, domain.MessageStatusRevoked, f.message(h1).SourceStatus)
	})

	t.Run("target revoked", func(t *testing.T) {
		f := newFixture(t)
		f.run(domain.EntityRevertStakeIntentConfirmed, revert(h1, 1))
		m := f.message(h1)
		require.Equal(t, domain.MessageStatusRevoked, m.TargetStatus)
		require.Equal(t, domain.MessageStatusUndeclared, m.SourceStatus)
	})
}

// =============================================================================
// Matching
// =============================================================================

func TestDeclareBindsOldestRequestOnce(t *testing.T) {
	f := newFixture(t)

	// Two requests for the same (proxy, nonce), R1 indexed first.
	f.run(domain.EntityStakeRequested, stakeRequested("7", 1))
	second := stakeRequested("7", 2)
	second[fieldAmount] = domain.String("2000")
	f.run(domain.EntityStakeRequested, second)
	r1, r2 := requestHashFor(7, 1000), requestHashFor(7, 2000)

	res := f.run(domain.EntityStakeIntentDeclared, stakeDeclared(h1, "7", 3))
	require.Len(t, res.Requests, 1)
	require.Equal(t, h1, *f.request(r1).MessageHash)
	require.False(t, f.request(r2).Bound())

	// A later declaration for the same pair never rebinds.
	res = f.run(domain.EntityStakeIntentDeclared, stakeDeclared(h2, "7", 4))
	require.Empty(t, res.Requests)
	require.Equal(t, h1, *f.request(r1).MessageHash)
	require.False(t, f.request(r2).Bound())

	// Replaying the original declaration is a no-op.
	res = f.run(domain.EntityStakeIntentDeclared, stakeDeclared(h1, "7", 3))
	require.True(t, res.Empty())
}

func TestDeclareWithoutRequest(t *testing.T) {
	f := newFixture(t)

	res := f.run(domain.EntityStakeIntentDeclared, stakeDeclared(h1, "9", 1))
	require.Len(t, res.Messages, 1)
	require.Empty(t, res.Requests)

	m := f.message(h1)
	require.Equal(t, "340282366920938463463374607431768211456", m.Amount.Dec())
	require.Equal(t, gatewayAddr, m.GatewayAddress)
}

func TestRequestAfterDeclareIsBound(t *testing.T) {
	f := newFixture(t)

	f.run(domain.EntityStakeIntentDeclared, stakeDeclared(h1, "7", 1))
	res := f.run(domain.EntityStakeRequested, stakeRequested("7", 2))
	require.Len(t, res.Requests, 1)

	r := f.request(requestHashFor(7, 1000))
	require.Equal(t, h1, *r.MessageHash)
	require.Equal(t, uint64(6), r.Reward().Uint64())

	// A second request for the pair stays unbound.
	other := stakeRequested("7", 3)
	other[fieldAmount] = domain.String("5")
	f.run(domain.EntityStakeRequested, other)
	require.False(t, f.request(requestHashFor(7, 5)).Bound())
}

func TestRequestDuplicateAbsorbed(t *testing.T) {
	f := newFixture(t)
	rec := stakeRequested("1", 1)
	rec["_stakeRequestHash"] = domain.String(h2.Hex())

	res := f.run(domain.EntityStakeRequested, rec, rec)
	require.Len(t, res.Requests, 1)
	require.Equal(t, h2, res.Requests[0].RequestHash)

	res = f.run(domain.EntityStakeRequested, rec)
	require.True(t, res.Empty())
}

// =============================================================================
// Errors and registry
// =============================================================================

func TestMalformedRecordFailsBatch(t *testing.T) {
	tests := []struct {
		name   string
		entity domain.EntityType
		mutate func(domain.EventRecord)
		target error
	}{
		{"missing hash", domain.EntityStakeProgressed, func(r domain.EventRecord) { delete(r, fieldMessageHash) }, domain.ErrMissingField},
		{"float nonce", domain.EntityStakeProgressed, func(r domain.EventRecord) { r[fieldStakerNonce] = domain.Number("1e21") }, domain.ErrMalformedField},
		{"missing uts", domain.EntityStakeProgressed, func(r domain.EventRecord) { delete(r, domain.FieldUTS) }, domain.ErrMissingField},
		{"declare without nonce", domain.EntityStakeIntentDeclared, func(r domain.EventRecord) { delete(r, fieldStakerNonce) }, domain.ErrMissingField},
		{"request without proxy", domain.EntityStakeRequested, func(r domain.EventRecord) { delete(r, "_stakerProxy") }, domain.ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			build := func(uts uint64) domain.EventRecord {
				switch tt.entity {
				case domain.EntityStakeIntentDeclared:
					return stakeDeclared(h1, "7", uts)
				case domain.EntityStakeRequested:
					return stakeRequested("7", uts)
				default:
					return stakeProgressed(h1, uts)
				}
			}
			valid, rec := build(0), build(1)
			tt.mutate(rec)

			h, _ := f.reg.Get(tt.entity)
			_, err := h.Persist(context.Background(), []domain.EventRecord{valid, rec})
			require.ErrorIs(t, err, domain.ErrInvalidRecord)
			require.ErrorIs(t, err, tt.target)
		})
	}
}

func TestRepositoryErrorPropagates(t *testing.T) {
	boom := errors.New("store unreachable")
	h := NewProgressHandler(messageKinds[1], Repositories{Messages: failingMessages{boom}}, nil)

	_, err := h.Persist(context.Background(), []domain.EventRecord{stakeProgressed(h1, 1)})
	require.ErrorIs(t, err, boom)
}

func TestDefaultRegistryCoversEveryEntityType(t *testing.T) {
	f := newFixture(t)
	for _, side := range []domain.ChainSide{domain.ChainSideOrigin, domain.ChainSideAuxiliary} {
		for _, entity := range domain.EntityTypes(side) {
			_, ok := f.reg.Get(entity)
			require.True(t, ok, "missing handler for %s", entity)
		}
	}
	require.Len(t, f.reg.EntityTypes(), 16)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	h := NewRevocationHandler(messageKinds[2], Repositories{}, nil)
	require.NoError(t, reg.Register(domain.EntityRevertStakeIntentDeclared, h))
	require.ErrorIs(t, reg.Register(domain.EntityRevertStakeIntentDeclared, h), ErrDuplicateHandler)
}

func TestEmptyBatch(t *testing.T) {
	f := newFixture(t)
	for _, entity := range f.reg.EntityTypes() {
		h, _ := f.reg.Get(entity)
		res, err := h.Persist(context.Background(), nil)
		require.NoError(t, err)
		require.True(t, res.Empty())
	}
}

type failingMessages struct{ err error }

func (f failingMessages) Get(context.Context, common.Hash) (*domain.Message, error) { return nil, f.err }

func (f failingMessages) GetMany(context.Context, []common.Hash) (map[common.Hash]*domain.Message, error) {
	return nil, f.err
}

func (f failingMessages) FindBySenderAndNonce(context.Context, common.Address, *uint256.Int) ([]*domain.Message, error) {
	return nil, f.err
}
