package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

var (
	proxy   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	gateway = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func request(hash string, block uint64) *domain.MessageTransferRequest {
	return &domain.MessageTransferRequest{
		RequestHash: common.HexToHash(hash),
		RequestType: domain.MessageTypeStake,
		Nonce:       uint256.NewInt(1),
		SenderProxy: proxy,
		BlockNumber: block,
	}
}

func TestFindBySenderProxyAndNonceOrdersByBlock(t *testing.T) {
	s := NewMemoryStorage()
	s.now = func() time.Time { return time.Unix(1000, 0) }
	ctx := context.Background()

	// Saved in one commit, newest block first.
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.SaveRequests(ctx, []*domain.MessageTransferRequest{
		request("0x01", 9),
		request("0x03", 4),
		request("0x02", 4),
	}))
	require.NoError(t, uow.Commit())

	reqs, err := s.Requests().FindBySenderProxyAndNonce(ctx, proxy, uint256.NewInt(1))
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	require.Equal(t, common.HexToHash("0x02"), reqs[0].RequestHash)
	require.Equal(t, common.HexToHash("0x03"), reqs[1].RequestHash)
	require.Equal(t, common.HexToHash("0x01"), reqs[2].RequestHash)
}

func TestCursorAdvanceRejectsOutOfRange(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	_, err := s.Cursors().Advance(ctx, gateway, domain.EntityStakeProgressed, domain.MaxTimestamp+1)
	require.ErrorIs(t, err, storage.ErrTimestampRange)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	err = uow.AdvanceCursor(ctx, domain.CursorAdvance{
		ContractAddress: gateway,
		EntityType:      domain.EntityStakeProgressed,
		Timestamp:       domain.MaxTimestamp + 1,
	})
	require.ErrorIs(t, err, storage.ErrTimestampRange)
	require.NoError(t, uow.Rollback())

	changed, err := s.Cursors().Advance(ctx, gateway, domain.EntityStakeProgressed, domain.MaxTimestamp)
	require.NoError(t, err)
	require.True(t, changed)
}
