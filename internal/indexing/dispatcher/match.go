package dispatcher

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/metrics"
)

// bindWithinBatch binds requests to declarations from the same batch.
// Handlers read committed state only, so a request and its declaration that
// arrive together are invisible to each other. The binding rule is the one
// the declare handler applies: skip when any request for (proxy, nonce) is
// bound, else bind the oldest unbound request of the message type.
// Ordering is domain.MessageTransferRequest.OlderThan, as in the stores.
func (d *Dispatcher) bindWithinBatch(
	ctx context.Context,
	msgs []*domain.Message,
	reqs []*domain.MessageTransferRequest,
) error {
	if d.requests == nil || len(msgs) == 0 || len(reqs) == 0 {
		return nil
	}

	claimed := make(map[common.Hash]bool)
	for _, r := range reqs {
		if r.Bound() {
			claimed[*r.MessageHash] = true
		}
	}

	for _, m := range msgs {
		if claimed[m.MessageHash] || !declaredAtSource(m) {
			continue
		}

		var pick *domain.MessageTransferRequest
		skip := false
		for _, r := range reqs {
			if r.SenderProxy != m.Sender || r.Nonce == nil || !r.Nonce.Eq(m.Nonce) {
				continue
			}
			if r.Bound() {
				skip = true
				break
			}
			if r.RequestType == m.Type && (pick == nil || r.OlderThan(pick)) {
				pick = r
			}
		}
		if skip || pick == nil {
			continue
		}

		stored, err := d.requests.FindBySenderProxyAndNonce(ctx, m.Sender, m.Nonce)
		if err != nil {
			return fmt.Errorf("failed to find requests: %w", err)
		}
		for _, s := range stored {
			if s.Bound() {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		existing, err := d.requests.GetByMessageHash(ctx, m.MessageHash)
		if err != nil {
			return fmt.Errorf("failed to find request by message: %w", err)
		}
		if existing != nil {
			continue
		}

		pick.Bind(m.MessageHash)
		claimed[m.MessageHash] = true
		metrics.RequestsBound.Inc()
		d.logger.Info("Request bound to message in batch",
			"request_hash", pick.RequestHash.Hex(),
			"message_hash", m.MessageHash.Hex(),
		)
	}
	return nil
}

func declaredAtSource(m *domain.Message) bool {
	return m.SourceStatus != domain.MessageStatusUndeclared &&
		m.Nonce != nil &&
		m.Sender != (common.Address{})
}
