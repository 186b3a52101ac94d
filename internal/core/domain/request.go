package domain

import (
	"bytes"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// MessageTransferRequest is a stake or redeem request made before the
// corresponding message exists on chain.
type MessageTransferRequest struct {
	RequestHash common.Hash
	RequestType MessageType
	Amount      *uint256.Int
	Beneficiary common.Address
	GasPrice    *uint256.Int
	GasLimit    *uint256.Int
	Nonce       *uint256.Int
	Sender      common.Address
	SenderProxy common.Address
	Gateway     common.Address
	MessageHash *common.Hash
	BlockNumber uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Bound reports whether the request has been matched to a message.
func (r *MessageTransferRequest) Bound() bool {
	return r.MessageHash != nil
}

// Bind attaches the message hash. A bound request is never rebound.
func (r *MessageTransferRequest) Bind(hash common.Hash) bool {
	if r.Bound() {
		return false
	}
	h := hash
	r.MessageHash = &h
	return true
}

// OlderThan orders requests for matching: by block, then creation second,
// then request hash.
func (r *MessageTransferRequest) OlderThan(o *MessageTransferRequest) bool {
	if r.BlockNumber != o.BlockNumber {
		return r.BlockNumber < o.BlockNumber
	}
	if a, b := r.CreatedAt.Unix(), o.CreatedAt.Unix(); a != b {
		return a < b
	}
	return bytes.Compare(r.RequestHash[:], o.RequestHash[:]) < 0
}

// Reward returns gasPrice * gasLimit, the maximum facilitator reward.
func (r *MessageTransferRequest) Reward() *uint256.Int {
	if r.GasPrice == nil || r.GasLimit == nil {
		return uint256.NewInt(0)
	}
	out, overflow := new(uint256.Int).MulOverflow(r.GasPrice, r.GasLimit)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

// NewRequestHash derives a request identity from its parameters.
func NewRequestHash(
	t MessageType,
	amount *uint256.Int,
	beneficiary common.Address,
	gasPrice, gasLimit, nonce *uint256.Int,
	senderProxy, gateway common.Address,
) common.Hash {
	word := func(v *uint256.Int) []byte {
		if v == nil {
			v = uint256.NewInt(0)
		}
		b := v.Bytes32()
		return b[:]
	}
	return crypto.Keccak256Hash(
		[]byte(t),
		word(amount),
		common.LeftPadBytes(beneficiary.Bytes(), 32),
		word(gasPrice),
		word(gasLimit),
		word(nonce),
		common.LeftPadBytes(senderProxy.Bytes(), 32),
		common.LeftPadBytes(gateway.Bytes(), 32),
	)
}

// Clone returns a deep copy of the request.
func (r *MessageTransferRequest) Clone() *MessageTransferRequest {
	c := *r
	for _, f := range []**uint256.Int{&c.Amount, &c.GasPrice, &c.GasLimit, &c.Nonce} {
		if *f != nil {
			*f = (*f).Clone()
		}
	}
	if r.MessageHash != nil {
		h := *r.MessageHash
		c.MessageHash = &h
	}
	return &c
}
