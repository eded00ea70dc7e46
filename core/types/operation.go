// Package types holds the wire-level value types shared between the account
// core and the entry point: the operation descriptor and the validation
// status it produces.
package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Operation is an externally constructed instruction descriptor carrying its
// own authorization signature. The account core treats it as opaque apart
// from the signature bytes; hashing and nonce bookkeeping belong to the
// entry point.
type Operation struct {
	Sender               common.Address
	Nonce                uint64
	InitCode             []byte
	CallData             []byte
	CallGasLimit         uint64
	VerificationGasLimit uint64
	PreVerificationGas   uint64
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	Signature            []byte
}

// Pack serializes the operation's hashable fields into fixed 32-byte words:
// sender, nonce, keccak(initCode), keccak(callData), the three gas limits and
// the two fee fields. The signature is deliberately excluded: it signs this
// packing, it is not part of it.
func (op *Operation) Pack() []byte {
	buf := make([]byte, 0, 9*common.HashLength)
	buf = append(buf, common.LeftPadBytes(op.Sender.Bytes(), common.HashLength)...)
	buf = append(buf, uint64Word(op.Nonce)...)
	buf = append(buf, crypto.Keccak256(op.InitCode)...)
	buf = append(buf, crypto.Keccak256(op.CallData)...)
	buf = append(buf, uint64Word(op.CallGasLimit)...)
	buf = append(buf, uint64Word(op.VerificationGasLimit)...)
	buf = append(buf, uint64Word(op.PreVerificationGas)...)
	buf = append(buf, feeWord(op.MaxFeePerGas)...)
	buf = append(buf, feeWord(op.MaxPriorityFeePerGas)...)
	return buf
}

// GasBudget returns the total gas the operation may consume across its
// validation and execution phases. The sum is carried in 256 bits so
// oversized limits cannot wrap a uint64 and understate the budget.
func (op *Operation) GasBudget() *uint256.Int {
	budget := uint256.NewInt(op.CallGasLimit)
	budget.AddUint64(budget, op.VerificationGasLimit)
	return budget.AddUint64(budget, op.PreVerificationGas)
}

func uint64Word(v uint64) []byte {
	return uint256.NewInt(v).PaddedBytes(common.HashLength)
}

func feeWord(v *uint256.Int) []byte {
	if v == nil {
		return make([]byte, common.HashLength)
	}
	return v.PaddedBytes(common.HashLength)
}
