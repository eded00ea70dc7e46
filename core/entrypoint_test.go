package core

import (
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/clydemeng/simpleaccount/core/types"
	"github.com/clydemeng/simpleaccount/core/vm"

	cstate "github.com/clydemeng/simpleaccount/core/state"
)

type entryPointRig struct {
	env        *vm.Env
	state      *cstate.StateDB
	entryPoint *EntryPoint
	account    *SimpleAccount
	ownerKey   *ecdsa.PrivateKey
	owner      common.Address
}

func newEntryPointRig(t *testing.T, chainID uint64) *entryPointRig {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	sdb := cstate.New()
	env := vm.NewEnv(chainID, sdb)

	ep := NewEntryPoint(entryPointAddr, chainID)
	env.Register(entryPointAddr, ep)

	account, err := NewSimpleAccount(accountAddr, entryPointAddr, owner)
	require.NoError(t, err)
	env.Register(accountAddr, account)

	return &entryPointRig{env: env, state: sdb, entryPoint: ep, account: account, ownerKey: key, owner: owner}
}

// signOp fills in the operation's signature over its canonical hash.
func (rig *entryPointRig) signOp(t *testing.T, op *types.Operation, key *ecdsa.PrivateKey) {
	t.Helper()
	op.Signature = signOpHash(t, key, rig.entryPoint.OperationHash(op))
}

func TestOperationHashBindsContext(t *testing.T) {
	op := &types.Operation{Sender: accountAddr, Nonce: 1, CallData: []byte{0x01}}

	epA := NewEntryPoint(entryPointAddr, 1)
	epB := NewEntryPoint(entryPointAddr, 2)
	epC := NewEntryPoint(common.HexToAddress("0xe8"), 1)

	require.Equal(t, epA.OperationHash(op), epA.OperationHash(op), "hash must be deterministic")
	require.NotEqual(t, epA.OperationHash(op), epB.OperationHash(op), "chain id must feed the hash")
	require.NotEqual(t, epA.OperationHash(op), epC.OperationHash(op), "entry point address must feed the hash")

	other := *op
	other.Nonce = 2
	require.NotEqual(t, epA.OperationHash(op), epA.OperationHash(&other))
}

func TestDepositCreditedByPlainTransfer(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	rig.state.AddBalance(accountAddr, uint256.NewInt(100))

	_, err := rig.env.Call(accountAddr, entryPointAddr, nil, uint256.NewInt(60))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(60), rig.entryPoint.DepositOf(rig.state, accountAddr))
	require.Equal(t, uint256.NewInt(60), rig.state.GetBalance(entryPointAddr))

	// Calldata is rejected; the deposit surface is receive-only.
	_, err = rig.env.Call(accountAddr, entryPointAddr, []byte{0x01}, nil)
	require.Error(t, err)
}

func TestHandleOpsFreeOperation(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	rig.state.AddBalance(accountAddr, uint256.NewInt(100))
	dest := common.HexToAddress("0xbeef")

	calldata, err := PackExecute(dest, uint256.NewInt(30), nil)
	require.NoError(t, err)

	// Zero fee fields: required prefund is zero, nothing moves but the call.
	op := &types.Operation{Sender: accountAddr, Nonce: 0, CallData: calldata}
	rig.signOp(t, op, rig.ownerKey)

	require.NoError(t, rig.entryPoint.HandleOps(rig.env, []*types.Operation{op}, strangerAddr))
	require.Equal(t, uint256.NewInt(30), rig.state.GetBalance(dest))
	require.Equal(t, uint256.NewInt(70), rig.state.GetBalance(accountAddr))
	require.True(t, rig.state.GetBalance(strangerAddr).IsZero())
}

func TestHandleOpsCollectsPrefundAndPaysBeneficiary(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	rig.state.AddBalance(accountAddr, uint256.NewInt(1_000_000))
	beneficiary := common.HexToAddress("0xfee")

	op := &types.Operation{
		Sender:       accountAddr,
		Nonce:        0,
		CallGasLimit: 100, VerificationGasLimit: 50, PreVerificationGas: 50,
		MaxFeePerGas: uint256.NewInt(2),
	}
	rig.signOp(t, op, rig.ownerKey)

	// required prefund = (100+50+50) * 2 = 400
	require.NoError(t, rig.entryPoint.HandleOps(rig.env, []*types.Operation{op}, beneficiary))

	require.Equal(t, uint256.NewInt(999_600), rig.state.GetBalance(accountAddr))
	require.Equal(t, uint256.NewInt(400), rig.state.GetBalance(beneficiary))
	require.True(t, rig.entryPoint.DepositOf(rig.state, accountAddr).IsZero(), "consumed prefund must be debited")
	require.True(t, rig.state.GetBalance(entryPointAddr).IsZero())
}

func TestHandleOpsExistingDepositReducesMissingFunds(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	rig.state.AddBalance(accountAddr, uint256.NewInt(1000))

	// Pre-deposit 150 of the 200 required.
	_, err := rig.env.Call(accountAddr, entryPointAddr, nil, uint256.NewInt(150))
	require.NoError(t, err)

	op := &types.Operation{
		Sender:       accountAddr,
		CallGasLimit: 200,
		MaxFeePerGas: uint256.NewInt(1),
	}
	rig.signOp(t, op, rig.ownerKey)

	require.NoError(t, rig.entryPoint.HandleOps(rig.env, []*types.Operation{op}, strangerAddr))

	// Only the missing 50 moved during validation.
	require.Equal(t, uint256.NewInt(800), rig.state.GetBalance(accountAddr))
	require.Equal(t, uint256.NewInt(200), rig.state.GetBalance(strangerAddr))
}

func TestHandleOpsRejectsBadSignature(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	rig.state.AddBalance(accountAddr, uint256.NewInt(1000))

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	op := &types.Operation{Sender: accountAddr}
	rig.signOp(t, op, otherKey)

	err = rig.entryPoint.HandleOps(rig.env, []*types.Operation{op}, strangerAddr)
	require.ErrorIs(t, err, ErrSignatureValidationFailed)
}

func TestHandleOpsAbortStillPaysCompletedOps(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	rig.state.AddBalance(accountAddr, uint256.NewInt(1000))
	beneficiary := common.HexToAddress("0xfee")

	good := &types.Operation{
		Sender:       accountAddr,
		CallGasLimit: 100,
		MaxFeePerGas: uint256.NewInt(1),
	}
	rig.signOp(t, good, rig.ownerKey)
	bad := &types.Operation{
		Sender:       accountAddr,
		Nonce:        1,
		CallGasLimit: 100,
		MaxFeePerGas: uint256.NewInt(1),
		Signature:    make([]byte, 65),
	}

	err := rig.entryPoint.HandleOps(rig.env, []*types.Operation{good, bad}, beneficiary)
	require.ErrorIs(t, err, ErrSignatureValidationFailed)

	// The completed op's consumed prefund reaches the beneficiary despite
	// the abort; the entry point's remaining balance exactly backs the
	// rejected op's settled-but-unconsumed deposit.
	require.Equal(t, uint256.NewInt(100), rig.state.GetBalance(beneficiary))
	require.Equal(t, uint256.NewInt(800), rig.state.GetBalance(accountAddr))
	require.Equal(t, uint256.NewInt(100), rig.entryPoint.DepositOf(rig.state, accountAddr))
	require.Equal(t, uint256.NewInt(100), rig.state.GetBalance(entryPointAddr))
}

func TestHandleOpsRejectsUnknownSender(t *testing.T) {
	rig := newEntryPointRig(t, 1)

	op := &types.Operation{Sender: common.HexToAddress("0x404")}
	err := rig.entryPoint.HandleOps(rig.env, []*types.Operation{op}, strangerAddr)
	require.ErrorIs(t, err, ErrUnknownAccount)
}

func TestHandleOpsRejectsUnpaidPrefund(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	// Account owns less than the required prefund; the settlement inside
	// validation fails silently, then the entry point refuses to execute.
	rig.state.AddBalance(accountAddr, uint256.NewInt(10))

	op := &types.Operation{
		Sender:       accountAddr,
		CallGasLimit: 100,
		MaxFeePerGas: uint256.NewInt(1),
	}
	rig.signOp(t, op, rig.ownerKey)

	err := rig.entryPoint.HandleOps(rig.env, []*types.Operation{op}, strangerAddr)
	require.ErrorIs(t, err, ErrPrefundTooLow)
	require.Equal(t, uint256.NewInt(10), rig.state.GetBalance(accountAddr))
}

// depositingContract credits itself an entry point deposit inside its frame
// and then fails, so the whole frame must unwind.
type depositingContract struct {
	self       common.Address
	entryPoint common.Address
}

func (c *depositingContract) Run(env *vm.Env, caller common.Address, input []byte, value *uint256.Int) ([]byte, error) {
	if _, err := env.Call(c.self, c.entryPoint, nil, uint256.NewInt(40)); err != nil {
		return nil, err
	}
	return nil, errors.New("deliberate failure")
}

func TestRevertedFrameDropsDepositCredit(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	contractAddr := common.HexToAddress("0xdc")
	rig.env.Register(contractAddr, &depositingContract{self: contractAddr, entryPoint: entryPointAddr})
	rig.state.AddBalance(contractAddr, uint256.NewInt(100))

	_, err := rig.env.Call(strangerAddr, contractAddr, nil, nil)
	require.Error(t, err)

	// The frame rolled back: the native transfer is undone, and the ledger
	// credit it backed must be gone with it.
	require.Equal(t, uint256.NewInt(100), rig.state.GetBalance(contractAddr))
	require.True(t, rig.state.GetBalance(entryPointAddr).IsZero())
	require.True(t, rig.entryPoint.DepositOf(rig.state, contractAddr).IsZero(),
		"no deposit may survive a reverted frame")
}

func TestWithdrawDeposit(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	rig.state.AddBalance(accountAddr, uint256.NewInt(100))

	_, err := rig.env.Call(accountAddr, entryPointAddr, nil, uint256.NewInt(80))
	require.NoError(t, err)

	require.Error(t, rig.entryPoint.WithdrawDeposit(rig.env, accountAddr, uint256.NewInt(81)))
	require.NoError(t, rig.entryPoint.WithdrawDeposit(rig.env, accountAddr, uint256.NewInt(30)))

	require.Equal(t, uint256.NewInt(50), rig.entryPoint.DepositOf(rig.state, accountAddr))
	require.Equal(t, uint256.NewInt(50), rig.state.GetBalance(accountAddr))

	// A stranger with no deposit cannot withdraw at all.
	require.Error(t, rig.entryPoint.WithdrawDeposit(rig.env, strangerAddr, uint256.NewInt(1)))
}

func TestSimulateValidation(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	rig.state.AddBalance(accountAddr, uint256.NewInt(1000))

	op := &types.Operation{
		Sender:       accountAddr,
		CallGasLimit: 100,
		MaxFeePerGas: uint256.NewInt(1),
	}
	rig.signOp(t, op, rig.ownerKey)

	status, err := rig.entryPoint.SimulateValidation(rig.env, op)
	require.NoError(t, err)
	require.Equal(t, types.ValidationSuccess, status)

	// Validation is not side-effect free: the prefund settled.
	require.Equal(t, uint256.NewInt(100), rig.entryPoint.DepositOf(rig.state, accountAddr))
	require.Equal(t, uint256.NewInt(900), rig.state.GetBalance(accountAddr))

	op.Signature = make([]byte, 65)
	status, err = rig.entryPoint.SimulateValidation(rig.env, op)
	require.NoError(t, err)
	require.Equal(t, types.ValidationFailure, status)
}

func TestHandleOpsExecutionRevertDoesNotAbortBatch(t *testing.T) {
	rig := newEntryPointRig(t, 1)
	rig.state.AddBalance(accountAddr, uint256.NewInt(1000))

	badDest := common.HexToAddress("0xbad")
	rig.env.Register(badDest, &revertingContract{payload: []byte("no")})
	goodDest := common.HexToAddress("0x900d")

	revertingCall, err := PackExecute(badDest, uint256.NewInt(100), nil)
	require.NoError(t, err)
	transferCall, err := PackExecute(goodDest, uint256.NewInt(100), nil)
	require.NoError(t, err)

	opBad := &types.Operation{Sender: accountAddr, Nonce: 0, CallData: revertingCall}
	rig.signOp(t, opBad, rig.ownerKey)
	opGood := &types.Operation{Sender: accountAddr, Nonce: 1, CallData: transferCall}
	rig.signOp(t, opGood, rig.ownerKey)

	require.NoError(t, rig.entryPoint.HandleOps(rig.env, []*types.Operation{opBad, opGood}, strangerAddr))

	// The reverted op moved nothing; the second op still went through.
	require.True(t, rig.state.GetBalance(badDest).IsZero())
	require.Equal(t, uint256.NewInt(100), rig.state.GetBalance(goodDest))
	require.Equal(t, uint256.NewInt(900), rig.state.GetBalance(accountAddr))
}
