package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/clydemeng/simpleaccount/core/state"
	"github.com/clydemeng/simpleaccount/core/types"
	"github.com/clydemeng/simpleaccount/core/vm"
)

// OperationValidator is the validation surface the entry point requires from
// an account. SimpleAccount implements it; alternative account designs only
// need to satisfy this interface to be driven by HandleOps.
type OperationValidator interface {
	ValidateOp(env *vm.Env, caller common.Address, op *types.Operation, opHash common.Hash, missingFunds *uint256.Int) (types.ValidationStatus, error)
}

// EntryPoint aggregates operations, computes their canonical hashes and
// drives the validate-then-execute sequence against the accounts registered
// in the call host. It keeps a per-sender deposit ledger, credited by plain
// value transfers into the entry point, from which operation prefunds are
// consumed. The ledger lives in the entry point's own storage slots so a
// reverted frame unwinds a deposit credit together with the native transfer
// that backed it.
type EntryPoint struct {
	address common.Address
	chainID uint64
	logger  log.Logger
}

// NewEntryPoint constructs an entry point at address for the given chain.
func NewEntryPoint(address common.Address, chainID uint64) *EntryPoint {
	return &EntryPoint{
		address: address,
		chainID: chainID,
		logger:  log.New("entrypoint", address),
	}
}

// Address returns the entry point's own address.
func (e *EntryPoint) Address() common.Address { return e.address }

// OperationHash computes the canonical digest an operation must be signed
// over: keccak256(keccak256(pack(op)) || entryPoint || chainID). Binding the
// entry point address and chain id prevents cross-context replay of an
// otherwise identical operation.
func (e *EntryPoint) OperationHash(op *types.Operation) common.Hash {
	buf := make([]byte, 0, 3*common.HashLength)
	buf = append(buf, crypto.Keccak256(op.Pack())...)
	buf = append(buf, common.LeftPadBytes(e.address.Bytes(), common.HashLength)...)
	buf = append(buf, uint256.NewInt(e.chainID).PaddedBytes(common.HashLength)...)
	return crypto.Keccak256Hash(buf)
}

// depositSlot maps a depositor address to its ledger slot in the entry
// point's storage.
func depositSlot(addr common.Address) common.Hash {
	return crypto.Keccak256Hash(addr.Bytes())
}

// DepositOf reads the sender's current deposit from the ledger.
func (e *EntryPoint) DepositOf(sdb *state.StateDB, addr common.Address) *uint256.Int {
	raw := sdb.GetState(e.address, depositSlot(addr))
	return new(uint256.Int).SetBytes(raw.Bytes())
}

// Run is the entry point's contract surface. A plain value transfer credits
// the sending address's deposit; there is no other callable method.
func (e *EntryPoint) Run(env *vm.Env, caller common.Address, input []byte, value *uint256.Int) ([]byte, error) {
	if len(input) != 0 {
		return nil, fmt.Errorf("entrypoint: unexpected calldata (%d bytes)", len(input))
	}
	if value != nil && !value.IsZero() {
		e.creditDeposit(env.StateDB(), caller, value)
	}
	return nil, nil
}

func (e *EntryPoint) creditDeposit(sdb *state.StateDB, addr common.Address, amount *uint256.Int) {
	d := e.DepositOf(sdb, addr)
	d.Add(d, amount)
	sdb.SetState(e.address, depositSlot(addr), common.Hash(d.Bytes32()))
	e.logger.Debug("Deposit credited", "account", addr, "amount", amount, "total", d)
}

// WithdrawDeposit moves part of an account's deposit back to its native
// balance. Callable only by the depositor itself; the entry point holds the
// funds, so the ledger debit and the balance credit happen together.
func (e *EntryPoint) WithdrawDeposit(env *vm.Env, caller common.Address, amount *uint256.Int) error {
	deposit := e.DepositOf(env.StateDB(), caller)
	if deposit.Lt(amount) {
		return fmt.Errorf("entrypoint: withdraw %s exceeds deposit %s", amount, deposit)
	}
	if err := env.StateDB().Transfer(e.address, caller, amount); err != nil {
		return fmt.Errorf("entrypoint: withdraw: %w", err)
	}
	e.debitDeposit(env.StateDB(), caller, amount)
	return nil
}

// SimulateValidation runs an operation's validation phase without the
// execution phase, so a bundler can pre-screen an operation before
// committing a batch to it. The prefund settlement still runs: validation
// is not side-effect free.
func (e *EntryPoint) SimulateValidation(env *vm.Env, op *types.Operation) (types.ValidationStatus, error) {
	account, ok := env.Contract(op.Sender).(OperationValidator)
	if !ok {
		return types.ValidationFailure, fmt.Errorf("sender %s: %w", op.Sender, ErrUnknownAccount)
	}
	required := requiredPrefund(op)
	missing := new(uint256.Int)
	if deposit := e.DepositOf(env.StateDB(), op.Sender); deposit.Lt(required) {
		missing.Sub(required, deposit)
	}
	return account.ValidateOp(env, e.address, op, e.OperationHash(op), missing)
}

// requiredPrefund is the native value the sender must have on deposit before
// the execution phase runs: the full gas budget priced at maxFeePerGas.
func requiredPrefund(op *types.Operation) *uint256.Int {
	fee := op.MaxFeePerGas
	if fee == nil {
		fee = new(uint256.Int)
	}
	return new(uint256.Int).Mul(op.GasBudget(), fee)
}

// HandleOps runs each operation through its sender account's validation and,
// on success, through the execution phase. The prefund consumed across the
// whole batch is paid out to beneficiary once at the end.
//
// A guard abort or a failed signature check stops the batch with an error
// identifying the operation. An execution-phase revert does not: by then the
// prefund has been legitimately consumed, so the operation is logged as
// failed and the batch continues. On an abort the prefund already consumed
// by completed operations is still paid out, so no value strands in the
// entry point's native balance.
func (e *EntryPoint) HandleOps(env *vm.Env, ops []*types.Operation, beneficiary common.Address) error {
	collected := new(uint256.Int)
	for i, op := range ops {
		consumed, err := e.handleOp(env, i, op)
		if err != nil {
			if cerr := e.CompensateBeneficiary(env, beneficiary, collected); cerr != nil {
				e.logger.Warn("Beneficiary compensation failed on batch abort", "err", cerr)
			}
			return err
		}
		collected.Add(collected, consumed)
	}
	return e.CompensateBeneficiary(env, beneficiary, collected)
}

func (e *EntryPoint) handleOp(env *vm.Env, idx int, op *types.Operation) (*uint256.Int, error) {
	handleOpsCounter.Inc(1)

	account, ok := env.Contract(op.Sender).(OperationValidator)
	if !ok {
		return nil, fmt.Errorf("op %d (sender %s): %w", idx, op.Sender, ErrUnknownAccount)
	}

	opHash := e.OperationHash(op)
	required := requiredPrefund(op)
	missing := new(uint256.Int)
	if deposit := e.DepositOf(env.StateDB(), op.Sender); deposit.Lt(required) {
		missing.Sub(required, deposit)
	}

	status, err := account.ValidateOp(env, e.address, op, opHash, missing)
	if err != nil {
		return nil, fmt.Errorf("op %d [%s]: validation aborted: %w", idx, opHash, err)
	}
	if status != types.ValidationSuccess {
		return nil, fmt.Errorf("op %d [%s]: %w", idx, opHash, ErrSignatureValidationFailed)
	}
	// The prefund settlement inside validation is fire-and-forget; verify it
	// actually arrived before spending gas on execution.
	if e.DepositOf(env.StateDB(), op.Sender).Lt(required) {
		return nil, fmt.Errorf("op %d [%s]: %w", idx, opHash, ErrPrefundTooLow)
	}

	if len(op.CallData) > 0 {
		if _, err := env.Call(e.address, op.Sender, op.CallData, nil); err != nil {
			// Execution failure after a valid signature: the frame has been
			// rolled back by the host, the prefund stays consumed.
			e.logger.Warn("Operation execution reverted", "op", idx, "opHash", opHash, "err", err)
		}
	}

	e.debitDeposit(env.StateDB(), op.Sender, required)
	e.logger.Debug("Operation processed", "op", idx, "opHash", opHash, "prefund", required)
	return required, nil
}

func (e *EntryPoint) debitDeposit(sdb *state.StateDB, addr common.Address, amount *uint256.Int) {
	d := e.DepositOf(sdb, addr)
	if d.Lt(amount) {
		// handleOp checks the deposit before reaching here; drain rather
		// than underflow if the invariant is ever broken.
		sdb.SetState(e.address, depositSlot(addr), common.Hash{})
		return
	}
	d.Sub(d, amount)
	sdb.SetState(e.address, depositSlot(addr), common.Hash(d.Bytes32()))
}

// CompensateBeneficiary pays out the entry point's collected native balance
// to beneficiary. Exposed separately so a bundler loop can settle once per
// batch rather than once per operation.
func (e *EntryPoint) CompensateBeneficiary(env *vm.Env, beneficiary common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if _, err := env.Call(e.address, beneficiary, nil, amount); err != nil {
		return fmt.Errorf("entrypoint: beneficiary compensation: %w", err)
	}
	return nil
}
