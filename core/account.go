// Package core implements the smart-contract wallet: a single-owner account
// whose operations are validated and executed through a privileged entry
// point, plus the entry point collaborator that drives the
// validate-then-execute sequence.
package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/clydemeng/simpleaccount/core/types"
	"github.com/clydemeng/simpleaccount/core/vm"
)

// accountABIJSON is the account's external call surface. Only execute is
// dispatchable; validation and ownership transfer are invoked as direct
// method calls by the entry point and the owner respectively.
const accountABIJSON = `
[
	{
		"type":"function",
		"name":"execute",
		"inputs": [
			{"name": "dest","type": "address"},
			{"name": "value","type": "uint256"},
			{"name": "func","type": "bytes"}
		]
	}
]`

var accountABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(accountABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// PackExecute encodes an execute(dest, value, func) call for use as an
// operation's CallData.
func PackExecute(dest common.Address, value *uint256.Int, payload []byte) ([]byte, error) {
	if value == nil {
		value = new(uint256.Int)
	}
	return accountABI.Pack("execute", dest, value.ToBig(), payload)
}

// sigCacheSize bounds the recovered-signer cache. Recovery is a pure
// function of (digest, signature), so cached entries never go stale.
const sigCacheSize = 512

// SimpleAccount is a minimal single-owner smart wallet. The entry point
// binding is fixed at construction for the account's lifetime; the owner is
// the only mutable piece of authorization state.
type SimpleAccount struct {
	address    common.Address
	entryPoint common.Address
	owner      common.Address

	sigCache *lru.Cache[common.Hash, common.Address]
	logger   log.Logger
}

// NewSimpleAccount constructs an account at address, permanently bound to
// the given entry point and controlled by owner. The zero address is not a
// valid owner.
func NewSimpleAccount(address, entryPoint, owner common.Address) (*SimpleAccount, error) {
	if owner == (common.Address{}) {
		return nil, ErrZeroOwner
	}
	cache, err := lru.New[common.Hash, common.Address](sigCacheSize)
	if err != nil {
		return nil, err
	}
	return &SimpleAccount{
		address:    address,
		entryPoint: entryPoint,
		owner:      owner,
		sigCache:   cache,
		logger:     log.New("account", address),
	}, nil
}

// Address returns the account's own address.
func (a *SimpleAccount) Address() common.Address { return a.address }

// Owner returns the current controller identity.
func (a *SimpleAccount) Owner() common.Address { return a.owner }

// EntryPointAddress returns the immutable entry point binding.
func (a *SimpleAccount) EntryPointAddress() common.Address { return a.entryPoint }

// TransferOwnership reassigns the owner. Only the current owner may call it,
// and the new owner takes effect immediately for the execute guard.
func (a *SimpleAccount) TransferOwnership(caller, newOwner common.Address) error {
	if caller != a.owner {
		return ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return ErrZeroOwner
	}
	a.logger.Info("Ownership transferred", "previous", a.owner, "new", newOwner)
	a.owner = newOwner
	return nil
}

// Execute forwards value and payload to dest as a single synchronous call.
// Only the entry point or the current owner may trigger it. A downstream
// failure aborts the whole call with a RevertError carrying the
// destination's raw failure payload; the host rolls back every effect of the
// frame, including the value transfer.
func (a *SimpleAccount) Execute(env *vm.Env, caller, dest common.Address, value *uint256.Int, payload []byte) error {
	if caller != a.entryPoint && caller != a.owner {
		return ErrNotFromEntryPointOrOwner
	}
	ret, err := env.Call(a.address, dest, payload, value)
	if err != nil {
		executeRevertCounter.Inc(1)
		a.logger.Debug("Downstream call failed", "dest", dest, "err", err)
		return &RevertError{Ret: ret, Err: err}
	}
	return nil
}

// ValidateOp checks the operation's signature against the current owner and
// then unconditionally settles the requested missing funds to the caller.
// Only the bound entry point may call it.
//
// A bad signature is reported as ValidationFailure, never as an error, and
// the settlement still runs on that path: from the entry point's
// perspective funds may already be at risk. The settlement's own outcome is
// never surfaced.
func (a *SimpleAccount) ValidateOp(env *vm.Env, caller common.Address, op *types.Operation, opHash common.Hash, missingFunds *uint256.Int) (types.ValidationStatus, error) {
	if caller != a.entryPoint {
		return types.ValidationFailure, ErrNotFromEntryPoint
	}

	status := a.validateSignature(op.Signature, opHash)
	if status == types.ValidationSuccess {
		validationSuccessCounter.Inc(1)
	} else {
		validationFailureCounter.Inc(1)
		a.logger.Debug("Operation signature rejected", "opHash", opHash)
	}

	a.payPrefund(env, caller, missingFunds)
	return status, nil
}

// validateSignature recovers the signer of opHash's personal-sign digest and
// compares it to the owner. Any malformed signature maps to failure.
func (a *SimpleAccount) validateSignature(sig []byte, opHash common.Hash) types.ValidationStatus {
	if len(sig) != crypto.SignatureLength {
		return types.ValidationFailure
	}
	// Domain-separate the raw operation hash so a signature over it cannot
	// be replayed as a signature over arbitrary 32-byte data elsewhere.
	digest := accounts.TextHash(opHash.Bytes())

	cacheKey := crypto.Keccak256Hash(digest, sig)
	if signer, ok := a.sigCache.Get(cacheKey); ok {
		return a.signerStatus(signer)
	}

	// Accept both the raw recovery id and the legacy 27/28 encoding.
	norm := make([]byte, crypto.SignatureLength)
	copy(norm, sig)
	if norm[crypto.RecoveryIDOffset] >= 27 {
		norm[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, norm)
	if err != nil {
		return types.ValidationFailure
	}
	signer := crypto.PubkeyToAddress(*pub)
	a.sigCache.Add(cacheKey, signer)
	return a.signerStatus(signer)
}

func (a *SimpleAccount) signerStatus(signer common.Address) types.ValidationStatus {
	if signer == a.owner {
		return types.ValidationSuccess
	}
	return types.ValidationFailure
}

// payPrefund transfers exactly missingFunds to the immediate caller. A zero
// or nil amount is a no-op. The transfer's failure is deliberately swallowed:
// it must not abort or roll back the enclosing validation.
func (a *SimpleAccount) payPrefund(env *vm.Env, to common.Address, missingFunds *uint256.Int) {
	if missingFunds == nil || missingFunds.IsZero() {
		return
	}
	if _, err := env.Call(a.address, to, nil, missingFunds); err != nil {
		prefundSwallowedCounter.Inc(1)
		a.logger.Debug("Prefund settlement failed", "to", to, "amount", missingFunds, "err", err)
		return
	}
	prefundSettledCounter.Inc(1)
}

// Run is the account's contract dispatch surface for calls arriving through
// the host. Empty input is the unconditional value-receive path; otherwise
// the input is decoded against the account ABI.
func (a *SimpleAccount) Run(env *vm.Env, caller common.Address, input []byte, value *uint256.Int) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	if len(input) < 4 {
		return nil, fmt.Errorf("account: malformed calldata (%d bytes)", len(input))
	}
	method, err := accountABI.MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("account: decoding %s: %w", method.Name, err)
	}

	switch method.Name {
	case "execute":
		dest := args[0].(common.Address)
		callValue, overflow := uint256.FromBig(args[1].(*big.Int))
		if overflow {
			return nil, fmt.Errorf("account: execute value overflows uint256")
		}
		payload := args[2].([]byte)
		return nil, a.Execute(env, caller, dest, callValue, payload)
	default:
		return nil, fmt.Errorf("account: unknown method %s", method.Name)
	}
}
