// Package vm provides the synchronous call host the account core executes
// under. Contracts are plain Go objects registered at addresses; Env.Call
// dispatches between them with value transfer and all-or-nothing rollback of
// a failed frame's effects, the way an EVM host treats a reverted call.
package vm

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/clydemeng/simpleaccount/core/state"
)

// maxCallDepth bounds reentrant call chains, matching the EVM's 1024 limit.
const maxCallDepth = 1024

// ErrDepth is returned when a call would exceed maxCallDepth.
var ErrDepth = errors.New("max call depth exceeded")

// Contract is the execution surface of an entity registered in the host.
// Run receives the host, the immediate caller, the raw input and the value
// already credited to the contract for this frame. Returning an error reverts
// every state change the frame made; the returned bytes are still propagated
// so revert payloads survive for diagnosis.
type Contract interface {
	Run(env *Env, caller common.Address, input []byte, value *uint256.Int) ([]byte, error)
}

// Env is the call host: world state plus the registry of contracts.
// Execution through it is strictly single-threaded.
type Env struct {
	chainID   uint64
	state     *state.StateDB
	contracts map[common.Address]Contract
	depth     int
}

// NewEnv creates a host over the given world state.
func NewEnv(chainID uint64, sdb *state.StateDB) *Env {
	return &Env{
		chainID:   chainID,
		state:     sdb,
		contracts: make(map[common.Address]Contract),
	}
}

// ChainID returns the chain identifier bound at construction.
func (e *Env) ChainID() uint64 { return e.chainID }

// StateDB exposes the underlying world state.
func (e *Env) StateDB() *state.StateDB { return e.state }

// Register binds a contract to an address. Re-registering an address
// overwrites the previous binding.
func (e *Env) Register(addr common.Address, c Contract) {
	e.contracts[addr] = c
}

// Contract returns the contract registered at addr, or nil for a plain
// externally-owned address.
func (e *Env) Contract(addr common.Address) Contract {
	return e.contracts[addr]
}

// Call executes a message from caller to the contract at to, transferring
// value first. The frame commits atomically: if the transfer or the callee
// fails, every state change made inside the frame is rolled back and the
// error (plus any revert payload) is returned. Calling a plain address with
// a non-nil value is a bare transfer; its input is ignored.
func (e *Env) Call(caller, to common.Address, input []byte, value *uint256.Int) (ret []byte, err error) {
	if e.depth >= maxCallDepth {
		return nil, ErrDepth
	}
	snap := e.state.Snapshot()

	if value != nil && !value.IsZero() {
		if err := e.state.Transfer(caller, to, value); err != nil {
			e.state.RevertToSnapshot(snap)
			return nil, err
		}
	}

	c := e.contracts[to]
	if c == nil {
		return nil, nil
	}

	e.depth++
	ret, err = c.Run(e, caller, input, value)
	e.depth--

	if err != nil {
		e.state.RevertToSnapshot(snap)
		return ret, err
	}
	return ret, nil
}
