// Package state implements the journaled world state backing the account
// core: native-currency balances plus per-account 32-byte storage slots.
//
// Every mutation is recorded in a journal so that an enclosing call frame can
// be rolled back as one unit via Snapshot/RevertToSnapshot, mirroring the
// all-or-nothing commit semantics of an EVM-style execution host.
package state

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned by Transfer when the sender cannot cover
// the requested amount.
var ErrInsufficientBalance = errors.New("insufficient balance for transfer")

// journalEntry undoes a single state mutation.
type journalEntry interface {
	revert(*StateDB)
}

type balanceChange struct {
	account common.Address
	prev    *uint256.Int // nil when the account did not exist
}

func (ch balanceChange) revert(s *StateDB) {
	if ch.prev == nil {
		delete(s.balances, ch.account)
		return
	}
	s.balances[ch.account] = ch.prev
}

type storageChange struct {
	account common.Address
	slot    common.Hash
	prev    common.Hash
	existed bool
}

func (ch storageChange) revert(s *StateDB) {
	slots := s.storage[ch.account]
	if !ch.existed {
		delete(slots, ch.slot)
		return
	}
	slots[ch.slot] = ch.prev
}

// StateDB holds the mutable world state. It is not safe for concurrent use;
// execution through the call host is strictly single-threaded.
type StateDB struct {
	balances map[common.Address]*uint256.Int
	storage  map[common.Address]map[common.Hash]common.Hash

	// journal records every mutation since construction. A snapshot is just
	// a high-water mark into this list.
	journal []journalEntry
}

// New returns an empty world state.
func New() *StateDB {
	return &StateDB{
		balances: make(map[common.Address]*uint256.Int),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// GetBalance returns a copy of the account's native balance. Missing accounts
// read as zero.
func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	if bal, ok := s.balances[addr]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// AddBalance credits amount to addr.
func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int) {
	prev, existed := s.balances[addr]
	if existed {
		s.journal = append(s.journal, balanceChange{account: addr, prev: prev})
	} else {
		s.journal = append(s.journal, balanceChange{account: addr})
		prev = new(uint256.Int)
	}
	s.balances[addr] = new(uint256.Int).Add(prev, amount)
}

// SubBalance debits amount from addr. It fails without touching state when
// the balance cannot cover the amount.
func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int) error {
	prev, existed := s.balances[addr]
	if !existed || prev.Lt(amount) {
		return ErrInsufficientBalance
	}
	s.journal = append(s.journal, balanceChange{account: addr, prev: prev})
	s.balances[addr] = new(uint256.Int).Sub(prev, amount)
	return nil
}

// Transfer moves amount from sender to recipient as a single journaled step.
func (s *StateDB) Transfer(from, to common.Address, amount *uint256.Int) error {
	if err := s.SubBalance(from, amount); err != nil {
		return err
	}
	s.AddBalance(to, amount)
	return nil
}

// GetState reads a storage slot. Missing slots read as the zero hash.
func (s *StateDB) GetState(addr common.Address, slot common.Hash) common.Hash {
	return s.storage[addr][slot]
}

// SetState writes a storage slot.
func (s *StateDB) SetState(addr common.Address, slot common.Hash, value common.Hash) {
	slots, ok := s.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.storage[addr] = slots
	}
	prev, existed := slots[slot]
	s.journal = append(s.journal, storageChange{account: addr, slot: slot, prev: prev, existed: existed})
	slots[slot] = value
}

// Snapshot returns an identifier for the current state that can later be
// passed to RevertToSnapshot.
func (s *StateDB) Snapshot() int {
	return len(s.journal)
}

// RevertToSnapshot undoes, in reverse order, every mutation recorded after
// the given snapshot was taken.
func (s *StateDB) RevertToSnapshot(id int) {
	if id < 0 || id > len(s.journal) {
		panic("state: invalid snapshot id")
	}
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i].revert(s)
	}
	s.journal = s.journal[:id]
}
