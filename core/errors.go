package core

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrNotFromEntryPoint rejects a validation call from anyone but the
	// bound entry point.
	ErrNotFromEntryPoint = errors.New("account: caller is not the entry point")

	// ErrNotFromEntryPointOrOwner rejects an execute call from anyone but
	// the bound entry point or the current owner.
	ErrNotFromEntryPointOrOwner = errors.New("account: caller is not the entry point or owner")

	// ErrNotOwner rejects an ownership transfer from a non-owner.
	ErrNotOwner = errors.New("account: caller is not the owner")

	// ErrZeroOwner rejects the zero address as an account owner.
	ErrZeroOwner = errors.New("account: owner is the zero address")

	// ErrSignatureValidationFailed aborts a batch when an operation's
	// signature check returned a failure status.
	ErrSignatureValidationFailed = errors.New("entrypoint: operation signature validation failed")

	// ErrPrefundTooLow aborts a batch when validation succeeded but the
	// account did not settle the required prefund.
	ErrPrefundTooLow = errors.New("entrypoint: account did not pay required prefund")

	// ErrUnknownAccount aborts a batch when an operation's sender has no
	// contract registered in the call host.
	ErrUnknownAccount = errors.New("entrypoint: operation sender is not a deployed account")
)

// RevertError wraps a failed downstream call made by Execute. Ret carries the
// destination's raw failure payload verbatim for diagnosis.
type RevertError struct {
	Ret []byte
	Err error
}

func (e *RevertError) Error() string {
	if len(e.Ret) == 0 {
		return fmt.Sprintf("execution reverted: %v", e.Err)
	}
	return fmt.Sprintf("execution reverted: %v (ret=%s)", e.Err, hexutil.Encode(e.Ret))
}

func (e *RevertError) Unwrap() error { return e.Err }
