package types

// ValidationStatus is the two-valued outcome of signature validation. A
// mismatching signature is reported through this value, never through an
// error: the entry point keeps its own bookkeeping on a bad signature
// instead of unwinding the whole call.
type ValidationStatus uint8

const (
	// ValidationSuccess means the recovered signer is the account owner.
	ValidationSuccess ValidationStatus = iota
	// ValidationFailure means the signature is malformed or was produced by
	// a key other than the owner's.
	ValidationFailure
)

func (s ValidationStatus) String() string {
	switch s {
	case ValidationSuccess:
		return "success"
	case ValidationFailure:
		return "failure"
	default:
		return "unknown"
	}
}
