package domain

// OriginKind classifies who issued a call.
type OriginKind uint8

// Origin kinds recognised by the ledger. Only signed origins may act.
const (
	OriginNone OriginKind = iota
	OriginSigned
	OriginRoot
)

// Origin is the authenticated source of a call as resolved by the runtime.
type Origin struct {
	Kind    OriginKind
	Account AccountID
}

// Signed builds an origin for a call signed by account.
func Signed(account AccountID) Origin {
	return Origin{Kind: OriginSigned, Account: account}
}

// Root builds the privileged root origin.
func Root() Origin { return Origin{Kind: OriginRoot} }

// Unsigned builds an origin for an unsigned call.
func Unsigned() Origin { return Origin{Kind: OriginNone} }

// EnsureSigned resolves the acting account or fails with ErrBadOrigin.
func EnsureSigned(o Origin) (AccountID, error) {
	if o.Kind != OriginSigned {
		return 0, ErrBadOrigin
	}
	return o.Account, nil
}
