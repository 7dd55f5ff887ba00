// Package gateway is the client's only door to the ledger. It exposes the
// three primitives the projection layer needs (account fetch, account-change
// subscription, instruction submit) plus typed decode-on-fetch helpers for
// the records the views consume. Everything authoritative stays on the other
// side of this boundary.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"MarginView/internal/book"
	"MarginView/internal/schema"
)

var (
	// ErrNotFound: the account does not exist yet on the ledger. For a user
	// margin account this is a normal state (the caller shows a create
	// prompt), never a hard failure.
	ErrNotFound = errors.New("account not found")

	// ErrPriceUnavailable: the oracle account could not be read or its type
	// is not one the client knows how to interpret. Unknown oracle types
	// fail closed; a guessed price is worse than no price.
	ErrPriceUnavailable = errors.New("oracle price unavailable")

	// ErrUnavailable: transport-level failure talking to the ledger. The
	// scheduler stores it as the view's last error and retries on the next
	// tick, never faster.
	ErrUnavailable = errors.New("ledger gateway unavailable")
)

// RejectedError is an instruction the ledger refused. The reason travels
// verbatim, the client never reinterprets on-chain validation. A rejected
// financial instruction is never retried automatically: retry is always an
// explicit user action, anything else risks double-submission.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("instruction rejected by ledger (code %d): %s", e.Code, e.Reason)
}

// Gateway is the abstract ledger collaborator. Implementations must return
// the sentinel errors above (wrapped is fine) so callers can map them to the
// view-level taxonomy.
type Gateway interface {
	// FetchAccount returns the raw bytes of any account, or ErrNotFound.
	FetchAccount(ctx context.Context, key solana.PublicKey) ([]byte, error)

	// FetchMarket fetches and decodes the lex market record.
	FetchMarket(ctx context.Context, key solana.PublicKey) (*schema.Market, error)

	// FetchOraclePrice resolves the market's price. Only the stub oracle
	// type is interpretable today; anything else is ErrPriceUnavailable.
	FetchOraclePrice(ctx context.Context, oracle solana.PublicKey, typ schema.OracleType) (int64, error)

	// FetchOrderbookHeader fetches the orderbook market state (slab and
	// event queue addresses).
	FetchOrderbookHeader(ctx context.Context, key solana.PublicKey) (*schema.OrderbookHeader, error)

	// FetchSlab fetches and decodes one side of the book.
	FetchSlab(ctx context.Context, key solana.PublicKey) (*book.Slab, error)

	// SubscribeAccountChange invokes onChange after each confirmed state
	// transition of key, at most once per transition, with no ordering
	// guarantee relative to concurrent manual fetches. The returned stop
	// function tears the subscription down.
	SubscribeAccountChange(ctx context.Context, key solana.PublicKey, onChange func()) (stop func(), err error)

	// SubmitInstructions signs and submits a transaction. On-chain or
	// preflight validation failure surfaces as *RejectedError.
	SubmitInstructions(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error)
}
