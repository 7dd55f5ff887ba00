package view

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"MarginView/internal/gateway"
	"MarginView/internal/recorder"
	"MarginView/internal/schema"
)

// SubmitRequest carries the union of the parameters the instruction kinds
// accept. Which fields matter depends on Kind; unknown extras are ignored.
type SubmitRequest struct {
	Kind gateway.Kind `json:"kind"`

	// deposit / withdraw. Asset picks the market vault the transfer runs
	// through: "quote" (collateral, the default) or "base" (the lent
	// asset).
	Amount      uint64 `json:"amount,omitempty"`
	Asset       string `json:"asset,omitempty"`
	TokenSource string `json:"token_source,omitempty"`
	TokenDest   string `json:"token_dest,omitempty"`

	// new_order
	Side         string `json:"side,omitempty"`
	InterestRate uint64 `json:"interest_rate,omitempty"`
	Qty          uint64 `json:"qty,omitempty"`

	// cancel_my_order: decimal u128 as a string, the same form order ids
	// appear in the views
	OrderID string `json:"order_id,omitempty"`

	// settle_debt
	DebtID uint16 `json:"debt_id,omitempty"`

	// set_stub_price
	Price int64  `json:"price,omitempty"`
	Conf  uint64 `json:"conf,omitempty"`
}

// ErrBadRequest wraps client-side validation failures of a submit request.
var ErrBadRequest = errors.New("invalid submit request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// Submit builds the requested instruction against current market state,
// signs it with the local wallet, and hands it to the ledger. On success
// the owner's view and the book are marked dirty so the projections
// converge without waiting for the next tick. Rejections come back as
// *gateway.RejectedError and are never retried here.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (solana.Signature, error) {
	market, err := s.gw.FetchMarket(ctx, s.store.marketKey)
	if err != nil {
		return solana.Signature{}, err
	}

	ix, err := s.buildInstruction(ctx, market, req)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := s.gw.SubmitInstructions(ctx, []solana.Instruction{ix})

	outcome := "ok"
	detail := ""
	if err != nil {
		var rej *gateway.RejectedError
		if errors.As(err, &rej) {
			outcome = "rejected"
			detail = rej.Reason
		} else {
			outcome = "error"
			detail = err.Error()
		}
	}
	if s.metrics != nil {
		s.metrics.SubmitTotal.WithLabelValues(string(req.Kind), outcome).Inc()
	}
	if rerr := s.rec.RecordSubmission(ctx, recorder.Submission{
		Kind:      string(req.Kind),
		Owner:     s.owner.String(),
		Signature: sig.String(),
		Outcome:   outcome,
		Detail:    detail,
		At:        s.store.now(),
	}); rerr != nil {
		s.log.Warn().Err(rerr).Str("kind", string(req.Kind)).Msg("submission not recorded")
	}

	if err != nil {
		return solana.Signature{}, err
	}

	s.log.Info().
		Str("kind", string(req.Kind)).
		Str("signature", sig.String()).
		Msg("instruction submitted")
	s.MarkAccountDirty(s.owner)
	return sig, nil
}

func (s *Service) buildInstruction(ctx context.Context, market *schema.Market, req SubmitRequest) (solana.Instruction, error) {
	switch req.Kind {
	case gateway.KindInitializeAccount:
		return s.builder.InitializeAccount(s.owner)

	case gateway.KindDeposit:
		src, err := parseKey("token_source", req.TokenSource)
		if err != nil {
			return nil, err
		}
		vault, err := marketVault(market, req.Asset)
		if err != nil {
			return nil, err
		}
		if req.Amount == 0 {
			return nil, badRequest("amount must be positive")
		}
		return s.builder.Deposit(s.owner, src, vault, req.Amount)

	case gateway.KindWithdraw:
		dest, err := parseKey("token_dest", req.TokenDest)
		if err != nil {
			return nil, err
		}
		vault, err := marketVault(market, req.Asset)
		if err != nil {
			return nil, err
		}
		if req.Amount == 0 {
			return nil, badRequest("amount must be positive")
		}
		return s.builder.Withdraw(s.owner, dest, vault, market.PriceOracle, req.Amount)

	case gateway.KindNewOrder:
		var side uint8
		switch req.Side {
		case "borrow":
			side = gateway.SideNumBorrow
		case "lend":
			side = gateway.SideNumLend
		default:
			return nil, badRequest("side must be lend or borrow, got %q", req.Side)
		}
		if req.Qty == 0 {
			return nil, badRequest("qty must be positive")
		}
		header, err := s.gw.FetchOrderbookHeader(ctx, market.Orderbook)
		if err != nil {
			return nil, err
		}
		return s.builder.NewOrder(s.owner, market.Orderbook, market.PriceOracle, header, side, req.InterestRate, req.Qty)

	case gateway.KindCancelMyOrder:
		id, err := parseOrderID(req.OrderID)
		if err != nil {
			return nil, err
		}
		header, err := s.gw.FetchOrderbookHeader(ctx, market.Orderbook)
		if err != nil {
			return nil, err
		}
		return s.builder.CancelMyOrder(s.owner, market.Orderbook, header, id)

	case gateway.KindSettleDebt:
		if int(req.DebtID) >= schema.MarketDebtSlots {
			return nil, badRequest("debt_id %d out of range", req.DebtID)
		}
		debt := &market.Debts[req.DebtID]
		if debt.IsEmpty() {
			return nil, badRequest("debt slot %d is vacant", req.DebtID)
		}
		return s.builder.SettleDebt(s.owner, debt.Borrower, debt.Lender, req.DebtID)

	case gateway.KindSetStubPrice:
		if req.Price <= 0 {
			return nil, badRequest("price must be positive, got %d", req.Price)
		}
		return s.builder.SetStubPrice(s.owner, market.PriceOracle, req.Price, req.Conf), nil

	default:
		return nil, badRequest("unknown instruction kind %q", req.Kind)
	}
}

// marketVault resolves the asset selector of a deposit or withdraw. The
// program credits base_free or quote_total depending on which vault the
// transfer names, so the caller has to be explicit about anything but the
// quote default.
func marketVault(market *schema.Market, asset string) (solana.PublicKey, error) {
	switch asset {
	case "", "quote":
		return market.QuoteVault, nil
	case "base":
		return market.BaseVault, nil
	default:
		return solana.PublicKey{}, badRequest("asset must be \"base\" or \"quote\", got %q", asset)
	}
}

func parseKey(name, raw string) (solana.PublicKey, error) {
	if raw == "" {
		return solana.PublicKey{}, badRequest("%s is required", name)
	}
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, badRequest("%s: %v", name, err)
	}
	return key, nil
}

func parseOrderID(raw string) (schema.OrderID, error) {
	if raw == "" {
		return schema.OrderID{}, badRequest("order_id is required")
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 128 {
		return schema.OrderID{}, badRequest("order_id must be a decimal u128, got %q", raw)
	}
	mask := new(big.Int).SetUint64(^uint64(0))
	var id schema.OrderID
	id.Lo = new(big.Int).And(n, mask).Uint64()
	id.Hi = new(big.Int).Rsh(n, 64).Uint64()
	return id, nil
}
