package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/rs/zerolog"

	"MarginView/internal/book"
	"MarginView/internal/observability"
	"MarginView/internal/schema"
)

// SolanaGateway talks to a Solana RPC node at confirmed commitment, with a
// websocket connection for account-change pushes.
type SolanaGateway struct {
	rpc        *rpc.Client
	ws         *ws.Client
	signer     solana.PrivateKey
	commitment rpc.CommitmentType
	log        zerolog.Logger
	metrics    *observability.Metrics
}

// NewSolanaGateway dials the websocket endpoint and wraps the RPC client.
// wsURL may be empty, in which case SubscribeAccountChange is unavailable
// and the scheduler runs on polling alone.
func NewSolanaGateway(ctx context.Context, rpcURL, wsURL string, signer solana.PrivateKey, log zerolog.Logger, metrics *observability.Metrics) (*SolanaGateway, error) {
	g := &SolanaGateway{
		rpc:        rpc.New(rpcURL),
		signer:     signer,
		commitment: rpc.CommitmentConfirmed,
		log:        log,
		metrics:    metrics,
	}

	if wsURL != "" {
		wsClient, err := ws.Connect(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("%w: ws connect: %v", ErrUnavailable, err)
		}
		g.ws = wsClient
	}

	return g, nil
}

// Close tears down the websocket connection.
func (g *SolanaGateway) Close() {
	if g.ws != nil {
		g.ws.Close()
	}
}

// Signer returns the public key instructions are signed with.
func (g *SolanaGateway) Signer() solana.PublicKey {
	return g.signer.PublicKey()
}

func (g *SolanaGateway) observe(op string, start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	g.metrics.GatewayRequests.WithLabelValues(op, outcome).Inc()
	g.metrics.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// FetchAccount returns the raw bytes of one account.
func (g *SolanaGateway) FetchAccount(ctx context.Context, key solana.PublicKey) (data []byte, err error) {
	start := time.Now()
	defer func() { g.observe("fetch_account", start, err) }()

	res, err := g.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
		Commitment: g.commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get account %s: %v", ErrUnavailable, key, err)
	}
	if res == nil || res.Value == nil {
		return nil, ErrNotFound
	}
	return res.Value.Data.GetBinary(), nil
}

// FetchMarket fetches and decodes the lex market record.
func (g *SolanaGateway) FetchMarket(ctx context.Context, key solana.PublicKey) (*schema.Market, error) {
	data, err := g.FetchAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	m, err := schema.DecodeMarket(data)
	if err != nil {
		if g.metrics != nil {
			g.metrics.DecodeErrors.WithLabelValues("market").Inc()
		}
		return nil, fmt.Errorf("decode market %s: %w", key, err)
	}
	return m, nil
}

// FetchOraclePrice resolves the market's quote price. Only the stub oracle
// is interpretable; every other type fails closed with ErrPriceUnavailable.
func (g *SolanaGateway) FetchOraclePrice(ctx context.Context, oracle solana.PublicKey, typ schema.OracleType) (int64, error) {
	switch typ {
	case schema.OracleStub:
	default:
		return 0, fmt.Errorf("%w: oracle type %s", ErrPriceUnavailable, typ)
	}

	data, err := g.FetchAccount(ctx, oracle)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	stub, err := schema.DecodeStubPrice(data)
	if err != nil {
		if g.metrics != nil {
			g.metrics.DecodeErrors.WithLabelValues("stub_price").Inc()
		}
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if stub.Price <= 0 {
		return 0, fmt.Errorf("%w: stub price %d", ErrPriceUnavailable, stub.Price)
	}
	return stub.Price, nil
}

// FetchOrderbookHeader fetches the orderbook market state.
func (g *SolanaGateway) FetchOrderbookHeader(ctx context.Context, key solana.PublicKey) (*schema.OrderbookHeader, error) {
	data, err := g.FetchAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	h, err := schema.DecodeOrderbookHeader(data)
	if err != nil {
		if g.metrics != nil {
			g.metrics.DecodeErrors.WithLabelValues("orderbook_header").Inc()
		}
		return nil, fmt.Errorf("decode orderbook header %s: %w", key, err)
	}
	return h, nil
}

// FetchSlab fetches and decodes one side of the book.
func (g *SolanaGateway) FetchSlab(ctx context.Context, key solana.PublicKey) (*book.Slab, error) {
	data, err := g.FetchAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	slab, err := book.DecodeSlab(data)
	if err != nil {
		if g.metrics != nil {
			g.metrics.DecodeErrors.WithLabelValues("slab").Inc()
		}
		return nil, fmt.Errorf("decode slab %s: %w", key, err)
	}
	return slab, nil
}

// SubscribeAccountChange registers a websocket account subscription and
// invokes onChange on every confirmed state transition. The notification
// payload itself is discarded: the scheduler refetches through the normal
// path so push and poll share one code path.
func (g *SolanaGateway) SubscribeAccountChange(ctx context.Context, key solana.PublicKey, onChange func()) (func(), error) {
	if g.ws == nil {
		return nil, fmt.Errorf("%w: no websocket endpoint configured", ErrUnavailable)
	}

	sub, err := g.ws.AccountSubscribeWithOpts(key, g.commitment, solana.EncodingBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, key, err)
	}

	go func() {
		for {
			if _, err := sub.Recv(ctx); err != nil {
				if ctx.Err() == nil {
					g.log.Warn().Err(err).Stringer("account", key).Msg("account subscription closed")
				}
				return
			}
			onChange()
		}
	}()

	return sub.Unsubscribe, nil
}

// SubmitInstructions signs and sends one transaction containing ixs.
// RPC-level rejection (preflight or on-chain validation) comes back as
// *RejectedError with the node's reason untouched.
func (g *SolanaGateway) SubmitInstructions(ctx context.Context, ixs []solana.Instruction) (sig solana.Signature, err error) {
	start := time.Now()
	defer func() { g.observe("submit", start, err) }()

	recent, err := g.rpc.GetLatestBlockhash(ctx, g.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: latest blockhash: %v", ErrUnavailable, err)
	}

	tx, err := solana.NewTransaction(ixs, recent.Value.Blockhash, solana.TransactionPayer(g.signer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(g.signer.PublicKey()) {
			return &g.signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err = g.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: g.commitment,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return solana.Signature{}, &RejectedError{Code: rpcErr.Code, Reason: rpcErr.Message}
		}
		return solana.Signature{}, fmt.Errorf("%w: send transaction: %v", ErrUnavailable, err)
	}

	g.log.Info().Stringer("signature", sig).Int("instructions", len(ixs)).Msg("transaction submitted")
	return sig, nil
}

var _ Gateway = (*SolanaGateway)(nil)
