// Package view holds the in-memory read models the query API serves: one
// account view per watched margin account and one shared book view. Views
// are replaced wholesale by refresh. There is no partial merge, so a
// reader always sees numbers derived from a single ledger round-trip.
package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarginView/internal/book"
	"MarginView/internal/gateway"
	"MarginView/internal/observability"
	"MarginView/internal/risk"
	"MarginView/internal/schema"
)

var (
	// ErrNotWatched: no view exists for the key because nothing watches it.
	ErrNotWatched = errors.New("key is not watched")

	// ErrPending: the view exists but its first refresh has not completed.
	ErrPending = errors.New("view not yet populated")
)

// Notifier receives a signal after each completed refresh. Failures are the
// notifier's problem; the view never blocks or fails on its side channels.
type Notifier interface {
	ViewUpdated(kind, key string, generation uuid.UUID, asOf time.Time)
}

// SnapshotSink persists risk stats as they are computed.
type SnapshotSink interface {
	RecordRiskSnapshot(ctx context.Context, owner string, stats risk.Stats, asOf time.Time) error
}

// AccountView is the full projection of one margin account. Generation
// changes on every completed refresh; AsOf is the local receive time of the
// snapshot the numbers were derived from.
type AccountView struct {
	Owner      solana.PublicKey `json:"owner"`
	Exists     bool             `json:"exists"`
	Generation uuid.UUID        `json:"generation"`
	AsOf       time.Time        `json:"as_of"`

	BaseFree       uint64 `json:"base_free"`
	BaseLocked     uint64 `json:"base_locked"`
	BaseOpenLend   uint64 `json:"base_open_lend"`
	BaseOpenBorrow uint64 `json:"base_open_borrow"`
	QuoteTotal     uint64 `json:"quote_total"`

	// PriceUnavailable marks Risk as not computable this refresh. Balances,
	// orders and debts are still valid: they do not depend on the oracle.
	PriceUnavailable bool       `json:"price_unavailable"`
	Risk             risk.Stats `json:"risk"`

	Orders []book.Order    `json:"orders"`
	Debts  []risk.OpenDebt `json:"debts"`
}

// BookView is the aggregated public depth of both sides. Lend rows ascend
// (cheapest lending rate first), borrow rows descend (highest bid first).
type BookView struct {
	Generation uuid.UUID    `json:"generation"`
	AsOf       time.Time    `json:"as_of"`
	Lend       []book.Level `json:"lend"`
	Borrow     []book.Level `json:"borrow"`
}

// slot wraps a view with its lifecycle state. A refresh failure never
// clears data: the previous view stays readable and lastErr records why it
// is older than expected.
type slot[T any] struct {
	ready     bool
	view      T
	lastErr   error
	lastErrAt time.Time
}

// Store is the concurrent map of read models plus the refresh pipelines
// that fill them. Refreshes for one key are serialized by the scheduler;
// the store itself only guards reads against in-progress swaps.
type Store struct {
	gw          gateway.Gateway
	engine      *risk.Engine
	marketKey   solana.PublicKey
	depthLevels int
	now         func() time.Time
	log         zerolog.Logger
	metrics     *observability.Metrics

	notifier Notifier
	sink     SnapshotSink

	mu       sync.RWMutex
	accounts map[string]*slot[AccountView]
	book     slot[BookView]
}

// Options carries the optional collaborators. Nil fields disable the
// corresponding side channel.
type Options struct {
	Notifier Notifier
	Sink     SnapshotSink
	Now      func() time.Time
}

func NewStore(gw gateway.Gateway, engine *risk.Engine, marketKey solana.PublicKey, depthLevels int, log zerolog.Logger, metrics *observability.Metrics, opts Options) *Store {
	if depthLevels <= 0 {
		depthLevels = 16
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		gw:          gw,
		engine:      engine,
		marketKey:   marketKey,
		depthLevels: depthLevels,
		now:         now,
		log:         log,
		metrics:     metrics,
		notifier:    opts.Notifier,
		sink:        opts.Sink,
		accounts:    make(map[string]*slot[AccountView]),
	}
}

// Track registers an (empty, pending) account slot so readers can tell
// "not watched" apart from "watched, first refresh in flight". Untrack
// removes it; the scheduler's task is stopped by the caller.
func (s *Store) Track(owner solana.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[owner.String()]; !ok {
		s.accounts[owner.String()] = &slot[AccountView]{}
	}
}

func (s *Store) Untrack(owner solana.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, owner.String())
}

// Account returns a copy of the owner's view. ErrNotWatched when no slot
// exists, ErrPending when the first refresh has not landed yet; a slot with
// data is returned even when its latest refresh failed.
func (s *Store) Account(owner solana.PublicKey) (AccountView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.accounts[owner.String()]
	if !ok {
		return AccountView{}, ErrNotWatched
	}
	if !sl.ready {
		if sl.lastErr != nil {
			return AccountView{}, sl.lastErr
		}
		return AccountView{}, ErrPending
	}
	if s.metrics != nil {
		s.metrics.ViewAge.WithLabelValues("account").Set(s.now().Sub(sl.view.AsOf).Seconds())
	}
	return sl.view, nil
}

// Book returns a copy of the shared book view.
func (s *Store) Book() (BookView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.book.ready {
		if s.book.lastErr != nil {
			return BookView{}, s.book.lastErr
		}
		return BookView{}, ErrPending
	}
	if s.metrics != nil {
		s.metrics.ViewAge.WithLabelValues("book").Set(s.now().Sub(s.book.view.AsOf).Seconds())
	}
	return s.book.view, nil
}

// RefreshAccount rebuilds the owner's view from a fresh ledger read.
// The raw account fetch and the decode decide existence; everything else
// (market, oracle, both slabs) is fetched afterwards so the derived numbers
// are at most one poll apart.
func (s *Store) RefreshAccount(ctx context.Context, owner, accountAddr solana.PublicKey) error {
	asOf := s.now()

	raw, err := s.gw.FetchAccount(ctx, accountAddr)
	if errors.Is(err, gateway.ErrNotFound) {
		// No margin account yet on this market. That is a presentable state,
		// not a failure: the caller shows the create-account path.
		s.storeAccount(owner, AccountView{
			Owner:      owner,
			Exists:     false,
			Generation: uuid.New(),
			AsOf:       asOf,
		})
		return nil
	}
	if err != nil {
		return s.failAccount(owner, err)
	}

	acct, err := schema.DecodeUserAccount(raw)
	if err != nil {
		return s.failAccount(owner, err)
	}

	market, err := s.gw.FetchMarket(ctx, s.marketKey)
	if err != nil {
		return s.failAccount(owner, err)
	}

	header, err := s.gw.FetchOrderbookHeader(ctx, market.Orderbook)
	if err != nil {
		return s.failAccount(owner, err)
	}
	asks, err := s.gw.FetchSlab(ctx, header.Asks)
	if err != nil {
		return s.failAccount(owner, err)
	}
	bids, err := s.gw.FetchSlab(ctx, header.Bids)
	if err != nil {
		return s.failAccount(owner, err)
	}

	nowUnix := asOf.Unix()
	v := AccountView{
		Owner:          owner,
		Exists:         true,
		Generation:     uuid.New(),
		AsOf:           asOf,
		BaseFree:       acct.BaseFree,
		BaseLocked:     acct.BaseLocked,
		BaseOpenLend:   acct.BaseOpenLend,
		BaseOpenBorrow: acct.BaseOpenBorrow,
		QuoteTotal:     acct.QuoteTotal,
		Orders:         book.OwnOrders(acct, asks, bids),
		Debts:          s.engine.OpenDebts(acct, market, nowUnix),
	}

	price, perr := s.gw.FetchOraclePrice(ctx, market.PriceOracle, market.OracleType)
	if perr == nil {
		v.Risk, perr = s.engine.Compute(acct, market, price, nowUnix)
	}
	if perr != nil {
		// Risk fails closed, the rest of the view does not.
		v.PriceUnavailable = true
		v.Risk = risk.Stats{}
		s.log.Warn().Err(perr).Str("owner", owner.String()).Msg("risk stats unavailable")
	}

	s.storeAccount(owner, v)

	if s.sink != nil && !v.PriceUnavailable {
		if err := s.sink.RecordRiskSnapshot(ctx, owner.String(), v.Risk, asOf); err != nil {
			s.log.Warn().Err(err).Str("owner", owner.String()).Msg("risk snapshot not recorded")
		} else if s.metrics != nil {
			s.metrics.SnapshotsRecorded.Inc()
		}
	}
	return nil
}

// RefreshBook rebuilds the shared depth view from both slabs.
func (s *Store) RefreshBook(ctx context.Context) error {
	asOf := s.now()

	market, err := s.gw.FetchMarket(ctx, s.marketKey)
	if err != nil {
		return s.failBook(err)
	}
	header, err := s.gw.FetchOrderbookHeader(ctx, market.Orderbook)
	if err != nil {
		return s.failBook(err)
	}
	asks, err := s.gw.FetchSlab(ctx, header.Asks)
	if err != nil {
		return s.failBook(err)
	}
	bids, err := s.gw.FetchSlab(ctx, header.Bids)
	if err != nil {
		return s.failBook(err)
	}

	v := BookView{
		Generation: uuid.New(),
		AsOf:       asOf,
		Lend:       asks.Depth(s.depthLevels, true),
		Borrow:     bids.Depth(s.depthLevels, false),
	}

	s.mu.Lock()
	s.book = slot[BookView]{ready: true, view: v}
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.ViewUpdated("book", s.marketKey.String(), v.Generation, asOf)
	}
	return nil
}

func (s *Store) storeAccount(owner solana.PublicKey, v AccountView) {
	key := owner.String()
	s.mu.Lock()
	s.accounts[key] = &slot[AccountView]{ready: true, view: v}
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.ViewUpdated("account", key, v.Generation, v.AsOf)
	}
}

func (s *Store) failAccount(owner solana.PublicKey, err error) error {
	s.mu.Lock()
	if sl, ok := s.accounts[owner.String()]; ok {
		sl.lastErr = err
		sl.lastErrAt = s.now()
	}
	s.mu.Unlock()
	return err
}

func (s *Store) failBook(err error) error {
	s.mu.Lock()
	s.book.lastErr = err
	s.book.lastErrAt = s.now()
	s.mu.Unlock()
	return err
}
