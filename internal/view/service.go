package view

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"MarginView/internal/gateway"
	"MarginView/internal/observability"
	"MarginView/internal/recorder"
	"MarginView/internal/syncer"
)

const bookKey = "book"

// Service ties the store to the refresh scheduler and the ledger's push
// channel. Watching an account means: a scheduler task polling its view,
// plus (best effort) an account-change subscription that marks the task
// dirty so pushes land faster than the next tick.
type Service struct {
	store   *Store
	reg     *syncer.Registry
	gw      gateway.Gateway
	builder *gateway.InstructionBuilder
	owner   solana.PublicKey
	rec     recorder.Recorder
	log     zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	watches map[string]*watch
}

type watch struct {
	stopTask func()
	unsub    func()
}

// NewService wires the projection service. owner is the local wallet whose
// key signs submitted instructions; rec may be recorder.Noop.
func NewService(store *Store, reg *syncer.Registry, gw gateway.Gateway, builder *gateway.InstructionBuilder, owner solana.PublicKey, rec recorder.Recorder, log zerolog.Logger, metrics *observability.Metrics) *Service {
	if rec == nil {
		rec = recorder.Noop{}
	}
	return &Service{
		store:   store,
		reg:     reg,
		gw:      gw,
		builder: builder,
		owner:   owner,
		rec:     rec,
		log:     log,
		metrics: metrics,
		watches: make(map[string]*watch),
	}
}

// Store exposes the read models.
func (s *Service) Store() *Store { return s.store }

// WatchAccount starts keeping owner's view fresh. Idempotent: a second call
// for the same owner is a no-op. The push subscription is best effort: if
// the websocket is down the poll ticker alone carries the view.
func (s *Service) WatchAccount(ctx context.Context, owner solana.PublicKey) error {
	key := owner.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[key]; ok {
		return nil
	}

	addr, _, err := s.builder.UserAccountAddress(owner)
	if err != nil {
		return err
	}

	s.store.Track(owner)
	stopTask, _ := s.reg.Watch(ctx, key, "account", func(ctx context.Context) error {
		return s.store.RefreshAccount(ctx, owner, addr)
	})

	w := &watch{stopTask: stopTask}
	unsub, err := s.gw.SubscribeAccountChange(ctx, addr, func() {
		s.reg.MarkDirty(key, syncer.TriggerPush)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("owner", key).Msg("account push unavailable, polling only")
	} else {
		w.unsub = unsub
	}

	s.watches[key] = w
	return nil
}

// UnwatchAccount drops owner's watch and its view.
func (s *Service) UnwatchAccount(owner solana.PublicKey) {
	key := owner.String()

	s.mu.Lock()
	w, ok := s.watches[key]
	delete(s.watches, key)
	s.mu.Unlock()
	if !ok {
		return
	}

	if w.unsub != nil {
		w.unsub()
	}
	w.stopTask()
	s.store.Untrack(owner)
}

// WatchBook starts the shared depth view. One watch per process; extra
// calls are no-ops. Pushes come from the bid and ask slab accounts, whose
// addresses are resolved once here from the market's orderbook header.
func (s *Service) WatchBook(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[bookKey]; ok {
		return nil
	}

	stopTask, _ := s.reg.Watch(ctx, bookKey, "book", s.store.RefreshBook)
	w := &watch{stopTask: stopTask}

	market, err := s.gw.FetchMarket(ctx, s.store.marketKey)
	if err == nil {
		if h, herr := s.gw.FetchOrderbookHeader(ctx, market.Orderbook); herr == nil {
			unsubs := make([]func(), 0, 2)
			for _, slabKey := range []solana.PublicKey{h.Bids, h.Asks} {
				unsub, serr := s.gw.SubscribeAccountChange(ctx, slabKey, func() {
					s.reg.MarkDirty(bookKey, syncer.TriggerPush)
				})
				if serr != nil {
					s.log.Warn().Err(serr).Str("slab", slabKey.String()).Msg("book push unavailable, polling only")
					continue
				}
				unsubs = append(unsubs, unsub)
			}
			w.unsub = func() {
				for _, u := range unsubs {
					u()
				}
			}
		} else {
			s.log.Warn().Err(herr).Msg("orderbook header unavailable, book polling only")
		}
	} else {
		s.log.Warn().Err(err).Msg("market unavailable at watch start, book polling only")
	}

	s.watches[bookKey] = w
	return nil
}

// MarkAccountDirty schedules an out-of-band refresh, typically right after
// one of the owner's instructions was accepted so the UI converges without
// waiting out the poll interval.
func (s *Service) MarkAccountDirty(owner solana.PublicKey) {
	s.reg.MarkDirty(owner.String(), syncer.TriggerManual)
	s.reg.MarkDirty(bookKey, syncer.TriggerManual)
}

// Close drops every watch.
func (s *Service) Close() {
	s.mu.Lock()
	watches := s.watches
	s.watches = make(map[string]*watch)
	s.mu.Unlock()

	for _, w := range watches {
		if w.unsub != nil {
			w.unsub()
		}
		w.stopTask()
	}
}
