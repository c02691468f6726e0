// Package trader is the public surface of the client: it wires intent
// validation, canonicalization, signing, rate-limited dispatch and lifecycle
// tracking into one session against the exchange.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/nadotrader/params"
	"github.com/uhyunpark/nadotrader/pkg/crypto"
	"github.com/uhyunpark/nadotrader/pkg/dispatch"
	"github.com/uhyunpark/nadotrader/pkg/exchange"
	"github.com/uhyunpark/nadotrader/pkg/fixedpoint"
	"github.com/uhyunpark/nadotrader/pkg/nonce"
	"github.com/uhyunpark/nadotrader/pkg/order"
	"github.com/uhyunpark/nadotrader/pkg/storage"
	"github.com/uhyunpark/nadotrader/pkg/tracker"
	"github.com/uhyunpark/nadotrader/pkg/util"
)

type Trader struct {
	cfg    params.Config
	log    *zap.Logger
	clock  util.Clock
	signer *crypto.Signer
	e712   *crypto.EIP712Signer
	sub    crypto.Subaccount

	nonces     *nonce.Manager
	builder    *order.Builder
	dispatcher *dispatch.Dispatcher
	tracker    *tracker.Tracker
	gw         Transport
	stream     EventSource
	store      *storage.Store

	mu         sync.RWMutex
	products   map[uint32]order.Product
	connected  bool
	connecting bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option overrides a wired dependency; used by tests to inject fakes.
type Option func(*Trader)

func WithTransport(t Transport) Option { return func(tr *Trader) { tr.gw = t } }

func WithEventSource(s EventSource) Option { return func(tr *Trader) { tr.stream = s } }

func WithClock(c util.Clock) Option { return func(tr *Trader) { tr.clock = c } }

// New builds a trader session from config. Key material is loaded once and
// held in memory only; it is never logged or persisted.
func New(cfg params.Config, log *zap.Logger, opts ...Option) (*Trader, error) {
	if log == nil {
		log = zap.NewNop()
	}

	signer, err := crypto.FromPrivateKeyHex(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	sub, err := crypto.NewSubaccount(signer.Address(), cfg.SubaccountName)
	if err != nil {
		return nil, err
	}

	t := &Trader{
		cfg:      cfg,
		log:      log,
		clock:    util.RealClock{},
		signer:   signer,
		sub:      sub,
		products: make(map[uint32]order.Product),
	}
	for _, opt := range opts {
		opt(t)
	}

	if cfg.DataDir != "" {
		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		t.store = store
	}

	var persistence nonce.Persistence
	var archive tracker.Archive
	if t.store != nil {
		persistence = t.store
		archive = t.store
	}
	t.nonces = nonce.NewManager(persistence, t.clock)
	t.builder = order.NewBuilder(sub, t.nonces, t.clock)
	t.e712 = crypto.NewEIP712Signer(crypto.Domain(
		cfg.Endpoints.ChainID, common.HexToAddress(cfg.Endpoints.Verifier)))
	t.tracker = tracker.New(cfg.Tracker.EventGracePeriod, cfg.Tracker.Retention, archive, t.clock, log)

	if t.gw == nil {
		t.gw = exchange.NewGateway(cfg.Endpoints.GatewayURL, cfg.Dispatch.SubmitTimeout)
	}
	if t.stream == nil {
		t.stream = exchange.NewStream(cfg.Endpoints.StreamURL, sub, log)
	}

	bucket := dispatch.NewTokenBucket(cfg.Dispatch.RatePerMinute, cfg.Dispatch.Burst, t.clock)
	t.dispatcher = dispatch.New(t.gw, bucket, dispatch.Policy{
		Blocking:    cfg.Dispatch.Blocking,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		MaxInFlight: cfg.Dispatch.MaxInFlight,
	}, t.clock, log)

	return t, nil
}

// Subaccount returns the session's 32-byte account identifier.
func (t *Trader) Subaccount() crypto.Subaccount { return t.sub }

// Tracker exposes the lifecycle tracker for read-only surfaces (status API).
func (t *Trader) Tracker() *tracker.Tracker { return t.tracker }

// Connect loads the product catalog, starts the event stream, and launches
// the background pump and reconciler. Idempotent; concurrent calls collapse
// into one session, only the first does the work.
func (t *Trader) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected || t.connecting {
		t.mu.Unlock()
		return nil
	}
	t.connecting = true
	t.mu.Unlock()

	products, err := t.gw.Products(ctx)
	if err != nil {
		t.abortConnect()
		return fmt.Errorf("failed to load product catalog: %w", err)
	}

	if err := t.stream.Start(); err != nil {
		t.abortConnect()
		return err
	}

	bg, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	for _, p := range products {
		t.products[p.ID] = p
	}
	t.cancel = cancel
	t.connected = true
	t.connecting = false
	t.mu.Unlock()

	t.wg.Add(2)
	go t.eventPump()
	go t.reconcileLoop(bg)

	owner := t.sub.Owner()
	t.log.Info("connected",
		zap.String("mode", string(t.cfg.Mode)),
		zap.String("owner", crypto.ChecksumAddress(owner[:])),
		zap.String("subaccount", t.sub.Hex()),
		zap.Int("products", len(products)))
	return nil
}

// Close tears the session down on every exit path: the stream is closed,
// already-received events are drained into the tracker, and background work
// stops before the store is released.
func (t *Trader) Close() error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		if t.store != nil {
			return t.store.Close()
		}
		return nil
	}
	t.connected = false
	t.mu.Unlock()

	err := t.stream.Close() // read loop flushes, then the pump drains and exits
	t.cancel()
	t.wg.Wait()
	if t.store != nil {
		if serr := t.store.Close(); err == nil {
			err = serr
		}
	}
	t.log.Info("disconnected", zap.String("subaccount", t.sub.Hex()))
	return err
}

// Product returns a catalog entry.
func (t *Trader) Product(id uint32) (order.Product, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.products[id]
	return p, ok
}

// Products lists the perpetual catalog loaded at connect.
func (t *Trader) Products() []order.Product {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]order.Product, 0, len(t.products))
	for _, p := range t.products {
		out = append(out, p)
	}
	return out
}

// PlaceOrder validates, signs and submits one order.
//
// Three result shapes, never conflated:
//   - err != nil, zero digest: the request never reached the network
//     (validation, precision, signing, or fail-fast rate limit).
//   - err == nil: definitive answer; State is Open or Rejected.
//   - err != nil with a digest: outcome unknown (deadline or retries
//     exhausted); the order stays Pending and reconciliation resolves it.
func (t *Trader) PlaceOrder(ctx context.Context, intent order.Intent) (PlaceResult, error) {
	if !t.isConnected() {
		return PlaceResult{}, ErrNotConnected
	}
	product, ok := t.Product(intent.ProductID)
	if !ok {
		return PlaceResult{}, &order.ValidationError{Field: "product_id", Reason: "unknown product"}
	}

	canonical, err := t.builder.Build(intent, product)
	if err != nil {
		return PlaceResult{}, err
	}
	digest, sig, err := t.e712.SignOrder(t.signer, canonical)
	if err != nil {
		return PlaceResult{}, err
	}

	t.tracker.Register(digest, canonical.ProductID, intent.Side, canonical.PriceX18, canonical.Amount)

	subCtx, cancel := context.WithTimeout(ctx, t.cfg.Dispatch.SubmitTimeout)
	defer cancel()

	outcome, err := t.dispatcher.Submit(subCtx, "place_order", orderToWire(canonical, sig, digest))
	switch outcome.Status {
	case dispatch.Accepted:
		t.tracker.MarkOpen(digest, outcome.Attempts)
	case dispatch.Rejected:
		t.tracker.MarkRejected(digest, outcome.Reason, outcome.Attempts)
	case dispatch.Unknown:
		if outcome.Attempts == 0 && errors.Is(err, dispatch.ErrRateLimited) {
			// Fail-fast refusal before anything was sent. The record would
			// otherwise sit Pending forever, so settle it locally. A rate
			// limit hit after a sent attempt arrives with Attempts > 0 and
			// stays Pending for reconciliation.
			t.tracker.MarkRejected(digest, "rate limited before send", outcome.Attempts)
			return PlaceResult{}, err
		}
		t.log.Warn("submission outcome unknown; leaving order pending",
			zap.String("digest", digest.Hex()), zap.Error(err))
	}

	rec, _ := t.tracker.Get(digest)
	return PlaceResult{Digest: digest, State: rec.State}, err
}

// BuyLimit places a limit buy. Size must be positive.
func (t *Trader) BuyLimit(ctx context.Context, intent order.Intent) (PlaceResult, error) {
	intent.Side = order.Buy
	return t.PlaceOrder(ctx, intent)
}

// SellLimit places a limit sell. Size must be positive.
func (t *Trader) SellLimit(ctx context.Context, intent order.Intent) (PlaceResult, error) {
	intent.Side = order.Sell
	return t.PlaceOrder(ctx, intent)
}

// CancelOrder cancels one order by digest. Cancellation is idempotent on the
// exchange side because the digest pins the exact order; locally, unknown or
// already-terminal digests return ErrUnknownDigest.
func (t *Trader) CancelOrder(ctx context.Context, digest common.Hash) error {
	if !t.isConnected() {
		return ErrNotConnected
	}
	rec, ok := t.tracker.Get(digest)
	if !ok {
		return ErrUnknownDigest
	}
	if rec.State.Terminal() {
		return fmt.Errorf("%w: order already %s", ErrUnknownDigest, rec.State)
	}

	_, err := t.submitCancel(ctx, []uint32{rec.ProductID}, []common.Hash{digest}, "cancel_orders")
	return err
}

// CancelAll cancels every locally-open order, optionally on one product.
// Returns the number of orders the cancellation covered.
func (t *Trader) CancelAll(ctx context.Context, productID *uint32) (int, error) {
	if !t.isConnected() {
		return 0, ErrNotConnected
	}

	open := t.tracker.OpenOrders(productID)
	if len(open) == 0 {
		return 0, nil
	}
	productSet := make(map[uint32]bool)
	var ids []uint32
	for _, rec := range open {
		if !productSet[rec.ProductID] {
			productSet[rec.ProductID] = true
			ids = append(ids, rec.ProductID)
		}
	}

	if _, err := t.submitCancel(ctx, ids, nil, "cancel_product_orders"); err != nil {
		return 0, err
	}
	return len(open), nil
}

func (t *Trader) submitCancel(ctx context.Context, productIDs []uint32, digests []common.Hash, method string) (dispatch.Outcome, error) {
	n, err := t.nonces.Next(t.sub)
	if err != nil {
		return dispatch.Outcome{}, err
	}
	cancel := &crypto.CancelEIP712{
		Sender:     t.sub,
		ProductIDs: productIDs,
		Digests:    digests,
		Nonce:      n,
	}
	_, sig, err := t.e712.SignCancel(t.signer, cancel)
	if err != nil {
		return dispatch.Outcome{}, err
	}

	wire := cancelWire{
		Sender:     t.sub.Hex(),
		ProductIDs: productIDs,
		Nonce:      n,
		Signature:  fmt.Sprintf("0x%x", sig),
	}
	for _, d := range digests {
		wire.Digests = append(wire.Digests, d.Hex())
	}

	subCtx, cancelCtx := context.WithTimeout(ctx, t.cfg.Dispatch.SubmitTimeout)
	defer cancelCtx()

	outcome, err := t.dispatcher.Submit(subCtx, method, wire)
	if err != nil {
		return outcome, err
	}
	if outcome.Status == dispatch.Rejected {
		return outcome, &exchange.RejectError{Reason: outcome.Reason}
	}
	return outcome, nil
}

// GetOpenOrders returns local snapshots of non-terminal orders, oldest first.
func (t *Trader) GetOpenOrders(productID *uint32) []tracker.Record {
	return t.tracker.OpenOrders(productID)
}

// GetOrder returns the tracked record for a digest.
func (t *Trader) GetOrder(digest common.Hash) (tracker.Record, bool) {
	return t.tracker.Get(digest)
}

// GetPositions fetches current perpetual positions from exchange state.
func (t *Trader) GetPositions(ctx context.Context) ([]Position, error) {
	if !t.isConnected() {
		return nil, ErrNotConnected
	}
	info, err := t.gw.SubaccountInfo(ctx, t.sub)
	if err != nil {
		return nil, err
	}

	var positions []Position
	for _, b := range info.Balances {
		amount, err := exchange.ParseX18(b.AmountX18)
		if err != nil {
			return nil, fmt.Errorf("balance %d: %w", b.ProductID, err)
		}
		if amount.Sign() == 0 {
			continue
		}
		entry, err := exchange.ParseX18(b.EntryPriceX18)
		if err != nil {
			return nil, fmt.Errorf("balance %d: %w", b.ProductID, err)
		}
		pnl, err := exchange.ParseX18(b.UnrealizedPnlX18)
		if err != nil {
			return nil, fmt.Errorf("balance %d: %w", b.ProductID, err)
		}
		positions = append(positions, Position{
			ProductID:     b.ProductID,
			Size:          fixedpoint.FromX18(amount),
			EntryPrice:    fixedpoint.FromX18(entry),
			UnrealizedPnl: fixedpoint.FromX18(pnl),
		})
	}
	return positions, nil
}

// GetAccountInfo fetches subaccount health and balances.
func (t *Trader) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	if !t.isConnected() {
		return nil, ErrNotConnected
	}
	info, err := t.gw.SubaccountInfo(ctx, t.sub)
	if err != nil {
		return nil, err
	}

	health, err := exchange.ParseX18(info.HealthX18)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	out := &AccountInfo{
		Subaccount: info.Subaccount,
		Health:     fixedpoint.FromX18(health),
	}
	for _, b := range info.Balances {
		amount, err := exchange.ParseX18(b.AmountX18)
		if err != nil {
			return nil, fmt.Errorf("balance %d: %w", b.ProductID, err)
		}
		out.Balances = append(out.Balances, Balance{
			ProductID: b.ProductID,
			Amount:    fixedpoint.FromX18(amount),
		})
	}
	return out, nil
}

// GetOrderbook is a pass-through depth query; no local state involved.
func (t *Trader) GetOrderbook(ctx context.Context, productID uint32, depth int) (*exchange.Orderbook, error) {
	if !t.isConnected() {
		return nil, ErrNotConnected
	}
	return t.gw.Orderbook(ctx, productID, depth)
}

func (t *Trader) abortConnect() {
	t.mu.Lock()
	t.connecting = false
	t.mu.Unlock()
}

func (t *Trader) isConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// eventPump feeds stream events into the tracker until the stream's channel
// closes. Runs until Close; the stream guarantees received events are
// flushed before the channel closes, so nothing is lost mid-shutdown.
func (t *Trader) eventPump() {
	defer t.wg.Done()
	for ev := range t.stream.Events() {
		t.applyStreamEvent(ev)
	}
}

func (t *Trader) applyStreamEvent(ev exchange.StreamEvent) {
	digest, err := ev.ParsedDigest()
	if err != nil {
		t.log.Warn("event with bad digest ignored", zap.String("digest", ev.Digest))
		return
	}

	var tev tracker.Event
	switch ev.Type {
	case "fill":
		filled, err := exchange.ParseX18(ev.FilledX18)
		if err != nil {
			t.log.Warn("fill event with bad size ignored", zap.String("digest", ev.Digest))
			return
		}
		tev = tracker.Event{Type: tracker.EventFill, Digest: digest, FilledX18: filled}
	case "cancel":
		tev = tracker.Event{Type: tracker.EventCancel, Digest: digest, Reason: ev.Reason}
	case "reject":
		tev = tracker.Event{Type: tracker.EventReject, Digest: digest, Reason: ev.Reason}
	default:
		return
	}
	t.tracker.Apply(tev)
}

// reconcileLoop resolves orders stuck in Pending after their submission
// deadline: a timeout never implies rejection, the order may well be resting
// on the book. It also sweeps the tracker's buffers and archive.
func (t *Trader) reconcileLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.Tracker.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.reconcileOnce(ctx)
			t.tracker.Sweep()
		}
	}
}

func (t *Trader) reconcileOnce(ctx context.Context) {
	stuck := t.tracker.PendingOlderThan(t.cfg.Dispatch.SubmitTimeout)
	if len(stuck) == 0 {
		return
	}

	resting, err := t.gw.OpenOrders(ctx, t.sub, nil)
	if err != nil {
		t.log.Warn("reconciliation query failed", zap.Error(err))
		return
	}
	onBook := make(map[common.Hash]exchange.OpenOrderJSON, len(resting))
	for _, o := range resting {
		onBook[common.HexToHash(o.Digest)] = o
	}

	giveUp := t.cfg.Dispatch.SubmitTimeout + t.cfg.Tracker.EventGracePeriod
	now := t.clock.Now()
	for _, rec := range stuck {
		if o, ok := onBook[rec.Digest]; ok {
			// Accepted server-side; the ack was lost.
			t.tracker.MarkOpen(rec.Digest, rec.Attempts)
			if filled, err := exchange.ParseX18(o.FilledX18); err == nil && filled.Sign() > 0 {
				t.tracker.Apply(tracker.Event{Type: tracker.EventFill, Digest: rec.Digest, FilledX18: filled})
			}
			t.log.Info("reconciled pending order as open", zap.String("digest", rec.Digest.Hex()))
			continue
		}
		if now.Sub(rec.SubmittedAt) > giveUp {
			t.tracker.MarkRejected(rec.Digest, "not found during reconciliation", rec.Attempts)
			t.log.Info("reconciled pending order as rejected", zap.String("digest", rec.Digest.Hex()))
		}
	}
}
