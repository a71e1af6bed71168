package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockline/api/internal/repositories/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingOrderPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingOrderPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingOrderPublisher) snapshot() []OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OrderEvent(nil), p.events...)
}

type recordingStockPublisher struct {
	mu     sync.Mutex
	events []StockEvent
}

func (p *recordingStockPublisher) PublishStockEvent(_ context.Context, event StockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingStockPublisher) snapshot() []StockEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StockEvent(nil), p.events...)
}

// harness wires every service against the in-memory backend.
type harness struct {
	store       *memory.Store
	clock       *fakeClock
	ledger      StockLedger
	stock       StockAccessor
	counters    CounterService
	builder     OrderBuilder
	orders      OrderLifecycleController
	products    ProductService
	orderEvents *recordingOrderPublisher
	stockEvents *recordingStockPublisher
}

func newHarness(t testing.TB) *harness {
	t.Helper()
	h := &harness{
		store:       memory.New(),
		clock:       &fakeClock{now: time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)},
		orderEvents: &recordingOrderPublisher{},
		stockEvents: &recordingStockPublisher{},
	}
	var seq atomic.Int64
	ids := func() string { return fmt.Sprintf("id-%06d", seq.Add(1)) }

	var err error
	h.ledger, err = NewStockLedger(StockLedgerDeps{
		UnitOfWork:  h.store,
		Ledger:      h.store.StockLedger(),
		Products:    h.store.Products(),
		Clock:       h.clock.Now,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("NewStockLedger: %v", err)
	}
	h.stock, err = NewStockAccessor(StockAccessorDeps{
		UnitOfWork: h.store,
		Products:   h.store.Products(),
		Ledger:     h.ledger,
		Events:     h.stockEvents,
		Clock:      h.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewStockAccessor: %v", err)
	}
	h.counters, err = NewCounterService(CounterServiceDeps{Repository: h.store.Counters()})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}
	h.builder, err = NewOrderBuilder(OrderBuilderDeps{
		Products:    h.store.Products(),
		Counters:    h.counters,
		Clock:       h.clock.Now,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("NewOrderBuilder: %v", err)
	}
	h.orders, err = NewOrderLifecycleController(OrderLifecycleDeps{
		UnitOfWork: h.store,
		Orders:     h.store.Orders(),
		Builder:    h.builder,
		Stock:      h.stock,
		Events:     h.orderEvents,
		Clock:      h.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewOrderLifecycleController: %v", err)
	}
	h.products, err = NewProductService(ProductServiceDeps{
		UnitOfWork:  h.store,
		Products:    h.store.Products(),
		Orders:      h.store.Orders(),
		Stock:       h.stock,
		Clock:       h.clock.Now,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("NewProductService: %v", err)
	}
	return h
}

func (h *harness) createProduct(t testing.TB, sku, price string, qty int) Product {
	t.Helper()
	p, err := h.products.CreateProduct(context.Background(), CreateProductCommand{
		SKU:             sku,
		Name:            "Product " + sku,
		UnitPrice:       decimal.RequireFromString(price),
		InitialQuantity: qty,
	})
	if err != nil {
		t.Fatalf("CreateProduct(%s): %v", sku, err)
	}
	return p
}

func (h *harness) onHand(t testing.TB, productID string) int {
	t.Helper()
	qty, err := h.stock.GetAvailable(context.Background(), productID)
	if err != nil {
		t.Fatalf("GetAvailable(%s): %v", productID, err)
	}
	return qty
}

func (h *harness) assertBalanced(t testing.TB, productID string) {
	t.Helper()
	rec, err := h.ledger.Reconcile(context.Background(), productID)
	if err != nil {
		t.Fatalf("Reconcile(%s): %v", productID, err)
	}
	if !rec.Balanced() {
		t.Fatalf("ledger out of balance for %s: %#v", productID, rec)
	}
}
