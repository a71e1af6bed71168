package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/stockline/api/internal/domain"
)

func TestCanTransition(t *testing.T) {
	all := []OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusCompleted, domain.OrderStatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			want := true
			switch {
			case from == to:
				want = true
			case from == domain.OrderStatusCancelled:
				want = false
			case from == domain.OrderStatusCompleted:
				want = to == domain.OrderStatusCancelled
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition("bogus", domain.OrderStatusPending))
}

func TestCreateOrderSnapshotsPricesAndTotals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.createProduct(t, "A-1", "19.99", 10)
	b := h.createProduct(t, "B-1", "0.10", 10)

	order, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerRef: "cust-1",
		ActorRef:    "clerk",
		Lines: []OrderLineInput{
			{ProductID: a.ID, Quantity: 2},
			{ProductID: b.ID, Quantity: 3},
			{ProductID: a.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "ORD-000001", order.OrderNumber)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	require.Len(t, order.Lines, 2, "duplicate lines are merged")
	assert.Equal(t, 3, order.Lines[0].Quantity)
	assert.True(t, order.Lines[0].LineTotal.Equal(decimal.RequireFromString("59.97")))
	assert.True(t, order.Lines[1].LineTotal.Equal(decimal.RequireFromString("0.30")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("60.27")), "total %s", order.Total)

	assert.Equal(t, 10, h.onHand(t, a.ID), "pending orders do not touch stock")

	newPrice := decimal.RequireFromString("25.00")
	_, err = h.products.UpdateProduct(ctx, UpdateProductCommand{ProductID: a.ID, UnitPrice: &newPrice})
	require.NoError(t, err)
	stored, err := h.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Lines[0].UnitPrice.Equal(decimal.RequireFromString("19.99")), "price snapshot is immutable")
	assert.True(t, stored.Total.Equal(order.Total))

	events := h.orderEvents.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "order.created", events[0].Type)
}

func TestCreateOrderCompletedCommitsStock(t *testing.T) {
	h := newHarness(t)
	p := h.createProduct(t, "C-1", "5.00", 4)

	order, err := h.orders.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerRef:   "walk-in",
		ActorRef:      "clerk",
		InitialStatus: domain.OrderStatusCompleted,
		Lines:         []OrderLineInput{{ProductID: p.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	require.NotNil(t, order.CompletedAt)
	assert.Equal(t, 1, h.onHand(t, p.ID))
	h.assertBalanced(t, p.ID)

	page, err := h.ledger.List(context.Background(), p.ID, Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	last := page.Items[1]
	assert.Equal(t, domain.StockDirectionOut, last.Direction)
	assert.Equal(t, 3, last.Quantity)
	assert.Equal(t, "Order ORD-000001 completed", last.Cause)
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.createProduct(t, "A-1", "1.00", 5)
	b := h.createProduct(t, "B-1", "1.00", 1)

	_, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerRef: "cust",
		ActorRef:    "clerk",
		Lines:       []OrderLineInput{{ProductID: a.ID, Quantity: 2}, {ProductID: b.ID, Quantity: 2}},
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, b.ID, insufficient.ProductID)
	assert.Equal(t, 2, insufficient.Requested)
	assert.Equal(t, 1, insufficient.Available)

	_, err = h.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerRef: "cust",
		ActorRef:    "clerk",
		Lines:       []OrderLineInput{{ProductID: a.ID, Quantity: 1}, {ProductID: "ghost", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrProductNotFound)
	var missing *ProductNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ghost", missing.ProductID)

	page, err := h.orders.ListOrders(ctx, OrderListFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, h.orderEvents.snapshot())

	order, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerRef: "cust",
		ActorRef:    "clerk",
		Lines:       []OrderLineInput{{ProductID: a.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ORD-000001", order.OrderNumber, "failed creations do not consume numbers")
}

func TestCreateOrderRejectsWrappingMergedQuantity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProduct(t, "OVR-1", "1.00", 5)

	_, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerRef:   "cust",
		ActorRef:      "clerk",
		InitialStatus: domain.OrderStatusCompleted,
		Lines: []OrderLineInput{
			{ProductID: p.ID, Quantity: math.MaxInt},
			{ProductID: p.ID, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, ErrOrderInvalidInput)

	assert.Equal(t, 5, h.onHand(t, p.ID))
	page, err := h.orders.ListOrders(ctx, OrderListFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	h.assertBalanced(t, p.ID)
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	p := h.createProduct(t, "V-1", "1.00", 5)
	ctx := context.Background()

	cases := map[string]CreateOrderCommand{
		"no lines":         {CustomerRef: "c", ActorRef: "a"},
		"zero quantity":    {CustomerRef: "c", ActorRef: "a", Lines: []OrderLineInput{{ProductID: p.ID}}},
		"blank product":    {CustomerRef: "c", ActorRef: "a", Lines: []OrderLineInput{{Quantity: 1}}},
		"missing customer": {ActorRef: "a", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 1}}},
		"missing actor":    {CustomerRef: "c", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 1}}},
		"cancelled":        {CustomerRef: "c", ActorRef: "a", InitialStatus: domain.OrderStatusCancelled, Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 1}}},
		"unknown status":   {CustomerRef: "c", ActorRef: "a", InitialStatus: "archived", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 1}}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.orders.CreateOrder(ctx, cmd)
			require.ErrorIs(t, err, ErrOrderInvalidInput)
		})
	}

	status := domain.ProductStatusInactive
	_, err := h.products.UpdateProduct(ctx, UpdateProductCommand{ProductID: p.ID, Status: &status})
	require.NoError(t, err)
	_, err = h.orders.CreateOrder(ctx, CreateOrderCommand{CustomerRef: "c", ActorRef: "a", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 1}}})
	require.ErrorIs(t, err, ErrOrderInvalidInput, "inactive products cannot be ordered")
}

func TestTransitionCompleteThenCancelRestoresStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.createProduct(t, "A-1", "2.50", 10)
	b := h.createProduct(t, "B-1", "1.00", 6)

	order, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerRef: "cust",
		ActorRef:    "clerk",
		Lines:       []OrderLineInput{{ProductID: a.ID, Quantity: 4}, {ProductID: b.ID, Quantity: 6}},
	})
	require.NoError(t, err)

	for _, status := range []OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusShipped} {
		_, err = h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: order.ID, TargetStatus: status, ActorRef: "clerk"})
		require.NoError(t, err)
		assert.Equal(t, 10, h.onHand(t, a.ID))
	}

	completed, err := h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusCompleted, ActorRef: "clerk"})
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, 6, h.onHand(t, a.ID))
	assert.Equal(t, 0, h.onHand(t, b.ID))

	cancelled, err := h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusCancelled, ActorRef: "clerk"})
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 10, h.onHand(t, a.ID), "cancellation reverses the completion exactly")
	assert.Equal(t, 6, h.onHand(t, b.ID))

	page, err := h.ledger.List(ctx, a.ID, Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "Order ORD-000001 cancelled", page.Items[2].Cause)
	assert.Equal(t, domain.StockDirectionIn, page.Items[2].Direction)
	h.assertBalanced(t, a.ID)
	h.assertBalanced(t, b.ID)

	_, err = h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusPending})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.ErrorIs(t, err, ErrOrderInvalidState)
	assert.Equal(t, domain.OrderStatusCancelled, invalid.From)
}

func TestTransitionSameStatusIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProduct(t, "N-1", "1.00", 5)
	order, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerRef:   "c",
		ActorRef:      "a",
		InitialStatus: domain.OrderStatusCompleted,
		Lines:         []OrderLineInput{{ProductID: p.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	eventsBefore := len(h.orderEvents.snapshot())
	stockEventsBefore := len(h.stockEvents.snapshot())

	again, err := h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, order.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, 3, h.onHand(t, p.ID), "repeating completion must not decrement twice")
	assert.Len(t, h.orderEvents.snapshot(), eventsBefore)
	assert.Len(t, h.stockEvents.snapshot(), stockEventsBefore)
}

func TestTransitionCompletionFailsOnInsufficientStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProduct(t, "S-1", "1.00", 5)
	first, err := h.orders.CreateOrder(ctx, CreateOrderCommand{CustomerRef: "c", ActorRef: "a", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 4}}})
	require.NoError(t, err)
	second, err := h.orders.CreateOrder(ctx, CreateOrderCommand{CustomerRef: "c", ActorRef: "a", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 4}}})
	require.NoError(t, err)

	_, err = h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: first.ID, TargetStatus: domain.OrderStatusCompleted})
	require.NoError(t, err)
	_, err = h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: second.ID, TargetStatus: domain.OrderStatusCompleted})
	require.ErrorIs(t, err, ErrInsufficientStock)

	stored, err := h.orders.GetOrder(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status, "failed completion leaves the status unchanged")
	assert.Equal(t, 1, h.onHand(t, p.ID))
	h.assertBalanced(t, p.ID)
}

func TestTransitionErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: "missing", TargetStatus: domain.OrderStatusShipped})
	require.ErrorIs(t, err, ErrOrderNotFound)
	_, err = h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: "x", TargetStatus: "lost"})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
	_, err = h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{TargetStatus: domain.OrderStatusShipped})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestConcurrentCompletionsNeverOversell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProduct(t, "RACE-1", "1.00", 5)

	const racers = 8
	ids := make([]string, racers)
	for i := range ids {
		order, err := h.orders.CreateOrder(ctx, CreateOrderCommand{CustomerRef: "c", ActorRef: "a", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 3}}})
		require.NoError(t, err)
		ids[i] = order.ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: id, TargetStatus: domain.OrderStatusCompleted})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, racers-1, rejected)
	assert.Equal(t, 2, h.onHand(t, p.ID))
	h.assertBalanced(t, p.ID)
}

func TestConcurrentCompleteAndCancelKeepLedgerBalanced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.createProduct(t, "A-1", "1.00", 50)
	b := h.createProduct(t, "B-1", "1.00", 50)

	var orders []string
	for i := 0; i < 10; i++ {
		// Alternate line order so lock ordering is exercised in both directions.
		lines := []OrderLineInput{{ProductID: a.ID, Quantity: 2}, {ProductID: b.ID, Quantity: 3}}
		if i%2 == 1 {
			lines[0], lines[1] = lines[1], lines[0]
		}
		order, err := h.orders.CreateOrder(ctx, CreateOrderCommand{CustomerRef: "c", ActorRef: "a", Lines: lines})
		require.NoError(t, err)
		orders = append(orders, order.ID)
	}

	var wg sync.WaitGroup
	for _, id := range orders {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: id, TargetStatus: domain.OrderStatusCompleted})
			assert.NoError(t, err)
			_, err = h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: id, TargetStatus: domain.OrderStatusCancelled})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 50, h.onHand(t, a.ID))
	assert.Equal(t, 50, h.onHand(t, b.ID))
	h.assertBalanced(t, a.ID)
	h.assertBalanced(t, b.ID)
}

func TestRandomOperationsKeepReconciliationInvariant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	products := []Product{
		h.createProduct(t, "P-1", "1.25", 20),
		h.createProduct(t, "P-2", "3.10", 5),
		h.createProduct(t, "P-3", "0.99", 0),
	}
	statuses := []OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusCompleted, domain.OrderStatusCancelled,
	}
	var orderIDs []string

	for step := 0; step < 300; step++ {
		p := products[rng.Intn(len(products))]
		switch rng.Intn(5) {
		case 0:
			order, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
				CustomerRef:   "c",
				ActorRef:      "a",
				InitialStatus: statuses[rng.Intn(len(statuses)-1)],
				Lines:         []OrderLineInput{{ProductID: p.ID, Quantity: 1 + rng.Intn(4)}},
			})
			if err == nil {
				orderIDs = append(orderIDs, order.ID)
			} else {
				require.ErrorIs(t, err, ErrInsufficientStock)
			}
		case 1, 2:
			if len(orderIDs) == 0 {
				continue
			}
			id := orderIDs[rng.Intn(len(orderIDs))]
			_, err := h.orders.TransitionOrderStatus(ctx, TransitionOrderCommand{OrderID: id, TargetStatus: statuses[rng.Intn(len(statuses))]})
			if err != nil && !errors.Is(err, ErrInsufficientStock) && !errors.Is(err, ErrOrderInvalidState) {
				t.Fatalf("unexpected transition error: %v", err)
			}
		case 3:
			_, err := h.products.UpdateStock(ctx, UpdateStockCommand{ProductID: p.ID, Type: domain.StockDirectionIn, Quantity: 1 + rng.Intn(3)})
			require.NoError(t, err)
		case 4:
			_, err := h.products.UpdateStock(ctx, UpdateStockCommand{ProductID: p.ID, Type: domain.StockDirectionAdjustment, Quantity: rng.Intn(15)})
			require.NoError(t, err)
		}

		for _, p := range products {
			qty := h.onHand(t, p.ID)
			require.GreaterOrEqual(t, qty, 0)
			h.assertBalanced(t, p.ID)
		}
	}
}

func TestUpdateOrderDetails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProduct(t, "D-1", "1.00", 5)
	order, err := h.orders.CreateOrder(ctx, CreateOrderCommand{CustomerRef: "c", ActorRef: "a", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)

	notes := "  deliver after 5pm "
	updated, err := h.orders.UpdateOrderDetails(ctx, UpdateOrderDetailsCommand{OrderID: order.ID, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "deliver after 5pm", updated.Notes)
	assert.Equal(t, order.Status, updated.Status)
	assert.True(t, updated.Total.Equal(order.Total))

	_, err = h.orders.UpdateOrderDetails(ctx, UpdateOrderDetailsCommand{OrderID: order.ID})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
	_, err = h.orders.UpdateOrderDetails(ctx, UpdateOrderDetailsCommand{OrderID: "missing", Notes: &notes})
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrdersFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProduct(t, "L-1", "1.00", 50)
	for i := 0; i < 3; i++ {
		_, err := h.orders.CreateOrder(ctx, CreateOrderCommand{CustomerRef: "c", ActorRef: "a", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 1}}})
		require.NoError(t, err)
	}
	_, err := h.orders.CreateOrder(ctx, CreateOrderCommand{CustomerRef: "c", ActorRef: "a", InitialStatus: domain.OrderStatusCompleted, Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)

	completed, err := h.orders.ListOrders(ctx, OrderListFilter{Status: []OrderStatus{domain.OrderStatusCompleted}})
	require.NoError(t, err)
	require.Len(t, completed.Items, 1)
	assert.Equal(t, "ORD-000004", completed.Items[0].OrderNumber)

	search, err := h.orders.ListOrders(ctx, OrderListFilter{NumberQuery: "000002"})
	require.NoError(t, err)
	require.Len(t, search.Items, 1)

	first, err := h.orders.ListOrders(ctx, OrderListFilter{Pagination: Pagination{PageSize: 3}})
	require.NoError(t, err)
	require.Len(t, first.Items, 3)
	assert.Equal(t, "ORD-000004", first.Items[0].OrderNumber, "newest first")
	require.NotEmpty(t, first.NextPageToken)

	_, err = h.orders.ListOrders(ctx, OrderListFilter{Status: []OrderStatus{"bogus"}})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestPublishFailureDoesNotFailCommit(t *testing.T) {
	h := newHarness(t)
	h.orderEvents.err = errors.New("pubsub down")
	p := h.createProduct(t, "E-1", "1.00", 5)

	order, err := h.orders.CreateOrder(context.Background(), CreateOrderCommand{CustomerRef: "c", ActorRef: "a", Lines: []OrderLineInput{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)
	_, err = h.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
}
