package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

const (
	stockMetricNamespace = "github.com/stockline/api/internal/services"
	eventStockAdjusted   = "stock.adjusted"
)

// MaxStockQuantity bounds every on-hand quantity, order line quantity and stock delta.
const MaxStockQuantity = 1_000_000_000

// withinStockLimit reports whether adding delta keeps current at or below
// MaxStockQuantity without computing a sum that could wrap.
func withinStockLimit(current, delta int) bool {
	if delta > 0 {
		return current <= MaxStockQuantity-delta
	}
	return true
}

// StockAccessorDeps bundles the collaborators required by the stock accessor.
type StockAccessorDeps struct {
	UnitOfWork repositories.UnitOfWork
	Products   repositories.ProductRepository
	Ledger     StockLedger
	Events     StockEventPublisher
	Clock      func() time.Time
	Meter      metric.Meter
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type stockAccessor struct {
	uow      repositories.UnitOfWork
	products repositories.ProductRepository
	ledger   StockLedger
	events   StockEventPublisher
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)

	adjustments  metric.Int64Counter
	insufficient metric.Int64Counter
}

// NewStockAccessor constructs the single writer of product on-hand quantity.
func NewStockAccessor(deps StockAccessorDeps) (StockAccessor, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("stock accessor: unit of work is required")
	}
	if deps.Products == nil {
		return nil, errors.New("stock accessor: product repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("stock accessor: stock ledger is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(stockMetricNamespace)
	}

	adjustments, err := meter.Int64Counter("stock.adjustments",
		metric.WithDescription("Count of applied on-hand stock changes"))
	if err != nil {
		return nil, fmt.Errorf("stock accessor: register adjustments metric: %w", err)
	}
	insufficient, err := meter.Int64Counter("stock.insufficient",
		metric.WithDescription("Count of stock decrements rejected for insufficient on-hand quantity"))
	if err != nil {
		return nil, fmt.Errorf("stock accessor: register insufficient metric: %w", err)
	}

	return &stockAccessor{
		uow:          deps.UnitOfWork,
		products:     deps.Products,
		ledger:       deps.Ledger,
		events:       deps.Events,
		clock:        func() time.Time { return clock().UTC() },
		logger:       logger,
		adjustments:  adjustments,
		insufficient: insufficient,
	}, nil
}

func (s *stockAccessor) GetAvailable(ctx context.Context, productID string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return 0, mapStockRepositoryError(err)
	}
	return product.Quantity, nil
}

func (s *stockAccessor) Adjust(ctx context.Context, productID string, delta int, cause string) (int, error) {
	result, err := s.AdjustMany(ctx, []StockAdjustment{{ProductID: productID, Delta: delta, Cause: cause}})
	if err != nil {
		return 0, err
	}
	return result[strings.TrimSpace(productID)], nil
}

// AdjustMany applies every adjustment or none. Rows are locked in ascending product ID order
// and every decrement is checked before any write.
func (s *stockAccessor) AdjustMany(ctx context.Context, adjustments []StockAdjustment) (map[string]int, error) {
	merged, order, err := mergeAdjustments(adjustments)
	if err != nil {
		return nil, err
	}

	result := make(map[string]int, len(order))
	err = runUnit(ctx, s.uow, func(ctx context.Context) error {
		clear(result)
		locked, err := s.products.LockForUpdate(ctx, order)
		if err != nil {
			return mapStockRepositoryError(err)
		}

		for _, id := range order {
			product, ok := locked[id]
			if !ok {
				return &ProductNotFoundError{ProductID: id}
			}
			adj := merged[id]
			if !withinStockLimit(product.Quantity, adj.Delta) {
				return fmt.Errorf("%w: product %s would exceed %d units on hand", ErrProductInvalidInput, id, MaxStockQuantity)
			}
			if adj.Delta < 0 && product.Quantity < -adj.Delta {
				s.insufficient.Add(ctx, 1)
				return &InsufficientStockError{
					ProductID: id,
					SKU:       product.SKU,
					Requested: -adj.Delta,
					Available: product.Quantity,
				}
			}
		}

		now := s.clock()
		for _, id := range order {
			product := locked[id]
			adj := merged[id]
			if adj.Delta == 0 {
				result[id] = product.Quantity
				continue
			}
			direction, quantity := domain.StockDirectionIn, adj.Delta
			if adj.Delta < 0 {
				direction, quantity = domain.StockDirectionOut, -adj.Delta
			}
			change, err := s.apply(ctx, product, adj.Delta, direction, quantity, adj.Cause, now)
			if err != nil {
				return err
			}
			result[id] = change.Current
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetOnHand records a stock-take: the absolute quantity is stored and the signed
// difference is recorded as an adjustment. A zero difference records nothing.
func (s *stockAccessor) SetOnHand(ctx context.Context, productID string, quantity int, cause string) (StockChange, error) {
	productID = strings.TrimSpace(productID)
	cause = strings.TrimSpace(cause)
	switch {
	case productID == "":
		return StockChange{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	case quantity < 0:
		return StockChange{}, fmt.Errorf("%w: quantity must be non-negative", ErrProductInvalidInput)
	case quantity > MaxStockQuantity:
		return StockChange{}, fmt.Errorf("%w: quantity exceeds %d", ErrProductInvalidInput, MaxStockQuantity)
	case cause == "":
		return StockChange{}, fmt.Errorf("%w: cause is required", ErrProductInvalidInput)
	}

	var change StockChange
	err := runUnit(ctx, s.uow, func(ctx context.Context) error {
		locked, err := s.products.LockForUpdate(ctx, []string{productID})
		if err != nil {
			return mapStockRepositoryError(err)
		}
		product, ok := locked[productID]
		if !ok {
			return &ProductNotFoundError{ProductID: productID}
		}
		delta := quantity - product.Quantity
		if delta == 0 {
			change = StockChange{
				ProductID: productID,
				SKU:       product.SKU,
				Direction: domain.StockDirectionAdjustment,
				Previous:  product.Quantity,
				Current:   product.Quantity,
			}
			return nil
		}
		change, err = s.apply(ctx, product, delta, domain.StockDirectionAdjustment, delta, cause, s.clock())
		return err
	})
	if err != nil {
		return StockChange{}, err
	}
	return change, nil
}

// apply writes the new quantity and its ledger entry for a locked product.
func (s *stockAccessor) apply(ctx context.Context, product Product, delta int, direction StockDirection, ledgerQuantity int, cause string, now time.Time) (StockChange, error) {
	next := product.Quantity + delta
	if err := s.products.SetQuantity(ctx, product.ID, next, now); err != nil {
		return StockChange{}, mapStockRepositoryError(err)
	}
	entryID, err := s.ledger.Append(ctx, product.ID, direction, ledgerQuantity, cause)
	if err != nil {
		return StockChange{}, err
	}

	change := StockChange{
		ProductID:     product.ID,
		SKU:           product.SKU,
		Direction:     direction,
		Previous:      product.Quantity,
		Current:       next,
		Delta:         delta,
		LedgerEntryID: entryID,
	}
	event := StockEvent{
		Type:          eventStockAdjusted,
		ProductID:     product.ID,
		SKU:           product.SKU,
		LedgerEntryID: entryID,
		Direction:     direction,
		Delta:         delta,
		Quantity:      next,
		MinStock:      product.MinStock,
		Cause:         cause,
		OccurredAt:    now,
	}
	stageEvent(ctx, func(ctx context.Context) {
		s.adjustments.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", string(direction))))
		s.publish(ctx, event)
	})
	return change, nil
}

func (s *stockAccessor) publish(ctx context.Context, event StockEvent) {
	fields := map[string]any{
		"productId": event.ProductID,
		"sku":       event.SKU,
		"direction": string(event.Direction),
		"delta":     event.Delta,
		"quantity":  event.Quantity,
	}
	if event.Quantity <= event.MinStock {
		fields["lowStock"] = true
	}
	s.logger(ctx, "stock.adjusted", fields)
	if s.events == nil {
		return
	}
	if err := s.events.PublishStockEvent(ctx, event); err != nil {
		s.logger(ctx, "stock.event.publish_failed", map[string]any{
			"productId": event.ProductID,
			"error":     err.Error(),
		})
	}
}

// mergeAdjustments validates and folds adjustments per product, returning IDs in lock order.
func mergeAdjustments(adjustments []StockAdjustment) (map[string]StockAdjustment, []string, error) {
	if len(adjustments) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one adjustment is required", ErrProductInvalidInput)
	}
	merged := make(map[string]StockAdjustment, len(adjustments))
	for i, adj := range adjustments {
		id := strings.TrimSpace(adj.ProductID)
		cause := strings.TrimSpace(adj.Cause)
		switch {
		case id == "":
			return nil, nil, fmt.Errorf("%w: adjustments[%d].productId is required", ErrProductInvalidInput, i)
		case adj.Delta == 0:
			return nil, nil, fmt.Errorf("%w: adjustments[%d].delta must be non-zero", ErrProductInvalidInput, i)
		case adj.Delta > MaxStockQuantity || adj.Delta < -MaxStockQuantity:
			return nil, nil, fmt.Errorf("%w: adjustments[%d].delta exceeds %d", ErrProductInvalidInput, i, MaxStockQuantity)
		case cause == "":
			return nil, nil, fmt.Errorf("%w: adjustments[%d].cause is required", ErrProductInvalidInput, i)
		}
		current, ok := merged[id]
		if !ok {
			merged[id] = StockAdjustment{ProductID: id, Delta: adj.Delta, Cause: cause}
			continue
		}
		// Both operands are within the limit, so the sum cannot wrap.
		current.Delta += adj.Delta
		if current.Delta > MaxStockQuantity || current.Delta < -MaxStockQuantity {
			return nil, nil, fmt.Errorf("%w: combined delta for %s exceeds %d", ErrProductInvalidInput, id, MaxStockQuantity)
		}
		merged[id] = current
	}
	order := make([]string, 0, len(merged))
	for id := range merged {
		order = append(order, id)
	}
	sort.Strings(order)
	return merged, order, nil
}
