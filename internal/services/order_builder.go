package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

const (
	maxOrderLines        = 200
	maxOrderNotesLength  = 2000
	maxCustomerRefLength = 200
)

// OrderBuilderDeps bundles the collaborators required to assemble orders.
type OrderBuilderDeps struct {
	Products    repositories.ProductRepository
	Counters    CounterService
	Clock       func() time.Time
	IDGenerator func() string
}

type orderBuilder struct {
	products repositories.ProductRepository
	counters CounterService
	clock    func() time.Time
	newID    func() string
}

// NewOrderBuilder constructs the order aggregate builder.
func NewOrderBuilder(deps OrderBuilderDeps) (OrderBuilder, error) {
	if deps.Products == nil {
		return nil, errors.New("order builder: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order builder: counter service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &orderBuilder{
		products: deps.Products,
		counters: deps.Counters,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
	}, nil
}

// Build validates lines, locks and snapshots the referenced products and allocates the
// order number. It must run inside the caller's unit of work and never changes stock.
func (b *orderBuilder) Build(ctx context.Context, cmd BuildOrderCommand) (Order, error) {
	customerRef := strings.TrimSpace(cmd.CustomerRef)
	creatorRef := strings.TrimSpace(cmd.CreatorRef)
	notes := strings.TrimSpace(cmd.Notes)
	status := cmd.InitialStatus
	if status == "" {
		status = domain.OrderStatusPending
	}

	switch {
	case customerRef == "":
		return Order{}, fmt.Errorf("%w: customer reference is required", ErrOrderInvalidInput)
	case len(customerRef) > maxCustomerRefLength:
		return Order{}, fmt.Errorf("%w: customer reference exceeds %d characters", ErrOrderInvalidInput, maxCustomerRefLength)
	case creatorRef == "":
		return Order{}, fmt.Errorf("%w: creator reference is required", ErrOrderInvalidInput)
	case !status.Valid():
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
	case status == domain.OrderStatusCancelled:
		return Order{}, fmt.Errorf("%w: orders cannot be created cancelled", ErrOrderInvalidInput)
	case len(notes) > maxOrderNotesLength:
		return Order{}, fmt.Errorf("%w: notes exceed %d characters", ErrOrderInvalidInput, maxOrderNotesLength)
	}

	lines, err := mergeOrderLines(cmd.Lines)
	if err != nil {
		return Order{}, err
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := b.products.LockForUpdate(ctx, ids)
	if err != nil {
		return Order{}, mapStockRepositoryError(err)
	}

	total := decimal.Zero
	built := make([]OrderLine, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return Order{}, &ProductNotFoundError{ProductID: line.ProductID}
		}
		if product.Status != domain.ProductStatusActive {
			return Order{}, fmt.Errorf("%w: product %s is not active", ErrOrderInvalidInput, product.ID)
		}
		if line.Quantity > product.Quantity {
			return Order{}, &InsufficientStockError{
				ProductID: product.ID,
				SKU:       product.SKU,
				Requested: line.Quantity,
				Available: product.Quantity,
			}
		}
		lineTotal := product.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		total = total.Add(lineTotal)
		built = append(built, OrderLine{
			ProductID: product.ID,
			SKU:       product.SKU,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: product.UnitPrice,
			LineTotal: lineTotal,
		})
	}

	number, err := b.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	now := b.clock()
	orderedAt := now
	if cmd.OrderedAt != nil && !cmd.OrderedAt.IsZero() {
		orderedAt = cmd.OrderedAt.UTC()
	}
	return Order{
		ID:          b.newID(),
		OrderNumber: number,
		CustomerRef: customerRef,
		CreatedBy:   creatorRef,
		Status:      status,
		Lines:       built,
		Total:       total,
		Notes:       notes,
		OrderedAt:   orderedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// mergeOrderLines validates lines and folds duplicates, keeping first-seen order.
func mergeOrderLines(lines []OrderLineInput) ([]OrderLineInput, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	if len(lines) > maxOrderLines {
		return nil, fmt.Errorf("%w: at most %d lines are allowed", ErrOrderInvalidInput, maxOrderLines)
	}
	index := make(map[string]int, len(lines))
	merged := make([]OrderLineInput, 0, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: lines[%d].productId is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: lines[%d].quantity must be positive", ErrOrderInvalidInput, i)
		}
		if line.Quantity > MaxStockQuantity {
			return nil, fmt.Errorf("%w: lines[%d].quantity exceeds %d", ErrOrderInvalidInput, i, MaxStockQuantity)
		}
		if pos, ok := index[id]; ok {
			if merged[pos].Quantity > MaxStockQuantity-line.Quantity {
				return nil, fmt.Errorf("%w: combined quantity for %s exceeds %d", ErrOrderInvalidInput, id, MaxStockQuantity)
			}
			merged[pos].Quantity += line.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, OrderLineInput{ProductID: id, Quantity: line.Quantity})
	}
	return merged, nil
}
