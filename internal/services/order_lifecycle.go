package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

const (
	eventOrderCreated       = "order.created"
	eventOrderStatusChanged = "order.status.changed"

	tracerName = "github.com/stockline/api/internal/services"
)

// OrderLifecycleDeps bundles the collaborators required by the lifecycle controller.
type OrderLifecycleDeps struct {
	UnitOfWork repositories.UnitOfWork
	Orders     repositories.OrderRepository
	Builder    OrderBuilder
	Stock      StockAccessor
	Events     OrderEventPublisher
	Clock      func() time.Time
	Tracer     trace.Tracer
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderLifecycle struct {
	uow     repositories.UnitOfWork
	orders  repositories.OrderRepository
	builder OrderBuilder
	stock   StockAccessor
	events  OrderEventPublisher
	clock   func() time.Time
	tracer  trace.Tracer
	logger  func(context.Context, string, map[string]any)
}

// NewOrderLifecycleController wires the state machine that owns order stock effects.
func NewOrderLifecycleController(deps OrderLifecycleDeps) (OrderLifecycleController, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("order lifecycle: unit of work is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order lifecycle: order repository is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("order lifecycle: order builder is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order lifecycle: stock accessor is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderLifecycle{
		uow:     deps.UnitOfWork,
		orders:  deps.Orders,
		builder: deps.Builder,
		stock:   deps.Stock,
		events:  deps.Events,
		clock:   func() time.Time { return clock().UTC() },
		tracer:  tracer,
		logger:  logger,
	}, nil
}

// CanTransition reports whether an order may move from one status to another.
// Non-terminal statuses may move anywhere, completed may only be cancelled and
// cancelled is final. Staying in the same status is always allowed as a no-op.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case domain.OrderStatusCancelled:
		return false
	case domain.OrderStatusCompleted:
		return to == domain.OrderStatusCancelled
	default:
		return true
	}
}

func (c *orderLifecycle) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	ctx, span := c.tracer.Start(ctx, "orders.create")
	defer func() { endSpan(span, err) }()

	err = runUnit(ctx, c.uow, func(ctx context.Context) error {
		built, err := c.builder.Build(ctx, BuildOrderCommand{
			CustomerRef:   cmd.CustomerRef,
			Lines:         cmd.Lines,
			InitialStatus: cmd.InitialStatus,
			CreatorRef:    cmd.ActorRef,
			Notes:         cmd.Notes,
			OrderedAt:     cmd.OrderedAt,
		})
		if err != nil {
			return err
		}
		if built.Status == domain.OrderStatusCompleted {
			if _, err := c.stock.AdjustMany(ctx, stockDeltas(built, -1, "completed")); err != nil {
				return err
			}
			completedAt := built.CreatedAt
			built.CompletedAt = &completedAt
		}
		if err := c.orders.Insert(ctx, built); err != nil {
			return mapOrderRepositoryError(err)
		}

		order = built
		event := OrderEvent{
			Type:          eventOrderCreated,
			OrderID:       built.ID,
			OrderNumber:   built.OrderNumber,
			CurrentStatus: built.Status,
			ActorRef:      built.CreatedBy,
			OccurredAt:    built.CreatedAt,
			Metadata: map[string]any{
				"customerRef": built.CustomerRef,
				"total":       built.Total.String(),
				"lines":       len(built.Lines),
			},
		}
		stageEvent(ctx, func(ctx context.Context) { c.publish(ctx, event) })
		return nil
	})
	if err != nil {
		return Order{}, c.wrap(err)
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.number", order.OrderNumber),
		attribute.String("order.status", string(order.Status)),
	)
	return order, nil
}

func (c *orderLifecycle) TransitionOrderStatus(ctx context.Context, cmd TransitionOrderCommand) (order Order, err error) {
	ctx, span := c.tracer.Start(ctx, "orders.transition", trace.WithAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.target_status", string(cmd.TargetStatus)),
	))
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	actor := strings.TrimSpace(cmd.ActorRef)
	switch {
	case orderID == "":
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	case !cmd.TargetStatus.Valid():
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	err = runUnit(ctx, c.uow, func(ctx context.Context) error {
		current, err := c.orders.LockForUpdate(ctx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		from, to := current.Status, cmd.TargetStatus
		if from == to {
			order = current
			return nil
		}
		if !CanTransition(from, to) {
			return &InvalidTransitionError{From: from, To: to}
		}

		now := c.clock()
		switch {
		case to == domain.OrderStatusCompleted:
			if _, err := c.stock.AdjustMany(ctx, stockDeltas(current, -1, "completed")); err != nil {
				return err
			}
			current.CompletedAt = &now
		case from == domain.OrderStatusCompleted && to == domain.OrderStatusCancelled:
			if _, err := c.stock.AdjustMany(ctx, stockDeltas(current, 1, "cancelled")); err != nil {
				return err
			}
		}
		if to == domain.OrderStatusCancelled {
			current.CancelledAt = &now
		}
		current.Status = to
		current.UpdatedAt = now
		if err := c.orders.Update(ctx, current); err != nil {
			return mapOrderRepositoryError(err)
		}

		order = current
		event := OrderEvent{
			Type:           eventOrderStatusChanged,
			OrderID:        current.ID,
			OrderNumber:    current.OrderNumber,
			PreviousStatus: from,
			CurrentStatus:  to,
			ActorRef:       actor,
			OccurredAt:     now,
		}
		stageEvent(ctx, func(ctx context.Context) { c.publish(ctx, event) })
		return nil
	})
	if err != nil {
		return Order{}, c.wrap(err)
	}
	return order, nil
}

func (c *orderLifecycle) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (c *orderLifecycle) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	filter.NumberQuery = strings.TrimSpace(filter.NumberQuery)
	filter.CustomerRef = strings.TrimSpace(filter.CustomerRef)
	page, err := c.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

// UpdateOrderDetails edits notes and the ordered-at date. Lines, totals and status are untouched.
func (c *orderLifecycle) UpdateOrderDetails(ctx context.Context, cmd UpdateOrderDetailsCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Notes == nil && cmd.OrderedAt == nil {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}
	if cmd.Notes != nil && len(strings.TrimSpace(*cmd.Notes)) > maxOrderNotesLength {
		return Order{}, fmt.Errorf("%w: notes exceed %d characters", ErrOrderInvalidInput, maxOrderNotesLength)
	}
	if cmd.OrderedAt != nil && cmd.OrderedAt.IsZero() {
		return Order{}, fmt.Errorf("%w: orderedAt must be set", ErrOrderInvalidInput)
	}

	var order Order
	err := runUnit(ctx, c.uow, func(ctx context.Context) error {
		current, err := c.orders.LockForUpdate(ctx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if cmd.Notes != nil {
			current.Notes = strings.TrimSpace(*cmd.Notes)
		}
		if cmd.OrderedAt != nil {
			current.OrderedAt = cmd.OrderedAt.UTC()
		}
		current.UpdatedAt = c.clock()
		if err := c.orders.Update(ctx, current); err != nil {
			return mapOrderRepositoryError(err)
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, c.wrap(err)
	}
	c.logger(ctx, "order.details.updated", map[string]any{
		"orderId": order.ID,
		"actor":   strings.TrimSpace(cmd.ActorRef),
	})
	return order, nil
}

func (c *orderLifecycle) publish(ctx context.Context, event OrderEvent) {
	c.logger(ctx, event.Type, map[string]any{
		"orderId":        event.OrderID,
		"orderNumber":    event.OrderNumber,
		"previousStatus": string(event.PreviousStatus),
		"status":         string(event.CurrentStatus),
		"actor":          event.ActorRef,
	})
	if c.events == nil {
		return
	}
	if err := c.events.PublishOrderEvent(ctx, event); err != nil {
		c.logger(ctx, "order.event.publish_failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

// wrap keeps service errors intact and classifies remaining repository failures.
func (c *orderLifecycle) wrap(err error) error {
	if err == nil || isServiceError(err) {
		return err
	}
	return mapOrderRepositoryError(err)
}

// stockDeltas converts order lines into signed stock adjustments.
func stockDeltas(order Order, sign int, verb string) []StockAdjustment {
	cause := fmt.Sprintf("Order %s %s", order.OrderNumber, verb)
	out := make([]StockAdjustment, 0, len(order.Lines))
	for _, line := range order.Lines {
		out = append(out, StockAdjustment{ProductID: line.ProductID, Delta: sign * line.Quantity, Cause: cause})
	}
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
