package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductStatus captures whether a product can be sold.
type ProductStatus string

const (
	// ProductStatusActive marks a product available for new orders.
	ProductStatusActive ProductStatus = "active"
	// ProductStatusInactive marks a product that was soft-deactivated.
	ProductStatusInactive ProductStatus = "inactive"
)

// Product is a sellable item with an on-hand stock quantity.
// Quantity is only ever written through the stock accessor.
type Product struct {
	ID              string
	SKU             string
	Name            string
	UnitPrice       decimal.Decimal
	Quantity        int
	InitialQuantity int
	MinStock        int
	Status          ProductStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsLowStock reports whether on-hand quantity is at or below the minimum threshold.
func (p Product) IsLowStock() bool {
	return p.Quantity <= p.MinStock
}

// StockDirection classifies a ledger entry.
type StockDirection string

const (
	StockDirectionIn         StockDirection = "in"
	StockDirectionOut        StockDirection = "out"
	StockDirectionAdjustment StockDirection = "adjustment"
)

// Valid reports whether the direction is one of the known values.
func (d StockDirection) Valid() bool {
	switch d {
	case StockDirectionIn, StockDirectionOut, StockDirectionAdjustment:
		return true
	}
	return false
}

// StockLedgerEntry is an immutable record of a single stock quantity change.
// Quantity is positive for in/out; for adjustment it is the signed delta applied.
type StockLedgerEntry struct {
	ID        string
	ProductID string
	Direction StockDirection
	Quantity  int
	Cause     string
	CreatedAt time.Time
}

// SignedDelta returns the change this entry applied to on-hand quantity.
func (e StockLedgerEntry) SignedDelta() int {
	switch e.Direction {
	case StockDirectionOut:
		return -e.Quantity
	default:
		return e.Quantity
	}
}

// StockReconciliation compares ledger history with the current on-hand quantity.
type StockReconciliation struct {
	ProductID       string
	InitialQuantity int
	LedgerDelta     int
	OnHand          int
	Entries         int
}

// Balanced reports whether initial quantity plus ledger deltas reproduces on-hand.
func (r StockReconciliation) Balanced() bool {
	return r.InitialQuantity+r.LedgerDelta == r.OnHand
}

// OrderStatus enumerates lifecycle states of a sales order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether the status is one of the known values.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// CommitsStock reports whether entering the status decrements on-hand stock.
func (s OrderStatus) CommitsStock() bool {
	return s == OrderStatusCompleted
}

// Order is a sales order owning one or more lines.
// Total is computed once at creation and never recomputed on read.
type Order struct {
	ID          string
	OrderNumber string
	CustomerRef string
	CreatedBy   string
	Status      OrderStatus
	Lines       []OrderLine
	Total       decimal.Decimal
	Notes       string
	OrderedAt   time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderLine holds a product quantity with the unit price snapshotted at creation.
type OrderLine struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorRef       string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// StockEvent describes a committed on-hand change for downstream consumers.
type StockEvent struct {
	Type          string
	ProductID     string
	SKU           string
	LedgerEntryID string
	Direction     StockDirection
	Delta         int
	Quantity      int
	MinStock      int
	Cause         string
	OccurredAt    time.Time
}

// Health statuses reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck stores the result of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
