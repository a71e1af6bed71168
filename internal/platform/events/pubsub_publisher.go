package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/textutil"
)

// OrderMessage is the JSON payload published for order events.
type OrderMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorRef       string         `json:"actorRef,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// StockMessage is the JSON payload published for stock events.
type StockMessage struct {
	Type          string    `json:"type"`
	ProductID     string    `json:"productId"`
	SKU           string    `json:"sku"`
	LedgerEntryID string    `json:"ledgerEntryId"`
	Direction     string    `json:"direction"`
	Delta         int       `json:"delta"`
	Quantity      int       `json:"quantity"`
	LowStock      bool      `json:"lowStock"`
	Cause         string    `json:"cause"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PubSubPublisher delivers committed order and stock events to Pub/Sub topics.
type PubSubPublisher struct {
	orders  *pubsub.Topic
	stock   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a publisher over the supplied topics.
func NewPubSubPublisher(orders, stock *pubsub.Topic) (*PubSubPublisher, error) {
	if orders == nil {
		return nil, errors.New("pubsub publisher: order topic is required")
	}
	if stock == nil {
		return nil, errors.New("pubsub publisher: stock topic is required")
	}
	return &PubSubPublisher{
		orders:  orders,
		stock:   stock,
		marshal: json.Marshal,
	}, nil
}

// NewClient creates a Pub/Sub client, dialling the emulator without credentials when a host is supplied.
func NewClient(ctx context.Context, projectID, emulatorHost string, opts ...option.ClientOption) (*pubsub.Client, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("pubsub: project id is required")
	}
	if host := strings.TrimSpace(emulatorHost); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	return client, nil
}

// PublishOrderEvent publishes the order event and waits for the server acknowledgement.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	if p == nil || p.orders == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	message := OrderMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		ActorRef:       event.ActorRef,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
	attrs := textutil.CompactAttributes(map[string]string{
		"type":        event.Type,
		"orderId":     event.OrderID,
		"orderNumber": event.OrderNumber,
		"status":      string(event.CurrentStatus),
	})
	return p.publish(ctx, p.orders, message, attrs)
}

// PublishStockEvent publishes the stock event and waits for the server acknowledgement.
func (p *PubSubPublisher) PublishStockEvent(ctx context.Context, event domain.StockEvent) error {
	if p == nil || p.stock == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	message := StockMessage{
		Type:          event.Type,
		ProductID:     event.ProductID,
		SKU:           event.SKU,
		LedgerEntryID: event.LedgerEntryID,
		Direction:     string(event.Direction),
		Delta:         event.Delta,
		Quantity:      event.Quantity,
		LowStock:      event.Quantity <= event.MinStock,
		Cause:         event.Cause,
		OccurredAt:    event.OccurredAt.UTC(),
	}
	attrs := textutil.CompactAttributes(map[string]string{
		"type":      event.Type,
		"productId": event.ProductID,
		"sku":       event.SKU,
	})
	return p.publish(ctx, p.stock, message, attrs)
}

// Ping reports an error when either topic is missing or unreachable. Used by readiness checks.
func (p *PubSubPublisher) Ping(ctx context.Context) error {
	if p == nil || p.orders == nil || p.stock == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	for _, topic := range []*pubsub.Topic{p.orders, p.stock} {
		exists, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("check topic %s: %w", topic.ID(), err)
		}
		if !exists {
			return fmt.Errorf("topic %s does not exist", topic.ID())
		}
	}
	return nil
}

// Stop flushes pending messages on both topics.
func (p *PubSubPublisher) Stop() {
	if p == nil {
		return
	}
	p.orders.Stop()
	p.stock.Stop()
}

func (p *PubSubPublisher) publish(ctx context.Context, topic *pubsub.Topic, message any, attrs map[string]string) error {
	data, err := p.marshal(message)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	for key, value := range attrs {
		if value == "" {
			delete(attrs, key)
		}
	}
	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", topic.ID(), err)
	}
	return nil
}
