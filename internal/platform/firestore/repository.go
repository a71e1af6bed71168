package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Collection is a typed handle on a top-level collection. T is the stored document
// shape; callers convert it to their domain type.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a document shape to a collection name.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Ref resolves the collection reference on the provider's client.
func (c *Collection[T]) Ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

// Doc resolves the reference of one document.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Query returns the unfiltered query over the collection.
func (c *Collection[T]) Query(ctx context.Context) (firestore.Query, error) {
	coll, err := c.Ref(ctx)
	if err != nil {
		return firestore.Query{}, err
	}
	return coll.Query, nil
}

// GetTx reads and decodes one document inside tx. A missing document yields an error
// for which IsNotFound reports true.
func (c *Collection[T]) GetTx(ctx context.Context, tx *firestore.Transaction, id string) (T, error) {
	var doc T
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return doc, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		return doc, WrapError(c.op("get"), err)
	}
	if err := snap.DataTo(&doc); err != nil {
		return doc, fmt.Errorf("%s: decode %s: %w", c.op("get"), id, err)
	}
	return doc, nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

// Each decodes the documents yielded by iter into T and passes them to fn until the
// iterator is exhausted or fn returns false. The iterator is always stopped.
func Each[T any](iter *firestore.DocumentIterator, op string, fn func(id string, doc T) (bool, error)) error {
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return WrapError(op, err)
		}
		var doc T
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("%s: decode %s: %w", op, snap.Ref.ID, err)
		}
		more, err := fn(snap.Ref.ID, doc)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Refs collects the references yielded by iter. Pair it with a Select() query to skip
// document payloads.
func Refs(iter *firestore.DocumentIterator, op string) ([]*firestore.DocumentRef, error) {
	defer iter.Stop()
	var refs []*firestore.DocumentRef
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return refs, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		refs = append(refs, snap.Ref)
	}
}
