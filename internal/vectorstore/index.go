package vectorstore

import (
	"context"
	"sync"
)

// Index binds a Client to one collection and creates it on first use.
type Index struct {
	client     *Client
	collection string
	dimension  uint64

	once    sync.Once
	initErr error
}

// NewIndex returns an index over collection with vectors of dimension.
func NewIndex(client *Client, collection string, dimension int) *Index {
	return &Index{client: client, collection: collection, dimension: uint64(dimension)}
}

func (i *Index) ensure(ctx context.Context) error {
	i.once.Do(func() {
		i.initErr = i.client.EnsureCollection(ctx, i.collection, i.dimension)
	})
	return i.initErr
}

// Nearest returns the closest point matching the payload filter, or nil.
func (i *Index) Nearest(ctx context.Context, vector []float32, match map[string]string) (*SearchResult, error) {
	if err := i.ensure(ctx); err != nil {
		return nil, err
	}
	hits, err := i.client.Search(ctx, i.collection, vector, Query{Limit: 1, Match: match})
	if err != nil || len(hits) == 0 {
		return nil, err
	}
	return &hits[0], nil
}

// Remember stores a vector under id.
func (i *Index) Remember(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	if err := i.ensure(ctx); err != nil {
		return err
	}
	return i.client.Upsert(ctx, i.collection, id, vector, payload)
}
