package store

import (
	"context"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeDocumentCollection keeps marshalled documents in memory and matches
// filters by equality on top-level fields.
type fakeDocumentCollection struct {
	t    *testing.T
	mu   sync.Mutex
	docs []bson.M
}

func newFakeDocumentCollection(t *testing.T) *fakeDocumentCollection {
	return &fakeDocumentCollection{t: t}
}

func (c *fakeDocumentCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			return mongo.NewSingleResultFromDocument(doc, nil, nil)
		}
	}
	return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
}

func (c *fakeDocumentCollection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	raw, err := bson.Marshal(replacement)
	if err != nil {
		c.t.Fatalf("marshal replacement: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		c.t.Fatalf("unmarshal replacement: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.docs {
		if matches(existing, filter.(bson.M)) {
			c.docs[i] = doc
			return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}

	upsert := false
	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil {
			upsert = *opt.Upsert
		}
	}
	if !upsert {
		return &mongo.UpdateResult{}, nil
	}

	c.docs = append(c.docs, doc)
	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func (c *fakeDocumentCollection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return &mongo.DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &mongo.DeleteResult{}, nil
}

func (c *fakeDocumentCollection) DeleteMany(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.docs[:0]
	var deleted int64
	for _, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return &mongo.DeleteResult{DeletedCount: deleted}, nil
}

func matches(doc bson.M, filter bson.M) bool {
	for key, want := range filter {
		if doc[key] != want {
			return false
		}
	}
	return true
}
