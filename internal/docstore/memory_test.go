package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutGet(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	id, err := store.Put(ctx, "cti_items", "", Doc{"title": "test item", "severity": "HIGH"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	doc, err := store.Get(ctx, "cti_items", id)
	require.NoError(t, err)
	assert.Equal(t, "test item", doc["title"])
	assert.Equal(t, id, doc["id"])
}

func TestMemoryGetNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "cti_items", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPutReplacesExisting(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, "assets", "a1", Doc{"name": "old"})
	require.NoError(t, err)
	_, err = store.Put(ctx, "assets", "a1", Doc{"name": "new"})
	require.NoError(t, err)

	doc, err := store.Get(ctx, "assets", "a1")
	require.NoError(t, err)
	assert.Equal(t, "new", doc["name"])
}

func TestMemoryQueryByField(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, d := range []Doc{
		{"organizationId": "org-1", "name": "api-gw"},
		{"organizationId": "org-1", "name": "web"},
		{"organizationId": "org-2", "name": "db"},
	} {
		_, err := store.Put(ctx, "assets", "", d)
		require.NoError(t, err)
	}

	page, err := store.Query(ctx, "assets", Query{Field: "organizationId", Op: OpEqual, Value: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
}

func TestMemoryQueryOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, published := range []string{"2024-01-03T00:00:00Z", "2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z"} {
		_, err := store.Put(ctx, "cti_items", "", Doc{"publishedAt": published, "n": float64(i)})
		require.NoError(t, err)
	}

	page, err := store.Query(ctx, "cti_items", Query{OrderBy: "publishedAt", Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2024-01-03T00:00:00Z", page.Docs[0]["publishedAt"])
	assert.Equal(t, "2024-01-02T00:00:00Z", page.Docs[1]["publishedAt"])
}

func TestMemoryQueryCursor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	for _, score := range []float64{10, 20, 30} {
		id, err := store.Put(ctx, "alerts", "", Doc{"score": score})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	first, err := store.Query(ctx, "alerts", Query{OrderBy: "score", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 1, first.Count)

	rest, err := store.Query(ctx, "alerts", Query{OrderBy: "score", StartAfter: first.LastID})
	require.NoError(t, err)
	require.Equal(t, 2, rest.Count)
	assert.Equal(t, float64(20), rest.Docs[0]["score"])
}

func TestMemoryQueryBadCursor(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Query(context.Background(), "alerts", Query{StartAfter: "no-such-doc"})
	assert.Error(t, err)
}

func TestMemoryQueryBadOp(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Query(context.Background(), "alerts", Query{Field: "score", Op: "!=", Value: 1})
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	type record struct {
		Name string     `json:"name"`
		When *time.Time `json:"when,omitempty"`
		N    int        `json:"n"`
	}
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := record{Name: "x", When: &when, N: 7}

	doc, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, "x", doc["name"])

	var out record
	require.NoError(t, Decode(doc, &out))
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.N, out.N)
	require.NotNil(t, out.When)
	assert.True(t, when.Equal(*out.When))
}
