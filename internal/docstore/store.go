// Package docstore provides a generic JSON document store with two backends:
// SQLite for durable single-node deployments and an in-memory store for
// tests and storeless runs. The rest of the pipeline only relies on
// put/get and equality-or-range field queries with ordering and
// cursor-based pagination.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// Doc is a schemaless document. Values follow encoding/json conventions
// (string, float64, bool, []interface{}, map[string]interface{}).
type Doc map[string]interface{}

// Op is a field comparison operator for queries.
type Op string

const (
	OpEqual          Op = "=="
	OpGreater        Op = ">"
	OpGreaterOrEqual Op = ">="
	OpLess           Op = "<"
	OpLessOrEqual    Op = "<="
)

// Query selects documents in a collection by a single field comparison,
// with optional ordering, limit, and a document-ID cursor.
type Query struct {
	Field      string
	Op         Op
	Value      interface{}
	OrderBy    string
	Descending bool
	Limit      int
	StartAfter string
}

// Page is one page of query results.
type Page struct {
	Docs    []Doc
	Count   int
	HasMore bool
	LastID  string
}

// Store is the persistence collaborator used by the CTI pipeline.
type Store interface {
	// Put saves a document. An empty id means "assign one"; the assigned
	// or given id is returned. Existing documents are replaced.
	Put(ctx context.Context, collection, id string, doc Doc) (string, error)

	// Get fetches a document by id. Returns ErrNotFound when absent.
	// The returned document carries its id under the "id" key.
	Get(ctx context.Context, collection, id string) (Doc, error)

	// Query runs a single-field query against a collection. A zero-value
	// Query.Field matches every document in the collection.
	Query(ctx context.Context, collection string, q Query) (*Page, error)

	Close() error
}

// Encode converts a typed value into a Doc via a JSON round trip.
func Encode(v interface{}) (Doc, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode converts a Doc back into a typed value.
func Decode(doc Doc, v interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func validOp(op Op) bool {
	switch op {
	case OpEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
		return true
	}
	return false
}
