package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and storeless runs. It is the
// configuration-selected fallback when no SQLite path is set, not a hidden
// branch inside another store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]Doc
	seq  map[string]map[string]int64
	next int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]Doc),
		seq:  make(map[string]map[string]int64),
	}
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// Put saves a document, assigning a UUID when id is empty.
func (m *MemoryStore) Put(ctx context.Context, collection, id string, doc Doc) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("collection is required")
	}
	if id == "" {
		id = uuid.New().String()
	}

	stored := make(Doc, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored["id"] = id

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]Doc)
		m.seq[collection] = make(map[string]int64)
	}
	if _, exists := m.data[collection][id]; !exists {
		m.next++
		m.seq[collection][id] = m.next
	}
	m.data[collection][id] = stored
	return id, nil
}

// Get fetches a document by id.
func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(doc), nil
}

// Query filters, orders, and pages documents in memory.
func (m *MemoryStore) Query(ctx context.Context, collection string, q Query) (*Page, error) {
	if q.Field != "" && !validOp(q.Op) {
		return nil, fmt.Errorf("unsupported query operator: %q", q.Op)
	}

	m.mu.RLock()
	var matched []Doc
	for _, doc := range m.data[collection] {
		if q.Field == "" || matchField(doc[q.Field], q.Op, q.Value) {
			matched = append(matched, copyDoc(doc))
		}
	}
	seq := m.seq[collection]
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		var cmp int
		if q.OrderBy != "" {
			cmp = compareValues(matched[i][q.OrderBy], matched[j][q.OrderBy])
		} else {
			cmp = compareValues(seq[docID(matched[i])], seq[docID(matched[j])])
		}
		if cmp == 0 {
			cmp = strings.Compare(docID(matched[i]), docID(matched[j]))
		}
		if q.Descending {
			return cmp > 0
		}
		return cmp < 0
	})

	if q.StartAfter != "" {
		idx := -1
		for i, doc := range matched {
			if docID(doc) == q.StartAfter {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("pagination cursor %q not found", q.StartAfter)
		}
		matched = matched[idx+1:]
	}

	page := &Page{}
	if q.Limit > 0 && len(matched) > q.Limit {
		page.Docs = matched[:q.Limit]
		page.HasMore = true
	} else {
		page.Docs = matched
		page.HasMore = false
	}
	page.Count = len(page.Docs)
	if page.Count > 0 {
		page.LastID = docID(page.Docs[page.Count-1])
	}
	return page, nil
}

func docID(doc Doc) string {
	id, _ := doc["id"].(string)
	return id
}

func copyDoc(doc Doc) Doc {
	out := make(Doc, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func matchField(have interface{}, op Op, want interface{}) bool {
	cmp := compareValues(have, want)
	switch op {
	case OpEqual:
		return cmp == 0
	case OpGreater:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	case OpLess:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	}
	return false
}

// compareValues orders JSON-typed values: nil sorts first, numbers and
// strings compare within their kind, anything else falls back to the
// formatted representation.
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
