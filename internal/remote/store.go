package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collections under each owner's namespace.
const (
	CollectionTemplates = "templates"
	CollectionRecords   = "records"
)

// ErrNotFound is returned when a document id is unknown in its collection.
var ErrNotFound = errors.New("remote document not found")

// Document is one stored JSON document and its generated id.
type Document struct {
	ID   string
	Data []byte
}

// Store is a per-owner document store with one namespace per collection.
// Set replaces the whole document and creates it when missing.
type Store interface {
	Create(ctx context.Context, owner, collection string, data []byte) (string, error)
	Set(ctx context.Context, owner, collection, id string, data []byte) error
	Get(ctx context.Context, owner, collection, id string) (Document, error)
	List(ctx context.Context, owner, collection string) ([]Document, error)
	Query(ctx context.Context, owner, collection, field, value string) ([]Document, error)
	Delete(ctx context.Context, owner, collection, id string) error
}

// fieldEquals reports whether the top-level JSON field of data renders as value.
// Documents that are not JSON objects never match.
func fieldEquals(data []byte, field, value string) bool {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	raw, ok := fields[field]
	if !ok || raw == nil {
		return false
	}
	switch v := raw.(type) {
	case string:
		return v == value
	default:
		return fmt.Sprint(v) == value
	}
}
