// Package entity defines the closed set of entity kinds the sync engine
// handles and their mapping onto local stores and remote tables.
//
// The mapping is resolved once at startup into a registry; nothing else in the
// codebase branches on raw store-name strings.
package entity

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one entity kind in the closed set.
type Kind string

const (
	// KindCableEntry is a cable schedule entry
	KindCableEntry Kind = "cable_entry"
	// KindBudgetItem is a budget line item
	KindBudgetItem Kind = "budget_item"
	// KindDrawing is drawing metadata
	KindDrawing Kind = "drawing"
	// KindDiaryEntry is a site-diary entry
	KindDiaryEntry Kind = "diary_entry"
	// KindMessage is a chat message
	KindMessage Kind = "message"
)

// ErrUnknownKind is returned when a store name or kind has no registry entry.
// It indicates a configuration bug, not a runtime condition to retry.
var ErrUnknownKind = errors.New("unknown entity kind")

// Spec describes how one entity kind is stored locally and addressed remotely.
type Spec struct {
	Kind        Kind
	StoreName   string // local store name
	RemoteTable string // table name at the remote authority
	ParentField string // payload field used as the secondary index
	// Ordered marks kinds whose mutations must be replayed strictly in
	// enqueue order with an inter-item delay (bursty queues like messages).
	Ordered bool
	// DrainDelay overrides the configured inter-item delay when non-zero.
	DrainDelay time.Duration
}

// Registry holds the resolved kind table.
type Registry struct {
	byKind  map[Kind]Spec
	byStore map[string]Spec
	order   []Kind
}

// NewRegistry builds a registry from the given specs.
// Duplicate kinds or store names are a programming error.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{
		byKind:  make(map[Kind]Spec, len(specs)),
		byStore: make(map[string]Spec, len(specs)),
	}

	for _, s := range specs {
		if s.StoreName == "" || s.RemoteTable == "" {
			return nil, fmt.Errorf("entity %q: store name and remote table are required", s.Kind)
		}
		if _, ok := r.byKind[s.Kind]; ok {
			return nil, fmt.Errorf("entity %q registered twice", s.Kind)
		}
		if _, ok := r.byStore[s.StoreName]; ok {
			return nil, fmt.Errorf("store %q registered twice", s.StoreName)
		}
		r.byKind[s.Kind] = s
		r.byStore[s.StoreName] = s
		r.order = append(r.order, s.Kind)
	}

	return r, nil
}

// Default returns the registry for the product's entity kinds.
func Default() *Registry {
	r, err := NewRegistry(
		Spec{Kind: KindCableEntry, StoreName: "cable_entries", RemoteTable: "cable_schedule_entries", ParentField: "project_id"},
		Spec{Kind: KindBudgetItem, StoreName: "budget_items", RemoteTable: "budget_line_items", ParentField: "project_id"},
		Spec{Kind: KindDrawing, StoreName: "drawings", RemoteTable: "drawings", ParentField: "project_id"},
		Spec{Kind: KindDiaryEntry, StoreName: "diary_entries", RemoteTable: "site_diary_entries", ParentField: "project_id"},
		Spec{Kind: KindMessage, StoreName: "messages", RemoteTable: "messages", ParentField: "conversation_id", Ordered: true},
	)
	if err != nil {
		// The default set is static; a failure here is a programming error.
		panic(err)
	}
	return r
}

// ByKind resolves a kind to its spec.
func (r *Registry) ByKind(k Kind) (Spec, error) {
	s, ok := r.byKind[k]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
	return s, nil
}

// ByStore resolves a local store name to its spec.
func (r *Registry) ByStore(storeName string) (Spec, error) {
	s, ok := r.byStore[storeName]
	if !ok {
		return Spec{}, fmt.Errorf("%w: store %s", ErrUnknownKind, storeName)
	}
	return s, nil
}

// Kinds returns all registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

// StoreNames returns all registered store names in registration order.
func (r *Registry) StoreNames() []string {
	out := make([]string, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKind[k].StoreName)
	}
	return out
}
