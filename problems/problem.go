// Package problems finds consistency problems in stored entities and, where a
// provider knows how, fixes them.
//
// Detection lives in Providers. The Reporter fans out to every registered
// provider and caches the combined report under the problems aggregate key,
// which any entity write invalidates.
package problems

import (
	"cmp"
	"context"
	"slices"
)

// Severity grades how urgently a problem needs attention.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// EntityProblem describes one problem on one entity row. Field is empty for
// row level problems.
type EntityProblem struct {
	Provider string   `msgpack:"provider" json:"provider"`
	Entity   string   `msgpack:"entity" json:"entity"`
	EntityID string   `msgpack:"entity_id" json:"entity_id"`
	Field    string   `msgpack:"field,omitempty" json:"field,omitempty"`
	Code     string   `msgpack:"code" json:"code"`
	Message  string   `msgpack:"message" json:"message"`
	Severity Severity `msgpack:"severity" json:"severity"`
	// Fixable is set when the provider can fix the problem automatically.
	Fixable bool `msgpack:"fixable" json:"fixable"`
	// Fixed is set on problems returned by AutoFixProblems once the fix was
	// applied. A simulated run never sets it.
	Fixed bool `msgpack:"fixed" json:"fixed"`
}

// Provider is the contract between the engine and a problem detector.
type Provider interface {
	// Name identifies the provider in reports and logs.
	Name() string
	GetProblems(ctx context.Context) ([]EntityProblem, error)
	// AutoFixProblems fixes what it can and returns the problems it
	// addressed. With simulate set nothing is written and the result lists
	// the problems that would be fixed.
	AutoFixProblems(ctx context.Context, simulate bool) ([]EntityProblem, error)
}

func sortProblems(problems []EntityProblem) {
	slices.SortStableFunc(problems, func(a, b EntityProblem) int {
		return cmp.Or(
			cmp.Compare(a.Entity, b.Entity),
			cmp.Compare(a.EntityID, b.EntityID),
			cmp.Compare(a.Field, b.Field),
			cmp.Compare(a.Provider, b.Provider),
			cmp.Compare(a.Code, b.Code),
		)
	})
}
