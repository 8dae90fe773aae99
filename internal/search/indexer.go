package search

import (
	"context"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
)

// Indexer receives every successfully pushed package so that an external
// search backend can stay current. The database-backed search in this package
// reads the catalog directly, so the default wiring uses NullIndexer.
type Indexer interface {
	Index(ctx context.Context, pkg *models.Package) error
}

// NullIndexer discards index submissions.
type NullIndexer struct{}

func (NullIndexer) Index(context.Context, *models.Package) error { return nil }
