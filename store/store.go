// Package store defines the persistence boundary the indexing pipeline
// consumes (spec §6). It makes no assumption about the backing engine;
// store/bbolt ships one concrete, embedded implementation.
package store

import (
	"context"
	"errors"

	"github.com/orcfax/explorer-index/model"
)

// ErrDuplicateFact is returned by InsertFact when a fact with the same
// (network, fact_urn) already exists. Callers treat it as a
// DuplicateInsert (spec §7): count it, never surface it.
var ErrDuplicateFact = errors.New("fact already indexed")

// ErrNotFound is returned by lookups that address a single record which
// does not exist.
var ErrNotFound = errors.New("not found")

// Store is the datastore boundary the core pipeline depends on.
type Store interface {
	ListNetworks(ctx context.Context) ([]model.Network, error)
	CreateNetwork(ctx context.Context, network *model.Network) error
	UpdateNetwork(ctx context.Context, network *model.Network) error

	ListPolicies(ctx context.Context, networkID int64) ([]model.Policy, error)
	CreatePolicy(ctx context.Context, policy *model.Policy) error

	ListFeeds(ctx context.Context, networkID int64) ([]model.Feed, error)
	CreateFeed(ctx context.Context, feed *model.Feed) error
	UpdateFeed(ctx context.Context, feed *model.Feed) error

	ListAssets(ctx context.Context) ([]model.Asset, error)
	CreateAsset(ctx context.Context, asset *model.Asset) error
	UpdateAsset(ctx context.Context, asset *model.Asset) error

	// InsertFact returns ErrDuplicateFact when (network, fact_urn) is
	// already present; the caller counts it and continues.
	InsertFact(ctx context.Context, fact *model.FactStatement) error
	UpdateFact(ctx context.Context, fact *model.FactStatement) error
	DeleteFactsWithSlotGreaterThan(ctx context.Context, networkID int64, slot uint64) error
	LastIndexedFact(ctx context.Context, networkID int64) (*model.FactStatement, error)
	ListUnarchivedFacts(ctx context.Context, networkID int64) ([]model.FactStatement, error)

	ListNodes(ctx context.Context, networkID int64) ([]model.Node, error)
	CreateNode(ctx context.Context, node *model.Node) error

	ListSources(ctx context.Context, networkID int64) ([]model.Source, error)
	CreateSource(ctx context.Context, source *model.Source) error
	UpdateSource(ctx context.Context, source *model.Source) error

	Close() error
}
