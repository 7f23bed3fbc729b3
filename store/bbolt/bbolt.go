// Package bbolt is the reference store.Store implementation: an embedded,
// single-file, bucket-per-entity backend. Grounded on the teacher's
// indexer/db/bbolt/bbolt.go (JSON-in-bucket, big-endian id keys, cursor
// scans), adapted from the teacher's block/tx entities to this module's
// network/policy/fact/feed/asset/node/source entities.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/store"
	bolt "go.etcd.io/bbolt"
)

var (
	networksBucket   = []byte("Networks")
	policiesBucket   = []byte("Policies")
	feedsBucket      = []byte("Feeds")
	assetsBucket     = []byte("Assets")
	factsBucket      = []byte("Facts")
	factsByURNBucket = []byte("FactsByURN")
	nodesBucket      = []byte("Nodes")
	sourcesBucket    = []byte("Sources")

	allBuckets = [][]byte{
		networksBucket, policiesBucket, feedsBucket, assetsBucket,
		factsBucket, factsByURNBucket, nodesBucket, sourcesBucket,
	}
)

// Store is a store.Store backed by a single bbolt file.
type Store struct {
	db *bolt.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) the bbolt file at filePath and
// ensures every bucket this package uses exists.
func Open(filePath string) (*Store, error) {
	db, err := bolt.Open(filePath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("could not create bucket %s: %w", name, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func idKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))

	return buf
}

func networkPrefixKey(networkID int64, id int64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(networkID))
	binary.BigEndian.PutUint64(buf[8:], uint64(id))

	return buf
}

func networkPrefix(networkID int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(networkID))

	return buf
}

func factURNKey(networkID int64, factURN string) []byte {
	return append(networkPrefix(networkID), []byte(factURN)...)
}

func nextID(tx *bolt.Tx, bucket []byte) (int64, error) {
	seq, err := tx.Bucket(bucket).NextSequence()
	if err != nil {
		return 0, err
	}

	return int64(seq), nil
}

// ListNetworks returns every network in undefined order.
func (s *Store) ListNetworks(_ context.Context) ([]model.Network, error) {
	var result []model.Network

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(networksBucket).ForEach(func(_, v []byte) error {
			var n model.Network
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}

			result = append(result, n)

			return nil
		})
	})

	return result, err
}

// CreateNetwork assigns an ID and persists network.
func (s *Store) CreateNetwork(_ context.Context, network *model.Network) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, networksBucket)
		if err != nil {
			return err
		}

		network.ID = id

		data, err := json.Marshal(network)
		if err != nil {
			return err
		}

		return tx.Bucket(networksBucket).Put(idKey(network.ID), data)
	})
}

// UpdateNetwork overwrites the stored record for network.ID.
func (s *Store) UpdateNetwork(_ context.Context, network *model.Network) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(network)
		if err != nil {
			return err
		}

		return tx.Bucket(networksBucket).Put(idKey(network.ID), data)
	})
}

// ListPolicies returns networkID's policies in insertion order (callers
// sort by StartingSlot; CreatePolicy is only ever called in that order).
func (s *Store) ListPolicies(_ context.Context, networkID int64) ([]model.Policy, error) {
	var result []model.Policy

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(policiesBucket).Cursor()
		prefix := networkPrefix(networkID)

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var p model.Policy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}

			result = append(result, p)
		}

		return nil
	})

	return result, err
}

// CreatePolicy assigns an ID and persists policy under its network.
func (s *Store) CreatePolicy(_ context.Context, policy *model.Policy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, policiesBucket)
		if err != nil {
			return err
		}

		policy.ID = id

		data, err := json.Marshal(policy)
		if err != nil {
			return err
		}

		return tx.Bucket(policiesBucket).Put(networkPrefixKey(policy.NetworkID, policy.ID), data)
	})
}

// ListFeeds returns networkID's feeds.
func (s *Store) ListFeeds(_ context.Context, networkID int64) ([]model.Feed, error) {
	var result []model.Feed

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(feedsBucket).Cursor()
		prefix := networkPrefix(networkID)

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var f model.Feed
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}

			result = append(result, f)
		}

		return nil
	})

	return result, err
}

// CreateFeed assigns an ID and persists feed under its network.
func (s *Store) CreateFeed(_ context.Context, feed *model.Feed) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, feedsBucket)
		if err != nil {
			return err
		}

		feed.ID = id

		data, err := json.Marshal(feed)
		if err != nil {
			return err
		}

		return tx.Bucket(feedsBucket).Put(networkPrefixKey(feed.NetworkID, feed.ID), data)
	})
}

// UpdateFeed overwrites the stored record for feed.ID.
func (s *Store) UpdateFeed(_ context.Context, feed *model.Feed) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(feed)
		if err != nil {
			return err
		}

		return tx.Bucket(feedsBucket).Put(networkPrefixKey(feed.NetworkID, feed.ID), data)
	})
}

// ListAssets returns every asset.
func (s *Store) ListAssets(_ context.Context) ([]model.Asset, error) {
	var result []model.Asset

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(assetsBucket).ForEach(func(_, v []byte) error {
			var a model.Asset
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}

			result = append(result, a)

			return nil
		})
	})

	return result, err
}

// CreateAsset assigns an ID and persists asset.
func (s *Store) CreateAsset(_ context.Context, asset *model.Asset) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, assetsBucket)
		if err != nil {
			return err
		}

		asset.ID = id

		data, err := json.Marshal(asset)
		if err != nil {
			return err
		}

		return tx.Bucket(assetsBucket).Put(idKey(asset.ID), data)
	})
}

// UpdateAsset overwrites the stored record for asset.ID.
func (s *Store) UpdateAsset(_ context.Context, asset *model.Asset) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(asset)
		if err != nil {
			return err
		}

		return tx.Bucket(assetsBucket).Put(idKey(asset.ID), data)
	})
}

// InsertFact assigns an ID and persists fact, rejecting a duplicate
// (NetworkID, FactURN) with store.ErrDuplicateFact.
func (s *Store) InsertFact(_ context.Context, fact *model.FactStatement) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		urnKey := factURNKey(fact.NetworkID, fact.FactURN)

		if tx.Bucket(factsByURNBucket).Get(urnKey) != nil {
			return store.ErrDuplicateFact
		}

		id, err := nextID(tx, factsBucket)
		if err != nil {
			return err
		}

		fact.ID = id

		data, err := json.Marshal(fact)
		if err != nil {
			return err
		}

		factKey := networkPrefixKey(fact.NetworkID, fact.ID)
		if err := tx.Bucket(factsBucket).Put(factKey, data); err != nil {
			return err
		}

		return tx.Bucket(factsByURNBucket).Put(urnKey, idKey(fact.ID))
	})
}

// UpdateFact overwrites the stored record for fact.ID.
func (s *Store) UpdateFact(_ context.Context, fact *model.FactStatement) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(fact)
		if err != nil {
			return err
		}

		return tx.Bucket(factsBucket).Put(networkPrefixKey(fact.NetworkID, fact.ID), data)
	})
}

// DeleteFactsWithSlotGreaterThan removes every fact of networkID whose
// Slot exceeds slot (spec §4.8 rollback repair).
func (s *Store) DeleteFactsWithSlotGreaterThan(_ context.Context, networkID int64, slot uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(factsBucket)
		urnBucket := tx.Bucket(factsByURNBucket)
		cursor := bucket.Cursor()
		prefix := networkPrefix(networkID)

		var toDelete [][]byte

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var f model.FactStatement
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}

			if f.Slot > slot {
				toDelete = append(toDelete, append([]byte(nil), k...))

				if err := urnBucket.Delete(factURNKey(f.NetworkID, f.FactURN)); err != nil {
					return err
				}
			}
		}

		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}

// LastIndexedFact returns the fact with the greatest Slot for networkID,
// or nil if the network has no facts yet.
func (s *Store) LastIndexedFact(_ context.Context, networkID int64) (*model.FactStatement, error) {
	var latest *model.FactStatement

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(factsBucket).Cursor()
		prefix := networkPrefix(networkID)

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var f model.FactStatement
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}

			if latest == nil || f.Slot > latest.Slot {
				fCopy := f
				latest = &fCopy
			}
		}

		return nil
	})

	return latest, err
}

// ListUnarchivedFacts returns every fact of networkID with
// IsArchiveIndexed == false and a non-empty StorageURN.
func (s *Store) ListUnarchivedFacts(_ context.Context, networkID int64) ([]model.FactStatement, error) {
	var result []model.FactStatement

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(factsBucket).Cursor()
		prefix := networkPrefix(networkID)

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var f model.FactStatement
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}

			if !f.IsArchiveIndexed && f.StorageURN != "" {
				result = append(result, f)
			}
		}

		return nil
	})

	return result, err
}

// ListNodes returns networkID's nodes.
func (s *Store) ListNodes(_ context.Context, networkID int64) ([]model.Node, error) {
	var result []model.Node

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(nodesBucket).Cursor()
		prefix := networkPrefix(networkID)

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var n model.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}

			result = append(result, n)
		}

		return nil
	})

	return result, err
}

// CreateNode assigns an ID and persists node under its network.
func (s *Store) CreateNode(_ context.Context, node *model.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, nodesBucket)
		if err != nil {
			return err
		}

		node.ID = id

		data, err := json.Marshal(node)
		if err != nil {
			return err
		}

		return tx.Bucket(nodesBucket).Put(networkPrefixKey(node.NetworkID, node.ID), data)
	})
}

// ListSources returns networkID's sources.
func (s *Store) ListSources(_ context.Context, networkID int64) ([]model.Source, error) {
	var result []model.Source

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(sourcesBucket).Cursor()
		prefix := networkPrefix(networkID)

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var src model.Source
			if err := json.Unmarshal(v, &src); err != nil {
				return err
			}

			result = append(result, src)
		}

		return nil
	})

	return result, err
}

// CreateSource assigns an ID and persists source under its network.
func (s *Store) CreateSource(_ context.Context, source *model.Source) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, sourcesBucket)
		if err != nil {
			return err
		}

		source.ID = id

		data, err := json.Marshal(source)
		if err != nil {
			return err
		}

		return tx.Bucket(sourcesBucket).Put(networkPrefixKey(source.NetworkID, source.ID), data)
	})
}

// UpdateSource overwrites the stored record for source.ID.
func (s *Store) UpdateSource(_ context.Context, source *model.Source) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(source)
		if err != nil {
			return err
		}

		return tx.Bucket(sourcesBucket).Put(networkPrefixKey(source.NetworkID, source.ID), data)
	})
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}

	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}

	return true
}
