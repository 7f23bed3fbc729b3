// Package sync is the Incremental Syncer (spec §4.8): on each tick it
// reconciles a network's feeds and policies, fetches new chain-index
// matches since the stored checkpoint, and turns them into FactStatement
// records. It also implements backfill.Indexer so the one-time backfill
// walk and the steady-state tick share the same per-transaction parsing
// logic.
package sync

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/blake2b"

	"github.com/orcfax/explorer-index/chainindex"
	"github.com/orcfax/explorer-index/common"
	"github.com/orcfax/explorer-index/datum"
	"github.com/orcfax/explorer-index/feedsync"
	"github.com/orcfax/explorer-index/ferrors"
	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/policy"
	"github.com/orcfax/explorer-index/store"
	"github.com/orcfax/explorer-index/timebase"
	"github.com/orcfax/explorer-index/txmetadata"
)

// perTickTxWorkers bounds per-transaction datum/metadata fetch
// concurrency within one IndexMatches call (spec §5: "implementations
// must cap at a reasonable per-tick value to avoid throttling by the
// chain index").
const perTickTxWorkers = 8

// Counters accumulates the outcome of one IndexMatches call.
type Counters struct {
	Inserted int
	Skipped  int // DuplicateInsert, spec §4.8
}

// Syncer ties the chain-index client, decoders, feed/policy reconcilers,
// and store together into the per-network sync tick.
type Syncer struct {
	client        *chainindex.Client
	store         store.Store
	feedSync      *feedsync.Syncer
	policyTracker *policy.Tracker
	logger        hclog.Logger

	manifestCache map[int64]*feedsync.Manifest

	// feedMu serializes ensureFeed's lookup-then-create across the
	// concurrent per-transaction workers IndexMatches runs.
	feedMu sync.Mutex
}

// NewSyncer builds a Syncer.
func NewSyncer(
	client *chainindex.Client, st store.Store, feedSync *feedsync.Syncer,
	policyTracker *policy.Tracker, logger hclog.Logger,
) *Syncer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Syncer{
		client:        client,
		store:         st,
		feedSync:      feedSync,
		policyTracker: policyTracker,
		logger:        logger,
		manifestCache: make(map[int64]*feedsync.Manifest),
	}
}

// IndexWindow implements backfill.Indexer: fetch and index every match in
// [from, to) under policy, unconditionally (no If-None-Match).
func (s *Syncer) IndexWindow(
	ctx context.Context, net *model.Network, pol model.Policy, from, to uint64,
) (string, uint64, error) {
	result, err := s.client.Matches(ctx, net.ChainIndexBaseURL, pol.PolicyID, chainindex.MatchesOptions{
		Order:         chainindex.OldestFirst,
		CreatedAfter:  &from,
		CreatedBefore: &to,
	})
	if err != nil {
		return net.LastBlockHash, net.LastCheckpointSlot, err
	}

	if _, err := s.IndexMatches(ctx, net, pol, result.Matches); err != nil {
		return net.LastBlockHash, net.LastCheckpointSlot, err
	}

	return result.ETag, result.Checkpoint, nil
}

// Tick runs one incremental-sync pass for net (spec §4.8).
func (s *Syncer) Tick(ctx context.Context, net *model.Network) (Counters, error) {
	var counters Counters

	if err := s.reconcileFeeds(ctx, net); err != nil {
		return counters, err
	}

	rotated, didRotate, err := s.policyTracker.Advance(ctx, net)
	if err != nil {
		return counters, err
	}

	if didRotate {
		return s.tickAfterRotation(ctx, net, rotated)
	}

	return s.tickSteadyState(ctx, net)
}

func (s *Syncer) reconcileFeeds(ctx context.Context, net *model.Network) error {
	cached := s.manifestCache[net.ID]

	manifest, err := s.feedSync.Sync(ctx, net.ID, net.ActiveFeedsURL, cached)
	if err != nil {
		return err
	}

	s.manifestCache[net.ID] = manifest

	return nil
}

// tickAfterRotation indexes the gap left by the old policy up to the new
// policy's starting slot, then continues unbounded under the new policy.
func (s *Syncer) tickAfterRotation(ctx context.Context, net *model.Network, rotated *model.Policy) (Counters, error) {
	var counters Counters

	lastFact, err := s.store.LastIndexedFact(ctx, net.ID)
	if err != nil {
		return counters, ferrors.Transient("sync.Tick", err)
	}

	oldPolicy := net.PreviousPolicy()

	gapFrom := net.LastCheckpointSlot
	if lastFact != nil {
		gapFrom = lastFact.Slot
	}

	if oldPolicy != nil && gapFrom < rotated.StartingSlot {
		createdBefore := rotated.StartingSlot

		result, err := s.client.Matches(ctx, net.ChainIndexBaseURL, oldPolicy.PolicyID, chainindex.MatchesOptions{
			Order:         chainindex.OldestFirst,
			CreatedAfter:  &gapFrom,
			CreatedBefore: &createdBefore,
		})
		if err != nil {
			return counters, err
		}

		gapCounters, err := s.IndexMatches(ctx, net, *oldPolicy, result.Matches)
		if err != nil {
			return counters, err
		}

		counters.Inserted += gapCounters.Inserted
		counters.Skipped += gapCounters.Skipped
	}

	result, err := s.client.Matches(ctx, net.ChainIndexBaseURL, rotated.PolicyID, chainindex.MatchesOptions{
		Order:        chainindex.OldestFirst,
		CreatedAfter: &rotated.StartingSlot,
	})
	if err != nil {
		return counters, err
	}

	tailCounters, err := s.IndexMatches(ctx, net, *rotated, result.Matches)
	if err != nil {
		return counters, err
	}

	counters.Inserted += tailCounters.Inserted
	counters.Skipped += tailCounters.Skipped

	net.LastBlockHash = result.ETag
	net.LastCheckpointSlot = result.Checkpoint

	return counters, s.store.UpdateNetwork(ctx, net)
}

func (s *Syncer) tickSteadyState(ctx context.Context, net *model.Network) (Counters, error) {
	var counters Counters

	currentPolicy := net.CurrentPolicy()
	if currentPolicy == nil {
		return counters, ferrors.Protocol("sync.Tick", fmt.Errorf("network %s has no current policy", net.Name))
	}

	createdAfter := net.LastCheckpointSlot

	result, err := s.client.Matches(ctx, net.ChainIndexBaseURL, currentPolicy.PolicyID, chainindex.MatchesOptions{
		Order:        chainindex.OldestFirst,
		CreatedAfter: &createdAfter,
		IfNoneMatch:  net.LastBlockHash,
	})
	if err != nil {
		return counters, err
	}

	if result.NotModified {
		return counters, nil
	}

	if result.Checkpoint < net.LastCheckpointSlot {
		s.logger.Info("rollback detected", "network", net.Name, "stored", net.LastCheckpointSlot, "reported", result.Checkpoint)

		if err := s.store.DeleteFactsWithSlotGreaterThan(ctx, net.ID, result.Checkpoint); err != nil {
			return counters, ferrors.Transient("sync.Tick", err)
		}
	}

	counters, err = s.IndexMatches(ctx, net, *currentPolicy, result.Matches)
	if err != nil {
		return counters, err
	}

	net.LastBlockHash = result.ETag
	net.LastCheckpointSlot = result.Checkpoint

	return counters, s.store.UpdateNetwork(ctx, net)
}

// txOutcome is one indexTransaction call's result, relayed from a pool
// worker back to IndexMatches through a SafeCircularQueue (spec §9:
// "single-producer-single-consumer pattern for sharing cache updates
// between workers and the owning task").
type txOutcome struct {
	counters Counters
	err      error
}

// IndexMatches groups matches by transaction and processes each group
// concurrently, bounded at perTickTxWorkers, decoding each output's datum
// and metadata and inserting the resulting FactStatements (spec §4.8).
// Across transactions inserts may interleave (spec §5); the batch as a
// whole fails on the first transaction-level error encountered.
func (s *Syncer) IndexMatches(
	ctx context.Context, net *model.Network, pol model.Policy, matches []chainindex.KupoMatch,
) (Counters, error) {
	var counters Counters

	byTx := groupByTransaction(matches)
	if len(byTx) == 0 {
		return counters, nil
	}

	outcomes := common.NewSafeCircularQueue[txOutcome](len(byTx))

	pool := pond.NewPool(perTickTxWorkers)
	group := pool.NewGroupContext(ctx)

	for txID, outputs := range byTx {
		txID, outputs := txID, outputs

		group.Submit(func() {
			sort.Slice(outputs, func(i, j int) bool { return outputs[i].OutputIndex < outputs[j].OutputIndex })

			txCounters, err := s.indexTransaction(ctx, net, pol, txID, outputs)
			outcomes.Push(txOutcome{counters: txCounters, err: err})
		})
	}

	waitErr := group.Wait()
	outcomes.Close()

	var firstErr error

	for {
		outcome, ok := outcomes.Pop()
		if !ok {
			break
		}

		counters.Inserted += outcome.counters.Inserted
		counters.Skipped += outcome.counters.Skipped

		if outcome.err != nil && firstErr == nil {
			firstErr = outcome.err
		}
	}

	if firstErr != nil {
		return counters, firstErr
	}

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return counters, ferrors.Transient("sync.IndexMatches", waitErr)
	}

	return counters, nil
}

// indexTransaction processes every output of one transaction, in
// output_index order, per spec §4.8's per-transaction invariants.
func (s *Syncer) indexTransaction(
	ctx context.Context, net *model.Network, pol model.Policy, txID string, outputs []chainindex.KupoMatch,
) (Counters, error) {
	var counters Counters

	slot := outputs[0].CreatedAt.SlotNo

	for _, out := range outputs {
		if out.CreatedAt.SlotNo != slot {
			return counters, ferrors.Protocol(
				"sync.indexTransaction", fmt.Errorf("transaction %s has outputs at heterogeneous slots", txID),
			)
		}
	}

	metaEntries, err := s.client.Metadata(ctx, net.ChainIndexBaseURL, slot, txID)
	if err != nil {
		return counters, err
	}

	metadata, err := txmetadata.Decode(metaEntries)
	if err != nil {
		return counters, ferrors.Protocol("sync.indexTransaction", fmt.Errorf("transaction %s: %w", txID, err))
	}

	for i, out := range outputs {
		if i >= len(metadata) {
			return counters, ferrors.Protocol(
				"sync.indexTransaction", fmt.Errorf("transaction %s: output %d has no metadata entry", txID, out.OutputIndex),
			)
		}

		inserted, err := s.indexOutput(ctx, net, pol, out, metadata[i])
		if err != nil {
			return counters, err
		}

		if inserted {
			counters.Inserted++
		} else {
			counters.Skipped++
		}
	}

	return counters, nil
}

func (s *Syncer) indexOutput(
	ctx context.Context, net *model.Network, pol model.Policy, out chainindex.KupoMatch, meta txmetadata.DatumMetadata,
) (bool, error) {
	if out.DatumHash == nil {
		return false, ferrors.Protocol("sync.indexOutput", fmt.Errorf("output %d has no datum hash", out.OutputIndex))
	}

	datumHex, found, err := s.client.Datum(ctx, net.ChainIndexBaseURL, *out.DatumHash)
	if err != nil {
		return false, err
	}

	if !found {
		return false, ferrors.Protocol("sync.indexOutput", fmt.Errorf("datum %s not found", *out.DatumHash))
	}

	decoded, err := datum.Decode(datumHex)
	if err != nil {
		return false, ferrors.Protocol("sync.indexOutput", err)
	}

	feed, err := s.ensureFeed(ctx, net.ID, decoded)
	if err != nil {
		return false, err
	}

	statementHash, err := computeStatementHash(decoded.DatumHash, meta.FactURN)
	if err != nil {
		return false, ferrors.Transient("sync.indexOutput", err)
	}

	fact := &model.FactStatement{
		NetworkID:       net.ID,
		FeedID:          feed.ID,
		PolicyID:        pol.ID,
		FactURN:         meta.FactURN,
		StorageURN:      meta.StorageURN,
		TransactionID:   out.TransactionID,
		BlockHash:       out.CreatedAt.HeaderHash,
		Slot:            out.CreatedAt.SlotNo,
		Address:         out.Address,
		OutputIndex:     uint32(out.OutputIndex),
		StatementHash:   statementHash,
		Value:           decoded.Value,
		ValueInverse:    decoded.InverseValue,
		PublicationDate: timebase.SlotToDate(out.CreatedAt.SlotNo, net),
		ValidationDate:  decoded.ValidationDate,
		PublicationCost: model.CoinsToAda(out.Value.Coins),
		DatumHash:       decoded.DatumHash,
	}

	if err := s.store.InsertFact(ctx, fact); err != nil {
		if errors.Is(err, store.ErrDuplicateFact) {
			return false, nil
		}

		return false, ferrors.Transient("sync.indexOutput", err)
	}

	return true, nil
}

// ensureFeed looks up a feed by FeedID, creating a minimal inactive
// record when it is not yet known (feedsync later reconciles it).
func (s *Syncer) ensureFeed(ctx context.Context, networkID int64, decoded datum.CurrencyPairDatum) (model.Feed, error) {
	// indexTransaction runs on a bounded worker pool; serialize the
	// lookup-then-create so two concurrent unknown-feed outputs never
	// race into creating duplicate minimal feed records.
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	feeds, err := s.store.ListFeeds(ctx, networkID)
	if err != nil {
		return model.Feed{}, ferrors.Transient("sync.ensureFeed", err)
	}

	for _, f := range feeds {
		if f.FeedID == decoded.FeedID {
			return f, nil
		}
	}

	feed := model.Feed{
		NetworkID: networkID,
		FeedID:    decoded.FeedID,
		Type:      decoded.FeedType,
		Name:      decoded.FeedName,
		Version:   decoded.FeedVersion,
		Status:    model.FeedStatusInactive,
	}

	if err := s.store.CreateFeed(ctx, &feed); err != nil {
		return model.Feed{}, ferrors.Transient("sync.ensureFeed", err)
	}

	return feed, nil
}

func groupByTransaction(matches []chainindex.KupoMatch) map[string][]chainindex.KupoMatch {
	byTx := make(map[string][]chainindex.KupoMatch)

	for _, m := range matches {
		byTx[m.TransactionID] = append(byTx[m.TransactionID], m)
	}

	return byTx
}

// computeStatementHash hashes datumHash||factURN with BLAKE2b-256,
// hex-encoded with a 32-byte output (spec §3).
func computeStatementHash(datumHash, factURN string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}

	h.Write([]byte(datumHash))
	h.Write([]byte(factURN))

	return hex.EncodeToString(h.Sum(nil)), nil
}
