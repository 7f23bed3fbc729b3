// Package backfill walks a network's full slot history the first time its
// index is empty (spec §4.7), one day-sized window at a time, attributing
// each window to whichever policy was current as of that window's start.
package backfill

import (
	"context"
	"time"

	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/store"
	"github.com/orcfax/explorer-index/timebase"
)

// Indexer processes one (network, policy, [from, to)) slot window and
// returns the observed (lastBlockHash, lastCheckpointSlot) after indexing
// every match in the window.
type Indexer interface {
	IndexWindow(
		ctx context.Context, net *model.Network, policy model.Policy, from, to uint64,
	) (lastBlockHash string, lastCheckpointSlot uint64, err error)
}

// Populator runs the one-time backfill walk for networks whose store is
// still empty.
type Populator struct {
	store   store.Store
	indexer Indexer
}

// NewPopulator builds a Populator.
func NewPopulator(st store.Store, indexer Indexer) *Populator {
	return &Populator{store: st, indexer: indexer}
}

// Run walks from net's first policy's starting slot through "now" in
// day-sized windows, indexing each window under the policy that was
// current as of that window's start slot. It persists the last observed
// checkpoint onto net.
func (p *Populator) Run(ctx context.Context, net *model.Network) error {
	if len(net.Policies) == 0 {
		return nil
	}

	latest := timebase.DateToSlot(time.Now().UTC(), net)
	current := net.Policies[0].StartingSlot

	for current < latest {
		end := timebase.SlotAfterPeriod(current, timebase.PeriodDay, net)
		if end > latest {
			end = latest
		}

		policy := policyAtSlot(net.Policies, current)

		lastBlockHash, lastCheckpointSlot, err := p.indexer.IndexWindow(ctx, net, policy, current, end)
		if err != nil {
			return err
		}

		net.LastBlockHash = lastBlockHash
		net.LastCheckpointSlot = lastCheckpointSlot
		current = end
	}

	return p.store.UpdateNetwork(ctx, net)
}

// policyAtSlot returns the last policy (by StartingSlot) whose
// StartingSlot is at or before slot. policies must be non-empty and
// sorted ascending by StartingSlot.
func policyAtSlot(policies []model.Policy, slot uint64) model.Policy {
	current := policies[0]

	for _, p := range policies {
		if p.StartingSlot <= slot {
			current = p
		}
	}

	return current
}
