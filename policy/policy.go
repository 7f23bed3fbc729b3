// Package policy discovers and tracks a network's fact-statement-pointer
// policy lineage (spec §4.6), using chainindex.Client for the underlying
// matches/datum fetches. A policy ID is the hex-decoded-then-re-encoded
// datum attached to the matched UTxO, not a parsed CurrencyPairDatum.
package policy

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/orcfax/explorer-index/chainindex"
	"github.com/orcfax/explorer-index/ferrors"
	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/store"
	"github.com/orcfax/explorer-index/timebase"
)

// Tracker discovers and advances a network's Policy lineage.
type Tracker struct {
	client *chainindex.Client
	store  store.Store
}

// NewTracker builds a Tracker.
func NewTracker(client *chainindex.Client, st store.Store) *Tracker {
	return &Tracker{client: client, store: st}
}

// Populate performs the first-time policy discovery walk: every match of
// the network's fact-statement-pointer asset, oldest first, decoded and
// deduplicated into the network's Policy lineage.
func (t *Tracker) Populate(ctx context.Context, net *model.Network) error {
	result, err := t.client.Matches(ctx, net.ChainIndexBaseURL, net.FactStatementPointer, chainindex.MatchesOptions{
		Order:     chainindex.OldestFirst,
		AssetName: net.ScriptToken,
	})
	if err != nil {
		return err
	}

	seen := make(map[string]bool)

	for _, match := range result.Matches {
		policyID, err := t.decodePolicyID(ctx, net.ChainIndexBaseURL, match)
		if err != nil {
			return err
		}

		if seen[policyID] || net.IgnorePolicies[policyID] {
			continue
		}

		seen[policyID] = true

		p := model.Policy{
			NetworkID:         net.ID,
			PolicyID:          policyID,
			StartingSlot:      match.CreatedAt.SlotNo,
			StartingBlockHash: match.CreatedAt.HeaderHash,
			StartingDate:      timebase.SlotToDate(match.CreatedAt.SlotNo, net),
		}

		if err := t.store.CreatePolicy(ctx, &p); err != nil {
			return ferrors.Transient("policy.Populate", err)
		}

		net.Policies = append(net.Policies, p)
	}

	return nil
}

// Advance checks the most recent unspent match for rotation; if the
// observed policy ID differs from the network's current policy, a new
// Policy record is appended and returned. It returns (nil, false, nil)
// when no rotation occurred.
func (t *Tracker) Advance(ctx context.Context, net *model.Network) (*model.Policy, bool, error) {
	result, err := t.client.Matches(ctx, net.ChainIndexBaseURL, net.FactStatementPointer, chainindex.MatchesOptions{
		Order:     chainindex.MostRecentFirst,
		Unspent:   true,
		AssetName: net.ScriptToken,
	})
	if err != nil {
		return nil, false, err
	}

	if result.NotModified || len(result.Matches) == 0 {
		return nil, false, nil
	}

	policyID, err := t.decodePolicyID(ctx, net.ChainIndexBaseURL, result.Matches[0])
	if err != nil {
		return nil, false, err
	}

	if net.IgnorePolicies[policyID] {
		return nil, false, nil
	}

	current := net.CurrentPolicy()
	if current != nil && current.PolicyID == policyID {
		return nil, false, nil
	}

	match := result.Matches[0]

	p := model.Policy{
		NetworkID:         net.ID,
		PolicyID:          policyID,
		StartingSlot:      match.CreatedAt.SlotNo,
		StartingBlockHash: match.CreatedAt.HeaderHash,
		StartingDate:      timebase.SlotToDate(match.CreatedAt.SlotNo, net),
	}

	if err := t.store.CreatePolicy(ctx, &p); err != nil {
		return nil, false, ferrors.Transient("policy.Advance", err)
	}

	net.Policies = append(net.Policies, p)

	return &p, true, nil
}

// decodePolicyID fetches the datum attached to match and returns it
// hex-encoded, to be used as the discovered child policy's PolicyID.
func (t *Tracker) decodePolicyID(ctx context.Context, baseURL string, match chainindex.KupoMatch) (string, error) {
	if match.DatumHash == nil {
		return "", ferrors.Protocol("policy.decodePolicyID", fmt.Errorf("match has no datum hash"))
	}

	datumHex, found, err := t.client.Datum(ctx, baseURL, *match.DatumHash)
	if err != nil {
		return "", err
	}

	if !found {
		return "", ferrors.Protocol("policy.decodePolicyID", fmt.Errorf("datum %s not found", *match.DatumHash))
	}

	raw, err := hex.DecodeString(datumHex)
	if err != nil {
		return "", ferrors.Protocol("policy.decodePolicyID", fmt.Errorf("datum is not valid hex: %w", err))
	}

	return hex.EncodeToString(raw), nil
}
