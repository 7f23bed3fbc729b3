// Package txmetadata extracts the per-output fact URN and storage URN
// carried in a transaction's Orcfax metadata (label 1226), per spec §4.4.
// The wire shape is the Cardano "metadata JSON detailed schema" (a tagged
// sum type per datum kind); decoding follows the teacher's pattern of
// decoding into small typed structs and type-switching on which field is
// populated (cf. wallet/rawdata.go's map[string]interface{} probing, made
// static here).
package txmetadata

import (
	"fmt"
	"strings"
)

// acceptedTOSDisclaimers are the known literal head elements that mark an
// informational ToS notice rather than a DatumMetadata record. Two
// wordings have been observed on-chain over the feed's lifetime.
var acceptedTOSDisclaimers = []string{
	"Use oracle data at your own risk: https://orcfax.io/tos/",
	"By using this oracle data you agree to the Orcfax terms of service: https://orcfax.io/tos/",
}

// arweaveFailureSentinels mark a storage_urn that records an archival
// failure rather than a usable identifier; such values are normalized to
// the empty string (spec §4.4).
var arweaveFailureSentinels = []string{
	"arweave tx not created",
	"send to Arkly feature is not currently enabled",
}

// Metadatum is the Cardano metadata JSON detailed schema: exactly one of
// these fields is populated per value.
type Metadatum struct {
	String *string             `json:"string,omitempty"`
	Int    *int64              `json:"int,omitempty"`
	Bytes  *string             `json:"bytes,omitempty"`
	List   []Metadatum         `json:"list,omitempty"`
	Map    []MetadatumMapEntry `json:"map,omitempty"`
}

// MetadatumMapEntry is one key/value pair of a Metadatum map.
type MetadatumMapEntry struct {
	K Metadatum `json:"k"`
	V Metadatum `json:"v"`
}

// Entry is one element of a chain-index /metadata response.
type Entry struct {
	Hash   string               `json:"hash"`
	Raw    string               `json:"raw"`
	Schema map[string]Metadatum `json:"schema"`
}

// DatumMetadata is one output's fact/storage pair, prior to the Arweave
// failure-sentinel normalization.
type DatumMetadata struct {
	FactURN    string
	StorageURN string
}

// ErrMissingOrcfaxLabel is returned when a metadata entry carries no
// label-1226 payload at all.
var ErrMissingOrcfaxLabel = fmt.Errorf("metadata entry has no label 1226 payload")

// Decode extracts the per-output DatumMetadata records from a
// transaction's metadata entries. entries[0] is used, per spec §4.4
// ("the first metadata entry's schema[1226].list").
func Decode(entries []Entry) ([]DatumMetadata, error) {
	if len(entries) == 0 {
		return nil, ErrMissingOrcfaxLabel
	}

	label, ok := entries[0].Schema["1226"]
	if !ok {
		return nil, ErrMissingOrcfaxLabel
	}

	list := label.List
	if len(list) > 0 && list[0].String != nil && isTOSDisclaimer(*list[0].String) {
		list = list[1:]
	}

	result := make([]DatumMetadata, 0, len(list))

	for i, item := range list {
		dm, err := parseDatumMetadata(item)
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}

		result = append(result, dm)
	}

	return result, nil
}

func parseDatumMetadata(m Metadatum) (DatumMetadata, error) {
	if len(m.Map) < 2 {
		return DatumMetadata{}, fmt.Errorf("expected a map with at least 2 entries, got %d", len(m.Map))
	}

	factURN, err := mapEntryString(m.Map[0])
	if err != nil {
		return DatumMetadata{}, fmt.Errorf("fact_urn: %w", err)
	}

	storageURN, err := mapEntryString(m.Map[1])
	if err != nil {
		return DatumMetadata{}, fmt.Errorf("storage_urn: %w", err)
	}

	return DatumMetadata{
		FactURN:    factURN,
		StorageURN: normalizeStorageURN(storageURN),
	}, nil
}

func mapEntryString(entry MetadatumMapEntry) (string, error) {
	if entry.V.String == nil {
		return "", fmt.Errorf("value is not a string metadatum")
	}

	return *entry.V.String, nil
}

// normalizeStorageURN collapses known Arweave-failure sentinels to the
// empty string, per spec §4.4.
func normalizeStorageURN(storageURN string) string {
	for _, sentinel := range arweaveFailureSentinels {
		if strings.Contains(storageURN, sentinel) {
			return ""
		}
	}

	return storageURN
}

func isTOSDisclaimer(s string) bool {
	for _, known := range acceptedTOSDisclaimers {
		if s == known {
			return true
		}
	}

	return false
}
