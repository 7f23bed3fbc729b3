package txmetadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func datumMapEntry(factURN, storageURN string) Metadatum {
	return Metadatum{
		Map: []MetadatumMapEntry{
			{K: Metadatum{Int: int64Ptr(0)}, V: Metadatum{String: strPtr(factURN)}},
			{K: Metadatum{Int: int64Ptr(1)}, V: Metadatum{String: strPtr(storageURN)}},
		},
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestDecodeSkipsLeadingTOSDisclaimer(t *testing.T) {
	t.Parallel()

	entries := []Entry{{
		Schema: map[string]Metadatum{
			"1226": {
				List: []Metadatum{
					{String: strPtr("Use oracle data at your own risk: https://orcfax.io/tos/")},
					datumMapEntry("urn:fact:1", "urn:storage:1"),
				},
			},
		},
	}}

	got, err := Decode(entries)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "urn:fact:1", got[0].FactURN)
	require.Equal(t, "urn:storage:1", got[0].StorageURN)
}

func TestDecodeWithoutDisclaimer(t *testing.T) {
	t.Parallel()

	entries := []Entry{{
		Schema: map[string]Metadatum{
			"1226": {
				List: []Metadatum{
					datumMapEntry("urn:fact:1", "urn:storage:1"),
					datumMapEntry("urn:fact:2", "urn:storage:2"),
				},
			},
		},
	}}

	got, err := Decode(entries)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "urn:fact:2", got[1].FactURN)
}

func TestDecodeNormalizesArweaveFailureSentinel(t *testing.T) {
	t.Parallel()

	entries := []Entry{{
		Schema: map[string]Metadatum{
			"1226": {
				List: []Metadatum{
					datumMapEntry("urn:fact:1", "arweave tx not created: timeout"),
				},
			},
		},
	}}

	got, err := Decode(entries)
	require.NoError(t, err)
	require.Equal(t, "", got[0].StorageURN)
}

func TestDecodeMissingLabelErrors(t *testing.T) {
	t.Parallel()

	entries := []Entry{{Schema: map[string]Metadatum{}}}

	_, err := Decode(entries)
	require.ErrorIs(t, err, ErrMissingOrcfaxLabel)
}

func TestDecodeNoEntriesErrors(t *testing.T) {
	t.Parallel()

	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrMissingOrcfaxLabel)
}

func TestDecodeMalformedMapErrors(t *testing.T) {
	t.Parallel()

	entries := []Entry{{
		Schema: map[string]Metadatum{
			"1226": {
				List: []Metadatum{
					{Map: []MetadatumMapEntry{{V: Metadatum{String: strPtr("only one entry")}}}},
				},
			},
		},
	}}

	_, err := Decode(entries)
	require.Error(t, err)
}
