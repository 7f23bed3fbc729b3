// Package datum decodes the CBOR-encoded Plutus datum attached to an
// oracle UTxO into a typed CurrencyPairDatum (spec §4.3). Decoding follows
// the teacher's generic-array CBOR idiom (see
// cardano-infrastructure/wallet/certificates.go): unmarshal into
// interface{}, then walk and type-assert.
package datum

import (
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// plutusConstructorTag is the CBOR tag Plutus uses to wrap a constructor's
// field array. It is a transparent wrapper: its payload is what matters.
const plutusConstructorTag = 121

var feedIDPattern = regexp.MustCompile(`^[^/]+/[^/]+-[^/]+/[^/]+$`)

// CurrencyPairDatum is the decoded shape of an Orcfax oracle datum.
type CurrencyPairDatum struct {
	FeedID      string
	FeedType    string
	FeedName    string
	FeedVersion string
	BaseTicker  string
	QuoteTicker string

	ValidationDate time.Time
	DatumHash      string // hex, opaque — see DESIGN.md "datum_hash" decision

	Value        float64
	InverseValue float64
}

// ErrMalformedDatum marks a CBOR shape that does not match the expected
// [[feed_id, validation_ts, [num, den]], sig_group] structure. Callers
// should treat it as a TransientFetch-class error (spec §7).
type ErrMalformedDatum struct {
	Reason string
}

func (e *ErrMalformedDatum) Error() string {
	return fmt.Sprintf("malformed oracle datum: %s", e.Reason)
}

// Decode parses a hex-encoded CBOR oracle datum.
func Decode(datumHex string) (CurrencyPairDatum, error) {
	raw, err := hex.DecodeString(datumHex)
	if err != nil {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "not valid hex: " + err.Error()}
	}

	var decoded interface{}
	if err := cbor.Unmarshal(raw, &decoded); err != nil {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "not valid cbor: " + err.Error()}
	}

	if tag, isTag := decoded.(cbor.Tag); isTag && tag.Number != plutusConstructorTag {
		return CurrencyPairDatum{}, &ErrMalformedDatum{
			Reason: fmt.Sprintf("unexpected outermost constructor tag %d", tag.Number),
		}
	}

	outer, ok := unwrapTags(decoded).([]interface{})
	if !ok || len(outer) != 2 {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "expected a 2-tuple at the top level"}
	}

	details, ok := outer[0].([]interface{})
	if !ok || len(details) != 3 {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "expected a 3-element details array"}
	}

	feedIDBytes, ok := details[0].([]byte)
	if !ok {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "feed_id is not a byte string"}
	}

	validationTs, err := toUint64(details[1])
	if err != nil {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "validation_ts: " + err.Error()}
	}

	ratio, ok := details[2].([]interface{})
	if !ok || len(ratio) != 2 {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "expected a [numerator, denominator] pair"}
	}

	numerator, err := toUint64(ratio[0])
	if err != nil {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "numerator: " + err.Error()}
	}

	denominator, err := toUint64(ratio[1])
	if err != nil {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "denominator: " + err.Error()}
	}

	if denominator == 0 {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "denominator is zero"}
	}

	feedType, feedName, feedVersion, baseTicker, quoteTicker, err := parseFeedID(string(feedIDBytes))
	if err != nil {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: err.Error()}
	}

	datumHashBytes, err := cbor.Marshal(details)
	if err != nil {
		return CurrencyPairDatum{}, &ErrMalformedDatum{Reason: "could not re-encode datum_hash source: " + err.Error()}
	}

	value := float64(numerator) / float64(denominator)
	formattedValue := formatValue(value)

	return CurrencyPairDatum{
		FeedID:         string(feedIDBytes),
		FeedType:       feedType,
		FeedName:       feedName,
		FeedVersion:    feedVersion,
		BaseTicker:     baseTicker,
		QuoteTicker:    quoteTicker,
		ValidationDate: time.UnixMilli(int64(validationTs)).UTC(),
		DatumHash:      hex.EncodeToString(datumHashBytes),
		Value:          formattedValue,
		InverseValue:   1 / formattedValue,
	}, nil
}

// formatValue applies the contractual rounding boundary: values smaller
// than 1e-6 keep 10 decimal digits, everything else keeps 6.
func formatValue(value float64) float64 {
	if value < 1e-6 {
		return roundTo(value, 10)
	}

	return roundTo(value, 6)
}

func roundTo(value float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))

	return math.Round(value*scale) / scale
}

// parseFeedID splits "type/name-pair/version" (e.g. "CER/ADA-USD/3") into
// its components.
func parseFeedID(feedID string) (feedType, feedName, feedVersion, baseTicker, quoteTicker string, err error) {
	if !feedIDPattern.MatchString(feedID) {
		return "", "", "", "", "", fmt.Errorf("feed_id %q does not match the expected shape", feedID)
	}

	parts := strings.Split(feedID, "/")
	if len(parts) != 3 {
		return "", "", "", "", "", fmt.Errorf("feed_id %q does not split into 3 segments", feedID)
	}

	feedType, feedName, feedVersion = parts[0], parts[1], parts[2]

	pair := strings.SplitN(feedName, "-", 2)
	if len(pair) != 2 {
		return "", "", "", "", "", fmt.Errorf("feed_id %q pair segment is not base-quote", feedID)
	}

	return feedType, feedName, feedVersion, pair[0], pair[1], nil
}

// unwrapTags replaces every Plutus constructor tag (and any other CBOR
// tag encountered) with its content, recursively, per spec §4.3: "tag 121
// is treated as a transparent wrapper."
func unwrapTags(v interface{}) interface{} {
	switch vv := v.(type) {
	case cbor.Tag:
		return unwrapTags(vv.Content)
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, item := range vv {
			out[i] = unwrapTags(item)
		}

		return out
	case map[interface{}]interface{}:
		out := make(map[interface{}]interface{}, len(vv))
		for k, val := range vv {
			out[unwrapTags(k)] = unwrapTags(val)
		}

		return out
	default:
		return v
	}
}

func toUint64(v interface{}) (uint64, error) {
	switch vv := v.(type) {
	case uint64:
		return vv, nil
	case int64:
		if vv < 0 {
			return 0, fmt.Errorf("unexpected negative value %d", vv)
		}

		return uint64(vv), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
