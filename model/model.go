// Package model defines the entities the indexer persists: networks and
// their policy lineage, fact statements, feeds, assets, nodes and sources.
// None of these types imply a storage schema; see package store for the
// persistence boundary.
package model

import "time"

// Network is a chain the indexer tracks (e.g. Mainnet, Preview).
type Network struct {
	ID                   int64
	Name                 string
	FactStatementPointer string // hex policy pointer
	ScriptToken          string // hex asset name
	ChainIndexBaseURL    string
	ActiveFeedsURL       string
	ZeroTime             int64 // ms epoch
	ZeroSlot             uint64
	SlotLength           int64 // ms per slot
	LastBlockHash        string
	LastCheckpointSlot   uint64
	IsEnabled            bool
	IgnorePolicies       map[string]bool
	Policies             []Policy // ordered by StartingSlot ascending; last is current
	TracksArchive        bool
}

// CurrentPolicy returns the most recently adopted policy, or nil if the
// network has not been populated yet.
func (n *Network) CurrentPolicy() *Policy {
	if len(n.Policies) == 0 {
		return nil
	}

	return &n.Policies[len(n.Policies)-1]
}

// PreviousPolicy returns the policy adopted immediately before the
// current one, or nil if the network has fewer than two policies.
func (n *Network) PreviousPolicy() *Policy {
	if len(n.Policies) < 2 {
		return nil
	}

	return &n.Policies[len(n.Policies)-2]
}

// Policy is one fact-statement-pointer policy ID a network's oracle has
// used. Policies are appended, never removed, and ordered by StartingSlot.
type Policy struct {
	ID                int64
	NetworkID         int64
	PolicyID          string // hex
	StartingSlot      uint64
	StartingBlockHash string
	StartingDate      time.Time
}

// FactStatement is one published oracle fact, keyed uniquely by
// (NetworkID, FactURN).
type FactStatement struct {
	ID        int64
	NetworkID int64
	FeedID    int64
	PolicyID  int64

	FactURN       string
	StorageURN    string // may be empty when archival failed
	TransactionID string
	BlockHash     string
	Slot          uint64
	Address       string
	OutputIndex   uint32

	StatementHash string // hex BLAKE2b-256(datum_hash || fact_urn)

	Value        float64
	ValueInverse float64

	PublicationDate time.Time // derived from Slot
	ValidationDate  time.Time // from datum
	PublicationCost float64   // coins / 1_000_000

	DatumHash string

	IsArchiveIndexed bool

	// populated by the archive indexer
	ContentSignature   string
	CollectionDate     time.Time
	ParticipatingNodes []int64
	Sources            []int64
}

// FeedStatus is the lifecycle state of a Feed.
type FeedStatus string

const (
	FeedStatusActive   FeedStatus = "active"
	FeedStatusInactive FeedStatus = "inactive"
)

// FeedSourceType classifies where a feed's price comes from.
type FeedSourceType string

const (
	FeedSourceCEX  FeedSourceType = "CEX"
	FeedSourceDEX  FeedSourceType = "DEX"
	FeedSourceNone FeedSourceType = ""
)

// FeedFundingType classifies how a feed's publication is funded.
type FeedFundingType string

const (
	FeedFundingShowcase   FeedFundingType = "showcase"
	FeedFundingPaid       FeedFundingType = "paid"
	FeedFundingSubsidized FeedFundingType = "subsidized"
	FeedFundingNone       FeedFundingType = ""
)

// Feed is a tracked "type/label/version" oracle feed.
type Feed struct {
	ID        int64
	NetworkID int64

	FeedID  string // "type/label/version"
	Type    string
	Name    string
	Version string
	Status  FeedStatus

	SourceType  FeedSourceType
	FundingType FeedFundingType

	CalculationMethod string
	HeartbeatInterval int
	Deviation         float64

	BaseAssetID  int64
	QuoteAssetID int64
}

// Asset is a ticker referenced by one or more feeds.
type Asset struct {
	ID                    int64
	Ticker                string // unique, case-insensitive
	Fingerprint           string
	HasXerberusRiskRating bool
}

// NodeType classifies the operator of a Node.
type NodeType string

const (
	NodeTypeFederated     NodeType = "federated"
	NodeTypeDecentralized NodeType = "decentralized"
	NodeTypeITN           NodeType = "itn"
)

// Node is a fact-validating participant, keyed uniquely by
// (NetworkID, NodeURN).
type Node struct {
	ID        int64
	NetworkID int64

	NodeURN string
	Name    string
	Status  string
	Type    NodeType

	Locality string
	Region   string
	Geo      string
}

// SourceType classifies where a Source's price data originates.
type SourceType string

const (
	SourceTypeCEXAPI SourceType = "CEX API"
	SourceTypeDEXLP  SourceType = "DEX LP"
)

// Source is a fact's upstream data provider. The uniqueness anchor within
// a network is Recipient; Sender may be reused across multiple recipients
// over time (see Archive Indexer source rotation, spec §4.9).
type Source struct {
	ID        int64
	NetworkID int64

	Name      string
	Type      SourceType
	Sender    string
	Recipient string
	Status    string

	Website         string
	ImagePath       string
	BackgroundColor string
}

// CoinsToAda converts lovelace (coins) to ADA.
func CoinsToAda(coins uint64) float64 {
	return float64(coins) / 1_000_000
}
