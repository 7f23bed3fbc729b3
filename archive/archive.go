// Package archive is the Archive Indexer (spec §4.9): for facts with a
// storage URN and not yet archive-indexed, it fetches the gzipped tar
// bundle pinned on permanent storage, extracts the validation and message
// entries, and patches the fact with node/source/content-signature data.
// Bounded concurrency is realized with an alitto/pond worker pool, the
// same idiom canopy-network-canopyx uses for its per-height RPC fanout.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/orcfax/explorer-index/ferrors"
	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/store"
)

const (
	defaultWorkers = 5
	storageURNSkip = 12 // leading characters stripped from storage_urn, per spec §4.9
	defaultTimeout = 60 * time.Second
)

var sourceNamePattern = regexp.MustCompile(`-([\w]+?)(?:\.tick_|-\d{4}-\d{2}-\d{2}T)`)

// ValidationFile is the schema of a bundle's validation-*.json entry.
type ValidationFile struct {
	IsBasedOn struct {
		Identifier string `json:"identifier"`
	} `json:"isBasedOn"`
	Contributor struct {
		Name     string `json:"name"`
		Locality string `json:"locality"`
	} `json:"contributor"`
	AdditionalType []struct {
		RecordedIn struct {
			Description struct {
				SHA256 string `json:"sha256"`
			} `json:"description"`
			HasPart []struct {
				Text string `json:"text"`
			} `json:"hasPart"`
		} `json:"recordedIn"`
	} `json:"additionalType"`
}

// FactSourceMessage is the schema of a bundle's message-*.json entry.
type FactSourceMessage struct {
	IsBasedOn struct {
		AdditionalType string `json:"additionalType"`
	} `json:"isBasedOn"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
}

// Indexer fetches and processes archive bundles for unarchived facts.
type Indexer struct {
	httpClient *http.Client
	store      store.Store
	logger     hclog.Logger
	endpoints  []string
	workers    int
}

// NewIndexer builds an Indexer. endpoints is tried in order per fact
// (primary Arweave gateway first, falling back on a transient failure).
func NewIndexer(httpClient *http.Client, st store.Store, logger hclog.Logger, endpoints []string) *Indexer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Indexer{httpClient: httpClient, store: st, logger: logger, endpoints: endpoints, workers: defaultWorkers}
}

// Result summarizes one Run call.
type Result struct {
	Processed int
	Failed    int
}

// Run processes every unarchived fact of net with at most 5 concurrent
// workers. It is a no-op for networks that do not track archives.
func (idx *Indexer) Run(ctx context.Context, net *model.Network) (Result, error) {
	if !net.TracksArchive {
		return Result{}, nil
	}

	facts, err := idx.store.ListUnarchivedFacts(ctx, net.ID)
	if err != nil {
		return Result{}, ferrors.Transient("archive.Run", err)
	}

	nodes, err := idx.store.ListNodes(ctx, net.ID)
	if err != nil {
		return Result{}, ferrors.Transient("archive.Run", err)
	}

	sources, err := idx.store.ListSources(ctx, net.ID)
	if err != nil {
		return Result{}, ferrors.Transient("archive.Run", err)
	}

	cache := &entityCache{nodes: nodes, sources: sources}

	pool := pond.NewPool(idx.workers)
	group := pool.NewGroupContext(ctx)

	var processed, failed atomic.Int64

	for _, fact := range facts {
		fact := fact

		group.Submit(func() {
			if err := idx.processFact(ctx, net, &fact, cache); err != nil {
				idx.logger.Error("archive indexing failed", "fact_urn", fact.FactURN, "err", err)
				failed.Add(1)

				return
			}

			processed.Add(1)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return Result{}, ferrors.Transient("archive.Run", err)
	}

	return Result{Processed: int(processed.Load()), Failed: int(failed.Load())}, nil
}

// entityCache holds the node/source snapshot workers consult and update.
// Workers serialize their writes through mutex rather than sharing a bare
// map, per the single-owner discipline in spec §9.
type entityCache struct {
	mu      sync.Mutex
	nodes   []model.Node
	sources []model.Source
}

func (c *entityCache) findNode(networkID int64, nodeURN string) (model.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.NetworkID == networkID && n.NodeURN == nodeURN {
			return n, true
		}
	}

	return model.Node{}, false
}

func (c *entityCache) addNode(n model.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append(c.nodes, n)
}

func (c *entityCache) findSourceByRecipient(networkID int64, recipient string) (model.Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.sources {
		if s.NetworkID == networkID && s.Recipient == recipient {
			return s, true
		}
	}

	return model.Source{}, false
}

func (c *entityCache) findActiveSourceByIdentity(networkID int64, name string, typ model.SourceType, sender string) (model.Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.sources {
		if s.NetworkID == networkID && s.Name == name && s.Type == typ && s.Sender == sender && s.Status != "inactive" {
			return s, true
		}
	}

	return model.Source{}, false
}

func (c *entityCache) addSource(s model.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, s)
}

func (c *entityCache) replaceSource(s model.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.sources {
		if c.sources[i].ID == s.ID {
			c.sources[i] = s

			return
		}
	}
}

// bundleEntry is one extracted file from the tar bundle.
type bundleEntry struct {
	name string
	raw  []byte
}

func (idx *Indexer) processFact(ctx context.Context, net *model.Network, fact *model.FactStatement, cache *entityCache) error {
	entries, err := idx.fetchBundle(ctx, fact.StorageURN)
	if err != nil {
		return err
	}

	validationEntry, err := findEntry(entries, "validation-")
	if err != nil {
		return ferrors.PermanentArchive("archive.processFact", err)
	}

	var validation ValidationFile
	if err := json.Unmarshal(validationEntry.raw, &validation); err != nil {
		return ferrors.PermanentArchive("archive.processFact", fmt.Errorf("parse validation file: %w", err))
	}

	node, err := idx.resolveNode(ctx, net, cache, validation)
	if err != nil {
		return err
	}

	sourceIDs, err := idx.resolveSources(ctx, net, cache, entries)
	if err != nil {
		return err
	}

	contentSignature, collectionDate, err := extractSignatureAndDate(validation)
	if err != nil {
		return ferrors.PermanentArchive("archive.processFact", err)
	}

	fact.ContentSignature = contentSignature
	fact.CollectionDate = collectionDate
	fact.ParticipatingNodes = []int64{node.ID}
	fact.Sources = sourceIDs
	fact.IsArchiveIndexed = true

	if err := idx.store.UpdateFact(ctx, fact); err != nil {
		return ferrors.Transient("archive.processFact", err)
	}

	return nil
}

func (idx *Indexer) resolveNode(
	ctx context.Context, net *model.Network, cache *entityCache, validation ValidationFile,
) (model.Node, error) {
	nodeURN := validation.IsBasedOn.Identifier
	if nodeURN == "" {
		return model.Node{}, ferrors.PermanentArchive("archive.resolveNode", fmt.Errorf("validation file has no isBasedOn.identifier"))
	}

	if node, ok := cache.findNode(net.ID, nodeURN); ok {
		return node, nil
	}

	node := model.Node{
		NetworkID: net.ID,
		NodeURN:   nodeURN,
		Name:      validation.Contributor.Name,
		Locality:  validation.Contributor.Locality,
		Status:    "active",
		Type:      model.NodeTypeFederated,
	}

	if err := idx.store.CreateNode(ctx, &node); err != nil {
		return model.Node{}, ferrors.Transient("archive.resolveNode", err)
	}

	cache.addNode(node)

	return node, nil
}

func (idx *Indexer) resolveSources(
	ctx context.Context, net *model.Network, cache *entityCache, entries []bundleEntry,
) ([]int64, error) {
	var sourceIDs []int64

	for _, entry := range entries {
		if !strings.Contains(path.Base(entry.name), "message-") {
			continue
		}

		var msg FactSourceMessage
		if err := json.Unmarshal(entry.raw, &msg); err != nil {
			return nil, ferrors.PermanentArchive("archive.resolveSources", fmt.Errorf("parse %s: %w", entry.name, err))
		}

		name := extractSourceName(entry.name)
		sourceType := model.SourceTypeDEXLP

		if msg.IsBasedOn.AdditionalType == "Central Exchange Data" {
			sourceType = model.SourceTypeCEXAPI
		}

		sender := normalizeSender(msg.Sender)

		source, err := idx.resolveSource(ctx, net, cache, name, sourceType, sender, msg.Recipient)
		if err != nil {
			return nil, err
		}

		sourceIDs = append(sourceIDs, source.ID)
	}

	return sourceIDs, nil
}

func (idx *Indexer) resolveSource(
	ctx context.Context, net *model.Network, cache *entityCache,
	name string, typ model.SourceType, sender, recipient string,
) (model.Source, error) {
	if existing, ok := cache.findSourceByRecipient(net.ID, recipient); ok {
		return existing, nil
	}

	if prior, ok := cache.findActiveSourceByIdentity(net.ID, name, typ, sender); ok && prior.Recipient != recipient {
		prior.Status = "inactive"

		if err := idx.store.UpdateSource(ctx, &prior); err != nil {
			return model.Source{}, ferrors.Transient("archive.resolveSource", err)
		}

		cache.replaceSource(prior)

		next := model.Source{
			NetworkID:       net.ID,
			Name:            name,
			Type:            typ,
			Sender:          sender,
			Recipient:       recipient,
			Status:          "active",
			Website:         prior.Website,
			ImagePath:       prior.ImagePath,
			BackgroundColor: prior.BackgroundColor,
		}

		if err := idx.store.CreateSource(ctx, &next); err != nil {
			return model.Source{}, ferrors.Transient("archive.resolveSource", err)
		}

		cache.addSource(next)

		return next, nil
	}

	next := model.Source{
		NetworkID: net.ID,
		Name:      name,
		Type:      typ,
		Sender:    sender,
		Recipient: recipient,
		Status:    "active",
	}

	if err := idx.store.CreateSource(ctx, &next); err != nil {
		return model.Source{}, ferrors.Transient("archive.resolveSource", err)
	}

	cache.addSource(next)

	return next, nil
}

func extractSourceName(filename string) string {
	match := sourceNamePattern.FindStringSubmatch(path.Base(filename))
	if len(match) < 2 {
		return strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	}

	return match[1]
}

func normalizeSender(sender string) string {
	if !strings.HasPrefix(sender, "https://") {
		return sender
	}

	rest := strings.TrimPrefix(sender, "https://")
	host := strings.SplitN(rest, "/", 2)[0]

	return "https://" + host
}

func extractSignatureAndDate(validation ValidationFile) (string, time.Time, error) {
	if len(validation.AdditionalType) == 0 {
		return "", time.Time{}, fmt.Errorf("validation file has no additionalType entries")
	}

	entry := validation.AdditionalType[0]

	if len(entry.RecordedIn.HasPart) == 0 {
		return "", time.Time{}, fmt.Errorf("validation file's recordedIn has no hasPart entries")
	}

	collected, err := time.Parse(time.RFC3339, entry.RecordedIn.HasPart[0].Text)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse collection date: %w", err)
	}

	return entry.RecordedIn.Description.SHA256, collected, nil
}

func findEntry(entries []bundleEntry, marker string) (bundleEntry, error) {
	for _, e := range entries {
		if strings.Contains(path.Base(e.name), marker) {
			return e, nil
		}
	}

	return bundleEntry{}, fmt.Errorf("no entry containing %q", marker)
}

// fetchBundle derives the archive URL from storageURN, fetches and
// extracts it, trying idx.endpoints in order.
func (idx *Indexer) fetchBundle(ctx context.Context, storageURN string) ([]bundleEntry, error) {
	if len(storageURN) <= storageURNSkip {
		return nil, ferrors.PermanentArchive("archive.fetchBundle", fmt.Errorf("storage_urn too short: %q", storageURN))
	}

	suffix := storageURN[storageURNSkip:]

	var lastErr error

	for _, endpoint := range idx.endpoints {
		body, contentType, err := idx.get(ctx, strings.TrimRight(endpoint, "/")+"/"+suffix)
		if err != nil {
			lastErr = err

			continue
		}

		if !strings.Contains(contentType, "x-tar") && !strings.Contains(contentType, "gzip") {
			lastErr = fmt.Errorf("unexpected content-type %q", contentType)

			continue
		}

		entries, err := extractBundle(body)
		if err != nil {
			return nil, ferrors.PermanentArchive("archive.fetchBundle", err)
		}

		return entries, nil
	}

	return nil, ferrors.PermanentArchive("archive.fetchBundle", fmt.Errorf("all archive endpoints failed: %w", lastErr))
}

func (idx *Indexer) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := idx.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	if len(body) == 0 {
		return nil, "", fmt.Errorf("empty body")
	}

	return body, resp.Header.Get("content-type"), nil
}

func extractBundle(body []byte) ([]bundleEntry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer gz.Close()

	reader := tar.NewReader(gz)

	var entries []bundleEntry

	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("tar extract: %w", err)
		}

		if header.Typeflag == tar.TypeDir {
			continue
		}

		base := path.Base(header.Name)
		if !strings.HasSuffix(base, ".txt") && !strings.HasSuffix(base, ".json") {
			continue
		}

		raw, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", header.Name, err)
		}

		entries = append(entries, bundleEntry{name: header.Name, raw: raw})
	}

	return entries, nil
}
