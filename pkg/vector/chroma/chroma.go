// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/vector"
)

const (
	DefaultTenant   = "default_tenant"
	DefaultDatabase = "default_database"

	// vectorSizeKey records the configured vector size in the collection
	// metadata, since Chroma only fixes the dimension on first insert.
	vectorSizeKey = "kdb:vector_size"

	tokenHeader = "x-chroma-token"
)

// Driver implements vector.Driver using Chroma's REST API.
type Driver struct {
	baseURL    string
	tenant     string
	database   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger

	mu           sync.RWMutex
	collectionID string
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// APIKey is sent as the x-chroma-token header, as Chroma Cloud expects.
	APIKey string

	Tenant   string
	Database string

	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration
}

// NewDriver creates a new Chroma vector driver. No request is made until
// Configure.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}

	tenant := c.Tenant
	if tenant == "" {
		tenant = DefaultTenant
	}
	database := c.Database
	if database == "" {
		database = DefaultDatabase
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Driver{
		baseURL:  strings.TrimRight(c.URL, "/"),
		tenant:   tenant,
		database: database,
		apiKey:   c.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

func (d *Driver) authorize(req *http.Request) {
	if d.apiKey != "" {
		req.Header.Set(tokenHeader, d.apiKey)
	}
}

func (d *Driver) collectionsURL() string {
	return fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s/collections", d.baseURL, d.tenant, d.database)
}

func (d *Driver) collectionURL(op string) (string, error) {
	d.mu.RLock()
	id := d.collectionID
	d.mu.RUnlock()
	if id == "" {
		return "", vector.ErrNotConfigured
	}
	return fmt.Sprintf("%s/%s/%s", d.collectionsURL(), id, op), nil
}

// Configure gets or creates the collection named by layout and checks its
// recorded vector size.
func (d *Driver) Configure(ctx context.Context, layout vector.Layout) error {
	collection, found, err := d.getCollection(ctx, layout.Name)
	if err != nil {
		return err
	}

	if !found {
		collection, err = d.createCollection(ctx, layout)
		if err != nil {
			return err
		}
	}

	if existing, ok := collectionVectorSize(collection); ok && existing != layout.VectorSize {
		return fmt.Errorf("%w: collection %q has vector size %d, requested %d",
			vector.ErrSchemaConflict, layout.Name, existing, layout.VectorSize)
	}

	d.mu.Lock()
	d.collectionID = collection.ID
	d.mu.Unlock()

	d.logger.Info("connected to Chroma",
		zap.String("url", d.baseURL),
		zap.String("collection", layout.Name),
		zap.String("collection_id", collection.ID),
	)
	return nil
}

func (d *Driver) getCollection(ctx context.Context, name string) (chromaCollection, bool, error) {
	var collection chromaCollection

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.collectionsURL()+"/"+name, nil)
	if err != nil {
		return collection, false, fmt.Errorf("creating get request: %w", err)
	}
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return collection, false, vector.Classify("getting collection", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
			return collection, false, fmt.Errorf("decoding collection response: %w", err)
		}
		return collection, true, nil
	case resp.StatusCode == http.StatusNotFound:
		return collection, false, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		body, _ := io.ReadAll(resp.Body)
		return collection, false, vector.StatusError("getting collection", resp.StatusCode, body)
	default:
		// Older Chroma releases answer 400 for a missing collection.
		return collection, false, nil
	}
}

func (d *Driver) createCollection(ctx context.Context, layout vector.Layout) (chromaCollection, error) {
	var collection chromaCollection

	metadata := map[string]any{
		vectorSizeKey: layout.VectorSize,
		"hnsw:space":  "cosine",
	}
	err := d.post(ctx, d.collectionsURL(), "creating collection", chromaCreateRequest{
		Name:        layout.Name,
		Metadata:    metadata,
		GetOrCreate: true,
	}, &collection)
	return collection, err
}

func collectionVectorSize(c chromaCollection) (int, bool) {
	switch v := c.Metadata[vectorSizeKey].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// post sends body as JSON and decodes the response into out when out is not
// nil.
func (d *Driver) post(ctx context.Context, url, op string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return vector.Classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return vector.StatusError(op, resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

// Upsert implements vector.Driver.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	url, err := d.collectionURL("upsert")
	if err != nil {
		return 0, err
	}

	reqBody := chromaUpsertRequest{
		IDs:        make([]string, len(records)),
		Embeddings: make([][]float32, len(records)),
		Metadatas:  make([]map[string]any, len(records)),
		Documents:  make([]string, len(records)),
	}
	for i, r := range records {
		reqBody.IDs[i] = r.ID
		reqBody.Embeddings[i] = r.Embedding
		reqBody.Documents[i] = r.Content
		reqBody.Metadatas[i] = toChromaMetadata(r.Metadata)
	}

	if err := d.post(ctx, url, "upserting documents", reqBody, nil); err != nil {
		return 0, err
	}

	d.logger.Debug("upserted documents to chroma",
		zap.Int("count", len(records)),
	)
	return len(records), nil
}

// Query implements vector.Driver.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.SearchResult, error) {
	if topK <= 0 {
		topK = vector.DefaultTopK
	}
	if len(filter.IDs) > 0 {
		return nil, fmt.Errorf("%w: chroma queries cannot filter by id", vector.ErrUnsupportedFilter)
	}
	url, err := d.collectionURL("query")
	if err != nil {
		return nil, err
	}

	var queryResp chromaQueryResponse
	err = d.post(ctx, url, "querying", chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        topK,
		Where:           where(filter),
		Include:         []string{"documents", "metadatas", "distances"},
	}, &queryResp)
	if err != nil {
		return nil, err
	}

	// Only one query embedding is sent, so only the first group matters.
	if len(queryResp.IDs) == 0 || len(queryResp.IDs[0]) == 0 {
		return nil, nil
	}

	ids := queryResp.IDs[0]
	results := make([]vector.SearchResult, 0, len(ids))
	for i, id := range ids {
		result := vector.SearchResult{
			Record: vector.Record{ID: id, Metadata: map[string]string{}},
		}
		if len(queryResp.Metadatas) > 0 && i < len(queryResp.Metadatas[0]) {
			result.Metadata = fromChromaMetadata(queryResp.Metadatas[0][i])
		}
		if len(queryResp.Documents) > 0 && i < len(queryResp.Documents[0]) {
			result.Content = queryResp.Documents[0][i]
		}
		// Cosine distance in Chroma is 1 - cosine similarity.
		if len(queryResp.Distances) > 0 && i < len(queryResp.Distances[0]) {
			result.Score = 1 - queryResp.Distances[0][i]
		}
		results = append(results, result)
	}

	d.logger.Debug("queried chroma",
		zap.Int("results", len(results)),
	)
	return results, nil
}

// List implements vector.Driver.
func (d *Driver) List(ctx context.Context, filter vector.Filter) ([]vector.Record, error) {
	url, err := d.collectionURL("get")
	if err != nil {
		return nil, err
	}

	var getResp chromaGetResponse
	err = d.post(ctx, url, "getting documents", chromaGetRequest{
		IDs:     filter.IDs,
		Where:   where(filter),
		Include: []string{"documents", "metadatas"},
	}, &getResp)
	if err != nil {
		return nil, err
	}

	records := make([]vector.Record, len(getResp.IDs))
	for i, id := range getResp.IDs {
		records[i] = vector.Record{ID: id, Metadata: map[string]string{}}
		if i < len(getResp.Metadatas) {
			records[i].Metadata = fromChromaMetadata(getResp.Metadatas[i])
		}
		if i < len(getResp.Documents) {
			records[i].Content = getResp.Documents[i]
		}
	}
	return records, nil
}

// DeleteByFilter implements vector.Driver. Chroma does not report how many
// documents a delete removed, so matching ids are resolved first and then
// deleted by id.
func (d *Driver) DeleteByFilter(ctx context.Context, filter vector.Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, vector.ErrEmptyFilter
	}

	matching, err := d.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(matching) == 0 {
		return 0, nil
	}

	ids := make([]string, len(matching))
	for i, r := range matching {
		ids[i] = r.ID
	}

	url, err := d.collectionURL("delete")
	if err != nil {
		return 0, err
	}
	if err := d.post(ctx, url, "deleting documents", chromaDeleteRequest{IDs: ids}, nil); err != nil {
		return 0, err
	}

	d.logger.Debug("deleted documents from chroma",
		zap.Int("count", len(ids)),
	)
	return len(ids), nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}

// where builds a Chroma metadata filter. Multiple conditions are combined
// with $and since a bare object may only hold one key.
func where(filter vector.Filter) map[string]any {
	keys := filter.Keys()
	switch len(keys) {
	case 0:
		return nil
	case 1:
		return map[string]any{keys[0]: map[string]any{"$eq": filter.Metadata[keys[0]]}}
	}

	clauses := make([]map[string]any, len(keys))
	for i, k := range keys {
		clauses[i] = map[string]any{k: map[string]any{"$eq": filter.Metadata[k]}}
	}
	return map[string]any{"$and": clauses}
}

func toChromaMetadata(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fromChromaMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

var _ vector.Driver = (*Driver)(nil)
