// Package qdrant provides a Qdrant vector driver over its gRPC API.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/papercomputeco/kdb/pkg/vector"
)

const (
	DefaultPort = 6334

	// Payload keys for the fields the other backends keep in columns.
	payloadContent = "_content"

	scrollPageSize = 256
)

// Driver implements vector.Driver on a Qdrant collection. Record ids must be
// UUIDs, which the identity scheme guarantees.
type Driver struct {
	client *qdrant.Client
	logger *zap.Logger

	mu     sync.RWMutex
	layout *vector.Layout
}

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Addr is "host" or "host:port" of the gRPC endpoint.
	Addr   string
	APIKey string
	UseTLS bool
}

// NewDriver creates a Qdrant client.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.Addr == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	host, port := c.Addr, DefaultPort
	if h, p, err := net.SplitHostPort(c.Addr); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port %q: %w", p, err)
		}
		host, port = h, n
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	return &Driver{client: client, logger: logger}, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %s: %w", vector.ErrStoreUnavailable, op, err)
	}
	return vector.Classify(op, err)
}

func (d *Driver) current() (vector.Layout, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.layout == nil {
		return vector.Layout{}, vector.ErrNotConfigured
	}
	return *d.layout, nil
}

// Configure implements vector.Driver.
func (d *Driver) Configure(ctx context.Context, layout vector.Layout) error {
	if err := layout.Validate(); err != nil {
		return err
	}

	exists, err := d.client.CollectionExists(ctx, layout.Name)
	if err != nil {
		return classify("checking collection", err)
	}

	if exists {
		info, err := d.client.GetCollectionInfo(ctx, layout.Name)
		if err != nil {
			return classify("reading collection info", err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && int(size) != layout.VectorSize {
			return fmt.Errorf("%w: collection %q has vector size %d, requested %d",
				vector.ErrSchemaConflict, layout.Name, size, layout.VectorSize)
		}
	} else {
		err := d.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: layout.Name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(layout.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return classify("creating collection", err)
		}

		_, err = d.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: layout.Name,
			FieldName:      vector.MetaSourceID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return classify("indexing source_id", err)
		}
	}

	d.mu.Lock()
	d.layout = &layout
	d.mu.Unlock()

	d.logger.Info("qdrant collection ready",
		zap.String("collection", layout.Name),
		zap.Int("vector_size", layout.VectorSize),
	)
	return nil
}

func pointID(id string) (*qdrant.PointId, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("qdrant point ids must be UUIDs, got %q", id)
	}
	return qdrant.NewIDUUID(id), nil
}

// toFilter converts filter into Qdrant conditions.
func toFilter(filter vector.Filter) (*qdrant.Filter, error) {
	if filter.IsEmpty() {
		return nil, nil
	}

	f := &qdrant.Filter{}
	for _, k := range filter.Keys() {
		f.Must = append(f.Must, qdrant.NewMatch(k, filter.Metadata[k]))
	}
	if len(filter.IDs) > 0 {
		ids := make([]*qdrant.PointId, 0, len(filter.IDs))
		for _, id := range filter.IDs {
			pid, err := pointID(id)
			if err != nil {
				return nil, err
			}
			ids = append(ids, pid)
		}
		f.Must = append(f.Must, qdrant.NewHasID(ids...))
	}
	return f, nil
}

func fromPayload(id string, payload map[string]*qdrant.Value) vector.Record {
	r := vector.Record{ID: id, Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		if k == payloadContent {
			r.Content = v.GetStringValue()
			continue
		}
		r.Metadata[k] = v.GetStringValue()
	}
	return r
}

// Upsert implements vector.Driver.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	layout, err := d.current()
	if err != nil {
		return 0, err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != layout.VectorSize {
			return 0, fmt.Errorf("%w: record %s has %d dimensions, collection expects %d",
				vector.ErrSchemaConflict, r.ID, len(r.Embedding), layout.VectorSize)
		}
		id, err := pointID(r.ID)
		if err != nil {
			return 0, err
		}

		payload := make(map[string]any, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[payloadContent] = r.Content

		points = append(points, &qdrant.PointStruct{
			Id:      id,
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err = d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: layout.Name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return 0, classify("upserting points", err)
	}

	d.logger.Debug("upserted points to qdrant",
		zap.Int("count", len(points)),
	)
	return len(points), nil
}

// Query implements vector.Driver.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.SearchResult, error) {
	layout, err := d.current()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = vector.DefaultTopK
	}

	f, err := toFilter(filter)
	if err != nil {
		return nil, err
	}

	points, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: layout.Name,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         f,
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classify("querying points", err)
	}

	results := make([]vector.SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, vector.SearchResult{
			Record: fromPayload(p.GetId().GetUuid(), p.GetPayload()),
			Score:  p.GetScore(),
		})
	}

	d.logger.Debug("queried qdrant",
		zap.Int("results", len(results)),
	)
	return results, nil
}

// List implements vector.Driver by scrolling through matching points.
func (d *Driver) List(ctx context.Context, filter vector.Filter) ([]vector.Record, error) {
	layout, err := d.current()
	if err != nil {
		return nil, err
	}
	f, err := toFilter(filter)
	if err != nil {
		return nil, err
	}

	var (
		records []vector.Record
		offset  *qdrant.PointId
	)
	for {
		points, err := d.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: layout.Name,
			Filter:         f,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, classify("scrolling points", err)
		}

		// The scroll offset is inclusive, so every page after the first
		// repeats the previous page's last point.
		if offset != nil && len(points) > 0 && points[0].GetId().GetUuid() == offset.GetUuid() {
			points = points[1:]
		}
		for _, p := range points {
			records = append(records, fromPayload(p.GetId().GetUuid(), p.GetPayload()))
		}
		if len(points) < scrollPageSize-1 || len(points) == 0 {
			break
		}
		offset = points[len(points)-1].GetId()
	}
	return records, nil
}

// DeleteByFilter implements vector.Driver. The matching points are counted
// first because Qdrant does not report how many points a delete removed.
func (d *Driver) DeleteByFilter(ctx context.Context, filter vector.Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, vector.ErrEmptyFilter
	}
	layout, err := d.current()
	if err != nil {
		return 0, err
	}
	f, err := toFilter(filter)
	if err != nil {
		return 0, err
	}

	count, err := d.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: layout.Name,
		Filter:         f,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, classify("counting points", err)
	}
	if count == 0 {
		return 0, nil
	}

	_, err = d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: layout.Name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(f),
	})
	if err != nil {
		return 0, classify("deleting points", err)
	}

	d.logger.Debug("deleted points from qdrant",
		zap.Uint64("count", count),
	)
	return int(count), nil
}

// Close closes the gRPC connection.
func (d *Driver) Close() error {
	if err := d.client.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var _ vector.Driver = (*Driver)(nil)
