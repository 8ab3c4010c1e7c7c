package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL              string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey           string
	CollectionPrefix string
	Dims             uint64
}

// payloadItemID carries the caller's item ID; point IDs must be UUIDs.
const payloadItemID = "item_id"

// keywordFields are indexed so filtered queries stay fast.
var keywordFields = []string{"item_type", "category", "key", "name", "status", "tags"}

// QdrantBackend owns the gRPC client shared by every workspace collection.
type QdrantBackend struct {
	client *qdrant.Client
	prefix string
	dims   uint64
	logger *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantBackend creates the shared gRPC client. The connection is lazy:
// an unreachable server surfaces on the first call.
func NewQdrantBackend(cfg QdrantConfig, logger *slog.Logger) (*QdrantBackend, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "novaport"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantBackend{
		client: client,
		prefix: cfg.CollectionPrefix,
		dims:   cfg.Dims,
		logger: logger,
	}, nil
}

// CollectionName derives the collection of a workspace vector path.
func (b *QdrantBackend) CollectionName(vectorPath string) string {
	sum := sha256.Sum256([]byte(vectorPath))
	return b.prefix + "_" + hex.EncodeToString(sum[:8])
}

// Open returns the index for vectorPath, creating its collection if needed.
func (b *QdrantBackend) Open(ctx context.Context, vectorPath string) (*QdrantIndex, error) {
	idx := &QdrantIndex{backend: b, collection: b.CollectionName(vectorPath)}
	if err := idx.EnsureCollection(ctx); err != nil {
		return nil, &StoreError{Op: "open", Path: idx.collection, Err: err}
	}
	return idx, nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5 seconds
// to avoid hammering the health endpoint. Concurrent calls after cache expiry
// are deduplicated via singleflight so only one gRPC call is made; all
// waiters share its result.
func (b *QdrantBackend) Healthy(ctx context.Context) error {
	if time.Since(time.Unix(0, b.healthAt.Load())) < 5*time.Second {
		return b.loadHealthErr()
	}

	// singleflight reuses the first caller's function, so the check runs on
	// its own context rather than on any single caller's.
	result, _, _ := b.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := b.client.HealthCheck(checkCtx)
		if err != nil {
			b.storeHealthErr(fmt.Errorf("search: qdrant unhealthy: %w", err))
		} else {
			b.storeHealthErr(nil)
		}
		b.healthAt.Store(time.Now().UnixNano())
		return b.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so we wrap it in a pointer.
func (b *QdrantBackend) storeHealthErr(err error) {
	b.healthErr.Store(&err)
}

func (b *QdrantBackend) loadHealthErr() error {
	v := b.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the shared gRPC connection.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

// QdrantIndex is one workspace collection on a QdrantBackend.
type QdrantIndex struct {
	backend    *QdrantBackend
	collection string
	closed     atomic.Bool
}

// Collection returns the Qdrant collection name.
func (q *QdrantIndex) Collection() string { return q.collection }

// EnsureCollection creates the collection if it doesn't already exist and
// ensures all payload indexes are present. CreateFieldIndex is idempotent,
// so indexes added after the collection was created are backfilled.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	client := q.backend.client
	exists, err := client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection exists: %w", err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)

		if err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.backend.dims,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return fmt.Errorf("search: create collection %q: %w", q.collection, err)
		}
		q.backend.logger.Info("qdrant: created collection", "collection", q.collection, "dims", q.backend.dims)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range keywordFields {
		if _, err := client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("search: ensure index on %q: %w", field, err)
		}
	}
	return nil
}

// pointID maps an item ID to a stable UUID within the collection.
func (q *QdrantIndex) pointID(itemID string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(q.collection+"/"+itemID)).String())
}

// Upsert inserts or updates points in Qdrant.
func (q *QdrantIndex) Upsert(ctx context.Context, items []Item) error {
	if q.closed.Load() {
		return &StoreError{Op: "upsert", Path: q.collection, Err: errIndexClosed}
	}
	if len(items) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(items))
	for i, it := range items {
		payload, err := qdrant.TryValueMap(payloadOf(it))
		if err != nil {
			return &StoreError{Op: "upsert", Path: q.collection, Err: fmt.Errorf("%s: payload: %w", it.ID, err)}
		}
		points[i] = &qdrant.PointStruct{
			Id:      q.pointID(it.ID),
			Vectors: qdrant.NewVectorsDense(it.Vector),
			Payload: payload,
		}
	}

	_, err := q.backend.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return &StoreError{Op: "upsert", Path: q.collection, Err: fmt.Errorf("qdrant upsert %d points: %w", len(items), err)}
	}
	return nil
}

// Delete removes points by item ID.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if q.closed.Load() {
		return &StoreError{Op: "delete", Path: q.collection, Err: errIndexClosed}
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = q.pointID(id)
	}

	_, err := q.backend.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		return &StoreError{Op: "delete", Path: q.collection, Err: fmt.Errorf("qdrant delete %d points: %w", len(ids), err)}
	}
	return nil
}

// Query runs a filtered dense query and converts payloads back to metadata.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	if q.closed.Load() {
		return nil, &StoreError{Op: "query", Path: q.collection, Err: errIndexClosed}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          qdrant.PtrOf(uint64(topK)), //nolint:gosec // topK is positive
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if must := buildFilterConditions(filter); len(must) > 0 {
		req.Filter = &qdrant.Filter{Must: must}
	}

	scored, err := q.backend.client.Query(ctx, req)
	if err != nil {
		return nil, &StoreError{Op: "query", Path: q.collection, Err: fmt.Errorf("qdrant query: %w", err)}
	}

	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		meta := make(map[string]any, len(sp.GetPayload()))
		for k, v := range sp.GetPayload() {
			meta[k] = fromValue(v)
		}
		id, _ := meta[payloadItemID].(string)
		if id == "" {
			q.backend.logger.Warn("qdrant: point without item id", "collection", q.collection)
			continue
		}
		delete(meta, payloadItemID)
		hits = append(hits, Hit{ID: id, Score: sp.Score, Metadata: meta})
	}
	return hits, nil
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, &StoreError{Op: "count", Path: q.collection, Err: errIndexClosed}
	}
	n, err := q.backend.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, &StoreError{Op: "count", Path: q.collection, Err: fmt.Errorf("qdrant count: %w", err)}
	}
	return int(n), nil //nolint:gosec // collection sizes fit in int
}

// Close detaches the index. The shared client stays open until the backend
// is closed.
func (q *QdrantIndex) Close() error {
	q.closed.Store(true)
	return nil
}

// buildFilterConditions translates a Filter into Qdrant must-conditions.
// A keyword match on an array payload matches when any element equals the
// keyword, so ContainsAll becomes one match per value.
func buildFilterConditions(f Filter) []*qdrant.Condition {
	var must []*qdrant.Condition
	for _, c := range f.Conditions {
		if len(c.Values) == 0 {
			continue
		}
		switch c.Op {
		case OpEq:
			must = append(must, qdrant.NewMatch(c.Field, c.Values[0]))
		case OpIn, OpContainsAny:
			if len(c.Values) == 1 {
				must = append(must, qdrant.NewMatch(c.Field, c.Values[0]))
			} else {
				must = append(must, qdrant.NewMatchKeywords(c.Field, c.Values...))
			}
		case OpContainsAll:
			for _, v := range c.Values {
				must = append(must, qdrant.NewMatch(c.Field, v))
			}
		}
	}
	return must
}

// payloadOf converts item metadata into types qdrant.NewValue accepts.
func payloadOf(it Item) map[string]any {
	payload := make(map[string]any, len(it.Metadata)+1)
	for k, v := range it.Metadata {
		payload[k] = payloadValue(v)
	}
	payload[payloadItemID] = it.ID
	return payload
}

func payloadValue(v any) any {
	switch t := v.(type) {
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = payloadValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = payloadValue(e)
		}
		return out
	case nil, bool, int, int32, int64, uint, uint32, uint64, float32, float64, string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// fromValue converts a payload value back to plain Go types.
func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			out[i] = fromValue(e)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := k.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for name, e := range fields {
			out[name] = fromValue(e)
		}
		return out
	default:
		return nil
	}
}
