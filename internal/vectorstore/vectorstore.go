// Package vectorstore implements C2: the vector store client, over Qdrant's
// gRPC API, following the teacher's internal/persistence/databases/qdrant_vector.go.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"ragcore/internal/config"
)

// Distance metrics supported by create_collection.
type Distance string

const (
	Cosine Distance = "cosine"
	Euclid Distance = "euclid"
	Dot    Distance = "dot"
)

// ErrNotFound is returned when a referenced collection does not exist.
var ErrNotFound = errors.New("vectorstore: not found")

// ErrAlreadyExists is returned by CreateCollection when the collection is
// already present.
var ErrAlreadyExists = errors.New("vectorstore: already exists")

// ErrUpstreamUnavailable wraps transport failures talking to the engine.
var ErrUpstreamUnavailable = errors.New("vectorstore: upstream unavailable")

// Payload is a passage's point payload: always carries "text", optionally
// "filename", "headings" ([]string), "page_number", plus arbitrary metadata
// (spec §3 Passage).
type Payload map[string]any

// Hit is one search/scroll result. Score is the native similarity — for
// cosine/dot, higher is better.
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// CollectionInfo summarizes a collection for list_collections.
type CollectionInfo struct {
	Name       string
	PointCount uint64
	Dimension  int
	Distance   Distance
}

// payloadOriginalIDField stashes the caller-supplied, possibly non-UUID id
// when Qdrant requires the point ID to be a UUID or positive integer.
const payloadOriginalIDField = "_original_id"

// Store is a thin client over one Qdrant deployment, spanning collections.
type Store struct {
	client *qdrant.Client
}

// New connects to Qdrant using cfg.URL (host:port, optionally
// "https://host:port?api_key=..." as the teacher's NewQdrantVector parses it).
func New(cfg config.VectorConfig) (*Store, error) {
	parsed, err := url.Parse(ensureScheme(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse url: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid port: %w", err)
	}
	qcfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		qcfg.UseTLS = true
	}
	apiKey := cfg.APIKey
	if v := parsed.Query().Get("api_key"); v != "" {
		apiKey = v
	}
	if apiKey != "" {
		qcfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return &Store{client: client}, nil
}

func ensureScheme(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "http://" + raw
}

func (s *Store) Close() error { return s.client.Close() }

func toQdrantDistance(d Distance) qdrant.Distance {
	switch d {
	case Euclid:
		return qdrant.Distance_Euclid
	case Dot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

// CreateCollection creates a named collection with a fixed dimension and
// distance metric. Returns ErrAlreadyExists if it is already present.
func (s *Store) CreateCollection(ctx context.Context, name string, dim int, distance Distance) error {
	if dim <= 0 {
		return fmt.Errorf("vectorstore: dimension must be > 0")
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: toQdrantDistance(distance),
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

// DeleteCollection deletes a collection, no-op (ErrNotFound) if absent.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("%w: delete collection: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

// CollectionExists reports whether name has been created.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: collection exists: %v", ErrUpstreamUnavailable, err)
	}
	return exists, nil
}

// Point is one (id, vector, payload) upsert tuple.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

func pointID(id string) (*qdrant.PointId, string) {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id), ""
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	return qdrant.NewIDUUID(derived), id
}

// Upsert writes points into name, creating deterministic UUID point IDs for
// non-UUID caller IDs and stashing the original ID in the payload (P1: every
// vector must match the collection's configured dimension — callers are
// expected to have validated that upstream; Qdrant itself rejects mismatches).
func (s *Store) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	out := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		pid, original := pointID(p.ID)
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		if original != "" {
			payload[payloadOriginalIDField] = original
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		out = append(out, &qdrant.PointStruct{
			Id:      pid,
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: name, Points: out})
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

// Delete removes a single point by its caller-facing ID.
func (s *Store) Delete(ctx context.Context, name, id string) error {
	pid, _ := pointID(id)
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelector(pid),
	})
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

func payloadFromQdrant(raw map[string]*qdrant.Value) (Payload, string) {
	payload := make(Payload, len(raw))
	var originalID string
	for k, v := range raw {
		if k == payloadOriginalIDField {
			originalID = v.GetStringValue()
			continue
		}
		payload[k] = valueToAny(v)
	}
	return payload, originalID
}

func valueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
		return s.StringValue
	}
	if i, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
		return i.IntegerValue
	}
	if d, ok := v.Kind.(*qdrant.Value_DoubleValue); ok {
		return d.DoubleValue
	}
	if b, ok := v.Kind.(*qdrant.Value_BoolValue); ok {
		return b.BoolValue
	}
	if l, ok := v.Kind.(*qdrant.Value_ListValue); ok && l.ListValue != nil {
		out := make([]any, len(l.ListValue.Values))
		for i, it := range l.ListValue.Values {
			out[i] = valueToAny(it)
		}
		return out
	}
	if st, ok := v.Kind.(*qdrant.Value_StructValue); ok && st.StructValue != nil {
		out := make(map[string]any, len(st.StructValue.Fields))
		for k, fv := range st.StructValue.Fields {
			out[k] = valueToAny(fv)
		}
		return out
	}
	return v.GetStringValue()
}

func idString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// Search performs vector similarity search within name. scoreThreshold is
// pruned server-side when > 0 (P3). Results are native-similarity ordered
// (higher-is-better for cosine/dot), matching Hit.Score's contract.
func (s *Store) Search(ctx context.Context, name string, vector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limitU := uint64(limit)
	qp := &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limitU,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if scoreThreshold > 0 {
		f := float32(scoreThreshold)
		qp.ScoreThreshold = &f
	}
	results, err := s.client.Query(ctx, qp)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrUpstreamUnavailable, err)
	}
	out := make([]Hit, 0, len(results))
	for _, r := range results {
		payload, originalID := payloadFromQdrant(r.Payload)
		id := originalID
		if id == "" {
			id = idString(r.Id)
		}
		out = append(out, Hit{ID: id, Score: float64(r.Score), Payload: payload})
	}
	return out, nil
}

// Scroll paginates through every point in a collection, optionally limited to
// a field projection. It returns the next offset (a point ID) to resume from,
// or "" when exhausted.
func (s *Store) Scroll(ctx context.Context, name string, limit int, offset string, fields []string) ([]Hit, string, error) {
	if limit <= 0 {
		limit = 100
	}
	limitU := uint32(limit)
	req := &qdrant.ScrollPoints{
		CollectionName: name,
		Limit:          &limitU,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(fields) > 0 {
		req.WithPayload = qdrant.NewWithPayloadInclude(fields...)
	}
	if offset != "" {
		pid, _ := pointID(offset)
		req.Offset = pid
	}
	resp, err := s.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: scroll: %v", ErrUpstreamUnavailable, err)
	}
	out := make([]Hit, 0, len(resp))
	var lastID string
	for _, p := range resp {
		payload, originalID := payloadFromQdrant(p.Payload)
		id := originalID
		if id == "" {
			id = idString(p.Id)
		}
		out = append(out, Hit{ID: id, Payload: payload})
		lastID = idString(p.Id)
	}
	next := ""
	if len(out) == limit {
		next = lastID
	}
	return out, next, nil
}

// ListCollections enumerates every collection known to the engine. Point
// counts are left at zero; fetching per-collection stats needs a second
// round trip per name and is not required by any spec invariant.
func (s *Store) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list collections: %v", ErrUpstreamUnavailable, err)
	}
	out := make([]CollectionInfo, 0, len(names))
	for _, n := range names {
		out = append(out, CollectionInfo{Name: n})
	}
	return out, nil
}
