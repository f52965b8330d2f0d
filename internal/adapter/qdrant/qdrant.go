package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"localdocs/internal/domain"
)

// Options configures the Qdrant REST client.
type Options struct {
	Endpoint   string
	APIKey     string
	Collection string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Store is a port.VectorStore backed by the Qdrant REST API.
type Store struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	collection string
}

func New(opts Options) (*Store, error) {
	if opts.Collection == "" {
		return nil, domain.ConfigError("store.collection", "collection name is required")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "http://localhost:6333"
	}
	if !strings.HasPrefix(opts.Endpoint, "http") {
		opts.Endpoint = "http://" + opts.Endpoint
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Store{
		client:     client,
		endpoint:   strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
	}, nil
}

func (s *Store) SupportsFilter() bool {
	return true
}

func (s *Store) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection) + suffix
}

type collectionResponse struct {
	Result struct {
		Status              string `json:"status"`
		PointsCount         int    `json:"points_count"`
		IndexedVectorsCount int    `json:"indexed_vectors_count"`
		Config              struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (s *Store) getCollection(ctx context.Context) (*collectionResponse, error) {
	var out collectionResponse
	if err := s.call(ctx, http.MethodGet, s.collectionPath(""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	info, err := s.getCollection(ctx)
	if err == nil {
		if size := info.Result.Config.Params.Vectors.Size; size != dimension {
			return domain.ConfigError("store.collection", "collection %s has dimension %d, expected %d", s.collection, size, dimension)
		}
		return nil
	}
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return s.call(ctx, http.MethodPut, s.collectionPath(""), body, nil)
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload domain.Payload `json:"payload"`
}

func (s *Store) Upsert(ctx context.Context, points []domain.EmbeddedPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, len(points))}
	for i, p := range points {
		body.Points[i] = point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}

	if err := s.call(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil); err != nil {
		return 0, err
	}
	return len(points), nil
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload domain.Payload `json:"payload"`
	Vector  []float32      `json:"vector"`
}

func (s *Store) Search(ctx context.Context, vector []float32, k int, filter domain.MetadataFilter) ([]domain.Candidate, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}

	var out struct {
		Result []scoredPoint `json:"result"`
	}
	if err := s.call(ctx, http.MethodPost, s.collectionPath("/points/search"), body, &out); err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(out.Result))
	for _, r := range out.Result {
		candidates = append(candidates, domain.Candidate{
			Point: domain.EmbeddedPoint{
				ID:      idString(r.ID),
				Vector:  r.Vector,
				Payload: r.Payload,
			},
			Similarity: r.Score,
		})
	}
	return candidates, nil
}

var errBadRequest = errors.New("bad request")

func (s *Store) GetByID(ctx context.Context, id string) (domain.EmbeddedPoint, error) {
	var out struct {
		Result scoredPoint `json:"result"`
	}
	err := s.call(ctx, http.MethodGet, s.collectionPath("/points/"+url.PathEscape(id)), nil, &out)
	if err != nil {
		// qdrant rejects ids that are neither a UUID nor an integer with 400
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, errBadRequest) {
			return domain.EmbeddedPoint{}, domain.NotFound("document with ID '%s' not found", id)
		}
		return domain.EmbeddedPoint{}, err
	}
	return domain.EmbeddedPoint{
		ID:      idString(out.Result.ID),
		Vector:  out.Result.Vector,
		Payload: out.Result.Payload,
	}, nil
}

// DeleteByFilter counts the matching points first since the delete endpoint
// does not report how many were removed.
func (s *Store) DeleteByFilter(ctx context.Context, filter domain.MetadataFilter) (int, error) {
	f := buildFilter(filter)
	if f == nil {
		f = map[string]any{"must": []any{}}
	}

	var count struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.call(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]any{"filter": f, "exact": true}, &count); err != nil {
		return 0, err
	}
	if count.Result.Count == 0 {
		return 0, nil
	}

	if err := s.call(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"filter": f}, nil); err != nil {
		return 0, err
	}
	return count.Result.Count, nil
}

func (s *Store) CollectionInfo(ctx context.Context) (domain.CollectionInfo, error) {
	info, err := s.getCollection(ctx)
	if err != nil {
		return domain.CollectionInfo{}, err
	}
	return domain.CollectionInfo{
		Name:               s.collection,
		Backend:            "qdrant",
		PointCount:         info.Result.PointsCount,
		IndexedVectorCount: info.Result.IndexedVectorsCount,
		VectorDimension:    info.Result.Config.Params.Vectors.Size,
		Status:             info.Result.Status,
	}, nil
}

func (s *Store) DropCollection(ctx context.Context) error {
	err := s.call(ctx, http.MethodDelete, s.collectionPath(""), nil, nil)
	if errors.Is(err, domain.ErrCollectionNotFound) {
		return nil
	}
	return err
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// numericFields are stored as integers in the payload and must be matched as such.
var numericFields = map[string]bool{
	domain.FieldChunkIndex: true,
	domain.FieldTokenCount: true,
}

func buildFilter(filter domain.MetadataFilter) map[string]any {
	if len(filter) == 0 {
		return nil
	}

	must := make([]map[string]any, 0, len(filter))
	for key, value := range filter {
		field := "metadata." + key
		if domain.BuiltinField(key) {
			field = key
		}

		var match any = value
		if numericFields[key] {
			if n, err := strconv.Atoi(value); err == nil {
				match = n
			}
		}

		must = append(must, map[string]any{
			"key":   field,
			"match": map[string]any{"value": match},
		})
	}
	return map[string]any{"must": must}
}

func idString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Sprint(v)
	}
}

type apiError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

// call performs one request and decodes the JSON body into out when non-nil.
// Transport failures and 5xx responses become StoreUnavailable; connection
// details stay in the wrapped cause.
func (s *Store) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.StoreUnavailable("qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.StoreUnavailable("failed to read qdrant response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		if strings.Contains(ae.Status.Error, "Collection") || ae.Status.Error == "" && !strings.Contains(path, "/points/") {
			return domain.CollectionNotFound(s.collection)
		}
		return domain.NotFound("%s", ae.Status.Error)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ConfigError("store.qdrant_api_key_env", "qdrant rejected credentials: %s", resp.Status)
	case resp.StatusCode >= 500:
		return domain.StoreUnavailable("qdrant returned "+resp.Status, nil)
	case resp.StatusCode == http.StatusBadRequest:
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		return fmt.Errorf("%w: qdrant %s %s: %s", errBadRequest, method, path, ae.Status.Error)
	case resp.StatusCode >= 300:
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		return fmt.Errorf("qdrant %s %s failed: %s %s", method, path, resp.Status, ae.Status.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode qdrant response: %w", err)
	}
	return nil
}
