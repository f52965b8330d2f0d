package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localdocs/internal/domain"
)

// fakeQdrant implements the subset of the REST API the adapter uses.
type fakeQdrant struct {
	mu      sync.Mutex
	exists  bool
	size    int
	points  map[string]point
	apiKeys []string
}

type filterBody struct {
	Must []struct {
		Key   string `json:"key"`
		Match struct {
			Value any `json:"value"`
		} `json:"match"`
	} `json:"must"`
}

func (f *fakeQdrant) matches(p point, filter *filterBody) bool {
	if filter == nil {
		return true
	}
	for _, m := range filter.Must {
		want := fmt.Sprint(m.Match.Value)
		var got string
		var ok bool
		if key, found := strings.CutPrefix(m.Key, "metadata."); found {
			got, ok = p.Payload.Metadata[key]
		} else {
			got, ok = p.Payload.Field(m.Key)
		}
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))
	path := strings.TrimPrefix(r.URL.Path, "/collections/docs")

	notFound := func(msg string) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"status":{"error":%q}}`, msg)
	}
	ok := func(result any) {
		json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
	}

	if path != "" && !f.exists {
		notFound("Not found: Collection `docs` doesn't exist!")
		return
	}

	switch {
	case path == "" && r.Method == http.MethodGet:
		if !f.exists {
			notFound("Not found: Collection `docs` doesn't exist!")
			return
		}
		ok(map[string]any{
			"status":                "green",
			"points_count":          len(f.points),
			"indexed_vectors_count": len(f.points),
			"config":                map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": "Cosine"}}},
		})
	case path == "" && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.exists, f.size = true, body.Vectors.Size
		f.points = map[string]point{}
		ok(true)
	case path == "" && r.Method == http.MethodDelete:
		if !f.exists {
			notFound("Not found: Collection `docs` doesn't exist!")
			return
		}
		f.exists = false
		ok(true)
	case path == "/points" && r.Method == http.MethodPut:
		var body struct {
			Points []point `json:"points"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		ok(map[string]any{"status": "completed"})
	case path == "/points/search":
		var body struct {
			Vector []float32   `json:"vector"`
			Limit  int         `json:"limit"`
			Filter *filterBody `json:"filter"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		var hits []scoredPoint
		for _, p := range f.points {
			if f.matches(p, body.Filter) {
				hits = append(hits, scoredPoint{ID: p.ID, Score: domain.CosineSimilarity(body.Vector, p.Vector), Payload: p.Payload, Vector: p.Vector})
			}
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		ok(hits)
	case path == "/points/count":
		var body struct {
			Filter *filterBody `json:"filter"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		n := 0
		for _, p := range f.points {
			if f.matches(p, body.Filter) {
				n++
			}
		}
		ok(map[string]int{"count": n})
	case path == "/points/delete":
		var body struct {
			Filter *filterBody `json:"filter"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for id, p := range f.points {
			if f.matches(p, body.Filter) {
				delete(f.points, id)
			}
		}
		ok(map[string]any{"status": "completed"})
	case strings.HasPrefix(path, "/points/") && r.Method == http.MethodGet:
		id := strings.TrimPrefix(path, "/points/")
		p, found := f.points[id]
		if !found {
			notFound("Not found: Point with id " + id + " does not exists!")
			return
		}
		ok(scoredPoint{ID: p.ID, Payload: p.Payload, Vector: p.Vector})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(Options{Endpoint: srv.URL, APIKey: "secret", Collection: "docs"})
	require.NoError(t, err)
	return s, fake
}

func pt(id, doc string, idx int, vec ...float32) domain.EmbeddedPoint {
	return domain.EmbeddedPoint{
		ID:     id,
		Vector: vec,
		Payload: domain.Payload{
			DocumentID: doc,
			ChunkIndex: idx,
			Text:       "chunk " + id,
			SourcePath: doc + ".md",
			Filename:   doc + ".md",
			Metadata:   map[string]string{"team": doc},
		},
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	_, err := s.CollectionInfo(ctx)
	assert.True(t, errors.Is(err, domain.ErrCollectionNotFound), "got %v", err)

	require.NoError(t, s.EnsureCollection(ctx, 2))
	require.NoError(t, s.EnsureCollection(ctx, 2))
	assert.True(t, errors.Is(s.EnsureCollection(ctx, 3), domain.ErrConfig))

	n, err := s.Upsert(ctx, []domain.EmbeddedPoint{
		pt("p1", "auth", 0, 1, 0),
		pt("p2", "auth", 1, 0.8, 0.2),
		pt("p3", "deploy", 0, 0, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := s.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "p1", res[0].Point.ID)
	assert.Equal(t, "auth", res[0].Point.Payload.DocumentID)
	assert.Len(t, res[0].Point.Vector, 2)

	info, err := s.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.PointCount)
	assert.Equal(t, 2, info.VectorDimension)
	assert.Equal(t, "qdrant", info.Backend)

	assert.Contains(t, fake.apiKeys, "secret")
}

func TestStore_FilterPushdown(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, 2))
	_, err := s.Upsert(ctx, []domain.EmbeddedPoint{
		pt("p1", "auth", 0, 1, 0),
		pt("p2", "auth", 1, 0.8, 0.2),
		pt("p3", "deploy", 0, 0.9, 0.1),
	})
	require.NoError(t, err)

	res, err := s.Search(ctx, []float32{1, 0}, 10, domain.MetadataFilter{"team": "deploy"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "p3", res[0].Point.ID)

	res, err = s.Search(ctx, []float32{1, 0}, 10, domain.MetadataFilter{"document_id": "auth", "chunk_index": "1"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "p2", res[0].Point.ID)
}

func TestStore_GetAndDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, 2))
	_, err := s.Upsert(ctx, []domain.EmbeddedPoint{pt("p1", "auth", 0, 1, 0), pt("p2", "deploy", 0, 0, 1)})
	require.NoError(t, err)

	got, err := s.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "chunk p1", got.Payload.Text)

	_, err = s.GetByID(ctx, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, "document with ID 'nope' not found", err.Error())

	removed, err := s.DeleteByFilter(ctx, domain.MetadataFilter{"document_id": "auth"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = s.DeleteByFilter(ctx, domain.MetadataFilter{"document_id": "auth"})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	require.NoError(t, s.DropCollection(ctx))
	require.NoError(t, s.DropCollection(ctx))
}

func TestStore_MalformedPointID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":{"error":"Format error in JSON body: value not-a-uuid is not a valid point ID, valid values are either an unsigned integer or a UUID"},"time":0.0}`)
	}))
	t.Cleanup(srv.Close)

	s, err := New(Options{Endpoint: srv.URL, Collection: "docs"})
	require.NoError(t, err)

	_, err = s.GetByID(context.Background(), "not-a-uuid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	assert.Equal(t, "document with ID 'not-a-uuid' not found", err.Error())

	_, err = s.Search(context.Background(), []float32{1}, 3, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestStore_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s, err := New(Options{Endpoint: url, Collection: "docs"})
	require.NoError(t, err)

	_, err = s.Search(context.Background(), []float32{1}, 3, nil)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable), "got %v", err)
}

func TestStore_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	s, err := New(Options{Endpoint: srv.URL, Collection: "docs"})
	require.NoError(t, err)

	_, err = s.CollectionInfo(context.Background())
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable), "got %v", err)
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(nil))

	f := buildFilter(domain.MetadataFilter{"chunk_index": "2"})
	must := f["must"].([]map[string]any)
	require.Len(t, must, 1)
	assert.Equal(t, "chunk_index", must[0]["key"])
	assert.Equal(t, 2, must[0]["match"].(map[string]any)["value"])

	f = buildFilter(domain.MetadataFilter{"lang": "en"})
	must = f["must"].([]map[string]any)
	assert.Equal(t, "metadata.lang", must[0]["key"])
}
