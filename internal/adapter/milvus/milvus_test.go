package milvus

import (
	"encoding/json"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"localdocs/internal/domain"
)

func TestFilterExpr(t *testing.T) {
	tests := []struct {
		name   string
		filter domain.MetadataFilter
		want   string
	}{
		{"empty", nil, `id != ""`},
		{"metadata only", domain.MetadataFilter{"lang": "en"}, `id != ""`},
		{"document", domain.MetadataFilter{"document_id": "abc"}, `document_id == "abc"`},
		{"combined", domain.MetadataFilter{"source_path": "a/b.md", "document_id": "abc", "chunk_index": "3"}, `document_id == "abc" && source_path == "a/b.md" && chunk_index == 3`},
		{"quoted", domain.MetadataFilter{"source_path": `we"ird.md`}, `source_path == "we\"ird.md"`},
		{"non numeric index", domain.MetadataFilter{"chunk_index": "x"}, `id != ""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filterExpr(tt.filter); got != tt.want {
				t.Errorf("filterExpr() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodePoints(t *testing.T) {
	p1, _ := json.Marshal(domain.Payload{DocumentID: "d1", ChunkIndex: 0, Text: "one"})
	p2, _ := json.Marshal(domain.Payload{DocumentID: "d1", ChunkIndex: 1, Text: "two"})

	rs := client.ResultSet{
		entity.NewColumnVarChar(fieldID, []string{"a", "b"}),
		entity.NewColumnJSONBytes(fieldPayload, [][]byte{p1, p2}),
		entity.NewColumnFloatVector(fieldVector, 2, [][]float32{{1, 0}, {0, 1}}),
	}

	points, err := decodePoints(rs, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[1].ID != "b" || points[1].Payload.Text != "two" || points[1].Vector[1] != 1 {
		t.Errorf("unexpected point %+v", points[1])
	}

	limited, _ := decodePoints(rs, 1)
	if len(limited) != 1 {
		t.Errorf("expected count to limit output, got %d", len(limited))
	}
}

func TestDecodePoints_CorruptPayload(t *testing.T) {
	rs := client.ResultSet{
		entity.NewColumnVarChar(fieldID, []string{"a"}),
		entity.NewColumnJSONBytes(fieldPayload, [][]byte{[]byte("{")}),
	}
	if _, err := decodePoints(rs, -1); err == nil {
		t.Error("expected error for corrupt payload")
	}
}
