package search

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{
			name:   "https cloud URL with REST port",
			rawURL: "https://xyz.cloud.qdrant.io:6333",
			host:   "xyz.cloud.qdrant.io",
			port:   6334, // REST 6333 → gRPC 6334
			tls:    true,
		},
		{
			name:   "https cloud URL with gRPC port",
			rawURL: "https://xyz.cloud.qdrant.io:6334",
			host:   "xyz.cloud.qdrant.io",
			port:   6334,
			tls:    true,
		},
		{
			name:   "http local URL",
			rawURL: "http://localhost:6333",
			host:   "localhost",
			port:   6334,
			tls:    false,
		},
		{
			name:   "http no port defaults to 6334",
			rawURL: "http://qdrant.internal",
			host:   "qdrant.internal",
			port:   6334,
			tls:    false,
		},
		{
			name:   "custom port preserved",
			rawURL: "https://qdrant.example.com:9334",
			host:   "qdrant.example.com",
			port:   9334,
			tls:    true,
		},
		{
			name:    "empty URL",
			rawURL:  "",
			wantErr: true,
		},
		{
			name:    "no scheme no host",
			rawURL:  "not-a-url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}
}

func TestBuildQdrantFilter(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, buildFilterConditions(Filter{}))
	})

	t.Run("eq", func(t *testing.T) {
		conds := buildFilterConditions(Where(Eq("item_type", "decision")))
		require.Len(t, conds, 1)
		assert.Equal(t, "decision", conds[0].GetField().GetMatch().GetKeyword())
	})

	t.Run("in with several values uses one keywords match", func(t *testing.T) {
		conds := buildFilterConditions(Where(In("item_type", "decision", "progress")))
		require.Len(t, conds, 1)
		assert.Equal(t, []string{"decision", "progress"}, conds[0].GetField().GetMatch().GetKeywords().GetStrings())
	})

	t.Run("contains all splits per value", func(t *testing.T) {
		conds := buildFilterConditions(Where(ContainsAll("tags", "db", "infra", "perf")))
		assert.Len(t, conds, 3)
	})

	t.Run("contains any", func(t *testing.T) {
		conds := buildFilterConditions(Where(ContainsAny("tags", "db", "infra")))
		assert.Len(t, conds, 1)
	})

	t.Run("conditions without values are dropped", func(t *testing.T) {
		f := Filter{Conditions: []Condition{{Field: "tags", Op: OpContainsAny}}}
		assert.Empty(t, buildFilterConditions(f))
	})
}

func TestPayloadRoundTrip(t *testing.T) {
	it := Item{
		ID: "decision_7",
		Metadata: map[string]any{
			"item_type": "decision",
			"tags":      []string{"db", "infra"},
			"nested":    map[string]any{"n": 3},
			"flag":      true,
		},
	}
	payload, err := qdrant.TryValueMap(payloadOf(it))
	require.NoError(t, err)

	back := make(map[string]any, len(payload))
	for k, v := range payload {
		back[k] = fromValue(v)
	}
	assert.Equal(t, "decision_7", back[payloadItemID])
	assert.Equal(t, "decision", back["item_type"])
	assert.Equal(t, []any{"db", "infra"}, back["tags"])
	assert.Equal(t, map[string]any{"n": int64(3)}, back["nested"])
	assert.Equal(t, true, back["flag"])

	// Tags survive the round trip in a form the in-process filter accepts.
	assert.True(t, Where(ContainsAll("tags", "infra", "db")).Match(back))
}
