package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
)

func TestCallFetchRejectsPrivateIPLiteral(t *testing.T) {
	srv := NewServer(Config{}, nil)
	args, err := json.Marshal(fetchArgs{URL: "http://127.0.0.1/secret"})
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), toolFetch, args, ports.ToolInvocationContext{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "rejected")
}

func TestCallFetchExtractsReadableContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Example</title></head><body><main><p>Hello world.</p><script>evil()</script></main></body></html>`))
	}))
	defer ts.Close()

	srv := NewServer(Config{FetchTimeout: 5 * time.Second}, nil)
	args, err := json.Marshal(fetchArgs{URL: ts.URL})
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), toolFetch, args, ports.ToolInvocationContext{})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Text(), "Hello world")
	assert.NotContains(t, result.Text(), "evil()")
}

func TestCallSearchRejectsEmptyQuery(t *testing.T) {
	srv := NewServer(Config{}, nil)
	args, err := json.Marshal(searchArgs{Query: "  "})
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), toolSearch, args, ports.ToolInvocationContext{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCallToolUnknownNameErrors(t *testing.T) {
	srv := NewServer(Config{}, nil)
	_, err := srv.CallTool(context.Background(), "not_a_tool", json.RawMessage(`{}`), ports.ToolInvocationContext{})
	assert.Error(t, err)
}

func TestDescriptorsAdvertiseBothTools(t *testing.T) {
	srv := NewServer(Config{}, nil)
	descs, err := srv.Descriptors(context.Background())
	require.NoError(t, err)
	names := map[string]bool{}
	for _, d := range descs {
		names[d.Name] = true
	}
	assert.True(t, names[toolSearch])
	assert.True(t, names[toolFetch])
}

func TestExtractReadableTextStripsScriptsAndKeepsTitle(t *testing.T) {
	html := `<html><head><title>Page</title><style>.a{}</style></head><body><article><p>Real content here that is long enough to pass the density threshold check applied by extraction logic in this package implementation.</p></article><script>bad()</script></body></html>`
	text := extractReadableText(html)
	assert.Contains(t, text, "Title: Page")
	assert.Contains(t, text, "Real content here")
	assert.NotContains(t, text, "bad()")
}

func TestSearchCacheReturnsStoredResponse(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"AbstractText":"","AbstractURL":"","Heading":"","RelatedTopics":[]}`))
	}))
	defer ts.Close()

	srv := NewServer(Config{CacheTTL: time.Minute}, nil)
	srv.putCache("golang:5", SearchResponse{Query: "golang", ResultCount: 0})

	cached, ok := srv.fromCache("golang:5")
	require.True(t, ok)
	assert.Equal(t, "golang", cached.Query)
}
