package enrich

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c4a/ctiwatch/internal/cti"
)

func TestStaticEnricherLog4Shell(t *testing.T) {
	e := NewStaticEnricher()

	data, err := e.EnrichItem(context.Background(), cti.Item{
		Title:  "Log4Shell exploitation wave",
		CVEIDs: []string{"CVE-2021-44228"},
		Sector: []string{"finance", "healthcare"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"T1190", "T1055"}, data.MappedTactics)
	assert.Equal(t, []string{"finance", "healthcare"}, data.ProbableTargets)
	require.Len(t, data.RecommendedControls, 1)
	assert.Equal(t, "Apply controls for: CWE-502", data.RecommendedControls[0])
}

func TestStaticEnricherCombinesItemCWEs(t *testing.T) {
	e := NewStaticEnricher()

	data, err := e.EnrichItem(context.Background(), cti.Item{
		Title: "Stored XSS in admin panel",
		CWEs:  []string{"CWE-79"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"T1059.001", "T1059.003"}, data.MappedTactics)
}

func TestStaticEnricherUnknownItem(t *testing.T) {
	e := NewStaticEnricher()

	data, err := e.EnrichItem(context.Background(), cti.Item{Title: "Unmapped advisory"})
	require.NoError(t, err)
	assert.Empty(t, data.MappedTactics)
	assert.Empty(t, data.RecommendedControls)
}

func TestBuild(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	e, err := Build(Config{}, logger)
	require.NoError(t, err)
	_, ok := e.(*StaticEnricher)
	assert.True(t, ok, "default provider is static")

	_, err = Build(Config{Provider: "ollama"}, logger)
	assert.Error(t, err, "ollama requires endpoint and model")

	_, err = Build(Config{Provider: "bogus"}, logger)
	assert.Error(t, err)
}

func TestOllamaEnricherParsesReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"role":"assistant","content":"{\"mappedTactics\":[\"T1190\"],\"probableTargets\":[\"energy\"],\"recommendedControls\":[\"Patch immediately\"]}"}}`))
	}))
	defer server.Close()

	e, err := NewOllamaEnricher(server.URL, "test-model", log.New(io.Discard, "", 0))
	require.NoError(t, err)

	data, err := e.EnrichItem(context.Background(), cti.Item{Title: "Edge device RCE"})
	require.NoError(t, err)
	assert.Equal(t, []string{"T1190"}, data.MappedTactics)
	assert.Equal(t, []string{"energy"}, data.ProbableTargets)
	assert.Equal(t, []string{"Patch immediately"}, data.RecommendedControls)
}

func TestOllamaEnricherFallsBackOnGarbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"role":"assistant","content":"sorry, I cannot help with that"}}`))
	}))
	defer server.Close()

	e, err := NewOllamaEnricher(server.URL, "test-model", log.New(io.Discard, "", 0))
	require.NoError(t, err)

	data, err := e.EnrichItem(context.Background(), cti.Item{
		Title:  "Log4Shell redux",
		CVEIDs: []string{"CVE-2021-45046"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"T1190", "T1055"}, data.MappedTactics, "static fallback applies")
}
