package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/c4a/ctiwatch/internal/cti"
)

// OllamaEnricher asks a local Ollama server to map an item onto tactics,
// targets, and controls. Responses that cannot be parsed fall back to the
// static tables so enrichment never blocks ingestion on model quality.
type OllamaEnricher struct {
	endpoint   string
	model      string
	httpClient *http.Client
	fallback   *StaticEnricher
	logger     *log.Logger
}

// NewOllamaEnricher constructs a new Ollama-backed enricher.
// endpoint example: http://localhost:11434
func NewOllamaEnricher(endpoint, model string, logger *log.Logger) (*OllamaEnricher, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ollama enricher: endpoint is required")
	}
	if model == "" {
		return nil, fmt.Errorf("ollama enricher: model is required")
	}
	return &OllamaEnricher{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      strings.TrimSpace(model),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		fallback:   NewStaticEnricher(),
		logger:     logger,
	}, nil
}

// EnrichItem sends the item to Ollama's /api/chat endpoint and parses the
// structured reply.
func (e *OllamaEnricher) EnrichItem(ctx context.Context, item cti.Item) (cti.EnrichmentData, error) {
	type ollamaMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model    string      `json:"model"`
		Messages []ollamaMsg `json:"messages"`
		Stream   bool        `json:"stream"`
		Format   string      `json:"format,omitempty"`
	}
	type chatResp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}

	payload := chatReq{
		Model: e.model,
		Messages: []ollamaMsg{
			{Role: "system", Content: enrichSystemPrompt},
			{Role: "user", Content: buildPrompt(item)},
		},
		Stream: false,
		Format: "json",
	}
	data, _ := json.Marshal(payload)

	url := e.endpoint + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return cti.EnrichmentData{}, fmt.Errorf("ollama enricher: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return cti.EnrichmentData{}, fmt.Errorf("ollama enricher: request error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return cti.EnrichmentData{}, fmt.Errorf("ollama enricher: status %d", resp.StatusCode)
	}

	var cr chatResp
	if err := json.Unmarshal(body, &cr); err != nil {
		return cti.EnrichmentData{}, fmt.Errorf("ollama enricher: decode response: %w", err)
	}

	var out struct {
		MappedTactics       []string `json:"mappedTactics"`
		ProbableTargets     []string `json:"probableTargets"`
		RecommendedControls []string `json:"recommendedControls"`
	}
	if err := json.Unmarshal([]byte(cr.Message.Content), &out); err != nil {
		if e.logger != nil {
			e.logger.Printf("Unparseable enrichment reply for item %s, using static tables", item.ID)
		}
		return e.fallback.EnrichItem(ctx, item)
	}

	return cti.EnrichmentData{
		MappedTactics:       cti.DedupeStrings(out.MappedTactics),
		ProbableTargets:     cti.DedupeStrings(out.ProbableTargets),
		RecommendedControls: cti.DedupeStrings(out.RecommendedControls),
	}, nil
}

// HealthCheck performs a lightweight check against /api/tags.
func (e *OllamaEnricher) HealthCheck(ctx context.Context) error {
	url := e.endpoint + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ollama health: status %d", resp.StatusCode)
	}
	return nil
}

const enrichSystemPrompt = `You are a threat intelligence analyst. Given a threat report, reply with a JSON object holding three string arrays: "mappedTactics" (MITRE ATT&CK technique IDs), "probableTargets" (industry sectors), and "recommendedControls" (short mitigation statements). Reply with JSON only.`

func buildPrompt(item cti.Item) string {
	var sb strings.Builder
	sb.WriteString("Title: " + item.Title + "\n")
	if item.Summary != "" {
		sb.WriteString("Summary: " + item.Summary + "\n")
	}
	if len(item.CVEIDs) > 0 {
		sb.WriteString("CVEs: " + strings.Join(item.CVEIDs, ", ") + "\n")
	}
	if len(item.CWEs) > 0 {
		sb.WriteString("CWEs: " + strings.Join(item.CWEs, ", ") + "\n")
	}
	if len(item.Sector) > 0 {
		sb.WriteString("Targeted sectors: " + strings.Join(item.Sector, ", ") + "\n")
	}
	if len(item.Actors) > 0 {
		sb.WriteString("Actors: " + strings.Join(item.Actors, ", ") + "\n")
	}
	return sb.String()
}
