package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"NewsPipeline/internal/config"
	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

const systemPrompt = `You are a news analysis engine. Analyze the article and respond with a single JSON object matching the provided schema. Normalize entity and event names to their canonical English forms. Be conservative with virality_score and key_claims.`

// OpenAIBatchProvider implements ports.AnalysisProvider on the OpenAI
// Batch API. A submitted batch is identified by the remote batch id,
// which doubles as the resume handle.
type OpenAIBatchProvider struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.AnalysisProvider = (*OpenAIBatchProvider)(nil)

// NewOpenAIBatchProvider builds a provider from configuration.
func NewOpenAIBatchProvider(cfg config.OpenAIBatchConfig) *OpenAIBatchProvider {
	return &OpenAIBatchProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name identifies the provider in logs.
func (p *OpenAIBatchProvider) Name() string { return "openai_batch" }

// SubmitBatch uploads the request set as a JSONL batch input file and
// creates a batch over it. Returns the remote batch id.
func (p *OpenAIBatchProvider) SubmitBatch(ctx context.Context, requests []ports.AnalysisRequest) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("%w: missing api key", ports.ErrProviderUnavailable)
	}
	if len(requests) == 0 {
		return "", fmt.Errorf("empty batch")
	}

	jsonl, err := p.buildInputFile(requests)
	if err != nil {
		return "", err
	}

	fileID, err := p.uploadFile(ctx, jsonl)
	if err != nil {
		return "", err
	}
	return p.createBatch(ctx, fileID)
}

// CheckStatus polls the remote batch state without side effects.
func (p *OpenAIBatchProvider) CheckStatus(ctx context.Context, handle string) (ports.BatchStatus, error) {
	var batch batchObject
	if err := p.getJSON(ctx, "/batches/"+handle, &batch); err != nil {
		return ports.BatchStatus{}, err
	}
	return ports.BatchStatus{
		State:     mapBatchState(batch.Status),
		Total:     batch.RequestCounts.Total,
		Completed: batch.RequestCounts.Completed,
		Failed:    batch.RequestCounts.Failed,
	}, nil
}

// RetrieveResults downloads the output and error files of a completed
// batch and turns each JSONL line into an item-level result. Output
// payloads are validated against the analysis schema before an item is
// marked successful.
func (p *OpenAIBatchProvider) RetrieveResults(ctx context.Context, handle string) ([]ports.AnalysisResult, error) {
	var batch batchObject
	if err := p.getJSON(ctx, "/batches/"+handle, &batch); err != nil {
		return nil, err
	}
	if mapBatchState(batch.Status) != ports.BatchCompleted {
		return nil, fmt.Errorf("%w: batch %s is %s", ports.ErrBatchNotReady, handle, batch.Status)
	}

	var results []ports.AnalysisResult
	if batch.OutputFileID != "" {
		lines, err := p.downloadLines(ctx, batch.OutputFileID)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			results = append(results, parseOutputLine(line))
		}
	}
	if batch.ErrorFileID != "" {
		lines, err := p.downloadLines(ctx, batch.ErrorFileID)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			results = append(results, parseErrorLine(line))
		}
	}
	return results, nil
}

func (p *OpenAIBatchProvider) buildInputFile(requests []ports.AnalysisRequest) ([]byte, error) {
	var buf bytes.Buffer
	for _, req := range requests {
		line := map[string]any{
			"custom_id": req.CustomID,
			"method":    "POST",
			"url":       "/v1/chat/completions",
			"body": map[string]any{
				"model": p.model,
				"messages": []map[string]string{
					{"role": "system", "content": systemPrompt},
					{"role": "user", "content": articlePrompt(req.Article)},
				},
				"response_format": responseFormat(),
			},
		}
		raw, err := json.Marshal(line)
		if err != nil {
			return nil, fmt.Errorf("marshal batch line %s: %w", req.CustomID, err)
		}
		buf.Write(raw)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (p *OpenAIBatchProvider) uploadFile(ctx context.Context, jsonl []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := writer.CreateFormFile("file", "batch_input.jsonl")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(jsonl); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var file struct {
		ID string `json:"id"`
	}
	if err := p.do(req, &file); err != nil {
		return "", err
	}
	return file.ID, nil
}

func (p *OpenAIBatchProvider) createBatch(ctx context.Context, fileID string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"input_file_id":     fileID,
		"endpoint":          "/v1/chat/completions",
		"completion_window": "24h",
	})
	if err != nil {
		return "", fmt.Errorf("marshal batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/batches", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var batch batchObject
	if err := p.do(req, &batch); err != nil {
		return "", err
	}
	return batch.ID, nil
}

func (p *OpenAIBatchProvider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	return p.do(req, out)
}

func (p *OpenAIBatchProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ports.ErrProviderUnavailable, resp.Status)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("openai error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode openai response: %w", err)
	}
	return nil
}

func (p *OpenAIBatchProvider) downloadLines(ctx context.Context, fileID string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("download file %s: %s: %s", fileID, resp.Status, strings.TrimSpace(string(payload)))
	}

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}
	return lines, nil
}

type batchObject struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	OutputFileID  string `json:"output_file_id"`
	ErrorFileID   string `json:"error_file_id"`
	RequestCounts struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
}

type outputLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseOutputLine(raw string) ports.AnalysisResult {
	var line outputLine
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return ports.AnalysisResult{ErrorMsg: fmt.Sprintf("malformed output line: %v", err)}
	}

	result := ports.AnalysisResult{CustomID: line.CustomID}
	if line.Error != nil {
		result.ErrorMsg = line.Error.Message
		return result
	}
	if line.Response.StatusCode >= http.StatusBadRequest {
		result.ErrorMsg = fmt.Sprintf("item request failed with status %d", line.Response.StatusCode)
		return result
	}
	if len(line.Response.Body.Choices) == 0 {
		result.ErrorMsg = "response has no choices"
		return result
	}

	content := line.Response.Body.Choices[0].Message.Content
	if _, err := domain.ParseNewsAnalysis(content); err != nil {
		result.ErrorMsg = err.Error()
		return result
	}
	result.Success = true
	result.ResultJSON = content
	return result
}

func parseErrorLine(raw string) ports.AnalysisResult {
	var line outputLine
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return ports.AnalysisResult{ErrorMsg: fmt.Sprintf("malformed error line: %v", err)}
	}
	msg := "item failed"
	if line.Error != nil && line.Error.Message != "" {
		msg = line.Error.Message
	}
	return ports.AnalysisResult{CustomID: line.CustomID, ErrorMsg: msg}
}

func mapBatchState(status string) ports.BatchState {
	switch status {
	case "validating":
		return ports.BatchPending
	case "in_progress", "finalizing":
		return ports.BatchInProgress
	case "completed":
		return ports.BatchCompleted
	case "failed":
		return ports.BatchFailed
	case "expired":
		return ports.BatchExpired
	case "cancelled", "cancelling":
		return ports.BatchCancelled
	default:
		return ports.BatchPending
	}
}

func articlePrompt(article domain.Article) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\n", article.Title)
	if article.Source != "" {
		fmt.Fprintf(&sb, "Media: %s\n", article.Source)
	}
	if article.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", article.Author)
	}
	if article.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", article.Category)
	}
	if article.PublishedAt != nil {
		fmt.Fprintf(&sb, "Published: %s\n", article.PublishedAt.Format("2006-01-02 15:04"))
	}
	sb.WriteString("\n")
	sb.WriteString(article.Content)
	return sb.String()
}

// responseFormat is the strict JSON schema the model output must follow.
func responseFormat() map[string]any {
	intRange := func(min, max int) map[string]any {
		return map[string]any{"type": "integer", "minimum": min, "maximum": max}
	}
	stringEnum := func(values ...string) map[string]any {
		return map[string]any{"type": "string", "enum": values}
	}
	stringArray := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"sentiment", "framing", "entities", "events",
			"entity_relations", "event_relations", "signals", "category_normalized",
		},
		"properties": map[string]any{
			"sentiment": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"polarity", "intensity", "tone"},
				"properties": map[string]any{
					"polarity":  intRange(-10, 10),
					"intensity": intRange(1, 10),
					"tone":      stringEnum("neutral", "supportive", "critical", "sensational", "analytical"),
				},
			},
			"framing": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"angle", "narrative_type"},
				"properties": map[string]any{
					"angle":          map[string]any{"type": "string"},
					"narrative_type": stringEnum("conflict", "human_interest", "economic", "moral", "attribution", "procedural"),
				},
			},
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"name", "name_normalized", "type", "role", "sentiment_toward"},
					"properties": map[string]any{
						"name":             map[string]any{"type": "string"},
						"name_normalized":  map[string]any{"type": "string"},
						"type":             stringEnum("person", "organization", "location", "product", "concept"),
						"role":             stringEnum("subject", "object", "source", "mentioned"),
						"sentiment_toward": intRange(-10, 10),
					},
				},
			},
			"events": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required": []string{
						"topic_normalized", "name_normalized", "sub_event_normalized",
						"tags", "type", "is_main", "event_time", "article_type", "temporal_cues",
					},
					"properties": map[string]any{
						"topic_normalized":     map[string]any{"type": "string"},
						"name_normalized":      map[string]any{"type": "string"},
						"sub_event_normalized": map[string]any{"type": "string"},
						"tags":                 stringArray,
						"type": stringEnum(
							"policy", "scandal", "legal", "election", "disaster", "protest",
							"business", "international", "society", "entertainment", "sports",
							"technology", "health", "environment", "crime", "other"),
						"is_main":       map[string]any{"type": "boolean"},
						"event_time":    map[string]any{"type": "string"},
						"article_type":  stringEnum("breaking", "first_report", "follow_up", "retrospective", "analysis", "standard"),
						"temporal_cues": stringArray,
					},
				},
			},
			"entity_relations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"source", "target", "type"},
					"properties": map[string]any{
						"source": map[string]any{"type": "string"},
						"target": map[string]any{"type": "string"},
						"type":   stringEnum("supports", "opposes", "member_of", "leads", "allied_with", "conflicts_with", "related_to"),
					},
				},
			},
			"event_relations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"entity", "event", "type"},
					"properties": map[string]any{
						"entity": map[string]any{"type": "string"},
						"event":  map[string]any{"type": "string"},
						"type":   stringEnum("accused_in", "victim_in", "investigates", "comments_on", "causes", "responds_to", "involved_in"),
					},
				},
			},
			"signals": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"is_exclusive", "is_opinion", "has_update", "key_claims", "virality_score"},
				"properties": map[string]any{
					"is_exclusive":   map[string]any{"type": "boolean"},
					"is_opinion":     map[string]any{"type": "boolean"},
					"has_update":     map[string]any{"type": "boolean"},
					"key_claims":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "maxItems": 3},
					"virality_score": intRange(1, 10),
				},
			},
			"category_normalized": stringEnum(
				"politics", "business", "technology", "entertainment", "sports",
				"society", "international", "local", "opinion", "lifestyle",
				"health", "education", "environment", "crime", "other"),
		},
	}

	return map[string]any{
		"type": "json_schema",
		"json_schema": map[string]any{
			"name":   "news_analysis",
			"strict": true,
			"schema": schema,
		},
	}
}
