package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"NewsPipeline/internal/config"
	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

// itemsPerPoll caps how many articles one status check works through, so
// a poll tick stays bounded even on slow local models.
const itemsPerPoll = 5

// LocalBatchProvider implements ports.AnalysisProvider against a local
// generate endpoint (Ollama-style API). There is no remote batch object;
// batches live in process memory and items are worked off incrementally
// during status checks. Handles therefore do not survive a restart,
// which is acceptable for the local development variant.
type LocalBatchProvider struct {
	endpoint   string
	model      string
	httpClient *http.Client

	mu      sync.Mutex
	batches map[string]*localBatch
}

type localBatch struct {
	pending []ports.AnalysisRequest
	results []ports.AnalysisResult
	total   int
	failed  int
}

var _ ports.AnalysisProvider = (*LocalBatchProvider)(nil)

// NewLocalBatchProvider builds a provider from configuration.
func NewLocalBatchProvider(cfg config.LocalLLMConfig) *LocalBatchProvider {
	return &LocalBatchProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		batches: make(map[string]*localBatch),
	}
}

// Name identifies the provider in logs.
func (p *LocalBatchProvider) Name() string { return "local" }

// SubmitBatch registers the request set under a fresh handle. No model
// calls happen here; work starts on the first status check.
func (p *LocalBatchProvider) SubmitBatch(ctx context.Context, requests []ports.AnalysisRequest) (string, error) {
	if len(requests) == 0 {
		return "", fmt.Errorf("empty batch")
	}

	handle := "local_" + uuid.NewString()
	p.mu.Lock()
	p.batches[handle] = &localBatch{
		pending: append([]ports.AnalysisRequest(nil), requests...),
		total:   len(requests),
	}
	p.mu.Unlock()
	return handle, nil
}

// CheckStatus works through up to itemsPerPoll pending articles and
// reports progress.
func (p *LocalBatchProvider) CheckStatus(ctx context.Context, handle string) (ports.BatchStatus, error) {
	p.mu.Lock()
	batch, ok := p.batches[handle]
	p.mu.Unlock()
	if !ok {
		return ports.BatchStatus{}, fmt.Errorf("unknown batch handle %q", handle)
	}

	for i := 0; i < itemsPerPoll; i++ {
		p.mu.Lock()
		if len(batch.pending) == 0 {
			p.mu.Unlock()
			break
		}
		req := batch.pending[0]
		batch.pending = batch.pending[1:]
		p.mu.Unlock()

		result := p.analyzeOne(ctx, req)
		p.mu.Lock()
		batch.results = append(batch.results, result)
		if !result.Success {
			batch.failed++
		}
		p.mu.Unlock()

		if ctx.Err() != nil {
			return ports.BatchStatus{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	status := ports.BatchStatus{
		State:     ports.BatchInProgress,
		Total:     batch.total,
		Completed: len(batch.results),
		Failed:    batch.failed,
	}
	if len(batch.pending) == 0 {
		status.State = ports.BatchCompleted
	}
	return status, nil
}

// RetrieveResults returns the accumulated results of a finished batch.
func (p *LocalBatchProvider) RetrieveResults(ctx context.Context, handle string) ([]ports.AnalysisResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch, ok := p.batches[handle]
	if !ok {
		return nil, fmt.Errorf("unknown batch handle %q", handle)
	}
	if len(batch.pending) > 0 {
		return nil, fmt.Errorf("%w: %d items remaining", ports.ErrBatchNotReady, len(batch.pending))
	}
	return append([]ports.AnalysisResult(nil), batch.results...), nil
}

func (p *LocalBatchProvider) analyzeOne(ctx context.Context, req ports.AnalysisRequest) ports.AnalysisResult {
	result := ports.AnalysisResult{CustomID: req.CustomID}

	payload, err := json.Marshal(map[string]any{
		"model":  p.model,
		"prompt": systemPrompt + "\n\n" + articlePrompt(req.Article),
		"format": "json",
		"stream": false,
	})
	if err != nil {
		result.ErrorMsg = fmt.Sprintf("marshal generate payload: %v", err)
		return result
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		result.ErrorMsg = fmt.Sprintf("new request: %v", err)
		return result
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		result.ErrorMsg = fmt.Sprintf("generate: %v", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		result.ErrorMsg = fmt.Sprintf("generate error %s: %s", resp.Status, strings.TrimSpace(string(body)))
		return result
	}

	var generated struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&generated); err != nil {
		result.ErrorMsg = fmt.Sprintf("decode generate response: %v", err)
		return result
	}

	content := strings.TrimSpace(generated.Response)
	if _, err := domain.ParseNewsAnalysis(content); err != nil {
		result.ErrorMsg = err.Error()
		return result
	}
	result.Success = true
	result.ResultJSON = content
	return result
}
