package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

const validAnalysisJSON = `{
	"sentiment": {"polarity": 2, "intensity": 4, "tone": "neutral"},
	"framing": {"angle": "budget impact", "narrative_type": "economic"},
	"entities": [],
	"events": [],
	"entity_relations": [],
	"event_relations": [],
	"signals": {"is_exclusive": false, "is_opinion": false, "has_update": false, "key_claims": [], "virality_score": 3},
	"category_normalized": "politics"
}`

// fakeProvider scripts batch behavior and records every call.
type fakeProvider struct {
	submitCalls   int
	statusCalls   int
	retrieveCalls int

	handle       string
	statuses     []ports.BatchStatus
	results      []ports.AnalysisResult
	statusDelays []time.Duration

	lastRequests []ports.AnalysisRequest
	statusTimes  []time.Time
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) SubmitBatch(ctx context.Context, requests []ports.AnalysisRequest) (string, error) {
	p.submitCalls++
	p.lastRequests = requests
	return p.handle, nil
}

func (p *fakeProvider) CheckStatus(ctx context.Context, handle string) (ports.BatchStatus, error) {
	p.statusCalls++
	p.statusTimes = append(p.statusTimes, time.Now())
	if len(p.statusDelays) > 0 {
		delay := p.statusDelays[0]
		p.statusDelays = p.statusDelays[1:]
		time.Sleep(delay)
	}
	if len(p.statuses) == 0 {
		return ports.BatchStatus{State: ports.BatchCompleted}, nil
	}
	status := p.statuses[0]
	if len(p.statuses) > 1 {
		p.statuses = p.statuses[1:]
	}
	return status, nil
}

func (p *fakeProvider) RetrieveResults(ctx context.Context, handle string) ([]ports.AnalysisResult, error) {
	p.retrieveCalls++
	return p.results, nil
}

// fakeRunStore keeps runs in memory.
type fakeRunStore struct {
	runs   map[int64]*domain.PipelineRun
	nextID int64
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: map[int64]*domain.PipelineRun{}, nextID: 1}
}

func (s *fakeRunStore) Create(ctx context.Context, run *domain.PipelineRun) error {
	run.ID = s.nextID
	s.nextID++
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *fakeRunStore) Get(ctx context.Context, id int64) (*domain.PipelineRun, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (s *fakeRunStore) Update(ctx context.Context, run *domain.PipelineRun) error {
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *fakeRunStore) SetBatchHandle(ctx context.Context, runID int64, handle string) error {
	if run, ok := s.runs[runID]; ok {
		run.BatchHandle = handle
	}
	return nil
}

func (s *fakeRunStore) Recent(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	return nil, nil
}

func (s *fakeRunStore) Totals(ctx context.Context) (domain.OverallStats, error) {
	return domain.OverallStats{}, nil
}

// fakeTrackingStore mirrors the ledger semantics of the real store.
type fakeTrackingStore struct {
	records []*domain.TrackingRecord
	nextID  int64

	insertCalls [][]int64
}

func newFakeTrackingStore() *fakeTrackingStore {
	return &fakeTrackingStore{nextID: 1}
}

func (s *fakeTrackingStore) add(articleID int64, handle string, status domain.TrackingStatus, resultJSON string) *domain.TrackingRecord {
	record := &domain.TrackingRecord{
		ID:          s.nextID,
		ArticleID:   articleID,
		BatchHandle: handle,
		Status:      status,
		ResultJSON:  resultJSON,
		CreatedAt:   time.Now().UTC(),
	}
	s.nextID++
	s.records = append(s.records, record)
	return record
}

func (s *fakeTrackingStore) find(articleID int64, handle string) *domain.TrackingRecord {
	for _, record := range s.records {
		if record.ArticleID == articleID && record.BatchHandle == handle {
			return record
		}
	}
	return nil
}

func (s *fakeTrackingStore) InsertPending(ctx context.Context, articleIDs []int64, handle string) error {
	s.insertCalls = append(s.insertCalls, articleIDs)
	for _, id := range articleIDs {
		if s.find(id, handle) != nil {
			continue
		}
		s.add(id, handle, domain.TrackingPending, "")
	}
	return nil
}

func (s *fakeTrackingStore) Update(ctx context.Context, articleID int64, handle string, status domain.TrackingStatus, errMsg, resultJSON string) error {
	record := s.find(articleID, handle)
	if record == nil {
		for _, candidate := range s.records {
			if candidate.ArticleID == articleID && candidate.Status == domain.TrackingPending {
				record = candidate
				break
			}
		}
	}
	if record == nil {
		return fmt.Errorf("no tracking row for article %d", articleID)
	}
	record.Status = status
	record.ErrorMsg = errMsg
	if resultJSON != "" {
		record.ResultJSON = resultJSON
	}
	return nil
}

func (s *fakeTrackingStore) AlreadySuccessful(ctx context.Context, articleIDs []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, record := range s.records {
		if record.Status != domain.TrackingSuccess {
			continue
		}
		for _, id := range articleIDs {
			if record.ArticleID == id {
				out[id] = true
			}
		}
	}
	return out, nil
}

func (s *fakeTrackingStore) PendingElsewhere(ctx context.Context, articleIDs []int64, handle string) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, record := range s.records {
		if record.Status != domain.TrackingPending || record.BatchHandle == handle {
			continue
		}
		for _, id := range articleIDs {
			if record.ArticleID == id {
				out[id] = true
			}
		}
	}
	return out, nil
}

func (s *fakeTrackingStore) PendingIDs(ctx context.Context, handle string) ([]int64, error) {
	var ids []int64
	for _, record := range s.records {
		if record.BatchHandle == handle && record.Status == domain.TrackingPending {
			ids = append(ids, record.ArticleID)
		}
	}
	return ids, nil
}

func (s *fakeTrackingStore) FailedIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, record := range s.records {
		if record.Status == domain.TrackingFailed {
			ids = append(ids, record.ArticleID)
		}
	}
	return ids, nil
}

func (s *fakeTrackingStore) StoreFailedRecords(ctx context.Context) ([]domain.TrackingRecord, error) {
	var out []domain.TrackingRecord
	for _, record := range s.records {
		if record.Status == domain.TrackingStoreFailed {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (s *fakeTrackingStore) StatusCounts(ctx context.Context) (domain.AnalysisStatus, error) {
	var status domain.AnalysisStatus
	for _, record := range s.records {
		switch record.Status {
		case domain.TrackingPending:
			status.Pending++
		case domain.TrackingSuccess:
			status.Success++
		case domain.TrackingFailed:
			status.Failed++
		case domain.TrackingStoreFailed:
			status.StoreFailed++
		}
	}
	return status, nil
}

func (s *fakeTrackingStore) ListByScope(ctx context.Context, scope ports.ClearScope) ([]domain.TrackingRecord, error) {
	var out []domain.TrackingRecord
	for _, record := range s.records {
		switch {
		case scope.All:
			out = append(out, *record)
		case scope.FailedOnly:
			if record.Status == domain.TrackingFailed {
				out = append(out, *record)
			}
		case scope.ArticleID != 0:
			if record.ArticleID == scope.ArticleID {
				out = append(out, *record)
			}
		case scope.BatchHandle != "":
			if record.BatchHandle == scope.BatchHandle {
				out = append(out, *record)
			}
		}
	}
	return out, nil
}

func (s *fakeTrackingStore) DeleteRecords(ctx context.Context, recordIDs []int64) (int64, error) {
	drop := map[int64]bool{}
	for _, id := range recordIDs {
		drop[id] = true
	}
	var kept []*domain.TrackingRecord
	var deleted int64
	for _, record := range s.records {
		if drop[record.ID] {
			deleted++
			continue
		}
		kept = append(kept, record)
	}
	s.records = kept
	return deleted, nil
}

func (s *fakeTrackingStore) statusOf(t *testing.T, articleID int64) domain.TrackingStatus {
	t.Helper()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].ArticleID == articleID {
			return s.records[i].Status
		}
	}
	t.Fatalf("no tracking row for article %d", articleID)
	return ""
}

// fakeArticleSource serves a fixed article set.
type fakeArticleSource struct {
	articles map[int64]domain.Article
}

func newFakeArticleSource(articles ...domain.Article) *fakeArticleSource {
	source := &fakeArticleSource{articles: map[int64]domain.Article{}}
	for _, article := range articles {
		source.articles[article.ID] = article
	}
	return source
}

func (s *fakeArticleSource) CountForRange(ctx context.Context, from, to *time.Time) (int64, error) {
	return int64(len(s.articles)), nil
}

func (s *fakeArticleSource) FetchForRange(ctx context.Context, from, to *time.Time, limit int) ([]domain.Article, error) {
	var out []domain.Article
	for _, article := range s.articles {
		out = append(out, article)
	}
	return out, nil
}

func (s *fakeArticleSource) ByIDs(ctx context.Context, ids []int64) ([]domain.Article, error) {
	var out []domain.Article
	for _, id := range ids {
		if article, ok := s.articles[id]; ok {
			out = append(out, article)
		}
	}
	return out, nil
}

func (s *fakeArticleSource) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok := s.articles[id]
	return ok, nil
}

// fakeResultStore records downstream writes and can fail on demand.
type fakeResultStore struct {
	stored     map[string]domain.NewsAnalysis
	failOn     map[string]bool
	storeCalls int
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{stored: map[string]domain.NewsAnalysis{}, failOn: map[string]bool{}}
}

func (s *fakeResultStore) Store(ctx context.Context, article domain.Article, analysis domain.NewsAnalysis) error {
	s.storeCalls++
	if s.failOn[article.ExternalID()] {
		return errors.New("downstream write refused")
	}
	s.stored[article.ExternalID()] = analysis
	return nil
}

func (s *fakeResultStore) DeleteByExternalIDs(ctx context.Context, externalIDs []string) (int64, error) {
	var deleted int64
	for _, id := range externalIDs {
		if _, ok := s.stored[id]; ok {
			delete(s.stored, id)
			deleted++
		}
	}
	return deleted, nil
}

func testArticle(id int64) domain.Article {
	return domain.Article{
		ID:      id,
		Title:   fmt.Sprintf("article %d", id),
		URLHash: fmt.Sprintf("hash-%d", id),
	}
}

type fixture struct {
	provider *fakeProvider
	runs     *fakeRunStore
	tracking *fakeTrackingStore
	source   *fakeArticleSource
	results  *fakeResultStore
	orch     *AnalysisOrchestrator
}

func newFixture(t *testing.T, articles ...domain.Article) *fixture {
	t.Helper()
	f := &fixture{
		provider: &fakeProvider{handle: "batch_1"},
		runs:     newFakeRunStore(),
		tracking: newFakeTrackingStore(),
		source:   newFakeArticleSource(articles...),
		results:  newFakeResultStore(),
	}
	f.orch = NewAnalysisOrchestrator(AnalysisDeps{
		Provider:     f.provider,
		Runs:         f.runs,
		Tracking:     f.tracking,
		Articles:     f.source,
		Results:      f.results,
		PollInterval: time.Millisecond,
		MaxWait:      50 * time.Millisecond,
	})
	return f
}

func (f *fixture) newRun(t *testing.T) *domain.PipelineRun {
	t.Helper()
	run := &domain.PipelineRun{Name: "test run", Status: domain.RunRunning}
	if err := f.runs.Create(context.Background(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func successResult(articleID int64) ports.AnalysisResult {
	return ports.AnalysisResult{
		CustomID:   ports.CustomIDFor(articleID),
		Success:    true,
		ResultJSON: validAnalysisJSON,
	}
}

func TestAnalyzeMixedResults(t *testing.T) {
	articles := []domain.Article{testArticle(1), testArticle(2), testArticle(3)}
	f := newFixture(t, articles...)
	f.provider.results = []ports.AnalysisResult{
		successResult(1),
		{CustomID: ports.CustomIDFor(2), Success: true, ResultJSON: `{"sentiment":{}}`},
		successResult(3),
	}
	run := f.newRun(t)

	success, failed, err := f.orch.Analyze(context.Background(), articles, run)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if success != 2 || failed != 1 {
		t.Fatalf("success=%d failed=%d, want 2/1", success, failed)
	}

	if got := f.tracking.statusOf(t, 1); got != domain.TrackingSuccess {
		t.Fatalf("article 1 status = %s", got)
	}
	if got := f.tracking.statusOf(t, 2); got != domain.TrackingFailed {
		t.Fatalf("article 2 status = %s", got)
	}
	if got := f.tracking.statusOf(t, 3); got != domain.TrackingSuccess {
		t.Fatalf("article 3 status = %s", got)
	}

	status, err := f.orch.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Success != 2 || status.Failed != 1 || status.Pending != 0 {
		t.Fatalf("status = %+v", status)
	}

	if len(f.results.stored) != 2 {
		t.Fatalf("stored %d results, want 2", len(f.results.stored))
	}
}

func TestAnalyzeSecondCallIsNoOp(t *testing.T) {
	articles := []domain.Article{testArticle(1), testArticle(2)}
	f := newFixture(t, articles...)
	f.provider.results = []ports.AnalysisResult{successResult(1), successResult(2)}
	run := f.newRun(t)

	if _, _, err := f.orch.Analyze(context.Background(), articles, run); err != nil {
		t.Fatalf("first Analyze: %v", err)
	}
	if run.BatchHandle != "" {
		t.Fatalf("handle not released: %q", run.BatchHandle)
	}

	submitsBefore := f.provider.submitCalls
	statusBefore := f.provider.statusCalls

	success, failed, err := f.orch.Analyze(context.Background(), articles, run)
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if success != 0 || failed != 0 {
		t.Fatalf("second call returned %d/%d, want 0/0", success, failed)
	}
	if f.provider.submitCalls != submitsBefore || f.provider.statusCalls != statusBefore {
		t.Fatal("second call must not contact the provider")
	}
}

func TestAnalyzeExcludesAlreadySuccessful(t *testing.T) {
	articles := []domain.Article{testArticle(1), testArticle(2)}
	f := newFixture(t, articles...)
	f.tracking.add(1, "old_batch", domain.TrackingSuccess, validAnalysisJSON)
	f.provider.results = []ports.AnalysisResult{successResult(2)}
	run := f.newRun(t)

	if _, _, err := f.orch.Analyze(context.Background(), articles, run); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(f.provider.lastRequests) != 1 {
		t.Fatalf("submitted %d articles, want 1", len(f.provider.lastRequests))
	}
	if f.provider.lastRequests[0].CustomID != ports.CustomIDFor(2) {
		t.Fatalf("submitted %s, want article 2", f.provider.lastRequests[0].CustomID)
	}
}

func TestAnalyzeExcludesPendingElsewhere(t *testing.T) {
	articles := []domain.Article{testArticle(1), testArticle(2)}
	f := newFixture(t, articles...)
	f.tracking.add(1, "other_batch", domain.TrackingPending, "")
	f.provider.results = []ports.AnalysisResult{successResult(2)}
	run := f.newRun(t)

	if _, _, err := f.orch.Analyze(context.Background(), articles, run); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(f.provider.lastRequests) != 1 || f.provider.lastRequests[0].CustomID != ports.CustomIDFor(2) {
		t.Fatalf("submitted %v, want only article 2", f.provider.lastRequests)
	}
}

func TestAnalyzePollTimeoutPausesNotFails(t *testing.T) {
	articles := []domain.Article{testArticle(1)}
	f := newFixture(t, articles...)
	f.orch.maxWait = 3 * time.Millisecond
	f.provider.statuses = []ports.BatchStatus{{State: ports.BatchInProgress}}
	run := f.newRun(t)

	_, _, err := f.orch.Analyze(context.Background(), articles, run)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}

	stored, _ := f.runs.Get(context.Background(), run.ID)
	if stored.BatchHandle != "batch_1" {
		t.Fatalf("handle = %q, want batch_1 kept for resume", stored.BatchHandle)
	}
	if got := f.tracking.statusOf(t, 1); got != domain.TrackingPending {
		t.Fatalf("article 1 status = %s, want pending", got)
	}
}

func TestAnalyzeResumeDoesNotResubmit(t *testing.T) {
	articles := []domain.Article{testArticle(1), testArticle(2)}
	f := newFixture(t, articles...)
	f.provider.results = []ports.AnalysisResult{successResult(1), successResult(2)}
	run := f.newRun(t)
	run.BatchHandle = "batch_1"
	// Simulate a crash after handle persistence: only one row exists.
	f.tracking.add(1, "batch_1", domain.TrackingPending, "")

	success, failed, err := f.orch.Analyze(context.Background(), articles, run)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if f.provider.submitCalls != 0 {
		t.Fatalf("resume submitted a new batch (%d calls)", f.provider.submitCalls)
	}
	if success != 2 || failed != 0 {
		t.Fatalf("success=%d failed=%d, want 2/0", success, failed)
	}
	// The missing row for article 2 was reconciled before results applied.
	if got := f.tracking.statusOf(t, 2); got != domain.TrackingSuccess {
		t.Fatalf("article 2 status = %s", got)
	}
	// Only the missing row is inserted; the surviving row is left alone.
	if len(f.tracking.insertCalls) != 1 {
		t.Fatalf("got %d insert calls, want 1", len(f.tracking.insertCalls))
	}
	if ids := f.tracking.insertCalls[0]; len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("reconciled %v, want only article 2", ids)
	}
}

func TestAnalyzeUnparseableCustomIDCountsAsFailure(t *testing.T) {
	articles := []domain.Article{testArticle(1)}
	f := newFixture(t, articles...)
	f.provider.results = []ports.AnalysisResult{
		successResult(1),
		{CustomID: "garbage_42", Success: true, ResultJSON: validAnalysisJSON},
	}
	run := f.newRun(t)

	success, failed, err := f.orch.Analyze(context.Background(), articles, run)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// The unresolvable item is a counted failure, not a dropped one, and
	// it does not abort the rest of the batch.
	if success != 1 || failed != 1 {
		t.Fatalf("success=%d failed=%d, want 1/1", success, failed)
	}
	if got := f.tracking.statusOf(t, 1); got != domain.TrackingSuccess {
		t.Fatalf("article 1 status = %s", got)
	}
	if run.BatchHandle != "" {
		t.Fatalf("handle not released: %q", run.BatchHandle)
	}
}

func TestPollWaitsFullIntervalAfterSlowStatusCheck(t *testing.T) {
	articles := []domain.Article{testArticle(1)}
	f := newFixture(t, articles...)
	f.orch.pollInterval = 40 * time.Millisecond
	f.orch.maxWait = 500 * time.Millisecond
	// The first status check outlasts the interval, so the poll timer has
	// already fired when the loop rearms it.
	f.provider.statusDelays = []time.Duration{80 * time.Millisecond}
	f.provider.statuses = []ports.BatchStatus{
		{State: ports.BatchInProgress},
		{State: ports.BatchInProgress},
		{State: ports.BatchCompleted},
	}
	f.provider.results = []ports.AnalysisResult{successResult(1)}
	run := f.newRun(t)

	if _, _, err := f.orch.Analyze(context.Background(), articles, run); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	times := f.provider.statusTimes
	if len(times) != 3 {
		t.Fatalf("got %d status checks, want 3", len(times))
	}
	// The stale firing must not cut the second sleep short.
	if gap := times[2].Sub(times[1]); gap < 30*time.Millisecond {
		t.Fatalf("second wait was %v, want close to the 40ms interval", gap)
	}
}

func TestAnalyzeTerminalBatchFails(t *testing.T) {
	articles := []domain.Article{testArticle(1)}
	f := newFixture(t, articles...)
	f.provider.statuses = []ports.BatchStatus{{State: ports.BatchExpired}}
	run := f.newRun(t)

	_, _, err := f.orch.Analyze(context.Background(), articles, run)
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("err = %v, want BatchError", err)
	}
	if batchErr.State != ports.BatchExpired {
		t.Fatalf("state = %s, want expired", batchErr.State)
	}
}

func TestAnalyzeStoreFailureKeepsPayload(t *testing.T) {
	articles := []domain.Article{testArticle(1)}
	f := newFixture(t, articles...)
	f.provider.results = []ports.AnalysisResult{successResult(1)}
	f.results.failOn["hash-1"] = true
	run := f.newRun(t)

	success, failed, err := f.orch.Analyze(context.Background(), articles, run)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// The analysis itself succeeded; only persistence is outstanding.
	if success != 1 || failed != 0 {
		t.Fatalf("success=%d failed=%d, want 1/0", success, failed)
	}

	record := f.tracking.find(1, "batch_1")
	if record == nil || record.Status != domain.TrackingStoreFailed {
		t.Fatalf("record = %+v, want store_failed", record)
	}
	if record.ResultJSON == "" {
		t.Fatal("store_failed row must keep the validated payload")
	}
}

func TestRetryStorageNeverContactsProvider(t *testing.T) {
	f := newFixture(t, testArticle(1))
	f.tracking.add(1, "batch_old", domain.TrackingStoreFailed, validAnalysisJSON)

	stored, failed, err := f.orch.RetryStorage(context.Background())
	if err != nil {
		t.Fatalf("RetryStorage: %v", err)
	}
	if stored != 1 || failed != 0 {
		t.Fatalf("stored=%d failed=%d, want 1/0", stored, failed)
	}
	if f.provider.submitCalls+f.provider.statusCalls+f.provider.retrieveCalls != 0 {
		t.Fatal("storage retry must not contact the provider")
	}
	if got := f.tracking.statusOf(t, 1); got != domain.TrackingSuccess {
		t.Fatalf("status = %s, want success", got)
	}
	if _, ok := f.results.stored["hash-1"]; !ok {
		t.Fatal("payload not written downstream")
	}
}

func TestRetryStorageKeepsPayloadOnFailure(t *testing.T) {
	f := newFixture(t, testArticle(1))
	f.tracking.add(1, "batch_old", domain.TrackingStoreFailed, validAnalysisJSON)
	f.results.failOn["hash-1"] = true

	stored, failed, err := f.orch.RetryStorage(context.Background())
	if err != nil {
		t.Fatalf("RetryStorage: %v", err)
	}
	if stored != 0 || failed != 1 {
		t.Fatalf("stored=%d failed=%d, want 0/1", stored, failed)
	}

	record := f.tracking.find(1, "batch_old")
	if record.Status != domain.TrackingStoreFailed || record.ResultJSON == "" {
		t.Fatalf("record = %+v, want store_failed with payload kept", record)
	}
}

func TestRetryFailedIgnoresStoreFailed(t *testing.T) {
	f := newFixture(t, testArticle(1), testArticle(2))
	f.tracking.add(1, "batch_old", domain.TrackingFailed, "")
	f.tracking.add(2, "batch_old", domain.TrackingStoreFailed, validAnalysisJSON)
	f.provider.handle = "batch_retry"
	f.provider.results = []ports.AnalysisResult{successResult(1)}

	success, failed, err := f.orch.RetryFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if success != 1 || failed != 0 {
		t.Fatalf("success=%d failed=%d, want 1/0", success, failed)
	}
	if len(f.provider.lastRequests) != 1 || f.provider.lastRequests[0].CustomID != ports.CustomIDFor(1) {
		t.Fatalf("submitted %v, want only the failed article", f.provider.lastRequests)
	}

	// The store_failed row is untouched by analysis retry.
	record := f.tracking.find(2, "batch_old")
	if record == nil || record.Status != domain.TrackingStoreFailed {
		t.Fatalf("store_failed row mutated: %+v", record)
	}

	// The retry ran under its own completed run record.
	retryRun, _ := f.runs.Get(context.Background(), 1)
	if retryRun == nil || retryRun.Status != domain.RunCompleted {
		t.Fatalf("retry run = %+v, want completed", retryRun)
	}
}

func TestRetryFailedNothingToDo(t *testing.T) {
	f := newFixture(t, testArticle(1))

	success, failed, err := f.orch.RetryFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if success != 0 || failed != 0 {
		t.Fatalf("success=%d failed=%d, want 0/0", success, failed)
	}
	if f.provider.submitCalls != 0 {
		t.Fatal("no batch expected")
	}
	if len(f.runs.runs) != 0 {
		t.Fatal("no retry run expected")
	}
}

func TestClearFailedOnlyLeavesDownstream(t *testing.T) {
	f := newFixture(t, testArticle(1), testArticle(2))
	f.tracking.add(1, "b1", domain.TrackingSuccess, validAnalysisJSON)
	f.tracking.add(2, "b1", domain.TrackingFailed, "")
	f.results.stored["hash-1"] = domain.NewsAnalysis{}

	deleted, err := f.orch.Clear(context.Background(), ports.ClearScope{FailedOnly: true})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted %d rows, want 1", deleted)
	}
	if _, ok := f.results.stored["hash-1"]; !ok {
		t.Fatal("failed-only clear must not touch downstream records")
	}
	if f.tracking.find(1, "b1") == nil {
		t.Fatal("success row must survive a failed-only clear")
	}
}

func TestClearAllCascadesDownstream(t *testing.T) {
	f := newFixture(t, testArticle(1), testArticle(2))
	f.tracking.add(1, "b1", domain.TrackingSuccess, validAnalysisJSON)
	f.tracking.add(2, "b1", domain.TrackingFailed, "")
	f.results.stored["hash-1"] = domain.NewsAnalysis{}

	deleted, err := f.orch.Clear(context.Background(), ports.ClearScope{All: true})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted %d rows, want 2", deleted)
	}
	if len(f.results.stored) != 0 {
		t.Fatal("downstream record must be deleted before the ledger")
	}
	if len(f.tracking.records) != 0 {
		t.Fatalf("%d ledger rows remain", len(f.tracking.records))
	}
}

func TestClearEmptyScopeIsZero(t *testing.T) {
	f := newFixture(t, testArticle(1))

	deleted, err := f.orch.Clear(context.Background(), ports.ClearScope{ArticleID: 99})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted %d rows, want 0", deleted)
	}
}
