package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bookforge/internal/agents"
	"bookforge/internal/domain"
	"bookforge/internal/llm"
	"bookforge/internal/progress"
	"bookforge/internal/storage"
)

const testManuscriptKey = "u1/m1/book.txt"

var discard = zerolog.New(nil).Level(zerolog.Disabled)

// promptMarkers maps a distinctive prompt phrase to its agent name so the
// fake model endpoint can answer each agent differently.
var promptMarkers = []struct {
	marker string
	agent  string
}{
	{"senior developmental editor", agents.AgentDevelopmental},
	{"professional line editor", agents.AgentLineEditing},
	{"copy editor performing a close mechanical pass", agents.AgentCopyEditing},
	{"book marketing copywriter", agents.AgentDescription},
	{"KDP metadata specialist", agents.AgentKeywords},
	{"book categorization specialist", agents.AgentCategories},
	{"publicity copywriter", agents.AgentAuthorBio},
	{"back matter pages", agents.AgentBackMatter},
	{"art director", agents.AgentCoverBrief},
	{"series planning strategist", agents.AgentSeriesDescription},
	{"audiobook production director", agents.AgentAudioNarration},
	{"audiobook pronunciation consultant", agents.AgentAudioPronounce},
	{"audiobook production planner", agents.AgentAudioTiming},
	{"audiobook producer selecting sample passages", agents.AgentAudioSamples},
	{"ACX/Audible metadata package", agents.AgentAudioMetadata},
}

func cannedOutput(agent string) map[string]any {
	switch agent {
	case agents.AgentDevelopmental:
		return map[string]any{
			"overallScore":  7,
			"plot":          map[string]any{"strengths": []any{"tight opening"}},
			"characters":    map[string]any{"protagonist": "well drawn"},
			"pacing":        map[string]any{"assessment": "steady"},
			"topPriorities": []any{"deepen the midpoint"},
			"marketability": map[string]any{"audience": "thriller readers"},
			"structure": map[string]any{
				"totalWords":   9300,
				"chapterCount": 2,
				"chapters": []any{
					map[string]any{"number": 1, "title": "One", "wordCount": 4650},
					map[string]any{"number": 2, "title": "Two", "wordCount": 4650},
				},
			},
			"compTitles": []any{"The Example"},
		}
	case agents.AgentLineEditing:
		return map[string]any{
			"overallScore":    6,
			"proseQuality":    map[string]any{"assessment": "clean"},
			"sentenceVariety": map[string]any{"assessment": "varied"},
			"wordChoice":      map[string]any{"overusedWords": []any{"just"}},
			"topPriorities":   []any{"trim filter words"},
		}
	case agents.AgentCopyEditing:
		return map[string]any{
			"errorSummary": map[string]any{"totalIssues": 3},
			"grammar":      []any{},
			"punctuation":  []any{},
			"consistency":  []any{},
			"styleNotes":   []any{},
		}
	case agents.AgentDescription:
		return map[string]any{"short": "s", "medium": "m", "long": "l", "hooks": []any{"h1", "h2", "h3"}}
	case agents.AgentKeywords:
		return map[string]any{"keywords": []any{"k1", "k2", "k3", "k4", "k5", "k6", "k7"}}
	case agents.AgentCategories:
		return map[string]any{
			"primary":      map[string]any{"code": "FIC031000", "label": "Thrillers"},
			"secondary":    map[string]any{"code": "FIC030000", "label": "Suspense"},
			"alternatives": []any{map[string]any{"code": "FIC022000", "label": "Mystery"}},
		}
	case agents.AgentAuthorBio:
		return map[string]any{"short": "s", "medium": "m", "long": "l"}
	case agents.AgentBackMatter:
		return map[string]any{"thankYou": "t", "newsletterCTA": "n", "connect": "c", "closing": "x"}
	case agents.AgentCoverBrief:
		return map[string]any{
			"concept":      map[string]any{"visualTheme": "storm"},
			"colorPalette": []any{map[string]any{"hex": "#112233", "role": "background"}},
			"aiPrompts":    []any{"p1", "p2", "p3"},
		}
	case agents.AgentSeriesDescription:
		return map[string]any{
			"tagline":           "t",
			"seriesDescription": "d",
			"bookByBookArc": []any{
				map[string]any{"book": 1, "arc": "a"},
				map[string]any{"book": 2, "arc": "b"},
				map[string]any{"book": 3, "arc": "c"},
			},
		}
	case agents.AgentAudioNarration:
		return map[string]any{
			"narratorProfile": map[string]any{"tone": "wry"},
			"characterVoices": []any{map[string]any{"character": "Mara"}},
		}
	case agents.AgentAudioPronounce:
		return map[string]any{"pronunciations": []any{map[string]any{"term": "Siobhan", "phonetic": "shuh-VON"}}}
	case agents.AgentAudioTiming:
		return map[string]any{
			"overallTiming":  map[string]any{"totalListeningMinutes": 60},
			"chapterTimings": []any{},
		}
	case agents.AgentAudioSamples:
		return map[string]any{
			"retailSample":    map[string]any{"startMarker": "It began", "endMarker": "the door"},
			"auditionSamples": []any{map[string]any{"startMarker": "It began", "endMarker": "again"}},
		}
	case agents.AgentAudioMetadata:
		return map[string]any{
			"retailMetadata":  map[string]any{"title": "The Example"},
			"acxRequirements": map[string]any{"language": "en"},
		}
	}
	return nil
}

// fakeModel serves the wire protocol, routing on prompt markers. failWith
// maps an agent name to an HTTP status returned instead of a body.
func fakeModel(t *testing.T, failWith map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			t.Errorf("malformed model request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		prompt := req.Messages[0].Content

		var agent string
		for _, m := range promptMarkers {
			if strings.Contains(prompt, m.marker) {
				agent = m.agent
				break
			}
		}
		if agent == "" {
			t.Errorf("no marker matched prompt: %.80s", prompt)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if status, ok := failWith[agent]; ok {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"induced failure"}`)
			return
		}

		body, err := json.Marshal(cannedOutput(agent))
		if err != nil {
			t.Errorf("marshal canned output: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := map[string]any{
			"content": []any{map[string]any{"text": "```json\n" + string(body) + "\n```"}},
			"usage":   map[string]any{"input_tokens": 100, "output_tokens": 50},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

type capturePublisher struct {
	mu   sync.Mutex
	jobs []any
}

func (p *capturePublisher) Publish(_ context.Context, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, payload)
	return nil
}

func (p *capturePublisher) published() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.jobs...)
}

type fakeStatuses struct {
	mu          sync.Mutex
	transitions []domain.ManuscriptStatus
}

func (f *fakeStatuses) UpdateStatusByKey(_ context.Context, _ string, status domain.ManuscriptStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, status)
	return nil
}

func (f *fakeStatuses) seen() []domain.ManuscriptStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ManuscriptStatus(nil), f.transitions...)
}

// recordingKV captures every write so tests can assert on write sequences,
// not just final state.
type recordingKV struct {
	*progress.MemoryKV
	mu     sync.Mutex
	writes map[string][]string
}

func newRecordingKV() *recordingKV {
	return &recordingKV{MemoryKV: progress.NewMemoryKV(), writes: make(map[string][]string)}
}

func (r *recordingKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	r.mu.Lock()
	r.writes[key] = append(r.writes[key], value)
	r.mu.Unlock()
	return r.MemoryKV.Set(ctx, key, value, ttl)
}

func (r *recordingKV) history(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes[key]...)
}

func newTestClient(t *testing.T, baseURL string, maxAttempts int) *llm.Client {
	t.Helper()
	client, err := llm.New(llm.Options{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		MaxAttempts: maxAttempts,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("llm.New: %v", err)
	}
	return client
}

type editorialHarness struct {
	store        *storage.MemoryStore
	kv           *recordingKV
	progress     *progress.Store
	statuses     *fakeStatuses
	assetQueue   *capturePublisher
	orchestrator *EditorialOrchestrator
}

func newEditorialHarness(t *testing.T, baseURL string) *editorialHarness {
	t.Helper()
	store := storage.NewMemoryStore()
	if err := store.Put(context.Background(), testManuscriptKey, []byte("It began on a Tuesday. The rain would not stop."), storage.PutOptions{}); err != nil {
		t.Fatalf("seed manuscript: %v", err)
	}
	kv := newRecordingKV()
	progressStore := progress.NewStore(kv, discard)
	statuses := &fakeStatuses{}
	assetQueue := &capturePublisher{}
	runner := agents.NewRunner(newTestClient(t, baseURL, 2), store, discard)
	orch := NewEditorialOrchestrator(runner, store, progressStore, statuses, assetQueue, discard)
	orch.SetTickInterval(time.Millisecond)
	return &editorialHarness{store: store, kv: kv, progress: progressStore, statuses: statuses, assetQueue: assetQueue, orchestrator: orch}
}

func TestEditorialRunProducesArtifactsAndCompletes(t *testing.T) {
	srv := fakeModel(t, nil)
	defer srv.Close()
	h := newEditorialHarness(t, srv.URL)
	ctx := context.Background()

	job := domain.EditorialJob{ManuscriptKey: testManuscriptKey, Genre: "thriller", ReportID: "abc12345"}
	payload, _ := json.Marshal(job)
	if err := h.orchestrator.HandleMessage(ctx, payload); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	for _, suffix := range []string{"-analysis.json", "-line-analysis.json", "-copy-analysis.json"} {
		ok, err := h.store.Exists(ctx, testManuscriptKey+suffix)
		if err != nil || !ok {
			t.Fatalf("artifact %s missing (ok=%v err=%v)", suffix, ok, err)
		}
	}

	var dev map[string]any
	if err := storage.GetJSON(ctx, h.store, testManuscriptKey+"-analysis.json", &dev); err != nil {
		t.Fatalf("read developmental artifact: %v", err)
	}
	if _, ok := dev["analysis"].(map[string]any); !ok {
		t.Fatalf("developmental artifact not normalized: keys %v", keysOf(dev))
	}
	if _, ok := dev["structure"].(map[string]any); !ok {
		t.Fatalf("developmental artifact missing structure")
	}

	rec, err := h.progress.GetEditorial(ctx, job.ReportID)
	if err != nil {
		t.Fatalf("GetEditorial: %v", err)
	}
	if rec.Status != domain.ProgressComplete || rec.Progress != 100 {
		t.Fatalf("final record = %s/%d, want complete/100", rec.Status, rec.Progress)
	}
	if rec.CompletedAt == nil {
		t.Fatalf("final record missing completedAt")
	}

	if got := h.statuses.seen(); len(got) != 2 || got[0] != domain.ManuscriptAnalyzing || got[1] != domain.ManuscriptComplete {
		t.Fatalf("status transitions = %v", got)
	}

	jobs := h.assetQueue.published()
	if len(jobs) != 1 {
		t.Fatalf("asset jobs enqueued = %d, want 1", len(jobs))
	}
	assetJob, ok := jobs[0].(domain.AssetJob)
	if !ok {
		t.Fatalf("published payload is %T", jobs[0])
	}
	if assetJob.ReportID != job.ReportID || assetJob.ManuscriptKey != testManuscriptKey {
		t.Fatalf("asset job = %+v", assetJob)
	}
}

func TestEditorialProgressNeverDecreases(t *testing.T) {
	srv := fakeModel(t, nil)
	defer srv.Close()
	h := newEditorialHarness(t, srv.URL)

	job := domain.EditorialJob{ManuscriptKey: testManuscriptKey, ReportID: "abc12345"}
	if err := h.orchestrator.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var last int
	for i, raw := range h.kv.history("status:" + job.ReportID) {
		var rec domain.ProgressRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			t.Fatalf("write %d not a progress record: %v", i, err)
		}
		if rec.Progress < last {
			t.Fatalf("write %d regressed: %d after %d", i, rec.Progress, last)
		}
		if rec.Progress > 100 {
			t.Fatalf("write %d over 100: %d", i, rec.Progress)
		}
		last = rec.Progress
	}
	if last != 100 {
		t.Fatalf("final progress = %d, want 100", last)
	}
}

func TestEditorialTerminalFailureMarksEverythingFailed(t *testing.T) {
	srv := fakeModel(t, map[string]int{agents.AgentDevelopmental: http.StatusBadRequest})
	defer srv.Close()
	h := newEditorialHarness(t, srv.URL)
	ctx := context.Background()

	job := domain.EditorialJob{ManuscriptKey: testManuscriptKey, ReportID: "abc12345"}
	err := h.orchestrator.Handle(ctx, job)
	if err == nil {
		t.Fatalf("expected error for redelivery")
	}
	var llmErr *domain.LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("error chain missing LLMError: %v", err)
	}

	rec, getErr := h.progress.GetEditorial(ctx, job.ReportID)
	if getErr != nil {
		t.Fatalf("GetEditorial: %v", getErr)
	}
	if rec.Status != domain.ProgressFailed || rec.Error == "" {
		t.Fatalf("record = %s, error %q", rec.Status, rec.Error)
	}
	if rec.Progress != 5 {
		t.Fatalf("failed record progress = %d, want the opening boundary kept", rec.Progress)
	}

	if got := h.statuses.seen(); len(got) == 0 || got[len(got)-1] != domain.ManuscriptFailed {
		t.Fatalf("status transitions = %v", got)
	}
	if jobs := h.assetQueue.published(); len(jobs) != 0 {
		t.Fatalf("asset job enqueued after failure")
	}
	if ok, _ := h.store.Exists(ctx, testManuscriptKey+"-analysis.json"); ok {
		t.Fatalf("failed phase left an artifact behind")
	}
}

func TestEditorialFailureKeepsLastPublishedProgress(t *testing.T) {
	srv := fakeModel(t, map[string]int{agents.AgentLineEditing: http.StatusBadRequest})
	defer srv.Close()
	h := newEditorialHarness(t, srv.URL)
	ctx := context.Background()

	job := domain.EditorialJob{ManuscriptKey: testManuscriptKey, ReportID: "abc12345"}
	if err := h.orchestrator.Handle(ctx, job); err == nil {
		t.Fatalf("expected error for redelivery")
	}

	var last int
	var final domain.ProgressRecord
	for i, raw := range h.kv.history("status:" + job.ReportID) {
		var rec domain.ProgressRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			t.Fatalf("write %d not a progress record: %v", i, err)
		}
		if rec.Progress < last {
			t.Fatalf("write %d regressed: %d after %d", i, rec.Progress, last)
		}
		last = rec.Progress
		final = rec
	}
	if final.Status != domain.ProgressFailed {
		t.Fatalf("final record = %s, want failed", final.Status)
	}
	if final.Progress < 33 {
		t.Fatalf("failed record progress = %d, want the line editing band position", final.Progress)
	}
}

func TestEditorialRedeliveryRestartsOverFailedRecord(t *testing.T) {
	srv := fakeModel(t, nil)
	defer srv.Close()
	h := newEditorialHarness(t, srv.URL)
	ctx := context.Background()

	job := domain.EditorialJob{ManuscriptKey: testManuscriptKey, ReportID: "abc12345"}
	if err := h.progress.SetEditorial(ctx, job.ReportID, domain.ProgressRecord{
		Status: domain.ProgressFailed, Error: "model endpoint status 500", Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed failed record: %v", err)
	}

	if err := h.orchestrator.Handle(ctx, job); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	rec, err := h.progress.GetEditorial(ctx, job.ReportID)
	if err != nil {
		t.Fatalf("GetEditorial: %v", err)
	}
	if rec.Status != domain.ProgressComplete {
		t.Fatalf("record after redelivery = %s, want complete", rec.Status)
	}
}

type assetHarness struct {
	store        *storage.MemoryStore
	kv           *recordingKV
	progress     *progress.Store
	orchestrator *AssetOrchestrator
}

func newAssetHarness(t *testing.T, baseURL string, withAnalysis bool) *assetHarness {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Put(ctx, testManuscriptKey, []byte("It began on a Tuesday. The rain would not stop."), storage.PutOptions{}); err != nil {
		t.Fatalf("seed manuscript: %v", err)
	}
	if withAnalysis {
		dev := map[string]any{
			"analysis": map[string]any{"overallScore": 7},
			"structure": map[string]any{
				"totalWords": 9300,
				"chapters": []any{
					map[string]any{"number": 1, "title": "One", "wordCount": 9300},
				},
			},
			"compTitles": []any{"The Example"},
		}
		if err := storage.PutJSON(ctx, store, testManuscriptKey+analysisSuffix, dev, nil); err != nil {
			t.Fatalf("seed analysis: %v", err)
		}
	}
	kv := newRecordingKV()
	progressStore := progress.NewStore(kv, discard)
	runner := agents.NewRunner(newTestClient(t, baseURL, 2), store, discard)
	orch := NewAssetOrchestrator(runner, store, progressStore, discard)
	orch.SetMetadataDelay(0)
	return &assetHarness{store: store, kv: kv, progress: progressStore, orchestrator: orch}
}

func TestAssetRunProducesFullBundle(t *testing.T) {
	srv := fakeModel(t, nil)
	defer srv.Close()
	h := newAssetHarness(t, srv.URL, true)
	ctx := context.Background()

	job := domain.AssetJob{ManuscriptKey: testManuscriptKey, ReportID: "abc12345", Genre: "thriller"}
	payload, _ := json.Marshal(job)
	if err := h.orchestrator.HandleMessage(ctx, payload); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	var bundle map[string]any
	if err := storage.GetJSON(ctx, h.store, testManuscriptKey+bundleSuffix, &bundle); err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	for _, spec := range agents.Assets() {
		v, present := bundle[spec.Name]
		if !present {
			t.Fatalf("bundle missing field %s", spec.Name)
		}
		if v == nil {
			t.Fatalf("bundle field %s is null", spec.Name)
		}
	}
	if errs, ok := bundle["errors"].([]any); !ok || len(errs) != 0 {
		t.Fatalf("bundle errors = %v", bundle["errors"])
	}

	rec, err := h.progress.GetAsset(ctx, job.ReportID)
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if rec.Status != domain.ProgressComplete || rec.Progress != 100 {
		t.Fatalf("final record = %s/%d", rec.Status, rec.Progress)
	}
	if len(rec.Agents) != len(agents.Assets()) {
		t.Fatalf("sub-status entries = %d", len(rec.Agents))
	}
	for name, state := range rec.Agents {
		if state.Status != domain.AgentComplete {
			t.Fatalf("agent %s = %s", name, state.Status)
		}
	}
	if len(rec.Assets) == 0 {
		t.Fatalf("terminal record missing inline assets")
	}
}

func TestAssetFailureIsIsolatedToItsAgent(t *testing.T) {
	srv := fakeModel(t, map[string]int{agents.AgentKeywords: http.StatusBadRequest})
	defer srv.Close()
	h := newAssetHarness(t, srv.URL, true)
	ctx := context.Background()

	job := domain.AssetJob{ManuscriptKey: testManuscriptKey, ReportID: "abc12345"}
	if err := h.orchestrator.Handle(ctx, job); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var bundle map[string]any
	if err := storage.GetJSON(ctx, h.store, testManuscriptKey+bundleSuffix, &bundle); err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if v, present := bundle[agents.AgentKeywords]; !present || v != nil {
		t.Fatalf("keywords = %v, want explicit null", v)
	}
	if bundle[agents.AgentDescription] == nil {
		t.Fatalf("unrelated agent nulled by keywords failure")
	}
	errs, ok := bundle["errors"].([]any)
	if !ok || len(errs) != 1 {
		t.Fatalf("bundle errors = %v", bundle["errors"])
	}
	entry, ok := errs[0].(map[string]any)
	if !ok || entry["type"] != agents.AgentKeywords {
		t.Fatalf("error entry = %v", errs[0])
	}

	rec, err := h.progress.GetAsset(ctx, job.ReportID)
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if rec.Status != domain.ProgressPartial {
		t.Fatalf("final status = %s, want partial", rec.Status)
	}
	if rec.Agents[agents.AgentKeywords].Status != domain.AgentFailed {
		t.Fatalf("keywords sub-status = %s", rec.Agents[agents.AgentKeywords].Status)
	}
	if rec.Agents[agents.AgentDescription].Status != domain.AgentComplete {
		t.Fatalf("description sub-status = %s", rec.Agents[agents.AgentDescription].Status)
	}
}

func TestAssetRunRequiresDevelopmentalArtifact(t *testing.T) {
	srv := fakeModel(t, nil)
	defer srv.Close()
	h := newAssetHarness(t, srv.URL, false)
	ctx := context.Background()

	job := domain.AssetJob{ManuscriptKey: testManuscriptKey, ReportID: "abc12345"}
	if err := h.progress.ResetAsset(ctx, job.ReportID, domain.AssetProgressRecord{
		ProgressRecord: domain.ProgressRecord{Status: domain.ProgressProcessing, Progress: 10, Timestamp: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	err := h.orchestrator.Handle(ctx, job)
	if !errors.Is(err, domain.ErrMissingPrerequisite) {
		t.Fatalf("err = %v, want ErrMissingPrerequisite", err)
	}

	rec, getErr := h.progress.GetAsset(ctx, job.ReportID)
	if getErr != nil {
		t.Fatalf("GetAsset: %v", getErr)
	}
	if rec.Status != domain.ProgressFailed {
		t.Fatalf("record = %s, want failed", rec.Status)
	}
	if rec.Progress != 10 {
		t.Fatalf("failed record progress = %d, want the last published value kept", rec.Progress)
	}
	if ok, _ := h.store.Exists(ctx, testManuscriptKey+bundleSuffix); ok {
		t.Fatalf("bundle written without prerequisite")
	}
}

var reportIDRe = regexp.MustCompile(`^[a-z0-9]{8}$`)

func TestSubmitEditorialSeedsAndEnqueues(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Put(ctx, testManuscriptKey, []byte("text"), storage.PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	progressStore := progress.NewStore(progress.NewMemoryKV(), discard)
	analysisQueue := &capturePublisher{}
	sub := NewSubmitter(store, progressStore, analysisQueue, &capturePublisher{}, discard)

	reportID, err := sub.SubmitEditorial(ctx, EditorialRequest{ManuscriptKey: testManuscriptKey, Genre: "thriller", StyleGuide: "CMOS"})
	if err != nil {
		t.Fatalf("SubmitEditorial: %v", err)
	}
	if !reportIDRe.MatchString(reportID) {
		t.Fatalf("report id %q not 8 lowercase alphanumerics", reportID)
	}

	key, err := progressStore.ResolveReport(ctx, reportID)
	if err != nil || key != testManuscriptKey {
		t.Fatalf("ResolveReport = %q, %v", key, err)
	}
	rec, err := progressStore.GetEditorial(ctx, reportID)
	if err != nil {
		t.Fatalf("GetEditorial: %v", err)
	}
	if rec.Status != domain.ProgressQueued || rec.Progress != 0 {
		t.Fatalf("seeded record = %s/%d", rec.Status, rec.Progress)
	}

	jobs := analysisQueue.published()
	if len(jobs) != 1 {
		t.Fatalf("published = %d jobs", len(jobs))
	}
	job := jobs[0].(domain.EditorialJob)
	if job.ReportID != reportID || job.Genre != "thriller" || job.StyleGuide != "CMOS" {
		t.Fatalf("job = %+v", job)
	}
}

func TestSubmitEditorialRejectsMissingManuscript(t *testing.T) {
	progressStore := progress.NewStore(progress.NewMemoryKV(), discard)
	sub := NewSubmitter(storage.NewMemoryStore(), progressStore, &capturePublisher{}, &capturePublisher{}, discard)

	_, err := sub.SubmitEditorial(context.Background(), EditorialRequest{ManuscriptKey: "u1/m1/missing.txt"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

type fakeManuscripts struct {
	records map[string]*domain.Manuscript
}

func (f *fakeManuscripts) GetByKey(_ context.Context, storageKey string) (*domain.Manuscript, error) {
	m, ok := f.records[storageKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func TestSubmitEditorialDefaultsGenreFromRecord(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Put(ctx, testManuscriptKey, []byte("text"), storage.PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	progressStore := progress.NewStore(progress.NewMemoryKV(), discard)
	analysisQueue := &capturePublisher{}
	sub := NewSubmitter(store, progressStore, analysisQueue, &capturePublisher{}, discard)
	sub.SetManuscripts(&fakeManuscripts{records: map[string]*domain.Manuscript{
		testManuscriptKey: {StorageKey: testManuscriptKey, Genre: "fantasy"},
	}})

	if _, err := sub.SubmitEditorial(ctx, EditorialRequest{ManuscriptKey: testManuscriptKey}); err != nil {
		t.Fatalf("SubmitEditorial: %v", err)
	}
	jobs := analysisQueue.published()
	if len(jobs) != 1 {
		t.Fatalf("published = %d jobs", len(jobs))
	}
	if job := jobs[0].(domain.EditorialJob); job.Genre != "fantasy" {
		t.Fatalf("job genre = %q, want the record's genre", job.Genre)
	}

	// An explicit genre wins over the stored record.
	if _, err := sub.SubmitEditorial(ctx, EditorialRequest{ManuscriptKey: testManuscriptKey, Genre: "thriller"}); err != nil {
		t.Fatalf("SubmitEditorial: %v", err)
	}
	if job := analysisQueue.published()[1].(domain.EditorialJob); job.Genre != "thriller" {
		t.Fatalf("job genre = %q, want the requested genre", job.Genre)
	}
}

func TestSubmitEditorialRejectsUnknownRecord(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Put(ctx, testManuscriptKey, []byte("text"), storage.PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sub := NewSubmitter(store, progress.NewStore(progress.NewMemoryKV(), discard), &capturePublisher{}, &capturePublisher{}, discard)
	sub.SetManuscripts(&fakeManuscripts{})

	_, err := sub.SubmitEditorial(ctx, EditorialRequest{ManuscriptKey: testManuscriptKey})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubmitAssetsResolvesReportAndChecksPrerequisite(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	progressStore := progress.NewStore(progress.NewMemoryKV(), discard)
	assetQueue := &capturePublisher{}
	sub := NewSubmitter(store, progressStore, &capturePublisher{}, assetQueue, discard)

	if err := sub.SubmitAssets(ctx, AssetRequest{ReportID: "zzzzzzzz"}); !errors.Is(err, domain.ErrInvalidReportID) {
		t.Fatalf("unknown report err = %v", err)
	}

	if err := progressStore.BindReport(ctx, "abc12345", testManuscriptKey); err != nil {
		t.Fatalf("BindReport: %v", err)
	}
	if err := sub.SubmitAssets(ctx, AssetRequest{ReportID: "abc12345"}); !errors.Is(err, domain.ErrMissingPrerequisite) {
		t.Fatalf("missing analysis err = %v", err)
	}

	if err := storage.PutJSON(ctx, store, testManuscriptKey+analysisSuffix, map[string]any{"analysis": map[string]any{}}, nil); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}
	author := map[string]any{"name": "R. Vance"}
	if err := sub.SubmitAssets(ctx, AssetRequest{ReportID: "abc12345", Genre: "thriller", AuthorData: author}); err != nil {
		t.Fatalf("SubmitAssets: %v", err)
	}

	jobs := assetQueue.published()
	if len(jobs) != 1 {
		t.Fatalf("published = %d jobs", len(jobs))
	}
	job := jobs[0].(domain.AssetJob)
	if job.ManuscriptKey != testManuscriptKey || job.ReportID != "abc12345" || job.AuthorData["name"] != "R. Vance" {
		t.Fatalf("job = %+v", job)
	}

	rec, err := progressStore.GetAsset(ctx, "abc12345")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if rec.Status != domain.ProgressQueued {
		t.Fatalf("seeded record = %s", rec.Status)
	}
}

func TestSubmitAssetsRestartsOverTerminalRecord(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	progressStore := progress.NewStore(progress.NewMemoryKV(), discard)
	sub := NewSubmitter(store, progressStore, &capturePublisher{}, &capturePublisher{}, discard)

	if err := progressStore.BindReport(ctx, "abc12345", testManuscriptKey); err != nil {
		t.Fatalf("BindReport: %v", err)
	}
	if err := storage.PutJSON(ctx, store, testManuscriptKey+analysisSuffix, map[string]any{"analysis": map[string]any{}}, nil); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}
	if err := progressStore.SetAsset(ctx, "abc12345", domain.AssetProgressRecord{
		ProgressRecord: domain.ProgressRecord{Status: domain.ProgressComplete, Progress: 100, Timestamp: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("seed terminal record: %v", err)
	}

	if err := sub.SubmitAssets(ctx, AssetRequest{ReportID: "abc12345"}); err != nil {
		t.Fatalf("SubmitAssets: %v", err)
	}
	rec, err := progressStore.GetAsset(ctx, "abc12345")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if rec.Status != domain.ProgressQueued {
		t.Fatalf("record after re-trigger = %s, want queued", rec.Status)
	}
}

func TestNewReportIDFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := NewReportID()
		if err != nil {
			t.Fatalf("NewReportID: %v", err)
		}
		if !reportIDRe.MatchString(id) {
			t.Fatalf("id %q not 8 lowercase alphanumerics", id)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Fatalf("ids not random")
	}
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
