package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"call-pipeline-go/internal/pipeline"
	"call-pipeline-go/internal/processor"
	"call-pipeline-go/internal/storage"
	"call-pipeline-go/internal/types"
)

type fakeRunner struct {
	got    pipeline.Request
	res    pipeline.Result
	err    error
	wait   time.Duration
	ctxErr error
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	f.got = req
	if f.wait > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.wait):
		}
	}
	f.ctxErr = ctx.Err()
	return f.res, f.err
}

type fakeBatch struct{}

func (fakeBatch) Transcribe(_ context.Context, urls []string) []processor.BatchResult {
	out := make([]processor.BatchResult, len(urls))
	for i, u := range urls {
		out[i] = processor.BatchResult{AudioURL: u, Transcript: "[0:00] Asesor: hola"}
		if strings.Contains(u, "bad") {
			out[i] = processor.BatchResult{AudioURL: u, Error: "audio unreachable"}
		}
	}
	return out
}

func setup(t *testing.T, runner *fakeRunner) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if runner == nil {
		runner = &fakeRunner{}
	}
	return NewHandler(Deps{Store: store, Runner: runner, Batch: fakeBatch{}}), store
}

func do(h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, url, reader))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return m
}

func TestHealth(t *testing.T) {
	h, _ := setup(t, nil)
	rr := do(h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}
}

func TestProcess_Success(t *testing.T) {
	runner := &fakeRunner{res: pipeline.Result{
		CallID:    "c1",
		AccountID: "acc-1",
		Message:   "Llamada procesada correctamente",
		Metrics:   pipeline.Metrics{Score: 82, Topic: "Ventas"},
	}}
	h, _ := setup(t, runner)

	rr := do(h, http.MethodPost, "/process", `{"callId":"c1","summaryPrompt":"breve","selectedBehaviorIds":["b1"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	if body["success"] != true || body["callId"] != "c1" || body["accountId"] != "acc-1" {
		t.Errorf("body = %v", body)
	}
	// metrics are flattened into the top level
	if body["score"] != float64(82) || body["topic"] != "Ventas" {
		t.Errorf("metrics missing: %v", body)
	}
	if _, ok := body["alreadyCompleted"]; ok {
		t.Error("alreadyCompleted should be omitted")
	}
	if runner.got.SummaryPrompt != "breve" || len(runner.got.SelectedBehaviorIDs) != 1 {
		t.Errorf("request = %+v", runner.got)
	}
}

func TestProcess_MissingCallID(t *testing.T) {
	h, _ := setup(t, nil)
	for _, body := range []string{`{}`, `{"callId":"  "}`, `not json`} {
		rr := do(h, http.MethodPost, "/process", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, rr.Code)
		}
	}
}

func TestProcess_Failure(t *testing.T) {
	h, _ := setup(t, &fakeRunner{err: errors.New("transcription failed")})
	rr := do(h, http.MethodPost, "/process", `{"callId":"c9"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode(t, rr)
	if body["callId"] != "c9" || body["error"] != "transcription failed" || body["timestamp"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestCalls_CreateAndGet(t *testing.T) {
	h, _ := setup(t, nil)

	rr := do(h, http.MethodPost, "/calls", `{"accountId":"acc-1","title":"Uno","audioUrl":"https://x/1.mp3"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body = %s", rr.Code, rr.Body.String())
	}
	created := decode(t, rr)
	id, _ := created["id"].(string)
	if id == "" || created["status"] != string(types.StatusPending) {
		t.Fatalf("created = %v", created)
	}

	rr = do(h, http.MethodGet, "/calls/"+id, "")
	if rr.Code != http.StatusOK || decode(t, rr)["title"] != "Uno" {
		t.Errorf("get: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(h, http.MethodGet, "/calls/"+id+"/feedback", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("feedback status = %d", rr.Code)
	}
	if fb, _ := decode(t, rr)["feedback"].([]any); fb == nil || len(fb) != 0 {
		t.Errorf("feedback = %s", rr.Body.String())
	}

	if rr := do(h, http.MethodGet, "/calls/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing call status = %d", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/calls/missing/feedback", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing feedback status = %d", rr.Code)
	}
	if rr := do(h, http.MethodPost, "/calls", `{"title":"x"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d", rr.Code)
	}
}

func TestBehaviorsAndInsights(t *testing.T) {
	h, store := setup(t, nil)
	ctx := context.Background()

	rr := do(h, http.MethodPost, "/behaviors", `{"accountId":"acc-1","name":"Saludo","description":"Saluda con el nombre"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("behavior status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if rr := do(h, http.MethodPost, "/behaviors", `{"accountId":"acc-1"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("nameless behavior status = %d", rr.Code)
	}

	for i, score := range []int{30, 40, 50} {
		call := types.CallRecord{AccountID: "acc-1", AudioURL: "https://x/a.mp3"}
		if err := store.CreateCall(ctx, &call); err != nil {
			t.Fatal(err)
		}
		fb := types.FeedbackRecord{
			CallID: call.ID, AccountID: "acc-1", Score: score, Sentiment: "neutral",
			BehaviorAnalysis: []types.BehaviorResult{{Name: "Saludo", Compliant: i == 0}},
		}
		if err := store.InsertFeedback(ctx, &fb); err != nil {
			t.Fatal(err)
		}
	}

	rr = do(h, http.MethodGet, "/accounts/acc-1/insights", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("insights status = %d", rr.Code)
	}
	body := decode(t, rr)
	ins := body["insight"].(map[string]any)
	if ins["calls"] != float64(3) || ins["average_score"] != float64(40) {
		t.Errorf("insight = %v", ins)
	}
	action := body["action"].(map[string]any)
	if !strings.Contains(action["insight"].(string), "Saludo") {
		t.Errorf("action = %v", action)
	}
}

func TestBatch(t *testing.T) {
	h, _ := setup(t, nil)

	rr := do(h, http.MethodPost, "/transcriptions/batch", `{"audioUrls":["https://x/1.mp3","https://bad/2.mp3"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode(t, rr)
	if body["total"] != float64(2) || body["failed"] != float64(1) {
		t.Errorf("body = %v", body)
	}

	if rr := do(h, http.MethodPost, "/transcriptions/batch", `{"audioUrls":[]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d", rr.Code)
	}
}

func TestProcess_ClientDisconnectDoesNotCancelRun(t *testing.T) {
	runner := &fakeRunner{res: pipeline.Result{CallID: "c1"}}
	h, _ := setup(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{"callId":"c1"}`)).WithContext(ctx)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if runner.ctxErr != nil {
		t.Errorf("run context err = %v, want live context", runner.ctxErr)
	}
}

func TestProcess_ShutdownCancelsRun(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	shutdown, stop := context.WithCancel(context.Background())
	stop()
	runner := &fakeRunner{wait: 5 * time.Second, err: context.Canceled}
	h := NewHandler(Deps{Store: store, Runner: runner, Batch: fakeBatch{}, Shutdown: shutdown})

	start := time.Now()
	rr := do(h, http.MethodPost, "/process", `{"callId":"c1"}`)
	if !errors.Is(runner.ctxErr, context.Canceled) {
		t.Errorf("run context err = %v, want canceled", runner.ctxErr)
	}
	if time.Since(start) >= runner.wait {
		t.Error("run was not aborted by shutdown")
	}
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestProcess_AlreadyRunning(t *testing.T) {
	runner := &fakeRunner{res: pipeline.Result{CallID: "c1", AlreadyRunning: true, Message: "La llamada ya se está procesando"}}
	h, _ := setup(t, runner)

	rr := do(h, http.MethodPost, "/process", `{"callId":"c1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if body := decode(t, rr); body["alreadyRunning"] != true || body["success"] != true {
		t.Errorf("body = %v", body)
	}
}
