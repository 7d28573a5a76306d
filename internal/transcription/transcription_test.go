package transcription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"call-pipeline-go/internal/ingest"
	"call-pipeline-go/internal/types"
)

// fakeTimer fires immediately and records every requested delay.
type fakeTimer struct {
	delays []time.Duration
	ch     chan time.Time
}

func (f *fakeTimer) Start(d time.Duration) {
	f.delays = append(f.delays, d)
	f.ch = make(chan time.Time, 1)
	f.ch <- time.Now()
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time { return f.ch }

type scriptedModel struct {
	name  string
	calls int
	fn    func(call int) (Result, error)
}

func (m *scriptedModel) model() Model {
	return Model{Name: m.name, Call: func(ctx context.Context, req Request) (Result, error) {
		m.calls++
		return m.fn(m.calls)
	}}
}

func failWith(err error) func(int) (Result, error) {
	return func(int) (Result, error) { return Result{}, err }
}

func newTestTranscriber(timer *fakeTimer, models ...*scriptedModel) *Transcriber {
	var chain []Model
	for _, m := range models {
		chain = append(chain, m.model())
	}
	return NewTranscriber(chain, Options{Language: "es", Timer: timer, Rand: func() float64 { return 0.5 }}, nil)
}

var testAudio = ingest.Audio{Data: []byte("RIFF"), Filename: "call.wav"}

func TestTranscribe_FallbackChain(t *testing.T) {
	a := &scriptedModel{name: "a", fn: failWith(errors.New("a down"))}
	b := &scriptedModel{name: "b", fn: failWith(&StatusError{Code: 500})}
	c := &scriptedModel{name: "c", fn: func(int) (Result, error) {
		return Result{Segments: []types.TranscriptSegment{{Start: 0, End: 1, Text: "hola"}}}, nil
	}}
	timer := &fakeTimer{}

	res, err := newTestTranscriber(timer, a, b, c).Transcribe(context.Background(), testAudio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Model != "c" || len(res.Segments) != 1 || res.Attempts != 1 {
		t.Errorf("res = %+v", res)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Errorf("calls a=%d b=%d c=%d, want 1 each", a.calls, b.calls, c.calls)
	}
	if len(timer.delays) != 0 {
		t.Errorf("unexpected backoff: %v", timer.delays)
	}
}

func TestTranscribe_RateLimitedExhaustsAttempts(t *testing.T) {
	limited := &StatusError{Code: http.StatusTooManyRequests}
	a := &scriptedModel{name: "a", fn: failWith(limited)}
	b := &scriptedModel{name: "b", fn: failWith(limited)}
	c := &scriptedModel{name: "c", fn: failWith(limited)}
	timer := &fakeTimer{}

	res, err := newTestTranscriber(timer, a, b, c).Transcribe(context.Background(), testAudio)
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("err = %v, want ErrFailed", err)
	}
	if res.Attempts != 3 || a.calls != 3 {
		t.Errorf("attempts = %d, model a calls = %d, want 3", res.Attempts, a.calls)
	}
	if len(timer.delays) != 2 {
		t.Fatalf("delays = %v, want 2", timer.delays)
	}
	if timer.delays[1] <= timer.delays[0] {
		t.Errorf("delays not increasing: %v", timer.delays)
	}
	if timer.delays[0] < 5*time.Second {
		t.Errorf("rate-limited delay %v shorter than the 429 base", timer.delays[0])
	}
}

func TestTranscribe_TransientThenSuccess(t *testing.T) {
	a := &scriptedModel{name: "a", fn: func(call int) (Result, error) {
		if call == 1 {
			return Result{}, &StatusError{Code: 503}
		}
		return Result{Text: "hola"}, nil
	}}
	b := &scriptedModel{name: "b", fn: failWith(&StatusError{Code: 502})}
	timer := &fakeTimer{}

	res, err := newTestTranscriber(timer, a, b).Transcribe(context.Background(), testAudio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Attempts != 2 || res.Model != "a" {
		t.Errorf("res = %+v", res)
	}
	if len(timer.delays) != 1 || timer.delays[0] != 2*time.Second {
		t.Errorf("delays = %v, want [2s]", timer.delays)
	}
}

func TestTranscribe_TooLargeShortCircuits(t *testing.T) {
	a := &scriptedModel{name: "a", fn: failWith(&StatusError{Code: http.StatusRequestEntityTooLarge})}
	b := &scriptedModel{name: "b", fn: failWith(errors.New("must not run"))}
	timer := &fakeTimer{}

	res, err := newTestTranscriber(timer, a, b).Transcribe(context.Background(), testAudio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !res.TooLarge || res.Text != SentinelTooLarge {
		t.Errorf("res = %+v, want sentinel", res)
	}
	if b.calls != 0 || len(timer.delays) != 0 {
		t.Errorf("b calls = %d, delays = %v, want no further work", b.calls, timer.delays)
	}
}

func TestRetryPolicy_Caps(t *testing.T) {
	p := newRetryPolicy(func() float64 { return 0 })
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, p.NextBackOff())
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("backoff %d = %v, want %v", i, got[i], want[i])
		}
	}

	p.Reset()
	p.rateLimited = true
	p.attempt = 4
	if d := p.NextBackOff(); d != 30*time.Second {
		t.Errorf("rate-limited cap = %v, want 30s", d)
	}
}

func TestClient_VerboseRequest(t *testing.T) {
	var fields map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		fields = r.MultipartForm.Value
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "RIFF" {
			t.Errorf("file = %q", data)
		}
		w.Write([]byte(`{"text":"hola buenas","duration":4.2,"segments":[
			{"start":0,"end":1.5,"text":" hola","no_speech_prob":0.01},
			{"start":2,"end":4.2,"text":" buenas","no_speech_prob":0.7}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "key", nil)
	res, err := c.Transcribe(context.Background(), "whisper-1", true, Request{Audio: testAudio, Language: "es"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Segments) != 2 || res.Segments[1].NoSpeechProb != 0.7 || res.DurationSeconds != 4.2 {
		t.Errorf("res = %+v", res)
	}
	if got := strings.Join(fields["timestamp_granularities[]"], ","); got != "segment,word" {
		t.Errorf("timestamp_granularities = %q", got)
	}
	if fields["response_format"][0] != "verbose_json" || fields["language"][0] != "es" || fields["model"][0] != "whisper-1" {
		t.Errorf("fields = %v", fields)
	}
}

func TestClient_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"file too large"}}`, http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil).Transcribe(context.Background(), "gpt-4o-transcribe", false, Request{Audio: testAudio})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("err = %v, want 413 StatusError", err)
	}
	if !isTooLarge(err) {
		t.Error("isTooLarge = false")
	}
}

func TestModelChain_LastIsVerbose(t *testing.T) {
	var formats []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		formats = append(formats, r.FormValue("model")+"="+r.FormValue("response_format"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	chain := ModelChain(NewClient(srv.URL, "", nil), []string{"a", "b", "c"})
	tr := NewTranscriber(chain, Options{MaxAttempts: 1}, nil)
	if _, err := tr.Transcribe(context.Background(), testAudio); !errors.Is(err, ErrFailed) {
		t.Fatalf("err = %v, want ErrFailed", err)
	}
	if got := strings.Join(formats, " "); got != "a=json b=json c=verbose_json" {
		t.Errorf("requests = %q", got)
	}
}
