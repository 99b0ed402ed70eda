package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestAnalysisRunSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("bearer token not attached, got %q", got)
		}
		var req AnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.JobID != "job-1" {
			t.Errorf("job id = %q", req.JobID)
		}
		json.NewEncoder(w).Encode(AnalysisResult{
			RunID: "run-9",
			ViralMoments: []domain.Moment{
				{Title: "hook", StartSeconds: 0, EndSeconds: 30, ViralScore: 0.9, HookType: "question"},
				{Title: "payoff", StartSeconds: 60, EndSeconds: 95, ViralScore: 0.7, HookType: "reveal"},
			},
			Performance: AnalysisPerformance{AnalysisSeconds: 42, CostCents: 12},
		})
	}))
	defer srv.Close()

	c, err := NewAnalysisClient(testLogger(t), AnalysisConfig{BaseURL: srv.URL, Token: "sekrit"})
	if err != nil {
		t.Fatalf("NewAnalysisClient: %v", err)
	}
	out, err := c.Run(context.Background(), AnalysisRequest{DownloadURL: "https://cdn/video.mp4", JobID: "job-1", UserID: "u-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.RunID != "run-9" || len(out.ViralMoments) != 2 {
		t.Fatalf("unexpected result: %+v", out)
	}
	if out.Performance.CostCents != 12 {
		t.Fatalf("performance not parsed: %+v", out.Performance)
	}
}

func TestAnalysisErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		code int
		kind apperr.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, apperr.KindAuth},
		{"forbidden", http.StatusForbidden, apperr.KindAuth},
		{"bad request", http.StatusBadRequest, apperr.KindUpstreamClient},
		{"not found", http.StatusNotFound, apperr.KindUpstreamClient},
		{"server error", http.StatusInternalServerError, apperr.KindUpstreamServer},
		{"bad gateway", http.StatusBadGateway, apperr.KindUpstreamServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.code)
			}))
			defer srv.Close()

			c, err := NewAnalysisClient(testLogger(t), AnalysisConfig{BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("NewAnalysisClient: %v", err)
			}
			_, err = c.Run(context.Background(), AnalysisRequest{DownloadURL: "https://cdn/v.mp4", JobID: "j"})
			if !apperr.IsKind(err, tc.kind) {
				t.Fatalf("expected kind %s, got %v (kind %s)", tc.kind, err, apperr.KindOf(err))
			}
		})
	}
}

func TestAnalysisStatusErrorPayload(t *testing.T) {
	// A 2xx body carrying status=error is terminal, not retriable.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "video too long"})
	}))
	defer srv.Close()

	c, err := NewAnalysisClient(testLogger(t), AnalysisConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAnalysisClient: %v", err)
	}
	_, err = c.Run(context.Background(), AnalysisRequest{DownloadURL: "https://cdn/v.mp4", JobID: "j"})
	if !apperr.IsKind(err, apperr.KindUpstreamClient) {
		t.Fatalf("expected upstream_client, got %v", err)
	}
	if apperr.Retriable(err) {
		t.Fatalf("status=error payload must not be retriable")
	}
}

func TestAnalysisDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewAnalysisClient(testLogger(t), AnalysisConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewAnalysisClient: %v", err)
	}
	_, err = c.Run(context.Background(), AnalysisRequest{DownloadURL: "https://cdn/v.mp4", JobID: "j"})
	if !apperr.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v (kind %s)", err, apperr.KindOf(err))
	}
}

func TestBatchRunEmptyMoments(t *testing.T) {
	// Zero candidates means zero upstream calls.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request for empty batch")
	}))
	defer srv.Close()

	c, err := NewBatchClient(testLogger(t), BatchConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewBatchClient: %v", err)
	}
	out, err := c.Run(context.Background(), BatchRequest{DownloadURL: "https://cdn/v.mp4", JobID: "j"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.ProcessedClips) != 0 || len(out.FailedClips) != 0 {
		t.Fatalf("expected empty result, got %+v", out)
	}
}

func TestBatchRunSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		var processed []ProcessedClip
		for _, m := range req.Moments {
			processed = append(processed, ProcessedClip{
				OriginalIndex:   m.OriginalIndex,
				Title:           m.Title,
				StartSeconds:    m.StartSeconds,
				EndSeconds:      m.EndSeconds,
				DurationSeconds: m.EndSeconds - m.StartSeconds,
				RawVideoKey:     "raw/clip.mp4",
				CaptionsKey:     "captions/clip.srt",
			})
		}
		json.NewEncoder(w).Encode(BatchResult{ProcessedClips: processed, ClipsProcessed: len(processed)})
	}))
	defer srv.Close()

	c, err := NewBatchClient(testLogger(t), BatchConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewBatchClient: %v", err)
	}
	out, err := c.Run(context.Background(), BatchRequest{
		DownloadURL: "https://cdn/v.mp4",
		JobID:       "j",
		Moments: []domain.Moment{
			{OriginalIndex: 3, Title: "late moment", StartSeconds: 120, EndSeconds: 150},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.ProcessedClips) != 1 || out.ProcessedClips[0].OriginalIndex != 3 {
		t.Fatalf("original index not preserved: %+v", out.ProcessedClips)
	}
}

func TestResolverImmediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(resolveResponse{
			DownloadURL: "https://cdn/video.mp4",
			MediaID:     "media-1",
			Title:       "How to Go",
		})
	}))
	defer srv.Close()

	c, err := NewResolverClient(testLogger(t), ResolverConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewResolverClient: %v", err)
	}
	res, err := c.Resolve(context.Background(), "https://youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.DownloadURL != "https://cdn/video.mp4" || res.MediaID != "media-1" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolverPolling(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/resolve", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(resolveResponse{ProgressURL: srv.URL + "/progress"})
	})
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			json.NewEncoder(w).Encode(resolveResponse{})
			return
		}
		json.NewEncoder(w).Encode(resolveResponse{DownloadURL: "https://cdn/ready.mp4", Title: "Ready"})
	})

	c, err := NewResolverClient(testLogger(t), ResolverConfig{
		BaseURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewResolverClient: %v", err)
	}
	res, err := c.Resolve(context.Background(), "https://youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.DownloadURL != "https://cdn/ready.mp4" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if got := polls.Load(); got < 3 {
		t.Fatalf("expected at least 3 polls, got %d", got)
	}
}

func TestResolverPollDeadline(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/resolve", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(resolveResponse{ProgressURL: srv.URL + "/progress"})
	})
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		// Never ready.
		json.NewEncoder(w).Encode(resolveResponse{})
	})

	c, err := NewResolverClient(testLogger(t), ResolverConfig{
		BaseURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      60 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewResolverClient: %v", err)
	}
	_, err = c.Resolve(context.Background(), "https://youtube.com/watch?v=abc")
	if !apperr.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v (kind %s)", err, apperr.KindOf(err))
	}
}
