package pacs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, baseURL string, fallback bool) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:         baseURL,
		Timeout:         2 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      time.Millisecond,
		FallbackEnabled: fallback,
	}, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_ValidatesBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}, zerolog.Nop(), nil); err == nil {
		t.Error("expected error for empty base url")
	}
	if _, err := NewClient(ClientConfig{BaseURL: "ftp://pacs"}, zerolog.Nop(), nil); err == nil {
		t.Error("expected error for non-http scheme")
	}
	if _, err := NewClient(ClientConfig{BaseURL: "http://pacs:8042"}, zerolog.Nop(), nil); err != nil {
		t.Errorf("unexpected error for valid url: %v", err)
	}
}

func TestFetchPreview_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	img, err := c.FetchPreview(context.Background(), "abc", 0, PreviewOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(img) != "image-bytes" {
		t.Errorf("unexpected body: %q", img)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestFetchPreview_ExhaustionReturnsPlaceholder(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, true)
	img, err := c.FetchPreview(context.Background(), "abc", 0, PreviewOptions{})
	if err != nil {
		t.Fatalf("expected placeholder fallback, got error: %v", err)
	}
	if !IsPlaceholder(img) {
		t.Error("expected placeholder image bytes")
	}
	if int(calls) != c.RetryAttempts() {
		t.Errorf("expected exactly %d calls, got %d", c.RetryAttempts(), calls)
	}
}

func TestFetchPreview_ExhaustionWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	_, err := c.FetchPreview(context.Background(), "abc", 0, PreviewOptions{})
	if !errors.Is(err, ErrTransient) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestFetchPreview_ClientErrorFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	// Fallback on: a 4xx must still surface, only transient errors degrade.
	c := testClient(t, srv.URL, true)
	_, err := c.FetchPreview(context.Background(), "missing", 0, PreviewOptions{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid-argument error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call for 4xx, got %d", calls)
	}
}

func TestFetchPreview_PathSelection(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.String())
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	ctx := context.Background()

	if _, err := c.FetchPreview(ctx, "id1", 0, PreviewOptions{Quality: 80}); err != nil {
		t.Fatalf("frame 0: %v", err)
	}
	if _, err := c.FetchPreview(ctx, "id1", 2, PreviewOptions{Quality: 80}); err != nil {
		t.Fatalf("frame 2: %v", err)
	}

	if paths[0] != "/instances/id1/preview?quality=80" {
		t.Errorf("frame 0 path: %s", paths[0])
	}
	if paths[1] != "/instances/id1/frames/2/preview" {
		t.Errorf("frame 2 path: %s", paths[1])
	}
}

func TestFetchPreview_RejectsBadArguments(t *testing.T) {
	c := testClient(t, "http://pacs.invalid", false)
	if _, err := c.FetchPreview(context.Background(), "", 0, PreviewOptions{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty id: expected invalid-argument, got %v", err)
	}
	if _, err := c.FetchPreview(context.Background(), "id", -1, PreviewOptions{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative frame: expected invalid-argument, got %v", err)
	}
}

func TestDo_ContextCancellationAbortsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{
		BaseURL:       srv.URL,
		RetryAttempts: 5,
		RetryDelay:    time.Minute,
	}, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = c.FetchPreview(ctx, "abc", 0, PreviewOptions{})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not abort the retry backoff")
	}
}

func TestFetchMetadata_ParsesSimplifiedTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instances/id1/simplified-tags" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"Rows":              "512",
			"Columns":           "512",
			"NumberOfFrames":    "30",
			"TransferSyntaxUID": "1.2.840.10008.1.2.4.90",
			"BitsAllocated":     "16",
			"BitsStored":        "12",
			"WindowCenter":      "40\\300",
			"WindowWidth":       "400",
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	meta, err := c.FetchMetadata(context.Background(), "id1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Rows != 512 || meta.Columns != 512 {
		t.Errorf("unexpected dimensions: %dx%d", meta.Rows, meta.Columns)
	}
	if meta.FrameCount != 30 {
		t.Errorf("expected 30 frames, got %d", meta.FrameCount)
	}
	if meta.TransferSyntaxUID != "1.2.840.10008.1.2.4.90" {
		t.Errorf("unexpected syntax: %s", meta.TransferSyntaxUID)
	}
	if meta.WindowCenter != 40 {
		t.Errorf("expected first window center value 40, got %f", meta.WindowCenter)
	}
}

func TestFetchMetadata_DefaultsFrameCountToOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"Rows":    "256",
			"Columns": "256",
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	meta, err := c.FetchMetadata(context.Background(), "id1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.FrameCount != 1 {
		t.Errorf("expected frame count 1 when NumberOfFrames is absent, got %d", meta.FrameCount)
	}
}

func TestFindInstance_QueryShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tools/find" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req findRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode find request: %v", err)
		}
		if req.Level != "Instance" {
			t.Errorf("expected Instance level, got %s", req.Level)
		}
		if req.Query["SOPInstanceUID"] != "1.2.3.4" {
			t.Errorf("unexpected query: %v", req.Query)
		}
		json.NewEncoder(w).Encode([]string{"ext-1"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	ids, err := c.FindInstance(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "ext-1" {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestSystemInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/system" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"Name":"Orthanc","Version":"1.12.1","ApiVersion":21,"DicomAet":"ORTHANC"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	info, err := c.SystemInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Name != "Orthanc" || info.APIVersion != 21 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestListInstances_TruncatesToLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{"a", "b", "c", "d"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	ids, err := c.ListInstances(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 ids, got %d", len(ids))
	}
}

func TestClassifyCompression_SurvivesMetadataFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	info := c.ClassifyCompression(context.Background(), "gone")
	if info.Err == nil {
		t.Fatal("expected carried error")
	}
	if info.Supported {
		t.Error("expected unsupported classification on failure")
	}
	if info.CompressionName != "Unknown" {
		t.Errorf("expected Unknown, got %s", info.CompressionName)
	}
}

func TestFindInstance_PostBodyIsResent(t *testing.T) {
	// The find body must survive retries: each attempt re-reads it.
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, b)
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]string{"ext-1"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, false)
	if _, err := c.FindInstance(context.Background(), "1.2.3.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(bodies))
	}
	if !bytes.Equal(bodies[0], bodies[1]) {
		t.Error("retried request body differs from the original")
	}
}
