package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewHTTPClient_RejectsBadURL(t *testing.T) {
	for _, bad := range []string{"", "not-a-url", "ftp://ledger.example", "http://"} {
		if _, err := NewHTTPClient(bad, ""); err == nil {
			t.Errorf("expected error for url %q", bad)
		}
	}
	if _, err := NewHTTPClient("https://gateway.example", "key"); err != nil {
		t.Errorf("unexpected error for valid url: %v", err)
	}
}

func TestHTTPClient_Submit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/anchors" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("expected bearer header, got %q", got)
		}
		var body struct {
			Fingerprint string `json:"fingerprint"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Fingerprint != "0xabc" {
			t.Errorf("expected fingerprint 0xabc, got %q", body.Fingerprint)
		}
		json.NewEncoder(w).Encode(map[string]string{"reference": "0xref1"})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, "sekrit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ref, err := c.Submit(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "0xref1" {
		t.Errorf("expected reference 0xref1, got %q", ref)
	}
}

func TestHTTPClient_SubmitGatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "node out to lunch", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL, "")
	if _, err := c.Submit(context.Background(), "0xabc"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	srv.Close()
	if _, err := c.Submit(context.Background(), "0xabc"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable after close, got %v", err)
	}
}

func TestHTTPClient_QueryNotFoundMeansAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL, "")
	present, err := c.Query(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if present {
		t.Error("expected absent on 404")
	}
}

func TestHTTPClient_QueryPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/anchors/0xabc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]bool{"present": true})
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL, "")
	present, err := c.Query(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !present {
		t.Error("expected present")
	}
}

func TestHTTPClient_StatusUnreachableStillAnswers(t *testing.T) {
	c, _ := NewHTTPClient("http://127.0.0.1:1", "", WithTimeout(200*time.Millisecond))

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Configured {
		t.Error("expected configured snapshot")
	}
	if st.Reachable {
		t.Error("expected unreachable snapshot")
	}
}

func TestHTTPClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ledger":          "sepolia",
			"latest_position": 123456,
			"submitter":       "0xfeed",
			"authorized":      true,
		})
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL, "")
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Reachable || st.Ledger != "sepolia" || st.LatestPosition != 123456 || !st.Authorized {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestHTTPClient_AuthorizeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/authorizations":
			json.NewEncoder(w).Encode(map[string]string{"reference": "0xauth"})
		case r.Method == http.MethodGet && r.URL.Path == "/authorizations/0xacct":
			json.NewEncoder(w).Encode(map[string]bool{"authorized": true})
		case r.Method == http.MethodDelete && r.URL.Path == "/authorizations/0xacct":
			json.NewEncoder(w).Encode(map[string]string{"reference": "0xdeauth"})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL, "")
	ctx := context.Background()

	ref, err := c.Authorize(ctx, "0xacct")
	if err != nil || ref != "0xauth" {
		t.Fatalf("authorize: ref=%q err=%v", ref, err)
	}
	ok, err := c.Authorized(ctx, "0xacct")
	if err != nil || !ok {
		t.Fatalf("authorized: ok=%v err=%v", ok, err)
	}
	ref, err = c.Deauthorize(ctx, "0xacct")
	if err != nil || ref != "0xdeauth" {
		t.Fatalf("deauthorize: ref=%q err=%v", ref, err)
	}
}

func TestDisabled_AllCallsUnavailable(t *testing.T) {
	var c Client = Disabled{}
	ctx := context.Background()

	if _, err := c.Submit(ctx, "0xabc"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("submit: expected ErrUnavailable, got %v", err)
	}
	if _, err := c.Query(ctx, "0xabc"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("query: expected ErrUnavailable, got %v", err)
	}
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status: unexpected error: %v", err)
	}
	if st.Configured {
		t.Error("expected unconfigured status")
	}
}

func TestMemory_SubmitIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ref1, err := m.Submit(ctx, "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ref2, err := m.Submit(ctx, "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref1 != ref2 {
		t.Errorf("expected idempotent submit, got %q vs %q", ref1, ref2)
	}
	if m.SubmitCalls() != 2 {
		t.Errorf("expected 2 submit calls, got %d", m.SubmitCalls())
	}

	present, err := m.Query(ctx, "0xabc")
	if err != nil || !present {
		t.Errorf("expected anchored fingerprint, present=%v err=%v", present, err)
	}
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Submit(ctx, "0xabc"); err == nil {
		t.Error("expected error from cancelled context")
	}
	if m.Anchored("0xabc") {
		t.Error("cancelled submit must not anchor")
	}
}
