package dvn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitScanPostsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/submissions" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req ScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.StoreID != "store_123" || req.Section != "electronics" {
			t.Fatalf("unexpected payload %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(ScanResponse{
			Submission: Submission{SubmissionID: "sub-1", ContentAddress: "Qmabc"},
			Round:      &Round{ID: "sub-1", Status: StatusPending, MaxRetries: 3},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.SubmitScan(context.Background(), ScanRequest{StoreID: "store_123", Section: "electronics"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Round == nil || resp.Round.ID != "sub-1" || resp.Round.Finished() {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestListRoundsEncodesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "succeeded,failed" || q.Get("limit") != "5" || q.Get("order") != "asc" || q.Get("verdict") != "verified" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Round{{ID: "r1", Status: StatusSucceeded, Result: &RoundResult{VerdictState: "verified", Verified: true}}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, nil)
	rounds, err := client.ListRounds(context.Background(), ListOptions{
		Statuses:  []string{StatusSucceeded, StatusFailed},
		Limit:     5,
		Ascending: true,
		Verdict:   "verified",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rounds) != 1 || !rounds[0].Result.Verified {
		t.Fatalf("unexpected rounds %+v", rounds)
	}
}

func TestAPIErrorIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"ROUND_NOT_FOUND","message":"round not found"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.GetRound(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "ROUND_NOT_FOUND" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestWaitForRoundPollsUntilFinished(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/submissions/sub-1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		status := StatusRunning
		if calls.Add(1) >= 3 {
			status = StatusSucceeded
		}
		_ = json.NewEncoder(w).Encode(Round{ID: "sub-1", Status: status})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	round, err := client.WaitForRound(ctx, "sub-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if round.Status != StatusSucceeded || calls.Load() != 3 {
		t.Fatalf("unexpected round %+v after %d calls", round, calls.Load())
	}
}

func TestAttestationsPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/submissions/sub-1/attestations" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]Attestation{{ID: "att-1", VerifierAgentID: "verifier_general_1", Decision: true}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	atts, err := client.Attestations(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("attestations: %v", err)
	}
	if len(atts) != 1 || !atts[0].Decision {
		t.Fatalf("unexpected attestations %+v", atts)
	}
}
