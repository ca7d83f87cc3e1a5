// Package dvn is a small HTTP client for the decentralized verification
// network REST API. It submits inventory scans and follows the resulting
// verification rounds.
package dvn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Round statuses reported by the API.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the verification network API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ScanRequest asks a worker to scan a store section and submit the result.
type ScanRequest struct {
	SubmissionID string `json:"submission_id,omitempty"`
	StoreID      string `json:"store_id"`
	Section      string `json:"section,omitempty"`
	Scenario     string `json:"scenario,omitempty"`
	ActionType   string `json:"action_type,omitempty"`
	StudioID     string `json:"studio_id,omitempty"`
}

// Submission describes the proof-of-agency package a worker produced.
type Submission struct {
	SubmissionID    string    `json:"submission_id"`
	PackageHash     string    `json:"package_hash"`
	ContentAddress  string    `json:"content_address"`
	FallbackAddress bool      `json:"fallback_address"`
	ActionType      string    `json:"action_type"`
	StudioID        string    `json:"studio_id"`
	WorkerAgentID   string    `json:"worker_agent_id"`
	ItemsScanned    int       `json:"items_scanned"`
	Anomalies       int       `json:"anomalies"`
	Quality         string    `json:"verification_quality"`
	NoticeError     string    `json:"notice_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// RoundResult summarizes the consensus verdict of a finished round.
type RoundResult struct {
	VerdictState          string  `json:"verdict_state"`
	Verified              bool    `json:"verified"`
	Approvals             int     `json:"approvals"`
	SuccessfulEvaluations int     `json:"successful_evaluations"`
	ApprovalRate          float64 `json:"approval_rate"`
}

// Round is the state of a queued verification round.
type Round struct {
	ID             string         `json:"id"`
	SubmissionID   string         `json:"submission_id"`
	ContentAddress string         `json:"content_address"`
	PackageHash    string         `json:"package_hash,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Status         string         `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxRetries     int            `json:"max_retries"`
	LastError      string         `json:"last_error,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	Result         *RoundResult   `json:"result,omitempty"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
}

// Finished reports whether the round reached a final status.
func (r Round) Finished() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// ScanResponse is returned by SubmitScan. Round is nil when the package could
// not be stored and therefore was not queued for verification.
type ScanResponse struct {
	Submission Submission `json:"submission"`
	Round      *Round     `json:"round,omitempty"`
	Warning    string     `json:"warning,omitempty"`
}

// Stats aggregates round counts.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Verified        int   `json:"verified"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// Receipt is the chain receipt of a recorded transaction.
type Receipt struct {
	TransactionID string `json:"transaction_id"`
	ResourceUsed  uint64 `json:"resource_used"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	Chain         string `json:"chain,omitempty"`
}

// ChainSubmission records the on-chain outcome of an attestation.
type ChainSubmission struct {
	Status    string   `json:"status"`
	Receipt   *Receipt `json:"receipt,omitempty"`
	Attempts  int      `json:"attempts,omitempty"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
}

// Attestation is a signed verifier evaluation recorded in the ledger.
type Attestation struct {
	ID                   string          `json:"id"`
	SubmissionID         string          `json:"submission_id"`
	PackageHash          string          `json:"package_hash"`
	VerifierAgentID      string          `json:"verifier_agent_id"`
	Specialization       string          `json:"specialization"`
	StructureScore       float64         `json:"structure_score"`
	StructureValid       bool            `json:"structure_valid"`
	ContentQualityScore  float64         `json:"content_quality_score"`
	EvidenceQualityScore float64         `json:"evidence_quality_score"`
	OverallScore         float64         `json:"overall_score"`
	Confidence           float64         `json:"confidence"`
	Notes                []string        `json:"notes"`
	Decision             bool            `json:"decision"`
	DecisionReason       string          `json:"decision_reason"`
	Evidence             json.RawMessage `json:"evidence,omitempty"`
	Signature            string          `json:"signature,omitempty"`
	Status               string          `json:"status"`
	Error                string          `json:"error,omitempty"`
	ErrorCode            string          `json:"error_code,omitempty"`
	Submission           ChainSubmission `json:"submission"`
	CreatedAt            time.Time       `json:"created_at"`
}

// ListOptions filters ListRounds and Stats.
type ListOptions struct {
	Statuses  []string
	Limit     int
	Offset    int
	Ascending bool
	Query     string
	Verdict   string
	Since     time.Time
}

func (o ListOptions) encode() string {
	values := url.Values{}
	if len(o.Statuses) > 0 {
		values.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.Limit > 0 {
		values.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		values.Set("offset", strconv.Itoa(o.Offset))
	}
	if o.Ascending {
		values.Set("order", "asc")
	}
	if o.Query != "" {
		values.Set("q", o.Query)
	}
	if o.Verdict != "" {
		values.Set("verdict", o.Verdict)
	}
	if !o.Since.IsZero() {
		values.Set("since", o.Since.UTC().Format(time.RFC3339))
	}
	return values.Encode()
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("dvn api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("dvn api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the verification network API. When
// httpClient is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitScan asks the network to scan a store and queue the resulting package.
func (c *Client) SubmitScan(ctx context.Context, req ScanRequest) (ScanResponse, error) {
	var resp ScanResponse
	if err := c.post(ctx, "/api/v1/submissions", req, &resp); err != nil {
		return ScanResponse{}, err
	}
	return resp, nil
}

// GetRound fetches a verification round by identifier.
func (c *Client) GetRound(ctx context.Context, id string) (Round, error) {
	var round Round
	if err := c.get(ctx, "/api/v1/submissions/"+url.PathEscape(id), "", &round); err != nil {
		return Round{}, err
	}
	return round, nil
}

// ListRounds returns rounds matching opts.
func (c *Client) ListRounds(ctx context.Context, opts ListOptions) ([]Round, error) {
	var rounds []Round
	if err := c.get(ctx, "/api/v1/submissions", opts.encode(), &rounds); err != nil {
		return nil, err
	}
	return rounds, nil
}

// Stats returns aggregated round counts for rounds matching opts.
func (c *Client) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/submissions/stats", opts.encode(), &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Attestations returns the attestations recorded for a submission.
func (c *Client) Attestations(ctx context.Context, submissionID string) ([]Attestation, error) {
	var atts []Attestation
	endpoint := "/api/v1/submissions/" + url.PathEscape(submissionID) + "/attestations"
	if err := c.get(ctx, endpoint, "", &atts); err != nil {
		return nil, err
	}
	return atts, nil
}

// WaitForRound polls GetRound until the round finishes or ctx is done.
func (c *Client) WaitForRound(ctx context.Context, id string, interval time.Duration) (Round, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		round, err := c.GetRound(ctx, id)
		if err != nil {
			return Round{}, err
		}
		if round.Finished() {
			return round, nil
		}
		select {
		case <-ctx.Done():
			return round, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, "", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint, rawQuery string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, rawQuery, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, rawQuery string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: rawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
