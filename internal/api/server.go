package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"github.com/ChaosChain/chaoschain-dvn/internal/agent"
	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/metrics"
	"github.com/ChaosChain/chaoschain-dvn/internal/task"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

const (
	maxBodyBytes       = 1 << 20
	chainHealthTimeout = 3 * time.Second
)

// Submitter 执行一次工作者提交。
type Submitter interface {
	Submit(ctx context.Context, req agent.WorkRequest) (*agent.Submission, error)
}

// AttestationReader 读取账本中记录的证明。
type AttestationReader interface {
	Attestations(ctx context.Context, submissionID string) ([]attestation.Attestation, error)
}

// ChainStatus 报告链的当前状态，用于健康检查。
type ChainStatus interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Server 负责暴露 REST 接口，供外部提交扫描并查询验证轮次。
type Server struct {
	addr            string
	worker          Submitter
	rounds          *task.Service
	ledger          AttestationReader
	chain           ChainStatus
	limiter         *rate.Limiter
	schema          *jsonschema.Schema
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithAttestationReader 配置证明查询的数据来源。
func WithAttestationReader(r AttestationReader) Option {
	return func(s *Server) {
		s.ledger = r
	}
}

// WithChainStatus 让 /healthz 同时检查链连接。
func WithChainStatus(c ChainStatus) Option {
	return func(s *Server) {
		s.chain = c
	}
}

// WithRateLimit 启用全局限流。rps 不大于 0 时不限流。
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = int(rps)
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, worker Submitter, rounds *task.Service, opts ...Option) (*Server, error) {
	schema, err := compileSubmissionSchema()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "编译提交请求 schema 失败")
	}
	s := &Server{
		addr:            addr,
		worker:          worker,
		rounds:          rounds,
		schema:          schema,
		shutdownTimeout: 10 * time.Second,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Handler 返回挂载全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/submissions", instrument("submissions_create", s.handleCreateSubmission))
	mux.HandleFunc("GET /api/v1/submissions", instrument("submissions_list", s.handleListRounds))
	mux.HandleFunc("GET /api/v1/submissions/stats", instrument("submissions_stats", s.handleStats))
	mux.HandleFunc("GET /api/v1/submissions/{id}", instrument("submissions_get", s.handleGetRound))
	mux.HandleFunc("GET /api/v1/submissions/{id}/attestations", instrument("submissions_attestations", s.handleAttestations))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return rateLimit(s.limiter, mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// submissionResponse 是提交接口的响应体。
type submissionResponse struct {
	Submission *agent.Submission `json:"submission"`
	Round      *task.Task        `json:"round,omitempty"`
	Warning    string            `json:"warning,omitempty"`
}

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	if s.worker == nil || s.rounds == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "服务未初始化")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "读取请求体失败")
		return
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体不是合法的 JSON")
		return
	}
	if err := s.schema.Validate(doc); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeValidation), schemaMessage(err))
		return
	}
	var req agent.WorkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体格式错误")
		return
	}

	sub, err := s.worker.Submit(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if sub.FallbackAddress {
		s.logger.Warn("内容地址回退，未创建验证轮次", slog.String("submission_id", sub.SubmissionID))
		writeJSON(w, http.StatusOK, submissionResponse{
			Submission: sub,
			Warning:    "内容存储不可用，包未能分发给验证者",
		})
		return
	}

	round, err := s.rounds.Submit(r.Context(), agent.RoundRequest{
		SubmissionID:   sub.SubmissionID,
		ContentAddress: sub.ContentAddress,
		PackageHash:    sub.PackageHash,
		Metadata: map[string]any{
			"action_type": string(sub.ActionType),
			"studio_id":   sub.StudioID,
			"worker":      sub.WorkerAgentID,
		},
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submissionResponse{Submission: sub, Round: round})
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	if s.rounds == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "服务未初始化")
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	rounds, err := s.rounds.List(r.Context(), opts...)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if rounds == nil {
		rounds = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.rounds == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "服务未初始化")
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	stats, err := s.rounds.Stats(r.Context(), opts...)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	if s.rounds == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "服务未初始化")
		return
	}
	round, err := s.rounds.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (s *Server) handleAttestations(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "未配置账本")
		return
	}
	atts, err := s.ledger.Attestations(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if atts == nil {
		atts = []attestation.Attestation{}
	}
	writeJSON(w, http.StatusOK, atts)
}

// parseListOptions 将查询参数转换为列表过滤条件。
func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "status 参数无效", xerrors.WithMetadata("status", string(status)))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 参数无效")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 参数无效")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	switch strings.ToLower(query.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 仅支持 asc 或 desc")
	}
	if raw := query.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "since 需为 RFC3339 时间")
		}
		opts = append(opts, task.WithUpdatedSince(ts))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	if raw := query.Get("verdict"); raw != "" {
		opts = append(opts, task.WithVerdictState(raw))
	}
	return opts, nil
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := xerrors.CodeOf(err)
	message := err.Error()
	if xe, ok := xerrors.From(err); ok && xe.Message() != "" {
		message = xe.Message()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.Any("error", err), slog.String("code", string(code)))
	}
	writeError(w, status, string(code), message)
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, xerrors.CodeValidation, xerrors.CodeInvalidActionType,
		xerrors.CodeEncoding, task.CodeRoundValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeRoundNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeRoundConflict, task.CodeRoundCompleted:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		location := leaf.InstanceLocation
		if location == "" {
			location = "/"
		}
		return "请求体不符合 schema: " + location + ": " + leaf.Message
	}
	return "请求体不符合 schema"
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type healthBody struct {
	Status string              `json:"status"`
	Chain  *web3.ChainSnapshot `json:"chain,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		writeJSON(w, http.StatusOK, healthBody{Status: "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), chainHealthTimeout)
	defer cancel()
	snapshot, err := s.chain.FetchChainSnapshot(ctx)
	if err != nil {
		s.logger.Warn("链状态检查失败", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, healthBody{Status: "degraded", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ok", Chain: &snapshot})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
