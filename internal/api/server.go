// Package api 暴露代理的 HTTP 接口：对话、注册登录、代币查询与指标。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pochipo/internal/agent"
	"pochipo/internal/auth"
	"pochipo/internal/directory"
	xerrors "pochipo/internal/errors"
	"pochipo/internal/observability/metrics"
	"pochipo/pkg/logger"
)

// userDivider 分隔用户消息与注入的身份信息，模型从分隔符后读取 userId。
const userDivider = "----------"

// Server 是 HTTP 服务的入口。
type Server struct {
	addr       string
	agent      *agent.Service
	auth       *auth.Service
	store      directory.Store
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer 构造 HTTP 服务。
func NewServer(addr string, agentSvc *agent.Service, authSvc *auth.Service, store directory.Store) (*Server, error) {
	if agentSvc == nil || authSvc == nil || store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "HTTP 服务缺少依赖")
	}
	if strings.TrimSpace(addr) == "" {
		addr = ":3000"
	}
	server := &Server{
		addr:  addr,
		agent: agentSvc,
		auth:  authSvc,
		store: store,
		log:   logger.Named("api"),
	}
	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/interact", s.instrument("interact", s.handleInteract))
	mux.HandleFunc("POST /api/user-chat", s.instrument("user_chat", s.handleUserChat))
	mux.HandleFunc("POST /api/register", s.instrument("register", s.handleRegister))
	mux.HandleFunc("POST /api/login", s.instrument("login", s.handleLogin))
	mux.HandleFunc("GET /api/tokens", s.instrument("tokens", s.handleListTokens))
	mux.HandleFunc("GET /api/tokens/{id}", s.instrument("token_by_id", s.handleGetToken))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start 启动服务并阻塞，上下文取消时优雅关停。
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务启动", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("关闭 HTTP 服务失败: %w", err)
		}
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 统一记录访问日志与指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, duration)
		s.log.Info("请求完成",
			"handler", name, "method", r.Method,
			"status", recorder.status, "duration_ms", duration.Milliseconds())
	}
}

type interactRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId"`
}

type interactResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"threadId"`
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	var req interactRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体不合法"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空"))
		return
	}
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}

	response, err := s.agent.Respond(r.Context(), "thread:"+threadID, req.Message)
	if err != nil {
		s.writeAgentFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, interactResponse{Response: response, ThreadID: threadID})
}

func (s *Server) handleUserChat(w http.ResponseWriter, r *http.Request) {
	userID, err := s.bearerUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req interactRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体不合法"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空"))
		return
	}

	// 身份信息注入指令文本，工具据此识别操作主体。
	instruction := fmt.Sprintf("%s\n%s\nuserId: %s", req.Message, userDivider, userID)
	response, err := s.agent.Respond(r.Context(), "user:"+userID, instruction)
	if err != nil {
		s.writeAgentFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, interactResponse{Response: response})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体不合法"))
		return
	}
	user, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"id":       user.ID,
		"username": user.Username,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体不合法"))
		return
	}
	token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Login successful",
		"token":   token,
	})
}

type tokenResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Description     string `json:"description"`
	Explanation     string `json:"explanation"`
	SourceLink      string `json:"sourceLink"`
	ContractAddress string `json:"contractAddress"`
}

func toTokenResponse(token directory.Token) tokenResponse {
	return tokenResponse{
		ID:              token.ID,
		Name:            token.Name,
		Symbol:          token.Symbol,
		Description:     token.Description,
		Explanation:     token.Explanation,
		SourceLink:      token.SourceLink,
		ContractAddress: token.ContractAddress,
	}
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.store.ListTokens(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	result := make([]tokenResponse, 0, len(tokens))
	for _, token := range tokens {
		result = append(result, toTokenResponse(token))
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.store.TokenByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toTokenResponse(*token))
}

// bearerUser 从 Authorization 头解析用户身份。
func (s *Server) bearerUser(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", xerrors.New(auth.CodeInvalidCredentials, "缺少 Authorization 头")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", xerrors.New(auth.CodeInvalidCredentials, "Authorization 头格式非法")
	}
	return s.auth.Verify(parts[1])
}

func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("写响应失败", "error", err)
	}
}

// writeAgentFailure 统一处理对话失败：一律 500，固定文案，不透出
// 推理过程的内部细节。
func (s *Server) writeAgentFailure(w http.ResponseWriter, err error) {
	code := xerrors.CodeUnknown
	if typed, ok := xerrors.From(err); ok {
		code = typed.Code()
	}
	s.log.Error("对话处理失败", "code", string(code), "error", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "Failed to interact with agent",
		"code":  string(code),
	})
}

// writeError 把统一错误映射成 HTTP 状态码。未识别的错误一律 500，
// 不把内部细节透出去。
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := xerrors.CodeUnknown
	message := "internal error"

	if typed, ok := xerrors.From(err); ok {
		code = typed.Code()
		switch code {
		case xerrors.CodeInvalidArgument:
			status = http.StatusBadRequest
			message = typed.Message()
		case auth.CodeInvalidCredentials:
			status = http.StatusUnauthorized
			message = "invalid credentials"
		case xerrors.CodeNotFound, directory.CodeTokenNotFound,
			directory.CodeUserNotFound, directory.CodeWalletNotFound:
			status = http.StatusNotFound
			message = typed.Message()
		case xerrors.CodeConflict, directory.CodeUserExists, directory.CodeWalletExists:
			status = http.StatusConflict
			message = typed.Message()
		}
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", "code", string(code), "error", err)
	}
	s.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}
