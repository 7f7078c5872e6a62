package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/api/http/handlers"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/observability"
	"github.com/spec-kit/support-desk/internal/repository/memory"
	"github.com/spec-kit/support-desk/internal/service"
	"github.com/spec-kit/support-desk/internal/storage"
)

type testServer struct {
	app     *fiber.App
	metrics *observability.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Config{Auth: config.AuthConfig{
		JWTSecret:             "router-secret",
		AccessTokenTTLMinutes: 5,
		BcryptCost:            4,
		AdminUsername:         "root",
		AdminEmail:            "root@example.com",
		AdminPassword:         "rootpass",
	}}
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := memory.NewStore()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:          store,
		Blobs:          blobs,
		Dispatcher:     events.NewInMemoryDispatcher(),
		Logger:         logger,
		Metrics:        metrics,
		MaxUploadBytes: 1024,
	})
	authService := service.NewAuthService(cfg, service.AuthDependencies{UserRepo: store.Users(), Logger: logger})
	require.NoError(t, authService.EnsureAdmin(context.Background(), cfg.Auth))
	userService := service.NewUserService(cfg, store.Users())

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger, metrics)})
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-desk", "test", map[string]handlers.Pinger{"redis": nil}, metrics),
		Metrics:        metrics,
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Admin:          handlers.NewAdminHandler(ticketService, userService),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), store.Users()),
	})
	return &testServer{app: app, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return s.send(t, req, token)
}

func (s *testServer) send(t *testing.T, req *nethttp.Request, token string) (int, map[string]any) {
	t.Helper()
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	}
	return resp.StatusCode, payload
}

func data(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	item, ok := payload["data"].(map[string]any)
	require.True(t, ok, "missing data in %v", payload)
	return item
}

func errorCode(payload map[string]any) string {
	body, _ := payload["error"].(map[string]any)
	code, _ := body["code"].(string)
	return code
}

func (s *testServer) login(t *testing.T, login, password string) string {
	t.Helper()
	status, payload := s.do(t, fiber.MethodPost, "/api/auth/login", "", fiber.Map{"login": login, "password": password})
	require.Equal(t, fiber.StatusOK, status, payload)
	return data(t, payload)["token"].(string)
}

func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()
	status, payload := s.do(t, fiber.MethodPost, "/api/auth/register", "", fiber.Map{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret1",
	})
	require.Equal(t, fiber.StatusCreated, status, payload)
	return data(t, payload)["token"].(string)
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)
	userToken := srv.register(t, "alice")

	status, payload := srv.do(t, fiber.MethodGet, "/api/tickets", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(payload))

	status, payload = srv.do(t, fiber.MethodGet, "/api/tickets", "not-a-token", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(payload))

	status, payload = srv.do(t, fiber.MethodGet, "/api/admin/users", userToken, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(payload))

	status, payload = srv.do(t, fiber.MethodGet, "/api/tickets/missing", userToken, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(payload))

	status, payload = srv.do(t, fiber.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(payload))

	status, payload = srv.do(t, fiber.MethodPost, "/api/tickets", userToken, fiber.Map{"subject": ""})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(payload))

	status, payload = srv.do(t, fiber.MethodPost, "/api/auth/register", "", fiber.Map{
		"username": "alice", "email": "other@example.com", "password": "secret1",
	})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errorCode(payload))

	snapshot := srv.metrics.Snapshot()
	assert.NotEmpty(t, snapshot.Errors)
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	userToken := srv.register(t, "alice")
	adminToken := srv.login(t, "root", "rootpass")

	status, payload := srv.do(t, fiber.MethodPost, "/api/admin/users", adminToken, fiber.Map{
		"username": "agent",
		"email":    "agent@example.com",
		"password": "secret1",
		"role":     "SUPPORT_AGENT",
	})
	require.Equal(t, fiber.StatusCreated, status, payload)
	agentID := data(t, payload)["id"].(string)
	agentToken := srv.login(t, "agent@example.com", "secret1")

	status, payload = srv.do(t, fiber.MethodPost, "/api/tickets", userToken, fiber.Map{
		"subject":     "Printer jam",
		"description": "Paper stuck in tray 2",
		"priority":    "HIGH",
	})
	require.Equal(t, fiber.StatusCreated, status, payload)
	ticket := data(t, payload)
	ticketID := ticket["id"].(string)
	assert.Equal(t, "OPEN", ticket["status"])
	assert.Equal(t, "HIGH", ticket["priority"])

	status, payload = srv.do(t, fiber.MethodPut, "/api/tickets/"+ticketID+"/assign", userToken, fiber.Map{"assignee_id": agentID})
	assert.Equal(t, fiber.StatusForbidden, status, payload)

	status, payload = srv.do(t, fiber.MethodPut, "/api/tickets/"+ticketID+"/assign", agentToken, fiber.Map{"assignee_id": agentID})
	require.Equal(t, fiber.StatusOK, status, payload)
	assert.Equal(t, "IN_PROGRESS", data(t, payload)["status"])
	assert.Equal(t, agentID, data(t, payload)["assignee_id"])

	status, payload = srv.do(t, fiber.MethodPost, "/api/tickets/"+ticketID+"/comments", agentToken, fiber.Map{"content": "On it"})
	require.Equal(t, fiber.StatusCreated, status, payload)

	status, payload = srv.do(t, fiber.MethodPost, "/api/tickets/"+ticketID+"/rate", userToken, fiber.Map{"rating": 5})
	assert.Equal(t, fiber.StatusForbidden, status, payload)

	status, payload = srv.do(t, fiber.MethodPut, "/api/tickets/"+ticketID+"/status", agentToken, fiber.Map{"status": "RESOLVED"})
	require.Equal(t, fiber.StatusOK, status, payload)
	assert.NotNil(t, data(t, payload)["resolved_at"])

	status, payload = srv.do(t, fiber.MethodPost, "/api/tickets/"+ticketID+"/rate", userToken, fiber.Map{"rating": 9})
	assert.Equal(t, fiber.StatusBadRequest, status, payload)

	status, payload = srv.do(t, fiber.MethodPost, "/api/tickets/"+ticketID+"/rate", userToken, fiber.Map{"rating": 5, "feedback": "Quick fix"})
	require.Equal(t, fiber.StatusOK, status, payload)
	assert.EqualValues(t, 5, data(t, payload)["rating"])

	status, payload = srv.do(t, fiber.MethodPost, "/api/tickets/"+ticketID+"/rate", userToken, fiber.Map{"rating": 4})
	assert.Equal(t, fiber.StatusConflict, status, payload)

	status, payload = srv.do(t, fiber.MethodGet, "/api/tickets/"+ticketID, userToken, nil)
	require.Equal(t, fiber.StatusOK, status, payload)
	detail := data(t, payload)
	assert.Len(t, detail["comments"], 1)
	assert.Equal(t, "Quick fix", detail["feedback"])
	assert.Equal(t, "alice", detail["creator"].(map[string]any)["username"])
	assert.Equal(t, "SUPPORT_AGENT", detail["assignee"].(map[string]any)["role"])
	comment := detail["comments"].([]any)[0].(map[string]any)
	assert.Equal(t, "agent", comment["author"].(map[string]any)["username"])

	status, payload = srv.do(t, fiber.MethodGet, "/api/tickets/"+ticketID+"/history", userToken, nil)
	require.Equal(t, fiber.StatusOK, status, payload)
	assert.Len(t, payload["data"], 3)

	status, payload = srv.do(t, fiber.MethodGet, "/api/tickets/search?keyword=printer", userToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, payload["data"], 1)

	status, payload = srv.do(t, fiber.MethodGet, "/api/tickets/filter/status?status=resolved", userToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, payload["data"], 1)

	status, payload = srv.do(t, fiber.MethodGet, "/api/tickets/filter/priority?priority=LOW", userToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, payload["data"], 0)

	status, payload = srv.do(t, fiber.MethodGet, "/api/tickets?scope=involved", agentToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, payload["data"], 1)

	status, _ = srv.do(t, fiber.MethodDelete, "/api/admin/tickets/"+ticketID, agentToken, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = srv.do(t, fiber.MethodDelete, "/api/admin/tickets/"+ticketID, adminToken, nil)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = srv.do(t, fiber.MethodGet, "/api/tickets/"+ticketID, userToken, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func multipartUpload(t *testing.T, path, fileName, contentType string, content []byte) *nethttp.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(fiber.MethodPost, path, &body)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())
	return req
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	srv := newTestServer(t)
	userToken := srv.register(t, "alice")
	otherToken := srv.register(t, "bob")

	status, payload := srv.do(t, fiber.MethodPost, "/api/tickets", userToken, fiber.Map{
		"subject": "VPN", "description": "Cannot connect",
	})
	require.Equal(t, fiber.StatusCreated, status, payload)
	ticketID := data(t, payload)["id"].(string)

	content := []byte("error log line")
	status, payload = srv.send(t, multipartUpload(t, "/api/tickets/"+ticketID+"/attachments", "vpn.log", "text/plain", content), userToken)
	require.Equal(t, fiber.StatusCreated, status, payload)
	attachment := data(t, payload)
	assert.Equal(t, "vpn.log", attachment["file_name"])
	assert.EqualValues(t, len(content), attachment["size_bytes"])
	url := attachment["url"].(string)

	req := httptest.NewRequest(fiber.MethodGet, url, nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+userToken)
	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get(fiber.HeaderContentType))
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "vpn.log")
	downloaded, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, downloaded)

	status, _ = srv.do(t, fiber.MethodGet, url, otherToken, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, payload = srv.send(t, multipartUpload(t, "/api/tickets/"+ticketID+"/attachments", "big.bin", "application/octet-stream", bytes.Repeat([]byte("x"), 2048)), userToken)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(payload))

	status, payload = srv.do(t, fiber.MethodPost, "/api/tickets/"+ticketID+"/attachments", userToken, fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(payload))
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	status, payload := srv.do(t, fiber.MethodGet, "/health/live", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", payload["status"])

	status, payload = srv.do(t, fiber.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	deps := payload["dependencies"].(map[string]any)
	assert.Equal(t, "disabled", deps["redis"])

	status, payload = srv.do(t, fiber.MethodGet, "/health/metrics", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, payload, "data")

	resp, err := srv.app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `route="/health/live"`)
}
