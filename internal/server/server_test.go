package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/rag/internal/audit"
	"github.com/knoguchi/rag/internal/auth"
	"github.com/knoguchi/rag/internal/llm"
	"github.com/knoguchi/rag/internal/orchestrator"
	"github.com/knoguchi/rag/internal/synthesis"
	"github.com/knoguchi/rag/internal/tenantconfig"
	"github.com/knoguchi/rag/internal/vectorstore"
)

type fakeEmbedder struct{ vector []float32 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}
func (f *fakeEmbedder) Dimension() int { return len(f.vector) }
func (f *fakeEmbedder) ModelName() string { return "fake" }

type fakeStore struct{ points []vectorstore.Point }

func (f *fakeStore) Search(ctx context.Context, collection string, req vectorstore.SearchRequest) ([]vectorstore.Point, error) {
	return f.points, nil
}
func (f *fakeStore) Scroll(ctx context.Context, collection string, req vectorstore.ScrollRequest) (vectorstore.ScrollResult, error) {
	return vectorstore.ScrollResult{}, nil
}
func (f *fakeStore) Discover(ctx context.Context, collection string, req vectorstore.DiscoverRequest) ([]vectorstore.Point, error) {
	return nil, vectorstore.ErrDiscoverUnsupported
}

type fakeLLM struct{}

func (fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return "answer", nil
}
func (fakeLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Token: "the refund window is 30 days", Done: true}
	close(ch)
	return ch, nil
}

func point(id, tenant string, score float32, content string) vectorstore.Point {
	return vectorstore.Point{
		ID:    id,
		Score: score,
		Payload: vectorstore.Payload{
			"tenant":  tenant,
			"acl":     []string{"public"},
			"content": content,
		},
	}
}

func testSynthesisAdapter(t *testing.T) *synthesis.Adapter {
	t.Helper()
	return synthesis.New(fakeLLM{}, nil)
}

func newTestServer(t *testing.T) (*Server, *auth.JWTManager, uuid.UUID) {
	t.Helper()
	tc, err := tenantconfig.New(nil, time.Minute, 16)
	if err != nil {
		t.Fatalf("tenantconfig.New: %v", err)
	}
	tenantID := uuid.New()
	store := &fakeStore{points: []vectorstore.Point{
		point("c1", tenantID.String(), 0.95, "Refunds are available within 30 days of purchase."),
		point("c2", tenantID.String(), 0.9, "Refund requests go through support."),
	}}
	orch := orchestrator.New(store, &fakeEmbedder{vector: []float32{0.1, 0.2}}, nil, tc, nil)
	synth := testSynthesisAdapter(t)

	jwtManager := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))

	s := New(Config{Port: 0, AdminAPIKey: "admin-secret", Collection: "docs"}, orch, synth, jwtManager, tc, audit.NoopSink{}, nil)
	return s, jwtManager, tenantID
}

func TestHealthzAndReadyz(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", path, rec.Code)
		}
	}
}

func TestAdminEndpointsRequireAdminKey(t *testing.T) {
	s, _, tenantID := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tenants/"+tenantID.String()+"/config", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 without admin key, got %d", rec.Code)
	}

	req.Header.Set(auth.AdminKeyHeader, "admin-secret")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200 with admin key, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueryRequiresBearerToken(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"query":"can I get a refund?"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", body)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 without bearer token, got %d", rec.Code)
	}
}

func TestQueryStreamsAnswerForAuthenticatedUser(t *testing.T) {
	s, jwtManager, tenantID := newTestServer(t)

	token, err := jwtManager.GenerateToken(tenantID, "acme")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	body := bytes.NewBufferString(`{"query":"can I get a refund?","limit":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("want SSE content type, got %q", ct)
	}

	var sawCitations, sawDone bool
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: citations") {
			sawCitations = true
		}
		if strings.HasPrefix(line, "event: done") {
			sawDone = true
		}
	}
	if !sawCitations || !sawDone {
		t.Fatalf("want citations and done events in stream, got:\n%s", rec.Body.String())
	}
}

func TestAdminGetTenantConfigReturnsDefault(t *testing.T) {
	s, _, tenantID := newTestServer(t)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/admin/tenants/"+tenantID.String()+"/config", nil)
	getReq.Header.Set(auth.AdminKeyHeader, "admin-secret")
	getRec := httptest.NewRecorder()
	s.Router().ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET config: want 200, got %d", getRec.Code)
	}

	var cfg map[string]any
	if err := json.Unmarshal(getRec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg["tenant_id"] != tenantID.String() {
		t.Fatalf("want default config spliced with tenant id, got %+v", cfg)
	}
}
