package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitle/internal/config"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/internal/principal"
)

type checkStub struct {
	result entitlementdomain.Result
}

func (s *checkStub) Can(ctx context.Context, p principal.Ref, featureCode string, quantity int64) (entitlementdomain.Result, error) {
	if !p.Valid() {
		return entitlementdomain.Result{}, principal.ErrInvalidPrincipal
	}
	return s.result, nil
}

type catalogStub struct{}

func (catalogStub) Get(ctx context.Context, code string) (*featuredomain.Feature, error) {
	return nil, nil
}
func (catalogStub) PoolCode(ctx context.Context, code string) (string, error) {
	return code, nil
}
func (catalogStub) PoolFamily(ctx context.Context, poolCode string) ([]string, error) {
	return []string{poolCode}, nil
}
func (catalogStub) ListPools(ctx context.Context, featureType *featuredomain.FeatureType) ([]featuredomain.Feature, error) {
	return nil, nil
}
func (catalogStub) Create(ctx context.Context, req featuredomain.CreateRequest) (*featuredomain.Response, error) {
	return nil, featuredomain.ErrCodeExists
}
func (catalogStub) List(ctx context.Context, req featuredomain.ListRequest) ([]featuredomain.Response, error) {
	return nil, nil
}
func (catalogStub) Update(ctx context.Context, req featuredomain.UpdateRequest) (*featuredomain.Response, error) {
	return nil, featuredomain.ErrNotFound
}
func (catalogStub) Archive(ctx context.Context, code string) (*featuredomain.Response, error) {
	return nil, featuredomain.ErrNotFound
}

func newTestServer(t *testing.T, check entitlementdomain.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	s := NewServer(ServerParams{
		Gin:            engine,
		Cfg:            config.Config{},
		GenID:          node,
		FeatureSvc:     catalogStub{},
		EntitlementSvc: check,
	})
	registerRoutes(s)
	return engine
}

func TestCheckEntitlementEndpoint(t *testing.T) {
	limit := int64(100)
	used := int64(30)
	remaining := int64(70)
	engine := newTestServer(t, &checkStub{result: entitlementdomain.Result{
		Allowed:     true,
		FeatureCode: "widgets",
		Limit:       &limit,
		Used:        &used,
		Remaining:   &remaining,
	}})

	body := `{"principal":"workspace:42","feature_code":"widgets","quantity":50}`
	req := httptest.NewRequest(http.MethodPost, "/v1/entitlements/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data entitlementdomain.Result `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Data.Allowed || resp.Data.Remaining == nil || *resp.Data.Remaining != 70 {
		t.Fatalf("result = %+v", resp.Data)
	}
}

func TestCheckEntitlementRejectsBadPrincipal(t *testing.T) {
	engine := newTestServer(t, &checkStub{})

	body := `{"principal":"nonsense","feature_code":"widgets","quantity":1}`
	req := httptest.NewRequest(http.MethodPost, "/v1/entitlements/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}

	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Code != "invalid_principal" {
		t.Fatalf("code = %q, want invalid_principal", resp.Error.Code)
	}
}

func TestErrorMappingStatuses(t *testing.T) {
	engine := newTestServer(t, &checkStub{})

	// Duplicate feature code maps to 409.
	req := httptest.NewRequest(http.MethodPost, "/v1/features", strings.NewReader(`{"code":"widgets","name":"Widgets","feature_type":"limited"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("create status = %d, want 409: %s", w.Code, w.Body.String())
	}

	// Unknown feature maps to 404.
	req = httptest.NewRequest(http.MethodGet, "/v1/features/unknown", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get status = %d, want 404: %s", w.Code, w.Body.String())
	}
}
