package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/internal/feature/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var featureEpoch = time.Date(2024, time.May, 6, 8, 0, 0, 0, time.UTC)

func setupFeatureService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := db.AutoMigrate(&domain.Feature{}); err != nil {
		t.Fatalf("migrate features: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(featureEpoch),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func createFeature(t *testing.T, svc domain.Service, req domain.CreateRequest) *domain.Response {
	t.Helper()
	resp, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create feature %q: %v", req.Code, err)
	}
	return resp
}

func TestGetServesCachedFeature(t *testing.T) {
	svc, db := setupFeatureService(t)
	ctx := context.Background()

	createFeature(t, svc, domain.CreateRequest{
		Code:        "api_calls",
		Name:        "API Calls",
		FeatureType: domain.FeatureTypeLimited,
		ResetPolicy: domain.ResetPolicyMonthly,
	})

	first, err := svc.Get(ctx, "api_calls")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first == nil {
		t.Fatal("expected feature, got nil")
	}

	// Mutate behind the service's back; the cached copy must still win.
	if err := db.Exec(`UPDATE features SET name = 'Renamed' WHERE code = 'api_calls'`).Error; err != nil {
		t.Fatalf("raw update: %v", err)
	}
	cached, err := svc.Get(ctx, "API_CALLS")
	if err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if cached.Name != "API Calls" {
		t.Fatalf("expected cached name, got %q", cached.Name)
	}

	// A service write forgets the entry.
	newName := "API Requests"
	if _, err := svc.Update(ctx, domain.UpdateRequest{Code: "api_calls", Name: &newName}); err != nil {
		t.Fatalf("update: %v", err)
	}
	fresh, err := svc.Get(ctx, "api_calls")
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if fresh.Name != newName {
		t.Fatalf("expected %q after update, got %q", newName, fresh.Name)
	}
}

func TestGetUnknownFeatureReturnsNil(t *testing.T) {
	svc, _ := setupFeatureService(t)

	f, err := svc.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil for unknown code, got %+v", f)
	}
}

func TestPoolCodeFollowsParent(t *testing.T) {
	svc, _ := setupFeatureService(t)
	ctx := context.Background()

	createFeature(t, svc, domain.CreateRequest{
		Code:        "api_calls",
		Name:        "API Calls",
		FeatureType: domain.FeatureTypeLimited,
		ResetPolicy: domain.ResetPolicyMonthly,
	})
	parent := "api_calls"
	createFeature(t, svc, domain.CreateRequest{
		Code:        "api_calls_batch",
		Name:        "Batch API Calls",
		FeatureType: domain.FeatureTypeLimited,
		ResetPolicy: domain.ResetPolicyMonthly,
		ParentCode:  &parent,
	})

	pool, err := svc.PoolCode(ctx, "api_calls_batch")
	if err != nil {
		t.Fatalf("pool code child: %v", err)
	}
	if pool != "api_calls" {
		t.Fatalf("expected parent pool, got %q", pool)
	}

	pool, err = svc.PoolCode(ctx, "api_calls")
	if err != nil {
		t.Fatalf("pool code root: %v", err)
	}
	if pool != "api_calls" {
		t.Fatalf("expected own code, got %q", pool)
	}

	family, err := svc.PoolFamily(ctx, "api_calls")
	if err != nil {
		t.Fatalf("pool family: %v", err)
	}
	if len(family) != 2 || family[0] != "api_calls" || family[1] != "api_calls_batch" {
		t.Fatalf("unexpected family %v", family)
	}
}

func TestCreateRejectsNestedParent(t *testing.T) {
	svc, _ := setupFeatureService(t)

	createFeature(t, svc, domain.CreateRequest{
		Code:        "seats",
		Name:        "Seats",
		FeatureType: domain.FeatureTypeLimited,
	})
	parent := "seats"
	createFeature(t, svc, domain.CreateRequest{
		Code:        "guest_seats",
		Name:        "Guest Seats",
		FeatureType: domain.FeatureTypeLimited,
		ParentCode:  &parent,
	})

	nested := "guest_seats"
	_, err := svc.Create(context.Background(), domain.CreateRequest{
		Code:        "trial_seats",
		Name:        "Trial Seats",
		FeatureType: domain.FeatureTypeLimited,
		ParentCode:  &nested,
	})
	if !errors.Is(err, domain.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent, got %v", err)
	}
}

func TestCreateDuplicateCode(t *testing.T) {
	svc, _ := setupFeatureService(t)

	createFeature(t, svc, domain.CreateRequest{
		Code:        "exports",
		Name:        "Exports",
		FeatureType: domain.FeatureTypeBoolean,
	})
	_, err := svc.Create(context.Background(), domain.CreateRequest{
		Code:        "Exports",
		Name:        "Exports Again",
		FeatureType: domain.FeatureTypeBoolean,
	})
	if !errors.Is(err, domain.ErrCodeExists) {
		t.Fatalf("expected ErrCodeExists, got %v", err)
	}
}

func TestRollingResetRequiresWindowDays(t *testing.T) {
	svc, _ := setupFeatureService(t)

	_, err := svc.Create(context.Background(), domain.CreateRequest{
		Code:        "emails",
		Name:        "Emails",
		FeatureType: domain.FeatureTypeLimited,
		ResetPolicy: domain.ResetPolicyRolling,
	})
	if !errors.Is(err, domain.ErrInvalidWindowDays) {
		t.Fatalf("expected ErrInvalidWindowDays, got %v", err)
	}

	days := 7
	resp, err := svc.Create(context.Background(), domain.CreateRequest{
		Code:        "emails",
		Name:        "Emails",
		FeatureType: domain.FeatureTypeLimited,
		ResetPolicy: domain.ResetPolicyRolling,
		WindowDays:  &days,
	})
	if err != nil {
		t.Fatalf("create rolling: %v", err)
	}
	if resp.WindowDays == nil || *resp.WindowDays != 7 {
		t.Fatalf("expected window_days=7, got %v", resp.WindowDays)
	}
}

func TestTimestampsComeFromClock(t *testing.T) {
	svc, _ := setupFeatureService(t)

	created := createFeature(t, svc, domain.CreateRequest{
		Code:        "exports",
		Name:        "Exports",
		FeatureType: domain.FeatureTypeLimited,
	})
	if !created.CreatedAt.Equal(featureEpoch) || !created.UpdatedAt.Equal(featureEpoch) {
		t.Fatalf("timestamps %s/%s, want %s", created.CreatedAt, created.UpdatedAt, featureEpoch)
	}

	archived, err := svc.Archive(context.Background(), "exports")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !archived.UpdatedAt.Equal(featureEpoch) {
		t.Fatalf("updated_at %s, want %s", archived.UpdatedAt, featureEpoch)
	}
}

func TestArchiveHidesFeature(t *testing.T) {
	svc, _ := setupFeatureService(t)
	ctx := context.Background()

	createFeature(t, svc, domain.CreateRequest{
		Code:        "sso",
		Name:        "SSO",
		FeatureType: domain.FeatureTypeBoolean,
	})

	if _, err := svc.Archive(ctx, "sso"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	f, err := svc.Get(ctx, "sso")
	if err != nil {
		t.Fatalf("get archived: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil for archived feature, got %+v", f)
	}
}
