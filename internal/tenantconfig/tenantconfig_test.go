package tenantconfig

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/knoguchi/rag/internal/pipeline"
	"github.com/knoguchi/rag/internal/repository"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(nil, time.Minute, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestGetMissingTenantReturnsDefaultSpliced(t *testing.T) {
	s := newStore(t)
	cfg, err := s.Get(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := DefaultConfig("tenant-a")
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("got %+v, want %+v", cfg, want)
	}
}

func TestUpdateThenGetReturnsUpdatedValue(t *testing.T) {
	s := newStore(t)
	cfg := DefaultConfig("tenant-a")
	cfg.VectorWeight = 0.6
	cfg.KeywordWeight = 0.4
	cfg.RRFK = 80

	if err := s.Update(context.Background(), cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
}

func TestResetThenGetEqualsDefault(t *testing.T) {
	s := newStore(t)
	cfg := DefaultConfig("tenant-a")
	cfg.VectorWeight = 0.2
	cfg.KeywordWeight = 0.8
	if err := s.Update(context.Background(), cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reset, err := s.Reset(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	want := DefaultConfig("tenant-a")
	if !reflect.DeepEqual(reset, want) {
		t.Errorf("Reset returned %+v, want %+v", reset, want)
	}

	got, err := s.Get(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get after reset returned %+v, want %+v", got, want)
	}
}

func TestUpdateRejectsWeightSumOutOfRange(t *testing.T) {
	s := newStore(t)
	cfg := DefaultConfig("tenant-a")
	cfg.VectorWeight = 0.1
	cfg.KeywordWeight = 0.1

	err := s.Update(context.Background(), cfg)
	if !errors.Is(err, pipeline.ErrConfigInvalid) {
		t.Fatalf("want ErrConfigInvalid, got %v", err)
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := DefaultConfig("tenant-a")
	cfg.Guardrail.Threshold.MinConfidence = 1.5

	if err := Validate(cfg); !errors.Is(err, pipeline.ErrConfigInvalid) {
		t.Fatalf("want ErrConfigInvalid, got %v", err)
	}
}

func TestValidateRejectsIncompleteIDKTemplate(t *testing.T) {
	cfg := DefaultConfig("tenant-a")
	cfg.Guardrail.IDKTemplates = []repository.IDKTemplate{{ID: "x"}}

	if err := Validate(cfg); !errors.Is(err, pipeline.ErrConfigInvalid) {
		t.Fatalf("want ErrConfigInvalid, got %v", err)
	}
}

func TestSubscribeReceivesChangeNotification(t *testing.T) {
	s := newStore(t)
	ch := s.Subscribe()

	cfg := DefaultConfig("tenant-a")
	cfg.VectorWeight = 0.5
	cfg.KeywordWeight = 0.5
	if err := s.Update(context.Background(), cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	select {
	case got := <-ch:
		if got != "tenant-a" {
			t.Errorf("got notification for %q, want tenant-a", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
