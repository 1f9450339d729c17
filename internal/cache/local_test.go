package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalCacheGetMissing(t *testing.T) {
	c := NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))

	snapshot, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("get on missing file: %v", err)
	}
	if snapshot != nil {
		t.Errorf("expected nil snapshot for missing file, got %+v", snapshot)
	}
}

func TestLocalCacheRoundTrip(t *testing.T) {
	c := NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))
	ctx := context.Background()

	want := &CatalogCache{
		Version:     1,
		Fingerprint: 12345,
		UpdatedAt:   time.Now().UTC().Truncate(time.Second),
		Models: []CachedModel{
			{
				ModelID:     "gpt-4o",
				Name:        "GPT-4o",
				Provider:    "openai",
				InputCost:   0.0025,
				OutputCost:  0.01,
				Source:      "live",
				Temperature: true,
			},
			{
				ModelID:   "o3-mini",
				Provider:  "openai",
				Reasoning: true,
				Levels:    []string{"low", "medium", "high"},
			},
		},
	}

	if err := c.Set(ctx, want); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if got.Fingerprint != want.Fingerprint {
		t.Errorf("fingerprint = %d, want %d", got.Fingerprint, want.Fingerprint)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}
	if len(got.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(got.Models))
	}
	if got.Models[0].ModelID != "gpt-4o" || got.Models[0].InputCost != 0.0025 {
		t.Errorf("model 0 = %+v", got.Models[0])
	}
	if len(got.Models[1].Levels) != 3 {
		t.Errorf("reasoning levels lost: %+v", got.Models[1])
	}
}

func TestLocalCacheOverwrite(t *testing.T) {
	c := NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))
	ctx := context.Background()

	if err := c.Set(ctx, &CatalogCache{Fingerprint: 1}); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := c.Set(ctx, &CatalogCache{Fingerprint: 2}); err != nil {
		t.Fatalf("second set: %v", err)
	}

	got, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Fingerprint != 2 {
		t.Errorf("fingerprint = %d, want 2", got.Fingerprint)
	}
}
