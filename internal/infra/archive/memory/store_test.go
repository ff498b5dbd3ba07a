package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"kittyledger/internal/infra/archive/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	meta := map[string]string{"kitties": "3"}
	info, err := s.Put(ctx, "snapshots/2.json", strings.NewReader("{}"), core.PutOptions{ContentType: "application/json", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["kitties"] = "mutated"
	if info.Size != 2 || info.Metadata["kitties"] != "3" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "snapshots/2.json", strings.NewReader("{}"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, _ = s.Put(ctx, "snapshots/1.json", strings.NewReader("[]"), core.PutOptions{})
	_, _ = s.Put(ctx, "other/x", strings.NewReader("x"), core.PutOptions{})

	list, err := s.List(ctx, "snapshots/")
	if err != nil || len(list) != 2 || list[0].Key != "snapshots/1.json" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}

	got, rc, err := s.Get(ctx, "snapshots/2.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "{}" || got.ContentType != "application/json" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}
	if _, err := s.Head(ctx, "snapshots/2.json"); err != nil {
		t.Fatalf("head: %v", err)
	}

	if ok, _ := s.Delete(ctx, "snapshots/2.json"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "snapshots/2.json"); ok {
		t.Fatalf("expected second delete to report missing blob")
	}
	if _, _, err := s.Get(ctx, "snapshots/2.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
}
