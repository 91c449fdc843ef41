package sqlite

import (
	"context"
	"testing"
)

func TestBindingStore_Memory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Bind(ctx, "main", "G1", "https://hook/1", "s1"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := s.Bind(ctx, "main", "G1", "https://hook/2", ""); err != nil {
		t.Fatalf("Bind overwrite: %v", err)
	}
	_ = s.Bind(ctx, "other", "G9", "https://hook/9", "")

	b, err := s.Lookup(ctx, "main", "G1")
	if err != nil || b == nil {
		t.Fatalf("Lookup = %v, %v", b, err)
	}
	if b.Webhook != "https://hook/2" || b.Secret != "" {
		t.Errorf("binding = %+v, want overwritten values", b)
	}

	list, _ := s.List(ctx, "main")
	if len(list) != 1 {
		t.Errorf("List(main) len = %d, want 1", len(list))
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 {
		t.Errorf("List(all) len = %d, want 2", len(all))
	}

	if ok, _ := s.Unbind(ctx, "main", "G1"); !ok {
		t.Error("Unbind = false, want true")
	}
	if ok, _ := s.Unbind(ctx, "main", "G1"); ok {
		t.Error("second Unbind = true, want false")
	}
	if b, _ := s.Lookup(ctx, "main", "G1"); b != nil {
		t.Errorf("Lookup after Unbind = %+v", b)
	}
}

func TestBindingStore_TrimsGroupOnLookupAndUnbind(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Bind(ctx, "main", "G1", "https://hook/1", ""); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if b, err := s.Lookup(ctx, "main", " G1 "); err != nil || b == nil {
		t.Errorf("Lookup(\" G1 \") = %v, %v; want binding", b, err)
	}
	if ok, err := s.Unbind(ctx, "main", " G1"); !ok || err != nil {
		t.Errorf("Unbind(\" G1\") = %v, %v; want true, nil", ok, err)
	}
}
