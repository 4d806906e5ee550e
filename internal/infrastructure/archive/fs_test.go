package archive

import (
	"context"
	"errors"
	"testing"
)

func TestFSStoreSaveLoad(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore returned error: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "jobs/abc.json", []byte(`{"id":"abc"}`)); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	data, err := store.Load(ctx, "jobs/abc.json")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if string(data) != `{"id":"abc"}` {
		t.Errorf("loaded %q, want %q", data, `{"id":"abc"}`)
	}
}

func TestFSStoreLoadMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore returned error: %v", err)
	}

	if _, err := store.Load(context.Background(), "jobs/missing.json"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Load error = %v, want ErrObjectNotFound", err)
	}
}

func TestFSStoreListByPrefix(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore returned error: %v", err)
	}
	ctx := context.Background()

	for _, name := range []string{"jobs/b.json", "jobs/a.json", "other/c.json"} {
		if err := store.Save(ctx, name, []byte("{}")); err != nil {
			t.Fatalf("Save %s returned error: %v", name, err)
		}
	}

	names, err := store.List(ctx, "jobs/")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	want := []string{"jobs/a.json", "jobs/b.json"}
	if len(names) != len(want) {
		t.Fatalf("listed %d objects, want %d: %v", len(names), len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestFSStoreRejectsEscapingNames(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore returned error: %v", err)
	}

	if err := store.Save(context.Background(), "../outside.json", []byte("{}")); err == nil {
		t.Error("Save should reject names escaping the base directory")
	}
}

func TestFSStoreOverwrite(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore returned error: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "jobs/x.json", []byte("v1")); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := store.Save(ctx, "jobs/x.json", []byte("v2")); err != nil {
		t.Fatalf("second Save returned error: %v", err)
	}

	data, err := store.Load(ctx, "jobs/x.json")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("loaded %q, want v2", data)
	}
}
