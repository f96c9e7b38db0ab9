package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMockFileStorage_KeepsHeaders(t *testing.T) {
	storage := NewMockFileStorage()
	ctx := context.Background()

	opts := &StoreOptions{
		CacheControl:    "public, max-age=120",
		ContentEncoding: "br",
		Metadata:        map[string]string{"build": "1"},
	}
	if err := storage.Store(ctx, "about.html", []byte("<p>"), opts); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	opts.Metadata["build"] = "mutated"

	meta, err := storage.GetMetadata(ctx, "about.html")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.CacheControl != "public, max-age=120" || meta.ContentEncoding != "br" {
		t.Errorf("Unexpected headers %+v", meta)
	}
	if meta.ContentType != "text/html; charset=utf-8" {
		t.Errorf("Expected content type from extension, got %s", meta.ContentType)
	}
	if meta.Metadata["build"] != "1" {
		t.Errorf("Expected metadata to be copied on store, got %v", meta.Metadata)
	}
}

func TestMockFileStorage_FailNext(t *testing.T) {
	storage := NewMockFileStorage()
	ctx := context.Background()
	boom := errors.New("boom")

	storage.FailNext(boom)
	if err := storage.Store(ctx, "a", []byte("x"), nil); !errors.Is(err, boom) {
		t.Fatalf("Expected injected error, got %v", err)
	}
	if err := storage.Store(ctx, "a", []byte("x"), nil); err != nil {
		t.Fatalf("Expected second store to succeed, got %v", err)
	}
	if storage.Calls("Store") != 2 {
		t.Errorf("Expected 2 Store calls, got %d", storage.Calls("Store"))
	}
}

func TestMockFileStorage_ListCopy(t *testing.T) {
	storage := NewMockFileStorage()
	ctx := context.Background()

	for _, key := range []string{"x/2", "x/1", "y/1"} {
		storage.Store(ctx, key, []byte(key), nil)
	}
	if err := storage.Copy(ctx, "y/1", "x/3"); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if err := storage.Copy(ctx, "nope", "x/4"); !IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}

	files, err := ListAll(ctx, storage, "x/")
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	want := []string{"x/1", "x/2", "x/3"}
	if len(files) != len(want) {
		t.Fatalf("Expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i].Key != want[i] {
			t.Errorf("Expected %s, got %s", want[i], files[i].Key)
		}
	}
	if got := storage.Keys(); len(got) != 4 {
		t.Errorf("Expected 4 keys, got %v", got)
	}
}

func TestMockFileStorage_ConcurrentAccess(t *testing.T) {
	storage := NewMockFileStorage()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			storage.Store(ctx, key, []byte{byte(i)}, nil)
			storage.Retrieve(ctx, key)
		}(i)
	}
	wg.Wait()

	if len(storage.Keys()) != 20 {
		t.Errorf("Expected 20 keys, got %d", len(storage.Keys()))
	}
}
