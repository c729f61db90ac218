package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"auditcore/internal/blob/core"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()
	obj, err := store.Put(ctx, "photos/i1/a.jpg", strings.NewReader("pixels"), core.PutOptions{ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.Size != 6 || obj.ContentType != "image/jpeg" {
		t.Fatalf("object = %+v", obj)
	}
	_, rc, err := store.Get(ctx, "photos/i1/a.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, []byte("pixels")) {
		t.Fatalf("data = %q", data)
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "k", strings.NewReader("one"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", strings.NewReader("two"), core.PutOptions{}); err == nil {
		t.Fatalf("second put for the same key succeeded")
	}
}

func TestGetMissing(t *testing.T) {
	_, _, err := New().Get(context.Background(), "absent")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, _ = store.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{})
	removed, err := store.Delete(ctx, "k")
	if err != nil || !removed {
		t.Fatalf("delete = %v removed=%v", err, removed)
	}
	removed, err = store.Delete(ctx, "k")
	if err != nil || removed {
		t.Fatalf("repeat delete = %v removed=%v", err, removed)
	}
}

func TestListSortsByKey(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, key := range []string{"b", "a", "prefix/c"} {
		_, _ = store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{})
	}
	objs, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 3 || objs[0].Key != "a" || objs[1].Key != "b" {
		t.Fatalf("objects = %+v", objs)
	}
	objs, _ = store.List(ctx, "prefix/")
	if len(objs) != 1 || objs[0].Key != "prefix/c" {
		t.Fatalf("filtered = %+v", objs)
	}
}

func TestSignedURLUnsupported(t *testing.T) {
	_, err := New().SignedGetURL(context.Background(), "k", core.SignedURLOptions{})
	if !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
