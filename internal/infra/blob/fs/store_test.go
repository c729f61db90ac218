package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"auditcore/internal/blob/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	payload := []byte("jpeg bytes")

	obj, err := store.Put(ctx, "photos/i1/front.jpg", bytes.NewReader(payload), core.PutOptions{
		ContentType: "image/jpeg",
		Metadata:    map[string]string{"device": "tablet-7"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.Size != int64(len(payload)) || obj.ContentType != "image/jpeg" {
		t.Fatalf("object = %+v", obj)
	}
	if obj.ETag == "" {
		t.Fatalf("missing etag")
	}

	got, rc, err := store.Get(ctx, "photos/i1/front.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("data = %q", data)
	}
	if got.ETag != obj.ETag || got.Metadata["device"] != "tablet-7" {
		t.Fatalf("got = %+v", got)
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.Put(ctx, "photos/i1/a.jpg", strings.NewReader("one"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "photos/i1/a.jpg", strings.NewReader("two"), core.PutOptions{}); err == nil {
		t.Fatalf("second put for the same key succeeded")
	}
}

func TestKeySanitization(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, key := range []string{"", "  ", "../escape", "photos/../../etc/passwd", "/absolute"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}

func TestStatAndDeleteMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.Stat(ctx, "photos/none.jpg"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("stat err = %v, want ErrNotFound", err)
	}
	removed, err := store.Delete(ctx, "photos/none.jpg")
	if err != nil || removed {
		t.Fatalf("delete missing = %v removed=%v", err, removed)
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, key := range []string{"photos/i1/a.jpg", "photos/i1/b.jpg", "photos/i2/c.jpg"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	objs, err := store.List(ctx, "photos/i1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 2 || objs[0].Key != "photos/i1/a.jpg" || objs[1].Key != "photos/i1/b.jpg" {
		t.Fatalf("objects = %+v", objs)
	}
}

func TestSignedURLPointsAtKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.Put(ctx, "photos/i1/a.jpg", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	u, err := store.SignedGetURL(ctx, "photos/i1/a.jpg", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("signed url: %v", err)
	}
	if !strings.HasSuffix(u, "/photos/i1/a.jpg") {
		t.Fatalf("url = %q", u)
	}
}
