package adapter_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
)

func testStorage(t *testing.T, s adapter.Storage, key string) {
	ctx := context.Background()

	w, err := s.Put(ctx, key)
	gt.NoError(t, err)
	_, err = w.Write([]byte(`{"hello":"world"}`))
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	r, err := s.Get(ctx, key)
	gt.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.Equal(t, string(data), `{"hello":"world"}`)
}

func TestLocalStorage(t *testing.T) {
	s, err := adapter.NewLocalStorage(t.TempDir())
	gt.NoError(t, err)

	testStorage(t, s, "histories/alice.json")

	t.Run("missing object", func(t *testing.T) {
		_, err := s.Get(context.Background(), "histories/nobody.json")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
	})

	t.Run("escaping key", func(t *testing.T) {
		_, err := s.Put(context.Background(), "../outside.json")
		gt.Error(t, err)
	})

	t.Run("uncommitted write is invisible", func(t *testing.T) {
		w, err := s.Put(context.Background(), "index/partial.json")
		gt.NoError(t, err)
		_, err = w.Write([]byte("partial"))
		gt.NoError(t, err)

		_, err = s.Get(context.Background(), "index/partial.json")
		gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
		gt.NoError(t, w.Close())
	})
}

func TestCloudStorage(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	s, err := adapter.NewStorage(context.Background(), bucket)
	gt.NoError(t, err)
	testStorage(t, s, "test/nutriguide-storage.json")
}
