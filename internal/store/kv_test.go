package store

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseKV is the behaviour every backend must share.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "invoice/missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Put(ctx, "invoice/a", []byte(`{"id":"a"}`)))
	require.NoError(t, kv.Put(ctx, "invoice/b", []byte(`{"id":"b"}`)))
	require.NoError(t, kv.Put(ctx, "payment/a", []byte(`{"id":"pa"}`)))
	require.NoError(t, kv.Put(ctx, "invoice/a", []byte(`{"id":"a","v":2}`)))

	v, err := kv.Get(ctx, "invoice/a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","v":2}`, string(v))

	var keys []string
	require.NoError(t, kv.Scan(ctx, "invoice/", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	}))
	sort.Strings(keys)
	assert.Equal(t, []string{"invoice/a", "invoice/b"}, keys)

	stop := errors.New("stop")
	calls := 0
	err = kv.Scan(ctx, "invoice/", func(key string, value []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV())
}

func TestMemoryKVCopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	buf := []byte("abc")
	require.NoError(t, kv.Put(ctx, "k", buf))
	buf[0] = 'x'

	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
	v[1] = 'y'

	again, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
