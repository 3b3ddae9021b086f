package rediskv

import (
	"context"
	"sort"
	"testing"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/kv"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestSubstrate_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	s := New(mr.Addr(), "van-12")
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.True(t, mr.Exists("van-12:k"))

	b, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSubstrate_KeysStripNamespace(t *testing.T) {
	mr := miniredis.RunT(t)
	s := New(mr.Addr(), "van-12")
	other := New(mr.Addr(), "van-13")

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "routes_v1", []byte("[]")))
	require.NoError(t, s.Set(ctx, "queue_v1", []byte("[]")))
	require.NoError(t, other.Set(ctx, "routes_v1", []byte("[]")))

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	sort.Strings(keys)
	require.Equal(t, []string{"queue_v1", "routes_v1"}, keys)
}

func TestSubstrate_ThroughStore(t *testing.T) {
	mr := miniredis.RunT(t)
	st := kv.New(New(mr.Addr(), ""))

	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "token", "abc"))
	var tok string
	ok, err := st.Get(ctx, "token", &tok)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", tok)
}

func TestSubstrate_UnavailableIsNetwork(t *testing.T) {
	mr := miniredis.RunT(t)
	st := kv.New(New(mr.Addr(), ""))
	mr.Close()

	var tok string
	_, err := st.Get(context.Background(), "token", &tok)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindNetwork))
}
