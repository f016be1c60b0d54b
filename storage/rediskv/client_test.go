// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package rediskv

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/barhop/barhop/internal/testcontext"
	"github.com/barhop/barhop/storage"
)

func TestClient(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := miniredis.RunT(t)

	client, err := New(ctx, server.Addr(), "", 0)
	require.NoError(t, err)
	defer ctx.Check(client.Close)

	_, err = client.Get(ctx, []byte("missing"))
	require.True(t, storage.ErrKeyNotFound.Has(err))

	require.NoError(t, client.Put(ctx, []byte("url/a"), []byte("signed-a"), time.Minute))
	require.NoError(t, client.Put(ctx, []byte("url/b"), []byte("signed-b"), 0))

	value, err := client.Get(ctx, []byte("url/a"))
	require.NoError(t, err)
	require.Equal(t, []byte("signed-a"), value)

	// expiry
	server.FastForward(2 * time.Minute)
	_, err = client.Get(ctx, []byte("url/a"))
	require.True(t, storage.ErrKeyNotFound.Has(err))

	// unexpired key without ttl survives
	value, err = client.Get(ctx, []byte("url/b"))
	require.NoError(t, err)
	require.Equal(t, []byte("signed-b"), value)

	require.NoError(t, client.Delete(ctx, []byte("url/b")))
	_, err = client.Get(ctx, []byte("url/b"))
	require.True(t, storage.ErrKeyNotFound.Has(err))
}
