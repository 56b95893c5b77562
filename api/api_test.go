package api_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-io/api"
)

func TestOpsString(t *testing.T) {
	require.Equal(t, "none", api.Ops(0).String())
	require.Equal(t, "read|write", (api.OpRead | api.OpWrite).String())
	require.Equal(t, "accept|connect", (api.OpConnect | api.OpAccept).String())
	require.True(t, (api.OpRead | api.OpWrite).Has(api.OpWrite))
	require.False(t, api.OpRead.Has(api.OpRead|api.OpWrite))
	require.False(t, api.OpRead.Has(0))
}

func TestPoolStatsFormat(t *testing.T) {
	s := api.PoolStats{Creates: 1, Takes: 3, Recycled: 2, Released: 4}
	require.Equal(t, "creates=1, takes=3, recycled=2, released=4", s.String())
	require.EqualValues(t, 2, s.Hits())
	require.EqualValues(t, 6, s.Frees())
	require.Equal(t, api.PoolStats{Creates: 2, Takes: 6, Recycled: 4, Released: 8}, s.Add(s))
}

func TestStructuredErrorUnwrap(t *testing.T) {
	err := api.Wrap(api.ErrCodeAlreadyExists, api.ErrDuplicateHandler).WithContext("id", int64(7))
	require.True(t, errors.Is(err, api.ErrDuplicateHandler))
	require.Contains(t, err.Error(), "id:7")
}

func TestSequence(t *testing.T) {
	seq := api.NewSequence(10)
	require.EqualValues(t, 10, seq.Next())
	require.EqualValues(t, 11, seq.Next())
}

func TestConnStateString(t *testing.T) {
	require.Equal(t, "connecting", api.StateConnecting.String())
	require.Equal(t, "closed", api.StateClosed.String())
	require.Equal(t, "unknown", api.ConnState(42).String())
}
