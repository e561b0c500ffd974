package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionCommitLifecycle(t *testing.T) {
	tm := NewMemoryTransactionManager()

	id, err := tm.Begin(true)
	require.NoError(t, err)

	info, exists := tm.TransactionInfo(id)
	require.True(t, exists)
	require.True(t, info.AutoCommit)
	require.Equal(t, TransactionActive, info.State)

	require.NoError(t, <-tm.AsyncCommit(id))

	info, _ = tm.TransactionInfo(id)
	require.Equal(t, TransactionCommitted, info.State)
	require.True(t, info.State.Terminal())
}

func TestTransactionAbortLifecycle(t *testing.T) {
	tm := NewMemoryTransactionManager()

	id, err := tm.Begin(true)
	require.NoError(t, err)
	require.NoError(t, <-tm.AsyncAbort(id))

	info, _ := tm.TransactionInfo(id)
	require.Equal(t, TransactionAborted, info.State)
}

func TestTransactionSingleTerminalState(t *testing.T) {
	tm := NewMemoryTransactionManager()

	id, err := tm.Begin(true)
	require.NoError(t, err)
	require.NoError(t, <-tm.AsyncCommit(id))

	// A committed transaction cannot be aborted or committed again.
	require.Error(t, <-tm.AsyncAbort(id))
	require.Error(t, <-tm.AsyncCommit(id))

	info, _ := tm.TransactionInfo(id)
	require.Equal(t, TransactionCommitted, info.State)
}

func TestTransactionUnknownID(t *testing.T) {
	tm := NewMemoryTransactionManager()

	_, exists := tm.TransactionInfo("missing")
	require.False(t, exists)
	require.Error(t, <-tm.AsyncCommit("missing"))
}

func TestTransactionManagerCapacity(t *testing.T) {
	tm := NewMemoryTransactionManagerWithLimit(1)

	first, err := tm.Begin(true)
	require.NoError(t, err)

	_, err = tm.Begin(true)
	require.Error(t, err)

	// Finishing the active transaction frees capacity.
	require.NoError(t, <-tm.AsyncAbort(first))
	_, err = tm.Begin(true)
	require.NoError(t, err)
}
