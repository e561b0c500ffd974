package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransactionID is an opaque reference to transaction state owned by a
// TransactionManager. Sessions hold a non-owning copy.
type TransactionID string

// TransactionState is the lifecycle of a transaction. Every query drives
// its transaction to exactly one of the two terminal states.
type TransactionState int32

const (
	TransactionActive TransactionState = iota
	TransactionCommitting
	TransactionCommitted
	TransactionAborting
	TransactionAborted
)

// String returns the string representation of TransactionState.
func (ts TransactionState) String() string {
	switch ts {
	case TransactionActive:
		return "ACTIVE"
	case TransactionCommitting:
		return "COMMITTING"
	case TransactionCommitted:
		return "COMMITTED"
	case TransactionAborting:
		return "ABORTING"
	case TransactionAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", ts)
	}
}

// Terminal reports whether the state is Committed or Aborted.
func (ts TransactionState) Terminal() bool {
	return ts == TransactionCommitted || ts == TransactionAborted
}

// TransactionInfo is a snapshot of one transaction's registered state.
type TransactionInfo struct {
	ID         TransactionID
	AutoCommit bool
	State      TransactionState
	CreateTime time.Time
}

// TransactionManager begins, commits, and aborts the transactions bound to
// queries. Commit and abort are asynchronous; the returned channel delivers
// exactly one result.
type TransactionManager interface {
	Begin(autoCommit bool) (TransactionID, error)
	AsyncCommit(id TransactionID) <-chan error
	AsyncAbort(id TransactionID) <-chan error
	TransactionInfo(id TransactionID) (TransactionInfo, bool)
}

// DefaultMaxActiveTransactions bounds the in-memory transaction manager.
const DefaultMaxActiveTransactions = 256

// MemoryTransactionManager is an in-process TransactionManager. It tracks
// transaction state in a mutex-guarded registry and rejects Begin once the
// configured number of non-terminal transactions is reached.
type MemoryTransactionManager struct {
	mu           sync.RWMutex
	transactions map[TransactionID]*TransactionInfo
	maxActive    int
}

// NewMemoryTransactionManager creates a manager bounded by
// DefaultMaxActiveTransactions.
func NewMemoryTransactionManager() *MemoryTransactionManager {
	return NewMemoryTransactionManagerWithLimit(DefaultMaxActiveTransactions)
}

// NewMemoryTransactionManagerWithLimit creates a manager that allows at most
// maxActive concurrent non-terminal transactions.
func NewMemoryTransactionManagerWithLimit(maxActive int) *MemoryTransactionManager {
	return &MemoryTransactionManager{
		transactions: make(map[TransactionID]*TransactionInfo),
		maxActive:    maxActive,
	}
}

// Begin starts a new transaction. The autoCommit property is fixed at
// creation and never changes afterwards.
func (tm *MemoryTransactionManager) Begin(autoCommit bool) (TransactionID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	active := 0
	for _, info := range tm.transactions {
		if !info.State.Terminal() {
			active++
		}
	}
	if active >= tm.maxActive {
		return "", fmt.Errorf("transaction manager at capacity: %d active transactions", active)
	}

	id := TransactionID(uuid.NewString())
	tm.transactions[id] = &TransactionInfo{
		ID:         id,
		AutoCommit: autoCommit,
		State:      TransactionActive,
		CreateTime: time.Now(),
	}
	return id, nil
}

// AsyncCommit transitions the transaction Active -> Committing -> Committed.
func (tm *MemoryTransactionManager) AsyncCommit(id TransactionID) <-chan error {
	return tm.finish(id, TransactionCommitting, TransactionCommitted)
}

// AsyncAbort transitions the transaction Active -> Aborting -> Aborted.
func (tm *MemoryTransactionManager) AsyncAbort(id TransactionID) <-chan error {
	return tm.finish(id, TransactionAborting, TransactionAborted)
}

func (tm *MemoryTransactionManager) finish(id TransactionID, transient, terminal TransactionState) <-chan error {
	done := make(chan error, 1)
	go func() {
		tm.mu.Lock()
		defer tm.mu.Unlock()

		info, exists := tm.transactions[id]
		if !exists {
			done <- fmt.Errorf("unknown transaction: %s", id)
			return
		}
		if info.State != TransactionActive {
			done <- fmt.Errorf("transaction %s is %s, expected %s", id, info.State, TransactionActive)
			return
		}
		info.State = transient
		info.State = terminal
		done <- nil
	}()
	return done
}

// TransactionInfo returns a snapshot of the transaction, if it exists.
func (tm *MemoryTransactionManager) TransactionInfo(id TransactionID) (TransactionInfo, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	info, exists := tm.transactions[id]
	if !exists {
		return TransactionInfo{}, false
	}
	return *info, true
}
