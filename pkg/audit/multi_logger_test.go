package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryLogger keeps entries in memory and optionally fails
type memoryLogger struct {
	mu       sync.Mutex
	entries  []*Entry
	logErr   error
	closeErr error
	closed   bool
}

func (m *memoryLogger) Log(_ context.Context, entry *Entry) error {
	if m.logErr != nil {
		return m.logErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryLogger) Close() error {
	m.closed = true
	return m.closeErr
}

type searchableLogger struct {
	memoryLogger
}

func (s *searchableLogger) Search(context.Context, SearchFilter) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Entry(nil), s.entries...), nil
}

func TestMultiLogger_Log(t *testing.T) {
	first := &memoryLogger{logErr: errors.New("first failed")}
	second := &memoryLogger{}
	multi := NewMultiLogger(first, second)

	err := multi.Log(context.Background(), &Entry{Action: ActionRoleAssign})
	require.EqualError(t, err, "first failed")
	assert.Len(t, second.entries, 1, "later sinks still receive the entry")
}

func TestMultiLogger_Search(t *testing.T) {
	plain := &memoryLogger{}
	searchable := &searchableLogger{}
	multi := NewMultiLogger(plain, searchable)

	require.NoError(t, multi.Log(context.Background(), &Entry{Action: ActionRoleCreate}))

	entries, err := multi.Search(context.Background(), SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = NewMultiLogger(plain).Search(context.Background(), SearchFilter{})
	assert.Error(t, err)
}

func TestMultiLogger_Close(t *testing.T) {
	a := &memoryLogger{closeErr: errors.New("a")}
	b := &memoryLogger{closeErr: errors.New("b")}
	c := &memoryLogger{}

	err := NewMultiLogger(a, b, c).Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
	assert.True(t, c.closed)
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	assert.NoError(t, l.Log(context.Background(), &Entry{}))
	assert.NoError(t, l.Close())
}
