// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
)

func newTestStore(t *testing.T) (*BadgerTurnStore, *DB) {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerTurnStore(db, "test", nil), db
}

func appendTurn(t *testing.T, s *BadgerTurnStore, session string, i int) *datatypes.Turn {
	t.Helper()
	turn := &datatypes.Turn{
		SessionID:         session,
		UserMessage:       fmt.Sprintf("question %d", i),
		AssistantResponse: fmt.Sprintf("answer %d", i),
		QueryType:         datatypes.QueryTypeKnowledgeBase,
		Latency:           datatypes.Latency(123),
	}
	require.NoError(t, s.Append(context.Background(), turn))
	return turn
}

func TestOpen_InMemoryReadWrite(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), []byte("value"))
	})
	require.NoError(t, err)
}

func TestOpen_DiskPath(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.GCInterval = time.Hour
	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestAppend_SequentialSequencesAreGapless(t *testing.T) {
	s, _ := newTestStore(t)

	first := appendTurn(t, s, "session-1", 1)
	second := appendTurn(t, s, "session-1", 2)
	third := appendTurn(t, s, "session-1", 3)

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, uint64(3), third.Sequence)
	assert.Equal(t, "conv3", third.MessageID)
	assert.False(t, third.CreatedAt.IsZero())
}

func TestAppend_SessionsAreIndependent(t *testing.T) {
	s, _ := newTestStore(t)

	appendTurn(t, s, "a", 1)
	appendTurn(t, s, "a", 2)
	other := appendTurn(t, s, "a/b", 1)

	assert.Equal(t, uint64(1), other.Sequence)

	turns, err := s.RecentTurns(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestAppend_EmptySession(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Append(context.Background(), &datatypes.Turn{})
	assert.ErrorIs(t, err, ErrEmptySession)
}

func TestAppend_ConcurrentWritersGetUniqueSequences(t *testing.T) {
	s, _ := newTestStore(t)
	const writers = 8

	var wg sync.WaitGroup
	seqs := make([]uint64, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			turn := &datatypes.Turn{SessionID: "busy", UserMessage: fmt.Sprint(i)}
			errs[i] = s.Append(context.Background(), turn)
			seqs[i] = turn.Sequence
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestAppend_CorruptCounterFallsBackToTimeDerivedID(t *testing.T) {
	s, db := newTestStore(t)
	fixed := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	s.WithClock(func() time.Time { return fixed })

	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.counterKey("broken"), []byte{1, 2, 3})
	}))

	turn := &datatypes.Turn{SessionID: "broken", UserMessage: "hi"}
	require.NoError(t, s.Append(context.Background(), turn))

	assert.Equal(t, uint64(1), turn.Sequence)
	assert.Equal(t, fmt.Sprintf("msg%d", fixed.Unix()), turn.MessageID)

	turns, err := s.RecentTurns(context.Background(), "broken", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].UserMessage)
}

func TestAppend_OrderSurvivesCounterOutage(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	setCounter := func(v []byte) {
		require.NoError(t, db.Update(func(txn *badger.Txn) error {
			return txn.Set(s.counterKey("outage"), v)
		}))
	}

	appendTurn(t, s, "outage", 1)
	appendTurn(t, s, "outage", 2)

	setCounter([]byte{1})
	during := appendTurn(t, s, "outage", 3)
	assert.Equal(t, uint64(3), during.Sequence)
	assert.Regexp(t, `^msg\d+$`, during.MessageID)

	setCounter([]byte{0, 0, 0, 0, 0, 0, 0, 2})
	after := appendTurn(t, s, "outage", 4)
	assert.Equal(t, uint64(4), after.Sequence)
	assert.Equal(t, "conv4", after.MessageID)

	turns, err := s.RecentTurns(ctx, "outage", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "question 2", turns[0].UserMessage)
	assert.Equal(t, "question 3", turns[1].UserMessage)
	assert.Equal(t, "question 4", turns[2].UserMessage)

	next := appendTurn(t, s, "outage", 5)
	assert.Equal(t, "conv5", next.MessageID)
}

func TestRecentTurns_ReturnsNewestInChronologicalOrder(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 1; i <= 10; i++ {
		appendTurn(t, s, "long", i)
	}

	turns, err := s.RecentTurns(context.Background(), "long", 3)
	require.NoError(t, err)

	require.Len(t, turns, 3)
	assert.Equal(t, "question 8", turns[0].UserMessage)
	assert.Equal(t, "question 9", turns[1].UserMessage)
	assert.Equal(t, "question 10", turns[2].UserMessage)

	var messages []datatypes.Message
	for _, turn := range turns {
		messages = append(messages, turn.Messages()...)
	}
	assert.Len(t, messages, 6)
	assert.Equal(t, datatypes.RoleHuman, messages[0].Role)
	assert.Equal(t, "answer 10", messages[5].Content)
}

func TestRecentTurns_RoundTripIncludesLatestWrite(t *testing.T) {
	s, _ := newTestStore(t)
	appendTurn(t, s, "rt", 1)
	last := appendTurn(t, s, "rt", 2)

	turns, err := s.RecentTurns(context.Background(), "rt", 6)
	require.NoError(t, err)

	require.Len(t, turns, 2)
	got := turns[len(turns)-1]
	assert.Equal(t, last.Sequence, got.Sequence)
	assert.Equal(t, last.MessageID, got.MessageID)
	assert.Equal(t, datatypes.Latency(123), got.Latency)
	assert.Equal(t, datatypes.QueryTypeKnowledgeBase, got.QueryType)
}

func TestRecentTurns_UnknownSessionIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	turns, err := s.RecentTurns(context.Background(), "nobody", 3)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRecentTurns_ZeroLimit(t *testing.T) {
	s, _ := newTestStore(t)
	appendTurn(t, s, "z", 1)

	turns, err := s.RecentTurns(context.Background(), "z", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}
