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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.assist.store")

var (
	// ErrEmptySession is returned when a turn has no session id.
	ErrEmptySession = errors.New("session id is empty")

	// ErrCounterUnavailable means the per-session counter could not be read.
	// Append falls back to a time-derived sequence when it sees this.
	ErrCounterUnavailable = errors.New("turn counter unavailable")
)

// maxAppendAttempts bounds retries on transaction conflicts.
const maxAppendAttempts = 32

// TurnStore is the durable per-session conversation log.
type TurnStore interface {
	// Append assigns turn.Sequence and turn.MessageID and writes the turn.
	Append(ctx context.Context, turn *datatypes.Turn) error

	// RecentTurns returns up to limit of the newest turns, oldest first.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]datatypes.Turn, error)
}

// BadgerTurnStore implements TurnStore on BadgerDB.
//
// # Description
//
// Sequence assignment reads and increments a per-session counter inside the
// same transaction that writes the turn. Badger's optimistic conflict
// detection aborts one of two concurrent appends to the same session with
// ErrConflict; the loser retries against the new counter value. Sequences
// are therefore unique and gapless even under concurrent writers.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerTurnStore struct {
	db     *DB
	table  string
	now    func() time.Time
	logger *slog.Logger
}

var _ TurnStore = (*BadgerTurnStore)(nil)

// NewBadgerTurnStore creates a store over db using table as key namespace.
func NewBadgerTurnStore(db *DB, table string, logger *slog.Logger) *BadgerTurnStore {
	if table == "" {
		table = "conversations"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerTurnStore{db: db, table: table, now: time.Now, logger: logger}
}

// WithClock overrides the time source. Intended for tests.
func (s *BadgerTurnStore) WithClock(now func() time.Time) *BadgerTurnStore {
	s.now = now
	return s
}

// =============================================================================
// Keys
// =============================================================================

func (s *BadgerTurnStore) counterKey(sessionID string) []byte {
	return []byte(s.table + "/seq/" + url.PathEscape(sessionID))
}

func (s *BadgerTurnStore) turnPrefix(sessionID string) []byte {
	return []byte(s.table + "/turn/" + url.PathEscape(sessionID) + "/")
}

func (s *BadgerTurnStore) turnKey(sessionID string, seq uint64) []byte {
	return append(s.turnPrefix(sessionID), fmt.Sprintf("%020d", seq)...)
}

// =============================================================================
// Append
// =============================================================================

// Append implements TurnStore.
//
// # Description
//
// Stamps CreatedAt (and Timestamp when zero), then commits the counter bump
// and the turn together. Conflicts are retried. When the counter cannot be
// read the turn takes the sequence after the newest stored key and MessageID
// "msg<unix seconds>", and the counter is left untouched. The counter path
// never assigns a sequence at or below the newest stored key, so turns
// written during a counter outage stay in order once it recovers.
//
// # Outputs
//
//   - error: Non-nil on write failure or exhausted retries. The turn's
//     Sequence and MessageID are only meaningful when nil.
func (s *BadgerTurnStore) Append(ctx context.Context, turn *datatypes.Turn) error {
	if turn.SessionID == "" {
		return ErrEmptySession
	}
	ctx, span := tracer.Start(ctx, "TurnStore.Append")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", turn.SessionID))

	now := s.now().UTC()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	turn.CreatedAt = now

	var err error
	fallback := false
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			if fallback {
				return s.appendFallbackTxn(txn, turn, now)
			}
			return s.appendTxn(txn, turn)
		})
		if err == nil {
			span.SetAttributes(attribute.Int64("turn.sequence", int64(turn.Sequence)))
			return nil
		}
		if !fallback && errors.Is(err, ErrCounterUnavailable) {
			s.logger.Warn("turn counter unreadable, using store-derived sequence",
				"session_id", turn.SessionID, "error", err)
			fallback = true
			continue
		}
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		time.Sleep(time.Duration(attempt) * time.Millisecond)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *BadgerTurnStore) appendTxn(txn *badger.Txn, turn *datatypes.Turn) error {
	key := s.counterKey(turn.SessionID)

	var current uint64
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	default:
		err = item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("counter has %d bytes", len(v))
			}
			current = binary.BigEndian.Uint64(v)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
		}
	}

	last, err := s.lastSequence(txn, turn.SessionID)
	if err != nil {
		return err
	}
	next := max(current, last) + 1
	turn.Sequence = next
	turn.MessageID = fmt.Sprintf("conv%d", next)

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := txn.Set(key, buf); err != nil {
		return err
	}
	return txn.Set(s.turnKey(turn.SessionID, next), data)
}

func (s *BadgerTurnStore) appendFallbackTxn(txn *badger.Txn, turn *datatypes.Turn, now time.Time) error {
	last, err := s.lastSequence(txn, turn.SessionID)
	if err != nil {
		return err
	}
	turn.Sequence = last + 1
	turn.MessageID = fmt.Sprintf("msg%d", now.Unix())
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	return txn.Set(s.turnKey(turn.SessionID, turn.Sequence), data)
}

// lastSequence returns the sequence of the newest stored turn, or 0.
func (s *BadgerTurnStore) lastSequence(txn *badger.Txn, sessionID string) (uint64, error) {
	prefix := s.turnPrefix(sessionID)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(append([]byte{}, prefix...), 0xFF))
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	key := it.Item().Key()
	seq, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse turn key %s: %w", key, err)
	}
	return seq, nil
}

// =============================================================================
// Read
// =============================================================================

// RecentTurns implements TurnStore.
//
// The session prefix is walked newest-first and the collected turns are
// reversed before returning, so callers always see chronological order.
func (s *BadgerTurnStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]datatypes.Turn, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}
	if limit <= 0 {
		return []datatypes.Turn{}, nil
	}
	ctx, span := tracer.Start(ctx, "TurnStore.RecentTurns")
	defer span.End()

	prefix := s.turnPrefix(sessionID)
	turns := make([]datatypes.Turn, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(turns) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var t datatypes.Turn
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &t)
			}); err != nil {
				return fmt.Errorf("decode turn %s: %w", it.Item().Key(), err)
			}
			turns = append(turns, t)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, fmt.Errorf("recent turns: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	span.SetAttributes(attribute.Int("turn.count", len(turns)))
	return turns, nil
}
