package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/phoneagent/internal/session"
)

// PostgresStore persists call logs in the call_logs and call_turns tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore uses a pool whose schema is already migrated.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) StartCall(ctx context.Context, rec CallRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_logs (call_id, direction, from_number, to_number, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (call_id) DO UPDATE SET status = EXCLUDED.status, started_at = EXCLUDED.started_at`,
		rec.CallID,
		string(rec.Direction),
		rec.From,
		rec.To,
		string(StatusInProgress),
		rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("start call log: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_turns (id, call_id, speaker, text, confidence, partial, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		turn.ID,
		turn.CallID,
		string(turn.Speaker),
		turn.Text,
		turn.Confidence,
		turn.Partial,
		turn.PIIRedacted,
		turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append call turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishCall(ctx context.Context, summary Summary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_logs (call_id, direction, from_number, to_number, status, end_reason,
		                        started_at, ended_at, duration_ms, turn_count, interruptions, transcript)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (call_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   end_reason = EXCLUDED.end_reason,
		   ended_at = EXCLUDED.ended_at,
		   duration_ms = EXCLUDED.duration_ms,
		   turn_count = EXCLUDED.turn_count,
		   interruptions = EXCLUDED.interruptions,
		   transcript = EXCLUDED.transcript`,
		summary.CallID,
		string(summary.Direction),
		summary.From,
		summary.To,
		string(summary.Status),
		summary.Reason,
		summary.StartedAt,
		summary.EndedAt,
		summary.Duration().Milliseconds(),
		summary.Turns,
		summary.Interruptions,
		summary.Transcript,
	)
	if err != nil {
		return fmt.Errorf("finish call log: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, callID string) (Entry, bool, error) {
	var (
		e                    Entry
		direction, status    string
		reason, transcript   string
		endedAt              *time.Time
		turns, interruptions int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT call_id, direction, from_number, to_number, status, end_reason, started_at, ended_at,
		        turn_count, interruptions, transcript
		 FROM call_logs WHERE call_id = $1`,
		callID,
	).Scan(&e.Call.CallID, &direction, &e.Call.From, &e.Call.To, &status, &reason, &e.Call.StartedAt, &endedAt,
		&turns, &interruptions, &transcript)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup call log: %w", err)
	}
	e.Call.Direction = session.Direction(direction)
	if endedAt != nil {
		e.Summary = &Summary{
			CallID:        e.Call.CallID,
			Direction:     e.Call.Direction,
			From:          e.Call.From,
			To:            e.Call.To,
			Status:        Status(status),
			Reason:        reason,
			StartedAt:     e.Call.StartedAt,
			EndedAt:       *endedAt,
			Turns:         turns,
			Interruptions: interruptions,
			Transcript:    transcript,
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, speaker, text, confidence, partial, pii_redacted, created_at
		 FROM call_turns WHERE call_id = $1 ORDER BY created_at`,
		callID,
	)
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup call turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t := Turn{CallID: callID}
		var speaker string
		if err := rows.Scan(&t.ID, &speaker, &t.Text, &t.Confidence, &t.Partial, &t.PIIRedacted, &t.Timestamp); err != nil {
			return Entry{}, false, fmt.Errorf("scan call turn: %w", err)
		}
		t.Speaker = session.Speaker(speaker)
		e.Turns = append(e.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, false, fmt.Errorf("read call turns: %w", err)
	}
	return e, true, nil
}

// Close is a no-op; the pool is shared and closed by its owner.
func (s *PostgresStore) Close() error { return nil }
