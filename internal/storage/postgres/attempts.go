package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/promptchallenge/engine/internal/domain"
)

func (s *Store) RecordAttempt(ctx context.Context, a domain.Attempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attempts (attempt_id, user_id, level_id, turn_index, user_prompt, llm_output,
			keyword_pass, judge_verdict, judge_reason, final_verdict, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		a.AttemptID, a.UserID, a.LevelID, a.TurnIndex, a.UserPrompt, a.LLMOutput,
		a.KeywordPass, a.JudgeVerdict, a.JudgeReason, a.FinalVerdict)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (s *Store) AppendLogEvent(ctx context.Context, e domain.LogEvent) error {
	e.Content = domain.TruncateContent(e.Content)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO log_events (event_id, trace_id, event_type, user_id, level_id, turn_index, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		e.EventID, e.TraceID, e.EventType, e.UserID, e.LevelID, e.TurnIndex, e.Content)
	if err != nil {
		return fmt.Errorf("append log event: %w", err)
	}
	return nil
}

func (s *Store) ExportLogEvents(ctx context.Context, day time.Time) ([]domain.LogEvent, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT event_id, trace_id, event_type, user_id, level_id, turn_index, content, created_at
		FROM log_events WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("export log events: %w", err)
	}
	defer rows.Close()

	var out []domain.LogEvent
	for rows.Next() {
		var e domain.LogEvent
		if err := rows.Scan(&e.EventID, &e.TraceID, &e.EventType, &e.UserID, &e.LevelID, &e.TurnIndex, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
