package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/message"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/report"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
)

// --- Revision memo ledger ---

// InsertRevisionNote stores a normalized note once per task. A repeat
// returns domain.ErrDuplicate.
func (s *Store) InsertRevisionNote(ctx context.Context, item *review.MemoItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO revision_memo (id, task_id, note, normalized, note_hash, round)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (task_id, note_hash) DO NOTHING`,
		item.ID, item.TaskID, item.Note, item.Normalized, review.NoteHash(item.Normalized), item.Round)
	if err != nil {
		return fmt.Errorf("insert revision note %s: %w", item.TaskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("revision note %q for %s: %w", item.Normalized, item.TaskID, domain.ErrDuplicate)
	}
	return nil
}

func (s *Store) ListRevisionNotes(ctx context.Context, taskID string) ([]review.MemoItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, note, normalized, round FROM revision_memo WHERE task_id = $1 ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list revision notes %s: %w", taskID, err)
	}
	return collect(rows, func(row scannable) (review.MemoItem, error) {
		var m review.MemoItem
		err := row.Scan(&m.ID, &m.TaskID, &m.Note, &m.Normalized, &m.Round)
		return m, err
	})
}

func (s *Store) DeleteRevisionNotes(ctx context.Context, taskID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM revision_memo WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("delete revision notes %s: %w", taskID, err)
	}
	return nil
}

// --- Reports ---

func (s *Store) UpsertReport(ctx context.Context, r *report.Report) error {
	sections, err := json.Marshal(orEmpty(r.Sections))
	if err != nil {
		return fmt.Errorf("marshal report sections: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO reports (root_task_id, title, summary, sections, residual_risk, merge_note)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (root_task_id) DO UPDATE SET
		   title = EXCLUDED.title, summary = EXCLUDED.summary, sections = EXCLUDED.sections,
		   residual_risk = EXCLUDED.residual_risk, merge_note = EXCLUDED.merge_note, updated_at = now()
		 RETURNING created_at, updated_at`,
		r.RootTaskID, r.Title, r.Summary, sections, r.ResidualRisk, r.MergeNote,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert report %s: %w", r.RootTaskID, err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, rootTaskID string) (*report.Report, error) {
	var r report.Report
	var sections []byte
	err := s.pool.QueryRow(ctx,
		`SELECT root_task_id, title, summary, sections, residual_risk, merge_note, created_at, updated_at
		 FROM reports WHERE root_task_id = $1`, rootTaskID,
	).Scan(&r.RootTaskID, &r.Title, &r.Summary, &sections, &r.ResidualRisk, &r.MergeNote, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get report %s", rootTaskID)
	}
	if err := json.Unmarshal(sections, &r.Sections); err != nil {
		return nil, fmt.Errorf("unmarshal report sections %s: %w", rootTaskID, err)
	}
	return &r, nil
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, m *message.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, task_id, sender_id, sender_name, kind, content)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		m.ID, m.TaskID, m.SenderID, m.SenderName, m.Kind, m.Content,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// ListRecentMessages returns the latest limit messages for a task, oldest first.
func (s *Store) ListRecentMessages(ctx context.Context, taskID string, limit int) ([]message.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, sender_id, sender_name, kind, content, created_at FROM (
		   SELECT * FROM messages WHERE task_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages %s: %w", taskID, err)
	}
	return collect(rows, func(row scannable) (message.Message, error) {
		var m message.Message
		err := row.Scan(&m.ID, &m.TaskID, &m.SenderID, &m.SenderName, &m.Kind, &m.Content, &m.CreatedAt)
		return m, err
	})
}
