package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
)

const meetingColumns = `id, task_id, kind, round, status, started_at, completed_at`

func scanMeeting(row scannable) (meeting.Record, error) {
	var m meeting.Record
	err := row.Scan(&m.ID, &m.TaskID, &m.Kind, &m.Round, &m.Status, &m.StartedAt, &m.CompletedAt)
	return m, err
}

func (s *Store) CreateMeeting(ctx context.Context, m *meeting.Record) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = meeting.StatusInProgress
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO meeting_records (id, task_id, kind, round, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING started_at`,
		m.ID, m.TaskID, m.Kind, m.Round, m.Status,
	).Scan(&m.StartedAt)
	if err != nil {
		return fmt.Errorf("create meeting: %w", err)
	}
	return nil
}

func (s *Store) GetOpenMeeting(ctx context.Context, taskID string, kind meeting.Kind) (*meeting.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+meetingColumns+` FROM meeting_records
		 WHERE task_id = $1 AND kind = $2 AND status = 'in_progress'
		 ORDER BY started_at DESC LIMIT 1`, taskID, kind)
	m, err := scanMeeting(row)
	if err != nil {
		return nil, notFoundWrap(err, "open meeting %s/%s", taskID, kind)
	}
	return &m, nil
}

func (s *Store) LatestMeeting(ctx context.Context, taskID string, kind meeting.Kind) (*meeting.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+meetingColumns+` FROM meeting_records
		 WHERE task_id = $1 AND kind = $2
		 ORDER BY round DESC, started_at DESC LIMIT 1`, taskID, kind)
	m, err := scanMeeting(row)
	if err != nil {
		return nil, notFoundWrap(err, "latest meeting %s/%s", taskID, kind)
	}
	return &m, nil
}

func (s *Store) ListMeetings(ctx context.Context, taskID string) ([]meeting.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+meetingColumns+` FROM meeting_records WHERE task_id = $1 ORDER BY started_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list meetings %s: %w", taskID, err)
	}
	return collect(rows, scanMeeting)
}

func (s *Store) ListMeetingsByStatus(ctx context.Context, status meeting.Status) ([]meeting.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+meetingColumns+` FROM meeting_records WHERE status = $1 ORDER BY started_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list meetings by status %s: %w", status, err)
	}
	return collect(rows, scanMeeting)
}

func (s *Store) AppendMeetingEntry(ctx context.Context, e *meeting.Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO meeting_entries (id, meeting_id, seq, speaker_id, speaker_name, department_id, role, kind, text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
		e.ID, e.MeetingID, e.Seq, e.SpeakerID, e.SpeakerName, e.DepartmentID, e.Role, e.Kind, e.Text,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append meeting entry %s/%d: %w", e.MeetingID, e.Seq, err)
	}
	return nil
}

func (s *Store) ListMeetingEntries(ctx context.Context, meetingID string) ([]meeting.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, meeting_id, seq, speaker_id, speaker_name, department_id, role, kind, text, created_at
		 FROM meeting_entries WHERE meeting_id = $1 ORDER BY seq`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list meeting entries %s: %w", meetingID, err)
	}
	return collect(rows, func(row scannable) (meeting.Entry, error) {
		var e meeting.Entry
		err := row.Scan(&e.ID, &e.MeetingID, &e.Seq, &e.SpeakerID, &e.SpeakerName, &e.DepartmentID,
			&e.Role, &e.Kind, &e.Text, &e.CreatedAt)
		return e, err
	})
}

// UpdateMeetingStatus is the only mutation allowed on a record after creation.
func (s *Store) UpdateMeetingStatus(ctx context.Context, id string, status meeting.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE meeting_records SET status = $2::text,
		   completed_at = CASE WHEN $2::text = 'in_progress' THEN NULL ELSE now() END
		 WHERE id = $1`, id, string(status))
	return execExpectOne(tag, err, "update meeting status %s", id)
}

func (s *Store) DeleteTaskMeetings(ctx context.Context, taskID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM meeting_records WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("delete meetings %s: %w", taskID, err)
	}
	return nil
}
