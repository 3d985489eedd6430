package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	aootel "github.com/ccivlcid/agentoffice-sub001/internal/adapter/otel"
	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/ws"
	"github.com/ccivlcid/agentoffice-sub001/internal/config"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/broadcast"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/localizer"
)

// meetingStore is the datastore surface the choreography writes to.
type meetingStore interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateMeeting(ctx context.Context, m *meeting.Record) error
	GetOpenMeeting(ctx context.Context, taskID string, kind meeting.Kind) (*meeting.Record, error)
	AppendMeetingEntry(ctx context.Context, e *meeting.Entry) error
	ListMeetingEntries(ctx context.Context, meetingID string) ([]meeting.Entry, error)
	UpdateMeetingStatus(ctx context.Context, id string, status meeting.Status) error
}

// speaker produces one participant utterance.
type speaker interface {
	Speak(ctx context.Context, a agent.Agent, prompt, workingDir string) (string, error)
}

// DecideFunc runs after the last turn and returns the status the meeting
// record closes with.
type DecideFunc func(ctx context.Context, m *Minutes) (meeting.Status, error)

// MeetingRequest describes one meeting run.
type MeetingRequest struct {
	Kind         meeting.Kind
	Task         *task.Task
	Round        int
	Participants []agent.Agent // chair first
	Policy       config.Review
	Decide       DecideFunc
}

// Minutes is the transcript of a meeting run.
type Minutes struct {
	Record  *meeting.Record
	Entries []meeting.Entry
}

// Finals returns the final statements in speaking order.
func (m *Minutes) Finals() []meeting.Entry {
	return m.byKind(meeting.EntryFinal)
}

// Feedback returns the feedback statements in speaking order.
func (m *Minutes) Feedback() []meeting.Entry {
	return m.byKind(meeting.EntryFeedback)
}

func (m *Minutes) byKind(k meeting.EntryKind) []meeting.Entry {
	var out []meeting.Entry
	for _, e := range m.Entries {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Said returns everything speakerID said in the meeting.
func (m *Minutes) Said(speakerID string) []string {
	var out []string
	for _, e := range m.Entries {
		if e.SpeakerID == speakerID && (e.Kind == meeting.EntryFeedback || e.Kind == meeting.EntryFinal) {
			out = append(out, e.Text)
		}
	}
	return out
}

// MeetingService runs the turn-taking protocol shared by planned and review meetings.
type MeetingService struct {
	store      meetingStore
	events     broadcast.Broadcaster
	reg        *Registry
	speaker    speaker
	loc        localizer.Localizer
	classifier review.Classifier
	metrics    *aootel.Metrics
	pause      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewMeetingService creates a MeetingService.
func NewMeetingService(
	store meetingStore,
	events broadcast.Broadcaster,
	reg *Registry,
	sp speaker,
	loc localizer.Localizer,
	classifier review.Classifier,
	metrics *aootel.Metrics,
) *MeetingService {
	return &MeetingService{
		store:      store,
		events:     events,
		reg:        reg,
		speaker:    sp,
		loc:        loc,
		classifier: classifier,
		metrics:    metrics,
		pause:      sleepCtx,
		now:        time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func phaseFor(k meeting.Kind) task.Phase {
	if k == meeting.KindPlanned {
		return task.PhasePlannedMeeting
	}
	return task.PhaseReviewMeeting
}

// Run holds the meeting for req. The caller owns the in-flight lock for the
// meeting's key. On interruption or failure the record is marked failed and
// the round and lock for the key are cleared before Run returns.
func (m *MeetingService) Run(ctx context.Context, req MeetingRequest) (*Minutes, error) {
	if len(req.Participants) == 0 {
		return nil, fmt.Errorf("meeting for task %s has no participants", req.Task.ID)
	}
	if req.Policy.MaxParticipants > 0 && len(req.Participants) > req.Policy.MaxParticipants {
		req.Participants = req.Participants[:req.Policy.MaxParticipants]
	}

	ctx, span := aootel.StartMeetingSpan(ctx, req.Task.ID, string(req.Kind), req.Round)
	defer span.End()
	started := m.now()
	m.metrics.MeetingStarted(ctx, string(req.Kind))

	rec, minutes, err := m.open(ctx, req)
	if err != nil {
		m.unwind(ctx, req, nil)
		return nil, err
	}
	m.seat(ctx, req, rec)

	var status meeting.Status
	var pc panics.Catcher
	pc.Try(func() {
		err = m.turns(ctx, req, minutes)
		if err == nil {
			status, err = req.Decide(ctx, minutes)
		}
	})
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}

	if err != nil {
		m.unwind(ctx, req, minutes)
		m.metrics.MeetingFinished(ctx, string(req.Kind), string(meeting.StatusFailed), m.now().Sub(started))
		span.RecordError(err)
		return minutes, err
	}

	if err := m.store.UpdateMeetingStatus(ctx, rec.ID, status); err != nil {
		slog.Error("close meeting record failed", "meeting_id", rec.ID, "task_id", req.Task.ID, "error", err)
	}
	rec.Status = status
	if status == meeting.StatusCompleted {
		now := m.now()
		rec.CompletedAt = &now
	}
	m.broadcastStatus(ctx, rec)
	m.release(ctx, req, minutes)
	m.metrics.MeetingFinished(ctx, string(req.Kind), string(status), m.now().Sub(started))
	return minutes, nil
}

// open resumes an in_progress record for the same round or creates a new one.
func (m *MeetingService) open(ctx context.Context, req MeetingRequest) (*meeting.Record, *Minutes, error) {
	rec, err := m.store.GetOpenMeeting(ctx, req.Task.ID, req.Kind)
	switch {
	case err == nil && rec.Round == req.Round && rec.Status == meeting.StatusInProgress:
		entries, err := m.store.ListMeetingEntries(ctx, rec.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("list meeting entries %s: %w", rec.ID, err)
		}
		slog.Info("resuming meeting", "meeting_id", rec.ID, "task_id", req.Task.ID, "round", rec.Round)
		return rec, &Minutes{Record: rec, Entries: entries}, nil
	case err == nil:
		if err := m.store.UpdateMeetingStatus(ctx, rec.ID, meeting.StatusFailed); err != nil {
			return nil, nil, fmt.Errorf("close stale meeting %s: %w", rec.ID, err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, nil, fmt.Errorf("get open meeting %s: %w", req.Task.ID, err)
	}

	rec = &meeting.Record{
		ID:        uuid.NewString(),
		TaskID:    req.Task.ID,
		Kind:      req.Kind,
		Round:     req.Round,
		Status:    meeting.StatusInProgress,
		StartedAt: m.now(),
	}
	if err := m.store.CreateMeeting(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("create meeting for %s: %w", req.Task.ID, err)
	}
	m.broadcastStatus(ctx, rec)
	return rec, &Minutes{Record: rec}, nil
}

func (m *MeetingService) seat(ctx context.Context, req MeetingRequest, rec *meeting.Record) {
	for i := range req.Participants {
		p := req.Participants[i]
		m.reg.Place(req.Task.ID, p.ID, i+1, req.Policy.PresenceTimeout)
		m.events.BroadcastEvent(ctx, ws.EventMeetingPresence, ws.MeetingPresenceEvent{
			TaskID:    req.Task.ID,
			MeetingID: rec.ID,
			AgentID:   p.ID,
			Seat:      i + 1,
			Present:   true,
		})
	}
}

func (m *MeetingService) release(ctx context.Context, req MeetingRequest, minutes *Minutes) {
	decisions := map[string]string{}
	if minutes != nil {
		for _, e := range minutes.Finals() {
			decisions[e.SpeakerID] = string(m.classifier.Classify(e.Text))
		}
	}
	meetingID := ""
	if minutes != nil && minutes.Record != nil {
		meetingID = minutes.Record.ID
	}
	for _, id := range m.reg.ReleasePresence(req.Task.ID) {
		m.events.BroadcastEvent(ctx, ws.EventMeetingPresence, ws.MeetingPresenceEvent{
			TaskID:    req.Task.ID,
			MeetingID: meetingID,
			AgentID:   id,
			Present:   false,
			Decision:  decisions[id],
		})
	}
}

// unwind marks the record failed and clears presence, round and lock state.
func (m *MeetingService) unwind(ctx context.Context, req MeetingRequest, minutes *Minutes) {
	ctx = context.WithoutCancel(ctx)
	if minutes != nil && minutes.Record != nil {
		if err := m.store.UpdateMeetingStatus(ctx, minutes.Record.ID, meeting.StatusFailed); err != nil {
			slog.Error("mark meeting failed", "meeting_id", minutes.Record.ID, "task_id", req.Task.ID, "error", err)
		}
		minutes.Record.Status = meeting.StatusFailed
		m.broadcastStatus(ctx, minutes.Record)
	}
	m.release(ctx, req, minutes)
	key := meeting.LockKey(req.Kind, req.Task.ID)
	m.reg.ClearRound(key)
	m.reg.Unlock(key)
}

// checkpoint reports ErrWorkflowInterrupted when the workflow was cancelled or
// the task left the state this meeting kind runs in.
func (m *MeetingService) checkpoint(ctx context.Context, req MeetingRequest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrWorkflowInterrupted, err)
	}
	t, err := m.store.GetTask(ctx, req.Task.ID)
	if err != nil {
		return fmt.Errorf("reload task %s: %w", req.Task.ID, err)
	}
	if task.Interrupted(t.Status, phaseFor(req.Kind)) {
		return fmt.Errorf("%w: task %s is %s", ErrWorkflowInterrupted, t.ID, t.Status)
	}
	return nil
}

func (m *MeetingService) turns(ctx context.Context, req MeetingRequest, minutes *Minutes) error {
	locale := req.Policy.Locale
	chair := req.Participants[0]
	t := req.Task

	if err := m.checkpoint(ctx, req); err != nil {
		return err
	}
	opening := m.loc.T(locale, "meeting.planned.opening", t.Title)
	if req.Kind == meeting.KindReview {
		opening = m.loc.T(locale, "meeting.review.opening", t.Title, req.Round, meeting.ModeFor(req.Round))
	}
	if err := m.say(ctx, req, minutes, chair, meeting.EntryOpening, opening); err != nil {
		return err
	}

	for _, p := range req.Participants[1:] {
		text, err := m.turn(ctx, req, p, feedbackPrompt(req, p))
		if err != nil {
			return err
		}
		if text == "" {
			text = m.loc.T(locale, "meeting.feedback.fallback", p.DepartmentID)
		}
		if err := m.say(ctx, req, minutes, p, meeting.EntryFeedback, text); err != nil {
			return err
		}
	}

	if err := m.between(ctx, req); err != nil {
		return err
	}
	approve, hold := 0, 0
	for _, e := range minutes.Feedback() {
		switch m.classifier.Classify(e.Text) {
		case review.DecisionApproved:
			approve++
		case review.DecisionHold:
			hold++
		}
	}
	if err := m.say(ctx, req, minutes, chair, meeting.EntrySynthesis,
		m.loc.T(locale, "meeting.synthesis", approve, hold)); err != nil {
		return err
	}

	for _, p := range req.Participants {
		text, err := m.turn(ctx, req, p, finalPrompt(req, p, minutes))
		if err != nil {
			return err
		}
		if text == "" {
			key := "meeting.final.fallback"
			if req.Kind == meeting.KindPlanned {
				key = "meeting.planned.final"
			}
			text = m.loc.T(locale, key)
		}
		if err := m.say(ctx, req, minutes, p, meeting.EntryFinal, text); err != nil {
			return err
		}
	}
	return m.checkpoint(ctx, req)
}

func (m *MeetingService) between(ctx context.Context, req MeetingRequest) error {
	if err := m.pause(ctx, req.Policy.TurnDelay); err != nil {
		return fmt.Errorf("%w: %w", ErrWorkflowInterrupted, err)
	}
	return m.checkpoint(ctx, req)
}

// turn paces, re-validates the task and asks p to speak. A failed call yields
// an empty reply so the caller substitutes a fallback line.
func (m *MeetingService) turn(ctx context.Context, req MeetingRequest, p agent.Agent, prompt string) (string, error) {
	if err := m.between(ctx, req); err != nil {
		return "", err
	}
	text, err := m.speaker.Speak(ctx, p, prompt, req.Task.WorktreePath)
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %w", ErrWorkflowInterrupted, ctx.Err())
	}
	if err != nil {
		slog.Warn("meeting turn failed, using fallback", "task_id", req.Task.ID, "agent_id", p.ID, "error", err)
		return "", nil
	}
	return strings.TrimSpace(text), nil
}

func (m *MeetingService) say(ctx context.Context, req MeetingRequest, minutes *Minutes, a agent.Agent, kind meeting.EntryKind, text string) error {
	seq := 1
	if n := len(minutes.Entries); n > 0 {
		seq = minutes.Entries[n-1].Seq + 1
	}
	e := meeting.Entry{
		ID:           uuid.NewString(),
		MeetingID:    minutes.Record.ID,
		Seq:          seq,
		SpeakerID:    a.ID,
		SpeakerName:  a.Name,
		DepartmentID: a.DepartmentID,
		Role:         string(a.Role),
		Kind:         kind,
		Text:         text,
		CreatedAt:    m.now(),
	}
	if err := m.store.AppendMeetingEntry(ctx, &e); err != nil {
		return fmt.Errorf("append meeting entry: %w", err)
	}
	minutes.Entries = append(minutes.Entries, e)
	m.events.BroadcastEvent(ctx, ws.EventMeetingSpeech, ws.MeetingSpeechEvent{
		MeetingID:    e.MeetingID,
		TaskID:       req.Task.ID,
		Round:        req.Round,
		Seq:          e.Seq,
		Kind:         string(kind),
		SpeakerID:    a.ID,
		SpeakerName:  a.Name,
		DepartmentID: a.DepartmentID,
		Text:         text,
	})
	return nil
}

// Note appends a system entry such as a round outcome to the transcript.
func (m *MeetingService) Note(ctx context.Context, minutes *Minutes, e meeting.Entry) error {
	e.ID = uuid.NewString()
	e.MeetingID = minutes.Record.ID
	e.Seq = 1
	if n := len(minutes.Entries); n > 0 {
		e.Seq = minutes.Entries[n-1].Seq + 1
	}
	e.CreatedAt = m.now()
	if err := m.store.AppendMeetingEntry(ctx, &e); err != nil {
		return fmt.Errorf("append meeting note: %w", err)
	}
	minutes.Entries = append(minutes.Entries, e)
	return nil
}

func (m *MeetingService) broadcastStatus(ctx context.Context, rec *meeting.Record) {
	m.events.BroadcastEvent(ctx, ws.EventMeetingStatus, ws.MeetingStatusEvent{
		MeetingID: rec.ID,
		TaskID:    rec.TaskID,
		Kind:      string(rec.Kind),
		Round:     rec.Round,
		Status:    string(rec.Status),
	})
}

func feedbackPrompt(req MeetingRequest, p agent.Agent) string {
	t := req.Task
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s of the %s department.\n", p.Name, p.Role, p.DepartmentID)
	if req.Kind == meeting.KindPlanned {
		fmt.Fprintf(&b, "Kickoff meeting for task %q.\n\n%s\n\n", t.Title, clip(t.Description, 2000))
		b.WriteString("List the preparation and risks your department sees before work starts. Keep it short.")
		return b.String()
	}
	fmt.Fprintf(&b, "Review meeting round %d (%s) for task %q.\n\n", req.Round, meeting.ModeFor(req.Round), t.Title)
	fmt.Fprintf(&b, "Task:\n%s\n\nResult:\n%s\n\n", clip(t.Description, 2000), clip(t.Result, 2000))
	b.WriteString("Give feedback from your department's perspective. Say whether you approve or hold, ")
	b.WriteString("and list each concrete issue on its own bullet line if you hold.")
	return b.String()
}

func finalPrompt(req MeetingRequest, p agent.Agent, minutes *Minutes) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s of the %s department. Meeting so far:\n", p.Name, p.DepartmentID)
	for _, e := range minutes.Entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.SpeakerName, clip(e.Text, 400))
	}
	if req.Kind == meeting.KindPlanned {
		b.WriteString("\nState in one sentence what your department commits to for this task.")
		return b.String()
	}
	b.WriteString("\nGive your final position in one or two sentences: approve, or hold with the blocking issues.")
	return b.String()
}

// clip keeps the last n runes of s.
func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return "..." + string(r[len(r)-n:])
}
