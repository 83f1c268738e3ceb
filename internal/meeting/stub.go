package meeting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// StubProvider is an in-process provider used for local runs and tests.
// Meetings are keyed by idempotency token so repeated creates return the same meeting.
type StubProvider struct {
	mu sync.Mutex

	byToken   map[string]Handle
	meetings  map[string]Handle
	attendees map[string]map[string]Credential // meeting id -> attendee id -> credential

	calls StubCalls

	// Optional injected failures. A non-nil error is returned by the matching call.
	CreateMeetingErr  error
	CreateAttendeeErr error
	DeleteMeetingErr  error
}

// StubCalls counts calls per operation.
type StubCalls struct {
	CreateMeeting  int
	CreateAttendee int
	DeleteMeeting  int
	DeleteAttendee int
	GetMeeting     int
}

func NewStubProvider() *StubProvider {
	return &StubProvider{
		byToken:   map[string]Handle{},
		meetings:  map[string]Handle{},
		attendees: map[string]map[string]Credential{},
	}
}

func (p *StubProvider) Name() string { return "stub" }

func (p *StubProvider) CreateMeeting(ctx context.Context, req CreateMeetingRequest) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.CreateMeeting++

	if p.CreateMeetingErr != nil {
		return Handle{}, p.CreateMeetingErr
	}
	if req.IdempotencyToken == "" {
		return Handle{}, errors.New("meeting: stub idempotency token required")
	}
	if h, ok := p.byToken[req.IdempotencyToken]; ok {
		return h, nil
	}

	id := uuid.NewString()
	h := Handle{
		MeetingID:         id,
		ExternalMeetingID: req.ExternalMeetingID,
		Region:            "local",
		Endpoints: Endpoints{
			AudioHost:     "stub://" + id + "/audio",
			AudioFallback: "stub://" + id + "/audio-fallback",
			Signaling:     "stub://" + id + "/signal",
			TurnControl:   "stub://" + id + "/turn",
		},
	}
	p.byToken[req.IdempotencyToken] = h
	p.meetings[id] = h
	p.attendees[id] = map[string]Credential{}
	return h, nil
}

func (p *StubProvider) CreateAttendee(ctx context.Context, req CreateAttendeeRequest) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.CreateAttendee++

	if p.CreateAttendeeErr != nil {
		return Credential{}, p.CreateAttendeeErr
	}
	atts, ok := p.attendees[req.MeetingID]
	if !ok {
		return Credential{}, fmt.Errorf("meeting: stub create attendee: %w", ErrMeetingNotFound)
	}
	c := Credential{
		AttendeeID:     uuid.NewString(),
		ExternalUserID: ExternalUserID(req.Role, req.ParticipantID),
		JoinToken:      uuid.NewString(),
	}
	atts[c.AttendeeID] = c
	return c, nil
}

func (p *StubProvider) DeleteMeeting(ctx context.Context, meetingID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.DeleteMeeting++

	if p.DeleteMeetingErr != nil {
		return p.DeleteMeetingErr
	}
	delete(p.meetings, meetingID)
	delete(p.attendees, meetingID)
	return nil
}

func (p *StubProvider) DeleteAttendee(ctx context.Context, meetingID, attendeeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.DeleteAttendee++

	if atts, ok := p.attendees[meetingID]; ok {
		delete(atts, attendeeID)
	}
	return nil
}

func (p *StubProvider) GetMeeting(ctx context.Context, meetingID string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.GetMeeting++

	h, ok := p.meetings[meetingID]
	if !ok {
		return Handle{}, ErrMeetingNotFound
	}
	return h, nil
}

// HasAttendee reports whether attendeeID still exists in meetingID.
func (p *StubProvider) HasAttendee(meetingID, attendeeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.attendees[meetingID][attendeeID]
	return ok
}

// Calls returns a snapshot of call counters.
func (p *StubProvider) Calls() StubCalls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// SetCreateMeetingErr swaps the injected CreateMeeting failure under the lock.
func (p *StubProvider) SetCreateMeetingErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateMeetingErr = err
}
