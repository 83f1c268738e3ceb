package meeting

import (
	"context"
	"errors"
	"testing"
	"time"

	"consultation-service/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings/types"
)

type fakeChime struct {
	createIn  *chimesdkmeetings.CreateMeetingInput
	attIn     *chimesdkmeetings.CreateAttendeeInput
	deleteErr error
	getErr    error
}

func (f *fakeChime) CreateMeeting(ctx context.Context, in *chimesdkmeetings.CreateMeetingInput, _ ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateMeetingOutput, error) {
	f.createIn = in
	return &chimesdkmeetings.CreateMeetingOutput{Meeting: &types.Meeting{
		MeetingId:         aws.String("m-1"),
		ExternalMeetingId: in.ExternalMeetingId,
		MediaRegion:       in.MediaRegion,
		MediaPlacement: &types.MediaPlacement{
			AudioHostUrl:   aws.String("audio.example:3478"),
			SignalingUrl:   aws.String("wss://signal.example/control/m-1"),
			TurnControlUrl: aws.String("https://turn.example"),
		},
	}}, nil
}

func (f *fakeChime) CreateAttendee(ctx context.Context, in *chimesdkmeetings.CreateAttendeeInput, _ ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateAttendeeOutput, error) {
	f.attIn = in
	return &chimesdkmeetings.CreateAttendeeOutput{Attendee: &types.Attendee{
		AttendeeId:     aws.String("a-1"),
		ExternalUserId: in.ExternalUserId,
		JoinToken:      aws.String("tok"),
	}}, nil
}

func (f *fakeChime) DeleteMeeting(ctx context.Context, in *chimesdkmeetings.DeleteMeetingInput, _ ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.DeleteMeetingOutput, error) {
	return &chimesdkmeetings.DeleteMeetingOutput{}, f.deleteErr
}

func (f *fakeChime) DeleteAttendee(ctx context.Context, in *chimesdkmeetings.DeleteAttendeeInput, _ ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.DeleteAttendeeOutput, error) {
	return &chimesdkmeetings.DeleteAttendeeOutput{}, f.deleteErr
}

func (f *fakeChime) GetMeeting(ctx context.Context, in *chimesdkmeetings.GetMeetingInput, _ ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.GetMeetingOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &chimesdkmeetings.GetMeetingOutput{Meeting: &types.Meeting{MeetingId: in.MeetingId}}, nil
}

func configFor(kind string) config.ProviderConfig {
	return config.ProviderConfig{Kind: kind, Region: "us-east-1", MaxAttempts: 3, CallTimeout: time.Second}
}

func TestChimeProvider_CreateMeetingMapsRequest(t *testing.T) {
	fake := &fakeChime{}
	p := &ChimeProvider{api: fake, region: "us-east-1", timeout: time.Second}

	h, err := p.CreateMeeting(context.Background(), CreateMeetingRequest{
		IdempotencyToken:  "s-1",
		ExternalMeetingID: ExternalMeetingID("s-1"),
		Participants:      []Participant{{ID: "doc", Role: "Caller"}, {ID: "pat", Role: "Callee"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if aws.ToString(fake.createIn.ClientRequestToken) != "s-1" {
		t.Fatalf("expected session id as idempotency token")
	}
	if len(fake.createIn.Tags) != 4 {
		t.Fatalf("expected 4 tags, got %d", len(fake.createIn.Tags))
	}
	if h.MeetingID != "m-1" || h.Region != "us-east-1" || h.ExternalMeetingID != "consult-s-1" {
		t.Fatalf("unexpected handle: %+v", h)
	}
	if h.Endpoints.Signaling == "" || h.Endpoints.AudioHost == "" {
		t.Fatalf("expected endpoints mapped: %+v", h.Endpoints)
	}
}

func TestChimeProvider_CreateAttendeeUsesRoleScopedUserID(t *testing.T) {
	fake := &fakeChime{}
	p := &ChimeProvider{api: fake, region: "us-east-1"}

	c, err := p.CreateAttendee(context.Background(), CreateAttendeeRequest{MeetingID: "m-1", ParticipantID: "pat", Role: "CALLEE"})
	if err != nil {
		t.Fatalf("attendee: %v", err)
	}
	if aws.ToString(fake.attIn.ExternalUserId) != "callee-pat" {
		t.Fatalf("unexpected external user id %q", aws.ToString(fake.attIn.ExternalUserId))
	}
	if c.JoinToken != "tok" || c.AttendeeID != "a-1" {
		t.Fatalf("unexpected credential: %+v", c)
	}
}

func TestChimeProvider_DeleteTreatsNotFoundAsSuccess(t *testing.T) {
	fake := &fakeChime{deleteErr: &types.NotFoundException{Message: aws.String("gone")}}
	p := &ChimeProvider{api: fake, region: "us-east-1"}

	if err := p.DeleteMeeting(context.Background(), "m-1"); err != nil {
		t.Fatalf("expected not-found to be success, got %v", err)
	}
	if err := p.DeleteAttendee(context.Background(), "m-1", "a-1"); err != nil {
		t.Fatalf("expected not-found to be success, got %v", err)
	}

	fake.deleteErr = errors.New("throttled")
	if err := p.DeleteMeeting(context.Background(), "m-1"); err == nil {
		t.Fatalf("expected other errors to surface")
	}
}

func TestChimeProvider_GetMeetingNotFound(t *testing.T) {
	fake := &fakeChime{getErr: &types.NotFoundException{Message: aws.String("gone")}}
	p := &ChimeProvider{api: fake, region: "us-east-1"}

	if _, err := p.GetMeeting(context.Background(), "m-1"); !errors.Is(err, ErrMeetingNotFound) {
		t.Fatalf("expected ErrMeetingNotFound, got %v", err)
	}
}
