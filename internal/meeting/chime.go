package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"consultation-service/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings/types"
)

// chimeAPI is the subset of the Chime SDK Meetings client used by ChimeProvider.
type chimeAPI interface {
	CreateMeeting(ctx context.Context, in *chimesdkmeetings.CreateMeetingInput, optFns ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateMeetingOutput, error)
	CreateAttendee(ctx context.Context, in *chimesdkmeetings.CreateAttendeeInput, optFns ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateAttendeeOutput, error)
	DeleteMeeting(ctx context.Context, in *chimesdkmeetings.DeleteMeetingInput, optFns ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.DeleteMeetingOutput, error)
	DeleteAttendee(ctx context.Context, in *chimesdkmeetings.DeleteAttendeeInput, optFns ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.DeleteAttendeeOutput, error)
	GetMeeting(ctx context.Context, in *chimesdkmeetings.GetMeetingInput, optFns ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.GetMeetingOutput, error)
}

// ChimeProvider talks to Amazon Chime SDK Meetings.
// Retries with backoff are delegated to the SDK retryer (PROVIDER_MAX_ATTEMPTS).
type ChimeProvider struct {
	api     chimeAPI
	region  string
	timeout time.Duration
}

func NewChimeProvider(ctx context.Context, cfg config.ProviderConfig) (*ChimeProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("meeting: load aws config: %w", err)
	}

	client := chimesdkmeetings.NewFromConfig(awsCfg, func(o *chimesdkmeetings.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &ChimeProvider{api: client, region: cfg.Region, timeout: cfg.CallTimeout}, nil
}

func (p *ChimeProvider) Name() string { return "chime" }

func (p *ChimeProvider) CreateMeeting(ctx context.Context, req CreateMeetingRequest) (Handle, error) {
	if req.IdempotencyToken == "" {
		return Handle{}, errors.New("meeting: chime idempotency token required")
	}
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	tags := []types.Tag{
		{Key: aws.String("Service"), Value: aws.String("consultation-service")},
		{Key: aws.String("SessionId"), Value: aws.String(req.IdempotencyToken)},
	}
	for _, part := range req.Participants {
		tags = append(tags, types.Tag{Key: aws.String(part.Role + "Id"), Value: aws.String(part.ID)})
	}

	out, err := p.api.CreateMeeting(ctx, &chimesdkmeetings.CreateMeetingInput{
		ClientRequestToken: aws.String(req.IdempotencyToken),
		ExternalMeetingId:  aws.String(req.ExternalMeetingID),
		MediaRegion:        aws.String(p.region),
		MeetingFeatures: &types.MeetingFeaturesConfiguration{
			Audio: &types.AudioFeatures{EchoReduction: types.MeetingFeatureStatusAvailable},
		},
		Tags: tags,
	})
	if err != nil {
		return Handle{}, fmt.Errorf("meeting: chime create meeting: %w", err)
	}
	if out.Meeting == nil {
		return Handle{}, errors.New("meeting: chime create meeting returned no meeting")
	}
	return handleFromChime(out.Meeting), nil
}

func (p *ChimeProvider) CreateAttendee(ctx context.Context, req CreateAttendeeRequest) (Credential, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	out, err := p.api.CreateAttendee(ctx, &chimesdkmeetings.CreateAttendeeInput{
		MeetingId:      aws.String(req.MeetingID),
		ExternalUserId: aws.String(ExternalUserID(req.Role, req.ParticipantID)),
	})
	if err != nil {
		if isChimeNotFound(err) {
			return Credential{}, fmt.Errorf("meeting: chime create attendee: %w", ErrMeetingNotFound)
		}
		return Credential{}, fmt.Errorf("meeting: chime create attendee: %w", err)
	}
	if out.Attendee == nil {
		return Credential{}, errors.New("meeting: chime create attendee returned no attendee")
	}
	return Credential{
		AttendeeID:     aws.ToString(out.Attendee.AttendeeId),
		ExternalUserID: aws.ToString(out.Attendee.ExternalUserId),
		JoinToken:      aws.ToString(out.Attendee.JoinToken),
	}, nil
}

func (p *ChimeProvider) DeleteMeeting(ctx context.Context, meetingID string) error {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	_, err := p.api.DeleteMeeting(ctx, &chimesdkmeetings.DeleteMeetingInput{MeetingId: aws.String(meetingID)})
	if err != nil && !isChimeNotFound(err) {
		return fmt.Errorf("meeting: chime delete meeting: %w", err)
	}
	return nil
}

func (p *ChimeProvider) DeleteAttendee(ctx context.Context, meetingID, attendeeID string) error {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	_, err := p.api.DeleteAttendee(ctx, &chimesdkmeetings.DeleteAttendeeInput{
		MeetingId:  aws.String(meetingID),
		AttendeeId: aws.String(attendeeID),
	})
	if err != nil && !isChimeNotFound(err) {
		return fmt.Errorf("meeting: chime delete attendee: %w", err)
	}
	return nil
}

func (p *ChimeProvider) GetMeeting(ctx context.Context, meetingID string) (Handle, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	out, err := p.api.GetMeeting(ctx, &chimesdkmeetings.GetMeetingInput{MeetingId: aws.String(meetingID)})
	if err != nil {
		if isChimeNotFound(err) {
			return Handle{}, ErrMeetingNotFound
		}
		return Handle{}, fmt.Errorf("meeting: chime get meeting: %w", err)
	}
	if out.Meeting == nil {
		return Handle{}, ErrMeetingNotFound
	}
	return handleFromChime(out.Meeting), nil
}

func (p *ChimeProvider) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func handleFromChime(m *types.Meeting) Handle {
	h := Handle{
		MeetingID:         aws.ToString(m.MeetingId),
		ExternalMeetingID: aws.ToString(m.ExternalMeetingId),
		Region:            aws.ToString(m.MediaRegion),
	}
	if mp := m.MediaPlacement; mp != nil {
		h.Endpoints = Endpoints{
			AudioHost:     aws.ToString(mp.AudioHostUrl),
			AudioFallback: aws.ToString(mp.AudioFallbackUrl),
			Signaling:     aws.ToString(mp.SignalingUrl),
			TurnControl:   aws.ToString(mp.TurnControlUrl),
			ScreenData:    aws.ToString(mp.ScreenDataUrl),
			ScreenViewing: aws.ToString(mp.ScreenViewingUrl),
			ScreenSharing: aws.ToString(mp.ScreenSharingUrl),
		}
	}
	return h
}

func isChimeNotFound(err error) bool {
	var nf *types.NotFoundException
	return errors.As(err, &nf)
}
