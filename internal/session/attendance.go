package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"consultation-service/internal/audit"
	"consultation-service/internal/events"
	"consultation-service/internal/meeting"
	"consultation-service/internal/usage"
)

// participantRole resolves the caller's role from the session and checks any claimed role against it.
func participantRole(s Session, participantID string, claimed Role) (Role, error) {
	role, ok := s.RoleOf(participantID)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a participant of session %s", ErrForbidden, participantID, s.ID)
	}
	if claimed != "" && claimed != role {
		return "", fmt.Errorf("%w: participant %s is the %s of this session, not the %s", ErrForbidden, participantID, role, claimed)
	}
	return role, nil
}

// Join admits a participant, provisioning the meeting and an attendee credential as needed.
func (e *Engine) Join(ctx context.Context, in JoinInput) (JoinResult, error) {
	if err := e.validate.Struct(in); err != nil {
		return JoinResult{}, validationError(err)
	}
	s, err := e.store.Get(ctx, in.SessionID)
	if err != nil {
		return JoinResult{}, err
	}
	role, err := participantRole(s, in.ParticipantID, in.Role)
	if err != nil {
		return JoinResult{}, err
	}
	if _, err := Next(s.Status, OpJoin); err != nil {
		return JoinResult{}, err
	}

	if s.Meeting == nil {
		if s, err = e.StartMeeting(ctx, s.ID); err != nil {
			return JoinResult{}, err
		}
	}

	attendees, err := e.store.Attendees(ctx, s.ID)
	if err != nil {
		return JoinResult{}, err
	}
	var cred *meeting.Credential
	if a, ok := findAttendee(attendees, in.ParticipantID); !ok || a.ProviderAttendeeID == "" {
		c, err := e.provider.CreateAttendee(ctx, meeting.CreateAttendeeRequest{
			MeetingID:     s.Meeting.MeetingID,
			ParticipantID: in.ParticipantID,
			Role:          string(role),
		})
		if err != nil {
			return JoinResult{}, fmt.Errorf("%w: create attendee via %s: %v", ErrProvider, e.provider.Name(), err)
		}
		cred = &c
	}

	var (
		joined   bool
		stored   bool
		attendee Attendee
	)
	out, err := e.store.Update(ctx, s.ID, func(ctx context.Context, tx Tx) error {
		stored = false
		cur := tx.Session()
		if _, err := Next(cur.Status, OpJoin); err != nil {
			return err
		}
		now := e.now()

		a, ok := tx.Attendee(in.ParticipantID)
		if !ok {
			a = Attendee{
				ID:            uuid.NewString(),
				SessionID:     cur.ID,
				ParticipantID: in.ParticipantID,
				Role:          role,
				CreatedAt:     now,
			}
		}
		if a.ProviderAttendeeID == "" {
			if cred == nil {
				return fmt.Errorf("%w: no attendee credential available", ErrProvider)
			}
			a.ProviderAttendeeID = cred.AttendeeID
			a.ExternalUserID = cred.ExternalUserID
			a.JoinToken = cred.JoinToken
			stored = true
		}

		if in.Client.DeviceType != "" {
			a.DeviceType = in.Client.DeviceType
		}
		if in.Client.ClientInfo != "" {
			a.ClientInfo = in.Client.ClientInfo
		}
		if in.Client.IPAddress != "" {
			a.IPAddress = in.Client.IPAddress
		}

		if !a.Active {
			a.Active = true
			a.JoinedAt = timePtr(now)
			a.LeftAt = nil
			joined = true

			if role == RoleCaller {
				cur.CallerJoinedAt = timePtr(now)
			} else {
				cur.CalleeJoinedAt = timePtr(now)
			}
		}
		a.UpdatedAt = now
		if err := tx.SaveAttendee(ctx, a); err != nil {
			return err
		}
		attendee = a

		if cur.CallerJoinedAt != nil && cur.CalleeJoinedAt != nil {
			next, err := Next(cur.Status, OpActivate)
			if err != nil {
				return err
			}
			cur.Status = next
		}
		if !joined {
			return tx.Save(ctx, cur)
		}
		cur.UpdatedAt = now
		if err := tx.Save(ctx, cur); err != nil {
			return err
		}
		return e.auditor(tx).Record(ctx, cur.ID, audit.KindUserJoined, in.ParticipantID,
			fmt.Sprintf("%s joined the session", role))
	})
	if cred != nil && (!stored || err != nil) {
		// A concurrent join stored its own credential first, or the commit failed.
		e.deleteAttendee(ctx, s.ID, s.Meeting.MeetingID, cred.AttendeeID)
	}
	if err != nil {
		return JoinResult{}, err
	}

	if joined {
		e.logger(ctx).Info("participant joined", "session_id", out.ID, "participant_id", in.ParticipantID, "role", role, "status", out.Status)
		e.notify(ctx, events.UserJoined, map[string]any{
			"session_id": out.ID,
			"user_id":    in.ParticipantID,
			"role":       string(role),
			"status":     string(out.Status),
			"joined_at":  attendee.JoinedAt,
		})
	}

	return JoinResult{
		Session: out,
		Meeting: *out.Meeting,
		Role:    role,
		Credential: meeting.Credential{
			AttendeeID:     attendee.ProviderAttendeeID,
			ExternalUserID: attendee.ExternalUserID,
			JoinToken:      attendee.JoinToken,
		},
	}, nil
}

// Leave closes a participant's attendance and meters it. Leaving without an active attendance is a no-op.
// Leave never changes the session status.
func (e *Engine) Leave(ctx context.Context, in LeaveInput) (Session, error) {
	if err := e.validate.Struct(in); err != nil {
		return Session{}, validationError(err)
	}
	s, err := e.store.Get(ctx, in.SessionID)
	if err != nil {
		return Session{}, err
	}
	role, err := participantRole(s, in.ParticipantID, in.Role)
	if err != nil {
		return Session{}, err
	}
	if _, err := Next(s.Status, OpLeave); err != nil {
		return Session{}, err
	}

	var sample usage.Sample
	left := false
	out, err := e.store.Update(ctx, s.ID, func(ctx context.Context, tx Tx) error {
		cur := tx.Session()
		if _, err := Next(cur.Status, OpLeave); err != nil {
			return err
		}
		a, ok := tx.Attendee(in.ParticipantID)
		if !ok || !a.Active {
			return nil
		}

		now := e.now()
		var err error
		if sample, err = e.closeAttendance(ctx, tx, &cur, a, now); err != nil {
			return err
		}
		cur.UpdatedAt = now
		if err := tx.Save(ctx, cur); err != nil {
			return err
		}
		left = true
		return e.auditor(tx).Record(ctx, cur.ID, audit.KindUserLeft, in.ParticipantID,
			fmt.Sprintf("%s left the session", role))
	})
	if err != nil {
		return Session{}, err
	}

	if left {
		e.logger(ctx).Info("participant left", "session_id", out.ID, "participant_id", in.ParticipantID, "attendee_minutes", sample.Minutes)
		e.notify(ctx, events.UserLeft, map[string]any{
			"session_id":       out.ID,
			"user_id":          in.ParticipantID,
			"role":             string(role),
			"attendee_minutes": sample.Minutes,
			"left_at":          sample.RecordedAt,
		})
	}
	return out, nil
}

// closeAttendance marks a inactive, stamps the per-role leave time on cur and records a usage sample.
func (e *Engine) closeAttendance(ctx context.Context, tx Tx, cur *Session, a Attendee, now time.Time) (usage.Sample, error) {
	joinedAt := now
	if a.JoinedAt != nil {
		joinedAt = *a.JoinedAt
	}
	a.Active = false
	a.LeftAt = timePtr(now)
	a.UpdatedAt = now
	if err := tx.SaveAttendee(ctx, a); err != nil {
		return usage.Sample{}, err
	}

	if a.Role == RoleCaller {
		cur.CallerLeftAt = timePtr(now)
	} else {
		cur.CalleeLeftAt = timePtr(now)
	}

	sample := usage.Sample{
		ID:               uuid.NewString(),
		SessionID:        cur.ID,
		ParticipantID:    a.ParticipantID,
		Minutes:          usage.Minutes(joinedAt, now),
		RecordedAt:       now,
		SessionCompleted: cur.Status == StatusCompleted,
	}
	return sample, tx.RecordUsage(ctx, sample)
}

// closeAllAttendance closes every still-active attendee of cur.
func (e *Engine) closeAllAttendance(ctx context.Context, tx Tx, cur *Session, now time.Time) error {
	for _, a := range tx.Attendees() {
		if !a.Active {
			continue
		}
		if _, err := e.closeAttendance(ctx, tx, cur, a, now); err != nil {
			return err
		}
	}
	return nil
}

// deleteAttendee is best effort; a failure leaves an unused attendee that expires with the meeting.
func (e *Engine) deleteAttendee(ctx context.Context, sessionID, meetingID, attendeeID string) {
	if err := e.provider.DeleteAttendee(ctx, meetingID, attendeeID); err != nil {
		e.logger(ctx).Error("discarded attendee delete failed",
			"session_id", sessionID, "meeting_id", meetingID, "attendee_id", attendeeID, "provider", e.provider.Name(), "err", err)
		return
	}
	e.logger(ctx).Warn("discarded duplicate attendee credential",
		"session_id", sessionID, "meeting_id", meetingID, "attendee_id", attendeeID)
}

func findAttendee(attendees []Attendee, participantID string) (Attendee, bool) {
	for _, a := range attendees {
		if a.ParticipantID == participantID {
			return a, true
		}
	}
	return Attendee{}, false
}
