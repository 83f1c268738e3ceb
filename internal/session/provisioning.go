package session

import (
	"context"
	"fmt"

	"consultation-service/internal/audit"
	"consultation-service/internal/events"
	"consultation-service/internal/meeting"
)

func provisionLockKey(sessionID string) string { return "consultation:provision:" + sessionID }

// StartMeeting provisions the remote meeting once per session.
// A session that already has a meeting is returned as is, whatever its status,
// without a provider call. Only provisioning itself is subject to the transition table.
func (e *Engine) StartMeeting(ctx context.Context, id string) (Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Meeting != nil {
		return s, nil
	}
	if _, err := Next(s.Status, OpStart); err != nil {
		return Session{}, err
	}

	unlock, err := e.locker.Lock(ctx, provisionLockKey(id), e.cfg.ProvisionLockTTL)
	if err != nil {
		e.logger(ctx).Warn("provisioning lock unavailable, relying on idempotency token", "session_id", id, "err", err)
	}
	defer unlock()

	// Another caller may have provisioned while we waited for the lock.
	s, err = e.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Meeting != nil {
		return s, nil
	}
	if _, err := Next(s.Status, OpStart); err != nil {
		return Session{}, err
	}

	h, err := e.provider.CreateMeeting(ctx, meeting.CreateMeetingRequest{
		IdempotencyToken:  s.ID,
		ExternalMeetingID: meeting.ExternalMeetingID(s.ID),
		Participants: []meeting.Participant{
			{ID: s.CallerID, Role: string(RoleCaller)},
			{ID: s.CalleeID, Role: string(RoleCallee)},
		},
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: create meeting via %s: %v", ErrProvider, e.provider.Name(), err)
	}

	provisioned := false
	out, err := e.store.Update(ctx, id, func(ctx context.Context, tx Tx) error {
		cur := tx.Session()
		if cur.Meeting != nil {
			if cur.Meeting.MeetingID != h.MeetingID {
				e.logger(ctx).Error("discarding duplicate remote meeting",
					"session_id", id, "meeting_id", h.MeetingID, "kept_meeting_id", cur.Meeting.MeetingID)
			}
			return nil
		}
		next, err := Next(cur.Status, OpStart)
		if err != nil {
			return err
		}

		now := e.now()
		handle := h
		cur.Meeting = &handle
		cur.Status = next
		if cur.ActualStart == nil {
			cur.ActualStart = timePtr(now)
		}
		cur.UpdatedAt = now
		if err := tx.Save(ctx, cur); err != nil {
			return err
		}
		provisioned = true
		return e.auditor(tx).Record(ctx, id, audit.KindMeetingCreated, "",
			fmt.Sprintf("Remote meeting %s created in %s", h.MeetingID, h.Region))
	})
	if err != nil {
		e.logger(ctx).Error("remote meeting orphaned: persist failed",
			"session_id", id, "meeting_id", h.MeetingID, "provider", e.provider.Name(), "err", err)
		return Session{}, err
	}

	if provisioned {
		e.logger(ctx).Info("meeting provisioned", "session_id", id, "meeting_id", h.MeetingID)
		e.notify(ctx, events.SessionStarted, map[string]any{
			"session_id": out.ID,
			"meeting_id": h.MeetingID,
			"caller_id":  out.CallerID,
			"callee_id":  out.CalleeID,
			"started_at": out.ActualStart,
		})
	}
	return out, nil
}

// deleteMeeting is best effort; the remote resource may leak and is logged for reconciliation.
func (e *Engine) deleteMeeting(ctx context.Context, s Session) {
	if s.Meeting == nil {
		return
	}
	if err := e.provider.DeleteMeeting(ctx, s.Meeting.MeetingID); err != nil {
		e.logger(ctx).Error("remote meeting delete failed",
			"session_id", s.ID, "meeting_id", s.Meeting.MeetingID, "provider", e.provider.Name(), "err", err)
	}
}
