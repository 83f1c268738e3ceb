package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"consultation-service/internal/audit"
	"consultation-service/internal/events"
)

// End completes a session. Still-active attendees are closed and metered,
// and the remote meeting is deleted best effort after commit.
func (e *Engine) End(ctx context.Context, in EndInput) (Session, error) {
	if err := requireActor(in.EndedBy); err != nil {
		return Session{}, err
	}
	if err := e.validate.Struct(in); err != nil {
		return Session{}, validationError(err)
	}

	out, err := e.store.Update(ctx, in.SessionID, func(ctx context.Context, tx Tx) error {
		cur := tx.Session()
		next, err := Next(cur.Status, OpEnd)
		if err != nil {
			return err
		}
		now := e.now()
		cur.Status = next
		if cur.ActualEnd == nil {
			cur.ActualEnd = timePtr(now)
		}
		cur.EndedBy = in.EndedBy
		if in.Notes != "" {
			cur.Notes = in.Notes
		}
		if in.QualityRating != nil {
			rating := *in.QualityRating
			cur.QualityRating = &rating
		}
		if err := e.closeAllAttendance(ctx, tx, &cur, now); err != nil {
			return err
		}
		cur.UpdatedAt = now
		if err := tx.Save(ctx, cur); err != nil {
			return err
		}
		return e.auditor(tx).Record(ctx, cur.ID, audit.KindSessionEnded, in.EndedBy, "Consultation session ended")
	})
	if err != nil {
		return Session{}, err
	}

	e.deleteMeeting(ctx, out)

	duration := actualMinutes(out)
	e.logger(ctx).Info("session ended", "session_id", out.ID, "ended_by", in.EndedBy, "duration_minutes", duration)
	e.notify(ctx, events.SessionEnded, map[string]any{
		"session_id":       out.ID,
		"caller_id":        out.CallerID,
		"callee_id":        out.CalleeID,
		"external_ref":     out.ExternalRef,
		"ended_by":         in.EndedBy,
		"duration_minutes": duration,
		"ended_at":         out.ActualEnd,
	})
	if out.ExternalRef != "" {
		e.notify(ctx, events.ConsultationCompleted, map[string]any{
			"appointment_id":   out.ExternalRef,
			"session_id":       out.ID,
			"caller_id":        out.CallerID,
			"callee_id":        out.CalleeID,
			"duration_minutes": duration,
		})
	}
	return out, nil
}

// Cancel moves a non-terminal session to CANCELLED.
func (e *Engine) Cancel(ctx context.Context, in CancelInput) (Session, error) {
	if err := requireActor(in.CancelledBy); err != nil {
		return Session{}, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if err := e.validate.Struct(in); err != nil {
		return Session{}, validationError(err)
	}

	out, err := e.store.Update(ctx, in.SessionID, func(ctx context.Context, tx Tx) error {
		cur := tx.Session()
		next, err := Next(cur.Status, OpCancel)
		if err != nil {
			return err
		}
		now := e.now()
		cur.Status = next
		cur.CancelledAt = timePtr(now)
		cur.CancelledBy = in.CancelledBy
		cur.CancellationReason = in.Reason
		if err := e.closeAllAttendance(ctx, tx, &cur, now); err != nil {
			return err
		}
		cur.UpdatedAt = now
		if err := tx.Save(ctx, cur); err != nil {
			return err
		}
		return e.auditor(tx).Record(ctx, cur.ID, audit.KindSessionCancelled, in.CancelledBy,
			"Session cancelled: "+in.Reason)
	})
	if err != nil {
		return Session{}, err
	}

	e.deleteMeeting(ctx, out)

	e.logger(ctx).Info("session cancelled", "session_id", out.ID, "cancelled_by", in.CancelledBy)
	e.notify(ctx, events.SessionCancelled, map[string]any{
		"session_id":   out.ID,
		"external_ref": out.ExternalRef,
		"cancelled_by": in.CancelledBy,
		"reason":       in.Reason,
		"cancelled_at": out.CancelledAt,
	})
	return out, nil
}

// MarkNoShow moves a session that never became ACTIVE to NO_SHOW.
func (e *Engine) MarkNoShow(ctx context.Context, id, actor string) (Session, error) {
	if err := requireActor(actor); err != nil {
		return Session{}, err
	}
	return e.markNoShow(ctx, id, actor, time.Time{})
}

// markNoShow applies the transition. A non-zero cutoff additionally requires ScheduledEnd to be before it.
func (e *Engine) markNoShow(ctx context.Context, id, actor string, cutoff time.Time) (Session, error) {
	var absent []string
	out, err := e.store.Update(ctx, id, func(ctx context.Context, tx Tx) error {
		cur := tx.Session()
		next, err := Next(cur.Status, OpNoShow)
		if err != nil {
			return err
		}
		now := e.now()
		if now.Before(cur.ScheduledStart) {
			return fmt.Errorf("%w: session has not reached its scheduled start", ErrValidation)
		}
		if !cutoff.IsZero() && !cur.ScheduledEnd.Before(cutoff) {
			return fmt.Errorf("%w: session is still within its no-show grace period", ErrInvalidState)
		}

		if cur.CallerJoinedAt == nil {
			absent = append(absent, cur.CallerID)
		}
		if cur.CalleeJoinedAt == nil {
			absent = append(absent, cur.CalleeID)
		}
		cur.Status = next
		if err := e.closeAllAttendance(ctx, tx, &cur, now); err != nil {
			return err
		}
		cur.UpdatedAt = now
		if err := tx.Save(ctx, cur); err != nil {
			return err
		}
		return e.auditor(tx).Record(ctx, cur.ID, audit.KindSessionNoShow, actor,
			fmt.Sprintf("Session marked no-show; absent: %s", strings.Join(absent, ", ")))
	})
	if err != nil {
		return Session{}, err
	}

	e.deleteMeeting(ctx, out)

	e.logger(ctx).Info("session marked no-show", "session_id", out.ID, "actor", actor)
	e.notify(ctx, events.SessionNoShow, map[string]any{
		"session_id":   out.ID,
		"external_ref": out.ExternalRef,
		"absent":       absent,
		"marked_by":    actor,
	})
	return out, nil
}

// SweepNoShows marks every session still SCHEDULED or WAITING past ScheduledEnd plus the grace period.
// It returns the number of sessions marked.
func (e *Engine) SweepNoShows(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Add(-e.cfg.NoShowGrace)
	ids, err := e.store.DueForNoShow(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list sessions due for no-show: %w", err)
	}

	marked := 0
	var errs []error
	for _, id := range ids {
		_, err := e.markNoShow(ctx, id, SystemActor, cutoff)
		switch {
		case err == nil:
			marked++
		case errors.Is(err, ErrInvalidState):
			// Raced with a join or cancel.
		default:
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	return marked, errors.Join(errs...)
}

const sweepBatch = 100

// UpdateNotes replaces the consultation notes.
func (e *Engine) UpdateNotes(ctx context.Context, id, actor, notes string) (Session, error) {
	if err := requireActor(actor); err != nil {
		return Session{}, err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" || len([]rune(notes)) > 5000 {
		return Session{}, fmt.Errorf("%w: notes must be between 1 and 5000 characters", ErrValidation)
	}

	return e.store.Update(ctx, id, func(ctx context.Context, tx Tx) error {
		cur := tx.Session()
		if _, err := Next(cur.Status, OpAnnotate); err != nil {
			return err
		}
		cur.Notes = notes
		cur.UpdatedAt = e.now()
		if err := tx.Save(ctx, cur); err != nil {
			return err
		}
		return e.auditor(tx).Record(ctx, cur.ID, audit.KindNotesUpdated, actor, "Consultation notes updated")
	})
}

func actualMinutes(s Session) int {
	if s.ActualStart == nil || s.ActualEnd == nil {
		return 0
	}
	return int(s.ActualEnd.Sub(*s.ActualStart) / time.Minute)
}
