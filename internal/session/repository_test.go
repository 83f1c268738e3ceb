package session

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestListWhere(t *testing.T) {
	cases := []struct {
		name      string
		filter    ListFilter
		wantWhere string
		wantArgs  []any
	}{
		{
			name: "no filter",
		},
		{
			name:      "participant on either side",
			filter:    ListFilter{ParticipantID: "u1"},
			wantWhere: " WHERE (caller_id = $1 OR callee_id = $1)",
			wantArgs:  []any{"u1"},
		},
		{
			name:      "participant as caller",
			filter:    ListFilter{ParticipantID: "u1", Role: RoleCaller},
			wantWhere: " WHERE caller_id = $1",
			wantArgs:  []any{"u1"},
		},
		{
			name:      "participant as callee with status and org",
			filter:    ListFilter{ParticipantID: "u1", Role: RoleCallee, Status: StatusActive, OrgID: "clinic-1"},
			wantWhere: " WHERE callee_id = $1 AND status = $2 AND org_id = $3",
			wantArgs:  []any{"u1", "ACTIVE", "clinic-1"},
		},
		{
			name:      "role without participant is ignored",
			filter:    ListFilter{Role: RoleCaller, Status: StatusScheduled},
			wantWhere: " WHERE status = $1",
			wantArgs:  []any{"SCHEDULED"},
		},
		{
			name:      "either side keeps numbering for later filters",
			filter:    ListFilter{ParticipantID: "u1", OrgID: "clinic-1"},
			wantWhere: " WHERE (caller_id = $1 OR callee_id = $1) AND org_id = $2",
			wantArgs:  []any{"u1", "clinic-1"},
		},
	}

	for _, tc := range cases {
		where, args := listWhere(tc.filter)
		if where != tc.wantWhere {
			t.Fatalf("%s: expected where %q, got %q", tc.name, tc.wantWhere, where)
		}
		if !reflect.DeepEqual(args, tc.wantArgs) {
			t.Fatalf("%s: expected args %v, got %v", tc.name, tc.wantArgs, args)
		}
	}
}

// fakeRow hands back fixed column values in sessionColumns order.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("expected %d columns, scanned into %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		v := reflect.ValueOf(r.values[i])
		if !v.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("column %d: cannot assign %s to %s", i, v.Type(), target.Type())
		}
		target.Set(v)
	}
	return nil
}

func sessionRow(meetingID sql.NullString, placement []byte) fakeRow {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	joined := start.Add(2 * time.Minute)
	rating := 4
	var none *time.Time
	return fakeRow{values: []any{
		"s1", "CLINIC_BASED", "A", "B", "apt-1", "clinic-1", "ACTIVE",
		start, start.Add(30 * time.Minute), 30, &start, none,
		"follow-up", "", &rating,
		&joined, &joined, none, none,
		none, "", "", "",
		meetingID, sql.NullString{String: "consult-s1", Valid: meetingID.Valid}, sql.NullString{String: "us-east-1", Valid: meetingID.Valid}, placement,
		start, joined,
	}}
}

func TestScanSession_DecodesMeeting(t *testing.T) {
	row := sessionRow(sql.NullString{String: "m-1", Valid: true}, []byte(`{"audio_host_url":"wss://audio","signaling_url":"wss://signal"}`))

	s, err := scanSession(row)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if s.ID != "s1" || s.BookingType != BookingClinic || s.Status != StatusActive || s.OrgID != "clinic-1" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.QualityRating == nil || *s.QualityRating != 4 || s.ActualEnd != nil {
		t.Fatalf("unexpected optional columns: %+v", s)
	}
	if s.Meeting == nil {
		t.Fatalf("expected meeting handle")
	}
	if s.Meeting.MeetingID != "m-1" || s.Meeting.ExternalMeetingID != "consult-s1" || s.Meeting.Region != "us-east-1" {
		t.Fatalf("unexpected handle: %+v", s.Meeting)
	}
	if s.Meeting.Endpoints.AudioHost != "wss://audio" || s.Meeting.Endpoints.Signaling != "wss://signal" {
		t.Fatalf("unexpected endpoints: %+v", s.Meeting.Endpoints)
	}
}

func TestScanSession_WithoutMeeting(t *testing.T) {
	s, err := scanSession(sessionRow(sql.NullString{}, nil))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if s.Meeting != nil {
		t.Fatalf("expected no meeting handle, got %+v", s.Meeting)
	}
}

func TestScanSession_Errors(t *testing.T) {
	if _, err := scanSession(fakeRow{err: sql.ErrNoRows}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	row := sessionRow(sql.NullString{String: "m-1", Valid: true}, []byte(`{not json`))
	if _, err := scanSession(row); err == nil {
		t.Fatalf("expected decode error for bad media placement")
	}
}

func TestMeetingColumns(t *testing.T) {
	id, ext, region, placement, err := meetingColumns(Session{ID: "s1"})
	if err != nil || id != nil || ext != nil || region != nil || placement != nil {
		t.Fatalf("expected NULL meeting columns, got %v %v %v %v %v", id, ext, region, placement, err)
	}

	s, err := scanSession(sessionRow(sql.NullString{String: "m-1", Valid: true}, []byte(`{"audio_host_url":"wss://audio"}`)))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	id, _, _, placement, err = meetingColumns(s)
	if err != nil || id != "m-1" {
		t.Fatalf("unexpected meeting id %v: %v", id, err)
	}
	if b, ok := placement.([]byte); !ok || string(b) != `{"audio_host_url":"wss://audio"}` {
		t.Fatalf("unexpected placement %v", placement)
	}
}
