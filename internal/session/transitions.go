package session

// Op is a lifecycle operation checked against the transition table.
type Op string

const (
	OpStart    Op = "start"
	OpJoin     Op = "join"
	OpActivate Op = "activate"
	OpLeave    Op = "leave"
	OpEnd      Op = "end"
	OpCancel   Op = "cancel"
	OpNoShow   Op = "mark no-show"
	OpAnnotate Op = "annotate"
)

// transitions is the complete lifecycle table. A missing (status, op) pair is a rejection.
var transitions = map[Status]map[Op]Status{
	StatusScheduled: {
		OpStart:    StatusWaiting,
		OpJoin:     StatusScheduled,
		OpActivate: StatusActive,
		OpLeave:    StatusScheduled,
		OpEnd:      StatusCompleted,
		OpCancel:   StatusCancelled,
		OpNoShow:   StatusNoShow,
		OpAnnotate: StatusScheduled,
	},
	StatusWaiting: {
		OpStart:    StatusWaiting,
		OpJoin:     StatusWaiting,
		OpActivate: StatusActive,
		OpLeave:    StatusWaiting,
		OpEnd:      StatusCompleted,
		OpCancel:   StatusCancelled,
		OpNoShow:   StatusNoShow,
		OpAnnotate: StatusWaiting,
	},
	StatusActive: {
		OpStart:    StatusActive,
		OpJoin:     StatusActive,
		OpActivate: StatusActive,
		OpLeave:    StatusActive,
		OpEnd:      StatusCompleted,
		OpCancel:   StatusCancelled,
		OpAnnotate: StatusActive,
	},
	StatusCompleted: {
		OpLeave:    StatusCompleted,
		OpAnnotate: StatusCompleted,
	},
	StatusCancelled: {
		OpLeave: StatusCancelled,
	},
	StatusNoShow: {
		OpLeave: StatusNoShow,
	},
}

// Next returns the status that results from applying op in current, or ErrInvalidState.
func Next(current Status, op Op) (Status, error) {
	if to, ok := transitions[current][op]; ok {
		return to, nil
	}
	return "", invalidState(current, op)
}

// Allowed is Next without the resulting status.
func Allowed(current Status, op Op) bool {
	_, err := Next(current, op)
	return err == nil
}
