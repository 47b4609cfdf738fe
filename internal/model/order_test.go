package model

import "testing"

func TestCanTransition_ForwardOnly(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusAwaitingEntry, StatusOpen, true},
		{StatusAwaitingEntry, StatusPartiallyFilled, true},
		{StatusAwaitingEntry, StatusRejected, true},
		{StatusAwaitingEntry, StatusFailed, true},
		{StatusAwaitingEntry, StatusCancelled, true},
		{StatusAwaitingEntry, StatusClosed, false}, // no shortcut past exit-pending
		{StatusOpen, StatusPartiallyFilled, true},
		{StatusPartiallyFilled, StatusOpen, true}, // fill deltas move both ways
		{StatusOpen, StatusExitTargetPending, true},
		{StatusOpen, StatusExitManualPending, true},
		{StatusRejected, StatusExitAtomicFailedPending, true},
		{StatusExitStoplossPending, StatusExitAtomicFailedPending, true},
		{StatusExitAtomicFailedPending, StatusClosed, true},
		{StatusExitManualPending, StatusCancelled, true},
		{StatusExitTargetPending, StatusOpen, false}, // no going back
		{StatusOpen, StatusAwaitingEntry, false},
		{StatusOpen, StatusOpen, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransition_TerminalIsAbsorbing(t *testing.T) {
	all := []Status{
		StatusAwaitingEntry, StatusOpen, StatusPartiallyFilled,
		StatusRejected, StatusFailed,
		StatusExitTargetPending, StatusExitStoplossPending,
		StatusExitReversalPending, StatusExitEODPending,
		StatusExitExpiryPending, StatusExitManualPending,
		StatusExitAtomicFailedPending,
		StatusClosed, StatusCancelled,
	}
	for _, term := range []Status{StatusClosed, StatusCancelled} {
		for _, to := range all {
			if CanTransition(term, to) {
				t.Errorf("terminal %s must not transition to %s", term, to)
			}
		}
	}
}

func TestStatusFamilies(t *testing.T) {
	if !StatusOpen.IsOpenFamily() || !StatusPartiallyFilled.IsOpenFamily() || !StatusAwaitingEntry.IsOpenFamily() {
		t.Error("entry-phase statuses must be open-family")
	}
	if StatusExitEODPending.IsOpenFamily() {
		t.Error("exit-pending is not open-family")
	}
	if !StatusExitAtomicFailedPending.IsExitPending() {
		t.Error("EXIT_ATOMIC_FAILED_PENDING must be exit-pending")
	}
	if StatusClosed.IsExitPending() || !StatusClosed.IsTerminal() {
		t.Error("CLOSED must be terminal, not exit-pending")
	}
}
