package entity

import "testing"

func TestJobStateCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobState
		to   JobState
		want bool
	}{
		{"queued to started", JobStateQueued, JobStateStarted, true},
		{"queued to failed on precondition", JobStateQueued, JobStateFailed, true},
		{"queued to revoked", JobStateQueued, JobStateRevoked, true},
		{"queued skips to in_progress", JobStateQueued, JobStateInProgress, false},
		{"queued skips to succeeded", JobStateQueued, JobStateSucceeded, false},
		{"started to in_progress", JobStateStarted, JobStateInProgress, true},
		{"started to failed", JobStateStarted, JobStateFailed, true},
		{"started to revoked", JobStateStarted, JobStateRevoked, true},
		{"started skips to succeeded", JobStateStarted, JobStateSucceeded, false},
		{"started back to queued", JobStateStarted, JobStateQueued, false},
		{"in_progress repeats", JobStateInProgress, JobStateInProgress, true},
		{"in_progress to succeeded", JobStateInProgress, JobStateSucceeded, true},
		{"in_progress to failed", JobStateInProgress, JobStateFailed, true},
		{"in_progress to revoked", JobStateInProgress, JobStateRevoked, true},
		{"in_progress back to started", JobStateInProgress, JobStateStarted, false},
		{"succeeded is closed", JobStateSucceeded, JobStateFailed, false},
		{"succeeded cannot restart", JobStateSucceeded, JobStateQueued, false},
		{"failed is closed", JobStateFailed, JobStateSucceeded, false},
		{"revoked is closed", JobStateRevoked, JobStateStarted, false},
		{"unknown state goes nowhere", JobState("paused"), JobStateStarted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobStateTerminal(t *testing.T) {
	terminal := []JobState{JobStateSucceeded, JobStateFailed, JobStateRevoked}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	open := []JobState{JobStateQueued, JobStateStarted, JobStateInProgress}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestJobStateValid(t *testing.T) {
	for _, s := range []JobState{
		JobStateQueued, JobStateStarted, JobStateInProgress,
		JobStateSucceeded, JobStateFailed, JobStateRevoked,
	} {
		if !s.Valid() {
			t.Errorf("%s.Valid() = false, want true", s)
		}
	}

	if JobState("pending").Valid() {
		t.Error(`JobState("pending").Valid() = true, want false`)
	}
	if JobState("").Valid() {
		t.Error(`JobState("").Valid() = true, want false`)
	}
}
