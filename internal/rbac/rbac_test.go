package rbac

import (
	"testing"

	"quorum/api/internal/resolution"
)

func snapshot(status resolution.Status) resolution.Snapshot {
	return resolution.Snapshot{
		ID:              "res-1",
		Status:          status,
		Kind:            resolution.KindOperational,
		CreatorID:       "creator",
		CreatorPosition: resolution.PositionSecretariatExpert,
		ExecutorID:      "executor",
		CoworkerIDs:     []string{"coworker"},
		InformUnitIDs:   []string{"informunit"},
		ParticipantIDs:  []string{"participant"},
	}
}

func TestCanChat(t *testing.T) {
	cases := []struct {
		name   string
		status resolution.Status
		actor  resolution.Actor
		allow  bool
	}{
		{name: "secretary during ceo review", status: resolution.StatusPendingCEO, actor: resolution.Actor{ID: "sec", Position: resolution.PositionSecretary}, allow: true},
		{name: "auditor during notified", status: resolution.StatusNotified, actor: resolution.Actor{ID: "aud", Position: resolution.PositionAuditor}, allow: true},
		{name: "executor during notified", status: resolution.StatusNotified, actor: resolution.Actor{ID: "executor", Position: resolution.PositionEmployee}, allow: true},
		{name: "coworker during notified", status: resolution.StatusNotified, actor: resolution.Actor{ID: "coworker", Position: resolution.PositionEmployee}, allow: false},
		{name: "secretary locked out in progress", status: resolution.StatusInProgress, actor: resolution.Actor{ID: "sec", Position: resolution.PositionSecretary}, allow: false},
		{name: "coworker in progress", status: resolution.StatusInProgress, actor: resolution.Actor{ID: "coworker", Position: resolution.PositionEmployee}, allow: true},
		{name: "inform unit in progress", status: resolution.StatusInProgress, actor: resolution.Actor{ID: "informunit", Position: resolution.PositionHead}, allow: true},
		{name: "participant after completion", status: resolution.StatusCompleted, actor: resolution.Actor{ID: "participant", Position: resolution.PositionEmployee}, allow: true},
		{name: "auditor in progress", status: resolution.StatusInProgress, actor: resolution.Actor{ID: "aud", Position: resolution.PositionAuditor}, allow: true},
		{name: "stranger in progress", status: resolution.StatusInProgress, actor: resolution.Actor{ID: "stranger", Position: resolution.PositionEmployee}, allow: false},
		{name: "creator before secretary approval", status: resolution.StatusPendingSecretary, actor: resolution.Actor{ID: "creator", Position: resolution.PositionSecretariatExpert}, allow: true},
		{name: "ceo before secretary approval", status: resolution.StatusPendingSecretary, actor: resolution.Actor{ID: "boss", Position: resolution.PositionCEO}, allow: true},
		{name: "auditor before secretary approval", status: resolution.StatusPendingSecretary, actor: resolution.Actor{ID: "aud", Position: resolution.PositionAuditor}, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanChat(tc.actor, snapshot(tc.status)); got != tc.allow {
				t.Fatalf("CanChat(%+v, %s) = %v, want %v", tc.actor, tc.status, got, tc.allow)
			}
		})
	}
}

func TestCanEdit(t *testing.T) {
	cases := []struct {
		name   string
		status resolution.Status
		actor  resolution.Actor
		allow  bool
	}{
		{name: "secretary any status", status: resolution.StatusCompleted, actor: resolution.Actor{ID: "sec", Position: resolution.PositionSecretary}, allow: true},
		{name: "ceo while pending", status: resolution.StatusPendingCEO, actor: resolution.Actor{ID: "boss", Position: resolution.PositionCEO}, allow: true},
		{name: "ceo while returned", status: resolution.StatusReturnedToSecretary, actor: resolution.Actor{ID: "boss", Position: resolution.PositionCEO}, allow: true},
		{name: "ceo after notify", status: resolution.StatusNotified, actor: resolution.Actor{ID: "boss", Position: resolution.PositionCEO}, allow: false},
		{name: "auditor never", status: resolution.StatusPendingCEO, actor: resolution.Actor{ID: "aud", Position: resolution.PositionAuditor}, allow: false},
		{name: "executor never", status: resolution.StatusInProgress, actor: resolution.Actor{ID: "executor", Position: resolution.PositionEmployee}, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanEdit(tc.actor, snapshot(tc.status)); got != tc.allow {
				t.Fatalf("CanEdit(%+v, %s) = %v, want %v", tc.actor, tc.status, got, tc.allow)
			}
		})
	}
}

func TestCanPostProgress(t *testing.T) {
	snap := snapshot(resolution.StatusInProgress)

	if CanPostProgress(resolution.Actor{ID: "aud", Position: resolution.PositionAuditor}, snap) {
		t.Fatal("auditor must not post progress")
	}
	if !CanPostProgress(resolution.Actor{ID: "executor", Position: resolution.PositionEmployee}, snap) {
		t.Fatal("executor should post progress while in progress")
	}
	done := snapshot(resolution.StatusCompleted)
	if CanPostProgress(resolution.Actor{ID: "executor", Position: resolution.PositionEmployee}, done) {
		t.Fatal("progress is closed once completed")
	}
	waiting := snapshot(resolution.StatusNotified)
	if CanPostProgress(resolution.Actor{ID: "executor", Position: resolution.PositionEmployee}, waiting) {
		t.Fatal("progress must wait for the executor to accept")
	}
}

func TestCanRefer(t *testing.T) {
	snap := snapshot(resolution.StatusInProgress)
	if !CanRefer(resolution.Actor{ID: "coworker", Position: resolution.PositionEmployee}, snap) {
		t.Fatal("coworker should refer")
	}
	if CanRefer(resolution.Actor{ID: "participant", Position: resolution.PositionEmployee}, snap) {
		t.Fatal("participant must not refer")
	}
}
