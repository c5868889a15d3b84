package services

import (
	"testing"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"workledger/go-backend/internal/models"
)

func TestParseSnapshots(t *testing.T) {
	first := uuid.New()
	second := uuid.New()

	resp, err := structpb.NewStruct(map[string]any{
		"snapshots": []any{
			map[string]any{"user_id": first.String(), "status": "Away"},
			map[string]any{"user_id": second.String(), "status": ""},
			map[string]any{"user_id": "not-a-uuid", "status": "Busy"},
		},
	})
	if err != nil {
		t.Fatalf("build response: %v", err)
	}

	snapshots, err := parseSnapshots(resp)
	if err != nil {
		t.Fatalf("parseSnapshots() error = %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2 (bad uuid skipped)", len(snapshots))
	}
	if snapshots[0].UserID != first || snapshots[0].Status != models.PresenceAway {
		t.Errorf("first snapshot = %+v", snapshots[0])
	}
	if snapshots[1].Status != models.PresenceUnknown {
		t.Errorf("empty status = %v, want %v", snapshots[1].Status, models.PresenceUnknown)
	}
}

func TestParseSnapshotsMissingField(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]any{})
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	snapshots, err := parseSnapshots(resp)
	if err != nil {
		t.Fatalf("parseSnapshots() error = %v", err)
	}
	if snapshots != nil {
		t.Errorf("snapshots = %v, want nil", snapshots)
	}
}
