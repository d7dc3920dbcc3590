package domain

import (
	"testing"
	"time"
)

func TestOperationStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status OperationStatus
		want   bool
	}{
		{OperationStatusRunning, false},
		{OperationStatusCompleted, true},
		{OperationStatusFailed, true},
		{OperationStatusStale, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidOperationStatus(t *testing.T) {
	if !ValidOperationStatus(OperationStatusRunning) {
		t.Error("running should be valid")
	}
	if ValidOperationStatus(OperationStatus("done")) {
		t.Error("unknown status should be invalid")
	}
}

func TestNotificationEvent_EventTime(t *testing.T) {
	sent := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	received := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)

	withSent := NotificationEvent{SentOn: &sent, ReceivedOn: received}
	if got := withSent.EventTime(); !got.Equal(sent) {
		t.Errorf("EventTime() = %v, want sent time %v", got, sent)
	}

	withoutSent := NotificationEvent{ReceivedOn: received}
	if got := withoutSent.EventTime(); !got.Equal(received) {
		t.Errorf("EventTime() = %v, want received time %v", got, received)
	}
}
