package connect

import (
	"encoding/json"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		command string
		want    notificationKind
	}{
		{"notifySessionStarted", kindSessionStarted},
		{"notifySessionEnded", kindSessionEnded},
		{"notifySessionError", kindSessionError},
		{"notifyRequestResult", kindRequestResult},
		{"notifyDeviceStatusChanged", kindDeviceStatusChanged},
		{"notifyQueueChanged", kindQueueChanged},
		{"notifyQueueItemsChanged", kindQueueItemsChanged},
		{"notifyMediaChanged", kindMediaChanged},
		{"notifyPlayerStatusChanged", kindPlayerStatusChanged},
		{"notifyLoadCloudQueueError", kindReceiverError},
		{"error", kindUnknown},
		{"notifySomethingElse", kindUnknown},
		{"", kindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := classify(tt.command); got != tt.want {
				t.Errorf("classify(%q) = %d, want %d", tt.command, got, tt.want)
			}
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	data, err := encodeCommand("seek", 7, seek{Position: 3000})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if msg["command"] != "seek" || msg["requestId"] != float64(7) || msg["position"] != float64(3000) {
		t.Errorf("unexpected message %v", msg)
	}

	data, err = encodeCommand("play", 0, nil)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(data) != `{"command":"play","requestId":0}` {
		t.Errorf("unexpected message %s", data)
	}

	if _, err := encodeCommand("bad", 1, []int{1}); err == nil {
		t.Error("expected error for a non-object payload")
	}
}

func TestPhase_String(t *testing.T) {
	if Connected.String() != "CONNECTED" || ReconnectWait.String() != "RECONNECT_WAIT" {
		t.Errorf("unexpected names %s %s", Connected, ReconnectWait)
	}
}

func TestStatus_CloneIsIndependent(t *testing.T) {
	s := stoppedStatus()
	level := 10
	s.Volume.Level = &level
	s.Tracks = append(s.Tracks, mirrorOf("q", tracksWithIDs("1")).Tracks...)

	c := s.clone()
	*c.Volume.Level = 99
	c.Tracks[0].Item.Title = "changed"

	if *s.Volume.Level != 10 || s.Tracks[0].Item.Title == "changed" {
		t.Error("clone shares state with the original")
	}
}
