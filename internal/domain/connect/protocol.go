package connect

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// Phase is the connection state of a session.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	ReconnectWait
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case ReconnectWait:
		return "RECONNECT_WAIT"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Commands sent to the receiver
const (
	cmdStartSession    = "startSession"
	cmdPlay            = "play"
	cmdPause           = "pause"
	cmdStop            = "stop"
	cmdNext            = "next"
	cmdPrevious        = "previous"
	cmdSeek            = "seek"
	cmdSelectQueueItem = "selectQueueItem"
	cmdLoadCloudQueue  = "loadCloudQueue"
	cmdRefreshQueue    = "refreshQueue"
)

type notificationKind int

const (
	kindUnknown notificationKind = iota
	kindSessionStarted
	kindSessionEnded
	kindSessionError
	kindRequestResult
	kindDeviceStatusChanged
	kindQueueChanged
	kindQueueItemsChanged
	kindMediaChanged
	kindPlayerStatusChanged
	kindReceiverError
)

var notificationKinds = map[string]notificationKind{
	"notifySessionStarted":      kindSessionStarted,
	"notifySessionEnded":        kindSessionEnded,
	"notifySessionError":        kindSessionError,
	"notifyRequestResult":       kindRequestResult,
	"notifyDeviceStatusChanged": kindDeviceStatusChanged,
	"notifyQueueChanged":        kindQueueChanged,
	"notifyQueueItemsChanged":   kindQueueItemsChanged,
	"notifyMediaChanged":        kindMediaChanged,
	"notifyPlayerStatusChanged": kindPlayerStatusChanged,
}

// classify maps a command name to its kind. Names ending in "Error" that are
// not otherwise known are receiver-side errors.
func classify(command string) notificationKind {
	if kind, ok := notificationKinds[command]; ok {
		return kind
	}
	if strings.HasSuffix(command, "Error") {
		return kindReceiverError
	}
	return kindUnknown
}

// notification is an inbound frame. Only the fields the session reads are decoded.
type notification struct {
	Command   string     `json:"command"`
	SessionID catalog.ID `json:"sessionId"`
	Volume    *struct {
		Level *float64 `json:"level"`
		Mute  bool     `json:"mute"`
	} `json:"volume"`
	QueueInfo struct {
		QueueID string `json:"queueId"`
	} `json:"queueInfo"`
	MediaInfo struct {
		MediaID catalog.ID `json:"mediaId"`
	} `json:"mediaInfo"`
	PlayerState string  `json:"playerState"`
	Progress    float64 `json:"progress"`
	Duration    float64 `json:"duration"`
}

func (n notification) volume() Volume {
	v := Volume{Mute: n.Volume.Mute}
	if n.Volume.Level != nil {
		level := int(*n.Volume.Level)
		v.Level = &level
	}
	return v
}

type startSession struct {
	AppID             string `json:"appId"`
	AppName           string `json:"appName"`
	SessionCredential string `json:"sessionCredential"`
}

type seek struct {
	Position int64 `json:"position"`
}

// encodeCommand merges command and requestId into the payload object.
func encodeCommand(command string, requestID int64, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", command, err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%s payload is not an object: %w", command, err)
		}
	}

	name, _ := json.Marshal(command)
	fields["command"] = name
	fields["requestId"] = json.RawMessage(fmt.Sprint(requestID))
	return json.Marshal(fields)
}
