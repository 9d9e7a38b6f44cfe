package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/phoneagent/internal/audio"
	"github.com/ent0n29/phoneagent/internal/session"
)

// EventType identifies media-stream websocket payload variants.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventDTMF      EventType = "dtmf"
	EventStop      EventType = "stop"
	EventClear     EventType = "clear"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported stream event")
	// ErrValidationFailed marks malformed inbound signals.
	ErrValidationFailed = errors.New("validation failed")
)

type Envelope struct {
	Event EventType `json:"event"`
}

type Connected struct {
	Event    EventType `json:"event"`
	Protocol string    `json:"protocol"`
	Version  string    `json:"version"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartPayload struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

type Start struct {
	Event          EventType    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber"`
	StreamSID      string       `json:"streamSid"`
	Start          StartPayload `json:"start"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type Media struct {
	Event          EventType    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSID      string       `json:"streamSid"`
	Media          MediaPayload `json:"media"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type Mark struct {
	Event          EventType   `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSID      string      `json:"streamSid"`
	Mark           MarkPayload `json:"mark"`
}

type DTMF struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
	DTMF      struct {
		Track string `json:"track"`
		Digit string `json:"digit"`
	} `json:"dtmf"`
}

type Stop struct {
	Event          EventType `json:"event"`
	SequenceNumber string    `json:"sequenceNumber"`
	StreamSID      string    `json:"streamSid"`
	Stop           struct {
		AccountSID string `json:"accountSid"`
		CallSID    string `json:"callSid"`
	} `json:"stop"`
}

// Clear asks the transport to drop audio it has buffered but not yet played.
type Clear struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
}

// ParseStreamMessage decodes one inbound media-stream message into its typed variant.
func ParseStreamMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope: %v", ErrValidationFailed, err)
	}

	switch env.Event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		if msg.Start.CallSID == "" || msg.Start.StreamSID == "" {
			return nil, fmt.Errorf("%w: start without callSid/streamSid", ErrValidationFailed)
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		if msg.Media.Payload == "" {
			return nil, fmt.Errorf("%w: media without payload", ErrValidationFailed)
		}
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		return msg, nil
	case EventDTMF:
		var msg DTMF
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}

// StreamFormat returns the audio format announced in a start message.
func (s Start) StreamFormat() (audio.Format, error) {
	encoding := s.Start.MediaFormat.Encoding
	if encoding == "" {
		return audio.TelephonyFormat, nil
	}
	codec, err := audio.ParseCodec(encoding)
	if err != nil {
		return audio.Format{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	rate := s.Start.MediaFormat.SampleRate
	if rate <= 0 {
		rate = 8000
	}
	if ch := s.Start.MediaFormat.Channels; ch > 1 {
		return audio.Format{}, fmt.Errorf("%w: %d channels, want mono", ErrValidationFailed, ch)
	}
	return audio.Format{Codec: codec, SampleRate: rate}, nil
}

// CallStart converts the start message and its custom parameters into a lifecycle signal.
func (s Start) CallStart() (CallStart, error) {
	params := s.Start.CustomParameters
	direction, err := session.ParseDirection(strings.ToLower(params["direction"]))
	if err != nil {
		return CallStart{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	start := CallStart{
		CallID:    s.Start.CallSID,
		Direction: direction,
		From:      params["from"],
		To:        params["to"],
	}
	return start, start.Validate()
}

// Frame decodes the media payload into an inbound frame. The transport chunk counter is the
// sequence number; the media timestamp is milliseconds since stream start.
func (m Media) Frame(callID string, codec audio.Codec) (audio.Frame, error) {
	payload, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("%w: media payload: %v", ErrValidationFailed, err)
	}
	seq, err := parseCounter(m.Media.Chunk, m.SequenceNumber)
	if err != nil {
		return audio.Frame{}, err
	}
	var ts time.Duration
	if m.Media.Timestamp != "" {
		ms, err := strconv.ParseInt(m.Media.Timestamp, 10, 64)
		if err != nil {
			return audio.Frame{}, fmt.Errorf("%w: media timestamp %q", ErrValidationFailed, m.Media.Timestamp)
		}
		ts = time.Duration(ms) * time.Millisecond
	}
	return audio.Frame{
		CallID:    callID,
		Seq:       seq,
		Timestamp: ts,
		Codec:     codec,
		Payload:   payload,
	}, nil
}

func parseCounter(values ...string) (uint64, error) {
	for _, v := range values {
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: sequence %q", ErrValidationFailed, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: media without sequence", ErrValidationFailed)
}

// NewMedia builds an outbound media message for an encoded frame.
func NewMedia(streamSID string, frame audio.Frame) Media {
	return Media{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame.Payload)},
	}
}

func NewClear(streamSID string) Clear {
	return Clear{Event: EventClear, StreamSID: streamSID}
}

func NewMark(streamSID, name string) Mark {
	return Mark{Event: EventMark, StreamSID: streamSID, Mark: MarkPayload{Name: name}}
}
