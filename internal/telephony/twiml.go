package telephony

import (
	"sort"

	"github.com/twilio/twilio-go/twiml"
)

// StreamResponse answers a voice webhook by connecting the call to a bidirectional media
// stream. params become Stream custom parameters and arrive with the start message.
func StreamResponse(streamURL string, params map[string]string) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inner := make([]twiml.Element, 0, len(keys))
	for _, k := range keys {
		if params[k] == "" {
			continue
		}
		inner = append(inner, &twiml.VoiceParameter{Name: k, Value: params[k]})
	}
	stream := &twiml.VoiceStream{Url: streamURL, InnerElements: inner}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}

// BusyResponse rejects a call that cannot be admitted.
func BusyResponse() (string, error) {
	return twiml.Voice([]twiml.Element{&twiml.VoiceReject{Reason: "busy"}})
}

// TransferResponse redirects a live call to number.
func TransferResponse(number string) (string, error) {
	return twiml.Voice([]twiml.Element{&twiml.VoiceDial{Number: number}})
}

// SayResponse speaks message to the caller and hangs up.
func SayResponse(message string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: message},
		&twiml.VoiceHangup{},
	})
}
