package voice

import (
	"fmt"
	"time"

	"github.com/ent0n29/phoneagent/internal/audio"
)

// EndpointerConfig tunes voice activity detection and utterance boundaries.
type EndpointerConfig struct {
	// EnergyThreshold is the RMS level above which a frame counts as voiced.
	EnergyThreshold float64
	// WindowFrames is the size of the sliding vote window.
	WindowFrames int
	// StartFrames is how many voiced frames in the window start an utterance.
	StartFrames int
	PreRoll     time.Duration
	// Hangover is the trailing silence that ends an utterance.
	Hangover     time.Duration
	MaxUtterance time.Duration
	// BargeInFrames consecutive frames above BargeInThreshold interrupt the agent.
	BargeInFrames    int
	BargeInThreshold float64
}

func DefaultEndpointerConfig() EndpointerConfig {
	return EndpointerConfig{
		EnergyThreshold:  500,
		WindowFrames:     10,
		StartFrames:      6,
		PreRoll:          300 * time.Millisecond,
		Hangover:         700 * time.Millisecond,
		MaxUtterance:     15 * time.Second,
		BargeInFrames:    8,
		BargeInThreshold: 1200,
	}
}

func (c EndpointerConfig) withDefaults() EndpointerConfig {
	d := DefaultEndpointerConfig()
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = d.EnergyThreshold
	}
	if c.WindowFrames <= 0 {
		c.WindowFrames = d.WindowFrames
	}
	if c.StartFrames <= 0 || c.StartFrames > c.WindowFrames {
		c.StartFrames = (c.WindowFrames + 1) / 2
	}
	if c.PreRoll < 0 {
		c.PreRoll = 0
	}
	if c.Hangover <= 0 {
		c.Hangover = d.Hangover
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = d.MaxUtterance
	}
	if c.BargeInFrames <= 0 {
		c.BargeInFrames = d.BargeInFrames
	}
	if c.BargeInThreshold <= 0 {
		c.BargeInThreshold = c.EnergyThreshold
	}
	return c
}

// Mode selects how the Endpointer treats voiced audio.
type Mode int

const (
	// ModeListen assembles utterances.
	ModeListen Mode = iota
	// ModeBargeIn watches for the caller talking over the agent.
	ModeBargeIn
	// ModeMute only tracks sequence numbers and pre-roll.
	ModeMute
)

func (m Mode) String() string {
	switch m {
	case ModeListen:
		return "listen"
	case ModeBargeIn:
		return "barge_in"
	case ModeMute:
		return "mute"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type EndpointEventKind int

const (
	EventSpeechStart EndpointEventKind = iota + 1
	EventEndpoint
	EventBargeIn
)

type EndpointEvent struct {
	Kind EndpointEventKind
	// Utterance is set for EventEndpoint.
	Utterance *Utterance
}

// Endpointer turns a per-call stream of inbound frames into utterances and barge-in signals.
// It is owned by one call's controller and is not safe for concurrent use.
type Endpointer struct {
	cfg      EndpointerConfig
	callID   string
	format   audio.Format
	decoders map[audio.Codec]audio.Decoder
	mode     Mode

	lastSeq uint64
	haveSeq bool

	window      []bool
	windowPos   int
	windowVoice int

	preroll    [][]int16
	prerollCap int

	inUtterance bool
	buffer      []int16
	frames      int
	startedAt   time.Duration
	silence     time.Duration
	bargeRun    int
}

func NewEndpointer(callID string, format audio.Format, cfg EndpointerConfig) *Endpointer {
	cfg = cfg.withDefaults()
	if format.SampleRate <= 0 {
		format = audio.TelephonyFormat
	}
	prerollCap := int(cfg.PreRoll / audio.FrameDuration)
	if prerollCap < cfg.BargeInFrames {
		prerollCap = cfg.BargeInFrames
	}
	return &Endpointer{
		cfg:        cfg,
		callID:     callID,
		format:     format,
		decoders:   make(map[audio.Codec]audio.Decoder),
		window:     make([]bool, cfg.WindowFrames),
		prerollCap: prerollCap,
	}
}

func (e *Endpointer) Mode() Mode { return e.mode }

// SetMode switches behaviour. Leaving ModeListen discards a partially assembled utterance.
func (e *Endpointer) SetMode(m Mode) {
	if m == e.mode {
		return
	}
	if m != ModeListen {
		e.resetUtterance()
	}
	e.bargeRun = 0
	e.mode = m
}

// InUtterance reports whether caller speech is being assembled.
func (e *Endpointer) InUtterance() bool { return e.inUtterance }

// Reset clears all buffered audio.
func (e *Endpointer) Reset() {
	e.resetUtterance()
	e.preroll = nil
	e.bargeRun = 0
	for i := range e.window {
		e.window[i] = false
	}
	e.windowVoice = 0
}

// Push feeds one frame. Frames whose sequence number is not greater than the last accepted one
// are rejected with ErrStaleFrame and leave all state untouched.
func (e *Endpointer) Push(f audio.Frame) ([]EndpointEvent, error) {
	if e.haveSeq && f.Seq <= e.lastSeq {
		return nil, fmt.Errorf("%w: seq %d after %d", ErrStaleFrame, f.Seq, e.lastSeq)
	}
	pcm, err := e.decode(f)
	if err != nil {
		return nil, err
	}
	e.lastSeq = f.Seq
	e.haveSeq = true

	energy := audio.RMS(pcm)
	voiced := energy >= e.cfg.EnergyThreshold
	e.vote(voiced)

	switch e.mode {
	case ModeMute:
		e.pushPreroll(pcm)
		return nil, nil
	case ModeBargeIn:
		return e.pushBargeIn(f, pcm, energy), nil
	default:
		return e.pushListen(f, pcm, voiced), nil
	}
}

func (e *Endpointer) pushListen(f audio.Frame, pcm []int16, voiced bool) []EndpointEvent {
	if !e.inUtterance {
		e.pushPreroll(pcm)
		if e.windowVoice < e.cfg.StartFrames {
			return nil
		}
		e.startUtterance(f.Timestamp)
		return []EndpointEvent{{Kind: EventSpeechStart}}
	}

	e.buffer = append(e.buffer, pcm...)
	e.frames++
	if voiced {
		e.silence = 0
	} else {
		e.silence += audio.FrameDuration
	}

	switch {
	case e.silence >= e.cfg.Hangover:
		return []EndpointEvent{e.endpoint(false)}
	case audio.DurationOf(len(e.buffer), e.format.SampleRate) >= e.cfg.MaxUtterance:
		return []EndpointEvent{e.endpoint(true)}
	}
	return nil
}

func (e *Endpointer) pushBargeIn(f audio.Frame, pcm []int16, energy float64) []EndpointEvent {
	e.pushPreroll(pcm)
	if energy >= e.cfg.BargeInThreshold {
		e.bargeRun++
	} else {
		e.bargeRun = 0
	}
	if e.bargeRun < e.cfg.BargeInFrames {
		return nil
	}
	e.bargeRun = 0
	e.mode = ModeListen
	e.startUtterance(f.Timestamp)
	return []EndpointEvent{{Kind: EventBargeIn}, {Kind: EventSpeechStart}}
}

// startUtterance seeds the buffer with the pre-roll, which already holds the current frame.
func (e *Endpointer) startUtterance(now time.Duration) {
	e.inUtterance = true
	e.buffer = e.buffer[:0]
	for _, p := range e.preroll {
		e.buffer = append(e.buffer, p...)
	}
	e.frames = len(e.preroll)
	e.startedAt = now - time.Duration(len(e.preroll)-1)*audio.FrameDuration
	if e.startedAt < 0 {
		e.startedAt = 0
	}
	e.preroll = nil
	e.silence = 0
}

func (e *Endpointer) endpoint(truncated bool) EndpointEvent {
	u := &Utterance{
		CallID:     e.callID,
		PCM:        append([]int16(nil), e.buffer...),
		SampleRate: e.format.SampleRate,
		Frames:     e.frames,
		StartedAt:  e.startedAt,
		Truncated:  truncated,
	}
	e.resetUtterance()
	return EndpointEvent{Kind: EventEndpoint, Utterance: u}
}

func (e *Endpointer) resetUtterance() {
	e.inUtterance = false
	e.buffer = nil
	e.frames = 0
	e.silence = 0
}

func (e *Endpointer) pushPreroll(pcm []int16) {
	if e.prerollCap == 0 {
		return
	}
	if len(e.preroll) == e.prerollCap {
		copy(e.preroll, e.preroll[1:])
		e.preroll = e.preroll[:len(e.preroll)-1]
	}
	e.preroll = append(e.preroll, pcm)
}

func (e *Endpointer) vote(voiced bool) {
	if e.window[e.windowPos] {
		e.windowVoice--
	}
	e.window[e.windowPos] = voiced
	if voiced {
		e.windowVoice++
	}
	e.windowPos = (e.windowPos + 1) % len(e.window)
}

func (e *Endpointer) decode(f audio.Frame) ([]int16, error) {
	codec := f.Codec
	if codec == "" {
		codec = e.format.Codec
	}
	dec, ok := e.decoders[codec]
	if !ok {
		var err error
		dec, err = audio.NewDecoder(audio.Format{Codec: codec, SampleRate: e.format.SampleRate})
		if err != nil {
			return nil, err
		}
		e.decoders[codec] = dec
	}
	pcm, err := dec.Decode(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", f.Seq, err)
	}
	return pcm, nil
}
