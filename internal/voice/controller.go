package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ent0n29/phoneagent/internal/audio"
	"github.com/ent0n29/phoneagent/internal/calllog"
	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/persona"
	"github.com/ent0n29/phoneagent/internal/protocol"
	"github.com/ent0n29/phoneagent/internal/reasoning"
	"github.com/ent0n29/phoneagent/internal/session"
)

// Responder produces the agent's answer for a transcript. It must not fail; see
// reasoning.Orchestrator.
type Responder interface {
	Respond(ctx context.Context, callID string, history []session.TurnRecord, transcript string) reasoning.Result
}

// CallLog receives the call transcript. Implementations must not block.
type CallLog interface {
	TurnRecorded(callID string, rec session.TurnRecord)
	CallFinished(summary calllog.Summary)
}

type ControllerConfig struct {
	// Format is the codec and rate of the call's audio in both directions.
	Format         audio.Format
	Endpointer     EndpointerConfig
	Persona        persona.Persona
	TransferNumber string
	// Pace sends outbound frames in real time instead of as fast as they are produced.
	Pace    bool
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type ControllerDeps struct {
	Registry    *session.Registry
	Transcriber Transcriber
	Responder   Responder
	Streamer    *Streamer
	Transport   Transport
	CallLog     CallLog
}

type taskKind string

const (
	taskTranscribe taskKind = "transcribe"
	taskReason     taskKind = "reason"
	taskSpeak      taskKind = "speak"
)

// activeTask is the single in-flight stage of a call.
type activeTask struct {
	id     uint64
	kind   taskKind
	cancel context.CancelFunc
	done   chan struct{}
	// text is the agent line being spoken, for partial turn records.
	text string
}

type taskEvent struct {
	id         uint64
	kind       taskKind
	transcript Transcript
	result     reasoning.Result
	spoken     speakOutcome
	err        error
}

type speakOutcome struct {
	text     string
	action   reasoning.Action
	frames   int
	fellBack bool
}

// paceLead is how far ahead of real time paced audio may run.
const paceLead = 100 * time.Millisecond

// Controller runs the turn-taking state machine of one call. All session mutations happen on
// the goroutine that calls Run.
type Controller struct {
	sess   *session.Session
	deps   ControllerDeps
	cfg    ControllerConfig
	logger *slog.Logger

	endpointer *Endpointer
	task       *activeTask
	nextTaskID uint64
	taskEvents chan taskEvent
	endCh      chan string
	outSeq     atomic.Uint64

	// endpointAt is when the current caller utterance ended.
	endpointAt time.Time
}

func NewController(sess *session.Session, deps ControllerDeps, cfg ControllerConfig) *Controller {
	if cfg.Format.SampleRate <= 0 {
		cfg.Format = audio.TelephonyFormat
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		sess:       sess,
		deps:       deps,
		cfg:        cfg,
		logger:     logger.With("call_id", sess.ID()),
		endpointer: NewEndpointer(sess.ID(), cfg.Format, cfg.Endpointer),
		taskEvents: make(chan taskEvent, 4),
		endCh:      make(chan string, 1),
	}
}

// End asks the controller to finish the call. Only the first reason is kept.
func (c *Controller) End(reason string) {
	select {
	case c.endCh <- reason:
	default:
	}
}

// Run drives the call until it ends and returns the end reason. A closed frames channel means
// the transport went away.
func (c *Controller) Run(ctx context.Context, frames <-chan audio.Frame) string {
	c.logger.Info("call controller started", "direction", c.sess.Direction())
	if greeting := c.cfg.Persona.Greeting; greeting != "" {
		if c.transition(session.StateSpeaking) {
			c.startSpeaking(ctx, greeting, reasoning.ActionContinue)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return c.finish(protocol.EndReasonShutdown)
		case reason := <-c.endCh:
			return c.finish(reason)
		case f, ok := <-frames:
			if !ok {
				select {
				case reason := <-c.endCh:
					return c.finish(reason)
				default:
					return c.finish(protocol.EndReasonDisconnect)
				}
			}
			c.onFrame(ctx, f)
		case ev := <-c.taskEvents:
			if reason, ended := c.onTaskEvent(ctx, ev); ended {
				return reason
			}
		}
	}
}

func (c *Controller) onFrame(ctx context.Context, f audio.Frame) {
	c.sess.Touch()
	events, err := c.endpointer.Push(f)
	if err != nil {
		reason := "decode"
		if errors.Is(err, ErrStaleFrame) {
			reason = "stale"
		}
		c.cfg.Metrics.DroppedFrame(reason)
		c.logger.Debug("inbound frame dropped", "seq", f.Seq, "error", err)
		return
	}
	for _, ev := range events {
		switch ev.Kind {
		case EventBargeIn:
			c.bargeIn()
		case EventSpeechStart:
			if c.sess.State() == session.StateIdle {
				c.transition(session.StateListening)
			}
		case EventEndpoint:
			c.onEndpoint(ctx, ev.Utterance)
		}
	}
}

func (c *Controller) onEndpoint(ctx context.Context, u *Utterance) {
	if !c.transition(session.StateTranscribing) {
		return
	}
	c.endpointAt = time.Now()
	c.endpointer.SetMode(ModeMute)
	c.logger.Debug("utterance endpointed", "duration", u.Duration(), "truncated", u.Truncated)
	c.startTask(ctx, taskTranscribe, "", func(ctx context.Context) taskEvent {
		tr, err := c.deps.Transcriber.Transcribe(ctx, *u)
		return taskEvent{transcript: tr, err: err}
	})
}

// bargeIn stops the agent mid-turn. The task is cancelled and joined before the far end is
// cleared, so no agent frame can follow the clear.
func (c *Controller) bargeIn() {
	state := c.sess.State()
	if state != session.StateSpeaking && state != session.StateReasoning {
		return
	}
	if t := c.cancelTask(); t != nil && t.kind == taskSpeak {
		c.recordTurn(session.TurnRecord{Speaker: session.SpeakerAgent, Text: t.text, Partial: true})
	}
	if err := c.deps.Transport.Clear(); err != nil {
		c.logger.Warn("clear outbound audio failed", "error", err)
	}
	c.sess.RecordInterruption()
	c.cfg.Metrics.BargeIn()
	c.transition(session.StateListening)
	c.logger.Info("caller barged in", "state", state)
}

func (c *Controller) onTaskEvent(ctx context.Context, ev taskEvent) (string, bool) {
	if c.task == nil || ev.id != c.task.id {
		return "", false
	}
	c.task = nil

	switch ev.kind {
	case taskTranscribe:
		c.onTranscript(ctx, ev.transcript, ev.err)
	case taskReason:
		c.onResponse(ctx, ev.result)
	case taskSpeak:
		return c.onSpoken(ctx, ev.spoken, ev.err)
	}
	return "", false
}

func (c *Controller) onTranscript(ctx context.Context, tr Transcript, err error) {
	if err != nil {
		c.logger.Warn("transcription failed", "error", err)
		if c.transition(session.StateSpeaking) {
			c.startSpeaking(ctx, c.cfg.Persona.Phrases.Apology, reasoning.ActionContinue)
		}
		return
	}
	if tr.Text == "" {
		c.logger.Debug("empty transcript; back to idle")
		if c.transition(session.StateIdle) {
			c.endpointer.SetMode(ModeListen)
		}
		return
	}

	history := c.sess.History()
	c.recordTurn(session.TurnRecord{Speaker: session.SpeakerCaller, Text: tr.Text, Confidence: tr.Confidence})
	if !c.transition(session.StateReasoning) {
		return
	}
	c.endpointer.SetMode(ModeBargeIn)
	c.logger.Info("caller turn", "text_len", len(tr.Text), "confidence", tr.Confidence, "transcriber", tr.Provider)

	transcript := tr.Text
	c.startTask(ctx, taskReason, "", func(ctx context.Context) taskEvent {
		return taskEvent{result: c.deps.Responder.Respond(ctx, c.sess.ID(), history, transcript)}
	})
}

func (c *Controller) onResponse(ctx context.Context, res reasoning.Result) {
	if res.Cancelled {
		return
	}
	if res.Fallback {
		c.logger.Warn("reasoning fell back", "elapsed", res.Elapsed, "error", res.Err)
	} else {
		c.logger.Info("agent response ready", "provider", res.Provider, "elapsed", res.Elapsed, "tool_calls", res.ToolCalls, "action", res.Action)
	}
	if !c.transition(session.StateSpeaking) {
		return
	}
	c.startSpeaking(ctx, res.Text, res.Action)
}

func (c *Controller) onSpoken(ctx context.Context, out speakOutcome, err error) (string, bool) {
	if err != nil && !errors.Is(err, ErrSynthesisFailed) {
		if ctx.Err() != nil {
			return c.finish(protocol.EndReasonShutdown), true
		}
		c.logger.Warn("outbound audio failed", "error", err)
		return c.finish(protocol.EndReasonDisconnect), true
	}
	c.recordTurn(session.TurnRecord{Speaker: session.SpeakerAgent, Text: out.text})

	switch out.action {
	case reasoning.ActionEnd:
		if err := c.deps.Transport.Hangup(ctx); err != nil {
			c.logger.Warn("hangup failed", "error", err)
		}
		return c.finish(protocol.EndReasonAgentEnded), true
	case reasoning.ActionTransfer:
		if c.cfg.TransferNumber == "" {
			c.logger.Warn("transfer requested but no transfer number configured")
			break
		}
		if err := c.deps.Transport.Transfer(ctx, c.cfg.TransferNumber); err != nil {
			c.logger.Warn("transfer failed", "error", err)
			break
		}
		return c.finish(protocol.EndReasonTransferred), true
	}

	if c.transition(session.StateIdle) {
		c.endpointer.SetMode(ModeListen)
	}
	return "", false
}

func (c *Controller) startSpeaking(ctx context.Context, text string, action reasoning.Action) {
	c.endpointer.SetMode(ModeBargeIn)
	endpointAt := c.endpointAt
	c.endpointAt = time.Time{}
	c.startTask(ctx, taskSpeak, text, func(ctx context.Context) taskEvent {
		out, err := c.speak(ctx, text, action, endpointAt)
		return taskEvent{spoken: out, err: err}
	})
}

// speak runs on the task goroutine and streams frames to the transport until done or cancelled.
func (c *Controller) speak(ctx context.Context, text string, action reasoning.Action, endpointAt time.Time) (speakOutcome, error) {
	out := speakOutcome{text: text, action: action}
	fs, err := c.deps.Streamer.Speak(c.sess.ID(), text, c.cfg.Format)
	if err != nil {
		return out, err
	}
	defer fs.Close()

	start := time.Now()
	for {
		f, err := fs.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		if c.cfg.Pace {
			due := start.Add(time.Duration(out.frames)*audio.FrameDuration - paceLead)
			if wait := time.Until(due); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return out, ctx.Err()
				}
			}
		}
		f.Seq = c.outSeq.Add(1)
		f.Timestamp = time.Duration(f.Seq-1) * audio.FrameDuration
		if err := c.deps.Transport.SendFrame(f); err != nil {
			return out, fmt.Errorf("send frame: %w", err)
		}
		if out.frames == 0 && !endpointAt.IsZero() {
			c.cfg.Metrics.ObserveStage(observability.StageEndpointToAudio, time.Since(endpointAt))
		}
		out.frames++
	}
	out.fellBack = fs.FellBack()
	if err := c.deps.Transport.Mark(fmt.Sprintf("agent-%d", c.outSeq.Load())); err != nil {
		c.logger.Debug("mark failed", "error", err)
	}
	return out, fs.Err()
}

func (c *Controller) startTask(parent context.Context, kind taskKind, text string, run func(ctx context.Context) taskEvent) {
	c.cancelTask()
	c.nextTaskID++
	ctx, cancel := context.WithCancel(parent)
	t := &activeTask{id: c.nextTaskID, kind: kind, cancel: cancel, done: make(chan struct{}), text: text}
	c.task = t
	go func() {
		defer close(t.done)
		defer cancel()
		ev := run(ctx)
		ev.id = t.id
		ev.kind = kind
		select {
		case c.taskEvents <- ev:
		case <-ctx.Done():
		}
	}()
}

// cancelTask stops the active task and waits for its goroutine to exit.
func (c *Controller) cancelTask() *activeTask {
	t := c.task
	if t == nil {
		return nil
	}
	c.task = nil
	t.cancel()
	<-t.done
	return t
}

func (c *Controller) transition(to session.State) bool {
	from, err := c.sess.Transition(to)
	if err != nil {
		c.logger.Error("rejected state transition", "from", from, "to", to, "error", err)
		return false
	}
	c.cfg.Metrics.Transition(string(from), string(to))
	c.logger.Debug("state transition", "from", from, "to", to)
	return true
}

func (c *Controller) recordTurn(rec session.TurnRecord) {
	if rec.Text == "" {
		return
	}
	rec.Timestamp = time.Now().UTC()
	c.sess.AppendTurn(rec)
	if c.deps.CallLog != nil {
		c.deps.CallLog.TurnRecorded(c.sess.ID(), rec)
	}
}

// UnfinishedUtteranceText stands in for caller speech cut off by the end of the call.
const UnfinishedUtteranceText = "[inaudible]"

// finish ends the call: the active task is cancelled and interrupted speech on either side is
// kept as a partial turn. The summary goes to the call log and the session leaves the registry.
func (c *Controller) finish(reason string) string {
	unfinished := c.endpointer.InUtterance()
	if t := c.cancelTask(); t != nil {
		switch t.kind {
		case taskSpeak:
			c.recordTurn(session.TurnRecord{Speaker: session.SpeakerAgent, Text: t.text, Partial: true})
		case taskTranscribe:
			unfinished = true
		}
	}
	if unfinished {
		c.logger.Info("call ended mid-utterance; audio discarded")
		c.recordTurn(session.TurnRecord{Speaker: session.SpeakerCaller, Text: UnfinishedUtteranceText, Partial: true})
	}
	c.endpointer.Reset()
	c.transition(session.StateEnded)

	if reason == protocol.EndReasonInactivity {
		hangupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.deps.Transport.Hangup(hangupCtx); err != nil {
			c.logger.Warn("hangup after inactivity failed", "error", err)
		}
		cancel()
	}

	snap := c.sess.Snapshot(true)
	status := calllog.StatusCompleted
	if reason == protocol.EndReasonTransferred {
		status = calllog.StatusTransferred
	}
	endedAt := time.Now().UTC()
	if snap.EndedAt != nil {
		endedAt = *snap.EndedAt
	}
	if c.deps.CallLog != nil {
		c.deps.CallLog.CallFinished(calllog.Summary{
			CallID:        snap.CallID,
			Direction:     snap.Direction,
			From:          snap.From,
			To:            snap.To,
			Status:        status,
			Reason:        reason,
			StartedAt:     snap.StartedAt,
			EndedAt:       endedAt,
			Turns:         len(snap.Turns),
			Interruptions: snap.Interruptions,
			Transcript:    calllog.BuildTranscript(snap.Turns),
		})
	}
	if c.deps.Registry != nil {
		c.deps.Registry.Remove(c.sess.ID())
	}
	c.cfg.Metrics.CallEnded(reason)
	c.logger.Info("call ended", "reason", reason, "turns", len(snap.Turns), "interruptions", snap.Interruptions)
	return reason
}
