package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/callyx/callyx/internal/agent"
	"github.com/callyx/callyx/internal/observe"
	"github.com/callyx/callyx/internal/rag"
	"github.com/callyx/callyx/internal/tool"
	"github.com/callyx/callyx/internal/webhook"
	"github.com/callyx/callyx/pkg/audio"
	"github.com/callyx/callyx/pkg/provider/llm"
	"github.com/callyx/callyx/pkg/provider/stt"
	"github.com/callyx/callyx/pkg/provider/tts"
	"github.com/callyx/callyx/pkg/store"
	"github.com/callyx/callyx/pkg/types"
)

// Session-level timing constants.
const (
	// sendTimeout bounds one outbound media write. A carrier that cannot
	// accept a frame for this long has effectively stopped listening; the
	// current sentence is abandoned.
	sendTimeout = 500 * time.Millisecond

	// clearGap separates the two clear signals of a cancellation, so a frame
	// crossing the carrier boundary mid-signal cannot undo the flush.
	clearGap = 10 * time.Millisecond

	// sendFailWindow: a second transport send failure within this window is
	// fatal rather than a one-off hiccup.
	sendFailWindow = time.Second

	// persistTimeout bounds the conversation-record write during cleanup,
	// which runs after the session context is already dead.
	persistTimeout = 5 * time.Second

	// watchdogPeriod is how often the inactivity watchdog samples the
	// last-activity clock.
	watchdogPeriod = time.Second

	// sttEndpointingMS is the endpointing hint passed to the STT provider.
	// The session's own gate remains authoritative for end-of-turn.
	sttEndpointingMS = 300
)

// Cancellation causes, used in logs and to route side effects.
const (
	cancelBargeIn   = "barge-in"
	cancelTransport = "transport-error"
)

// Deps are the process-wide collaborators shared by every session. The
// handler validates the required ones once at construction.
type Deps struct {
	// STT opens one live recognition stream per call.
	STT stt.Provider

	// TTS synthesises agent sentences.
	TTS tts.Provider

	// LLM streams completions.
	LLM llm.Provider

	// Retriever supplies the knowledge context for a turn. Nil runs every
	// turn with an empty context.
	Retriever *rag.Retriever

	// Tools executes parsed tool markers.
	Tools tool.Executor

	// Conversations persists the call record and its turn history.
	Conversations store.ConversationStore

	// Agents resolves agent configurations for inbound calls.
	Agents agent.Store

	// Webhooks delivers call events. Nil drops them.
	Webhooks *webhook.Dispatcher

	// Metrics records pipeline instrumentation. Nil uses the process-wide
	// default instruments.
	Metrics *observe.Metrics
}

// Session owns all mutable state and workers of one live call. Create one
// per started media stream with [NewSession] and drive it with [Session.Run];
// a Session is not reusable.
type Session struct {
	stream  MediaStream
	agent   agent.Config
	cfg     Config
	deps    Deps
	events  webhook.Emitter
	metrics *observe.Metrics

	callID      string
	agentID     string
	phoneNumber string
	vars        map[string]string
	startedAt   time.Time

	// systemPrompt is the agent prompt with dynamic variables substituted,
	// rendered once at session start.
	systemPrompt string

	phase atomic.Int32

	ring      *AudioRing
	sentences *SentenceQueue
	assembler *TurnAssembler
	detector  *Detector
	energy    *EnergyStats

	// baseCtx is the worker group's context, set once in Run. Turn contexts
	// derive from it.
	baseCtx context.Context

	// Turn state. At most one generation task is live at any time; the
	// turn context is the single cancel signal every worker observes.
	turnMu     sync.Mutex
	turnCtx    context.Context
	turnCancel context.CancelFunc
	turnSeq    int64
	cancelOnce *sync.Once
	genLive    bool
	genWG      sync.WaitGroup

	// Turn latency bookkeeping: dispatch time of the live turn, and whether
	// its first outbound frame is still owed to the histogram.
	turnStart  atomic.Int64
	awaitFirst atomic.Bool

	histMu  sync.Mutex
	history []types.Turn

	pendMu  sync.Mutex
	pending *tool.Call

	// STT link; gen increments on every reopen so readers can tell a swap
	// from a shutdown.
	sttMu       sync.Mutex
	stt         stt.SessionHandle
	sttGen      int
	sttReopens  int
	degradeOnce sync.Once

	// lastActivity is the UnixNano of the last inbound frame or transcript
	// event, sampled by the watchdog.
	lastActivity atomic.Int64

	// lastFrameAt approximates STT latency: transcript events are measured
	// against the most recent audio arrival.
	lastFrameAt atomic.Int64

	sendMu      sync.Mutex
	lastSendErr time.Time

	endOnce   sync.Once
	endMu     sync.Mutex
	endStatus types.CallStatus
	endCh     chan struct{}

	cleanupOnce sync.Once
}

// NewSession wires a session for one started media stream. cfg is the
// server-wide pipeline tuning; per-agent overrides are applied here.
func NewSession(stream MediaStream, agentCfg agent.Config, deps Deps, cfg Config) *Session {
	info := stream.Info()

	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	events := webhook.Emitter(webhook.Discard)
	if deps.Webhooks != nil {
		events = deps.Webhooks.Bind(info.CallID, agentCfg.ID, agentCfg.WebhookURL)
	}

	cfg = cfg.forAgent(agentCfg)

	s := &Session{
		stream:       stream,
		agent:        agentCfg,
		cfg:          cfg,
		deps:         deps,
		events:       events,
		metrics:      metrics,
		callID:       info.CallID,
		agentID:      agentCfg.ID,
		phoneNumber:  info.PhoneNumber,
		vars:         info.Vars,
		systemPrompt: agent.Render(agentCfg.SystemPrompt, info.Vars),
		ring:         NewAudioRing(0),
		sentences:    NewSentenceQueue(0),
		assembler:    NewTurnAssembler(cfg.Turn),
		detector:     NewDetector(cfg.Interrupt),
		energy:       NewEnergyStats(),
		endCh:        make(chan struct{}),
	}
	s.phase.Store(int32(PhaseGreeting))
	s.touch()
	return s
}

// CallID returns the carrier call identifier.
func (s *Session) CallID() string { return s.callID }

// AgentID returns the resolved agent identifier.
func (s *Session) AgentID() string { return s.agentID }

// Phase returns the session's current phase.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes the call to completion: it opens the STT stream, starts the
// worker group, speaks the greeting, and blocks until the call reaches a
// terminal status or ctx is cancelled. Cleanup (persist, webhooks, metrics)
// runs exactly once before Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.startedAt = time.Now()
	s.metrics.ActiveCalls.Add(ctx, 1)
	defer s.cleanup()

	slog.Info("call: session starting",
		"call_id", s.callID,
		"agent_id", s.agentID,
		"interrupt_enabled", s.cfg.Interrupt.Enabled,
		"silence_threshold", s.cfg.Turn.SilenceThreshold)

	if err := s.deps.Conversations.Begin(ctx, store.Conversation{
		CallID:      s.callID,
		AgentID:     s.agentID,
		PhoneNumber: s.phoneNumber,
		Status:      types.StatusInProgress,
		StartedAt:   s.startedAt,
	}); err != nil {
		// The call goes on; only the record is degraded.
		slog.Warn("call: conversation record create failed", "call_id", s.callID, "err", err)
	}
	s.events.Emit(webhook.EventCallStarted, map[string]any{
		"phone_number": s.phoneNumber,
	})

	handle, err := s.deps.STT.StartStream(ctx, s.sttConfig())
	if err != nil {
		s.metrics.RecordProviderError(ctx, "stt", "start")
		s.end(types.StatusFailed)
		return fmt.Errorf("call: start stt stream: %w", err)
	}
	s.setSTT(handle)

	g, gctx := errgroup.WithContext(ctx)
	s.baseCtx = gctx
	s.newTurnContext()

	s.greet(gctx)

	g.Go(func() error { return s.runIntake(gctx) })
	g.Go(func() error { return s.runForwarder(gctx) })
	g.Go(func() error { return s.runSTTReader(gctx) })
	g.Go(func() error { return s.runGate(gctx) })
	g.Go(func() error { return s.runSpeaker(gctx) })
	g.Go(func() error { return s.runWatchdog(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-s.endCh:
			return ErrSessionEnded
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, ErrSessionEnded) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("call: session %s: %w", s.callID, err)
	}
	return nil
}

// greet decides the opening move: a configured first message is queued for
// synthesis (phase responding, detector armed during playback), otherwise
// the session starts out listening.
func (s *Session) greet(ctx context.Context) {
	first := strings.TrimSpace(s.agent.FirstMessage)
	if first == "" {
		s.setPhase(PhaseListening)
		return
	}
	s.setPhase(PhaseResponding)

	_, seq := s.currentTurn()
	if s.pushSpeech(ctx, agent.Render(first, s.vars), seq) {
		s.pushMarker(ctx, turnEndMarker(), seq)
	}
}

// ─── Phase machine ───────────────────────────────────────────────────────────

// setPhase swaps the phase and performs the transition bookkeeping: entering
// listening resets the turn buffer and disarms the detector; entering
// responding arms it. Same-phase transitions are no-ops, which is what makes
// a racing double-cancel produce a single transition.
func (s *Session) setPhase(p Phase) {
	old := Phase(s.phase.Swap(int32(p)))
	if old == p {
		return
	}
	switch p {
	case PhaseListening:
		s.detector.Disarm()
		s.assembler.Reset()
	case PhaseResponding:
		s.detector.Arm()
	case PhaseAwaitingConfirmation, PhaseEnding:
		s.detector.Disarm()
	}
	slog.Debug("call: phase transition", "call_id", s.callID, "from", old, "to", p)
}

// ─── Turn lifecycle ──────────────────────────────────────────────────────────

// currentTurn returns the live turn's context and sequence number. Sentences
// are stamped with the sequence so the speaker can drop anything queued by
// an already-cancelled turn.
func (s *Session) currentTurn() (context.Context, int64) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return s.turnCtx, s.turnSeq
}

// newTurnContext replaces the turn context, bumps the sequence, and re-arms
// the cancel latch. The previous context, if any, is cancelled.
func (s *Session) newTurnContext() (context.Context, int64) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.turnCancel != nil {
		s.turnCancel()
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.turnCtx, s.turnCancel = ctx, cancel
	s.turnSeq++
	s.cancelOnce = new(sync.Once)
	return ctx, s.turnSeq
}

// cancelTurnCtx aborts the live turn's context without the rest of the
// cancel protocol. Cleanup uses it to stop a generation that outlived the
// worker group.
func (s *Session) cancelTurnCtx() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.turnCancel != nil {
		s.turnCancel()
	}
}

// dispatch hands a gated utterance to a fresh generation task. The gate
// ticker is the only caller, and genLive backstops the at-most-one-generator
// invariant.
func (s *Session) dispatch(utterance string) {
	s.turnMu.Lock()
	if s.genLive {
		s.turnMu.Unlock()
		return
	}
	s.genLive = true
	s.turnMu.Unlock()

	ctx, seq := s.newTurnContext()
	s.turnStart.Store(time.Now().UnixNano())
	s.awaitFirst.Store(true)
	s.setPhase(PhaseResponding)

	slog.Info("call: utterance dispatched",
		"call_id", s.callID, "chars", len(utterance))

	s.genWG.Add(1)
	go func() {
		defer s.genWG.Done()
		s.generate(ctx, seq, utterance)
		s.turnMu.Lock()
		s.genLive = false
		s.turnMu.Unlock()
	}()
}

// cancelResponse is the barge-in/cancel protocol: abort the turn context,
// flush the carrier's buffered audio with a clear pair, drain the sentence
// queue, and return to listening. The per-turn latch makes it idempotent —
// however many times it fires during one responding phase, the carrier sees
// exactly one clear pair and the session takes exactly one transition.
func (s *Session) cancelResponse(reason string) {
	s.turnMu.Lock()
	once := s.cancelOnce
	s.turnMu.Unlock()
	if once == nil {
		return
	}

	once.Do(func() {
		slog.Info("call: response cancelled",
			"call_id", s.callID, "reason", reason, "phase", s.Phase())

		// Rotating the turn context both aborts the live generation and
		// invalidates its sequence stamps, so a push racing the drain below
		// is dropped by the speaker instead of being spoken.
		s.newTurnContext()

		clearCtx, cancel := context.WithTimeout(s.baseCtx, sendTimeout)
		defer cancel()
		if err := s.stream.SendClear(clearCtx); err != nil {
			slog.Warn("call: clear send failed", "call_id", s.callID, "err", err)
		}
		time.Sleep(clearGap)
		_ = s.stream.SendClear(clearCtx)

		dropped := s.sentences.Drain()
		s.setPhase(PhaseListening)

		if reason == cancelBargeIn {
			s.metrics.Interrupts.Add(s.baseCtx, 1)
			s.events.Emit(webhook.EventUserInterrupted, map[string]any{
				"dropped_sentences": dropped,
			})
		}
	})
}

// ─── Queue helpers ───────────────────────────────────────────────────────────

// pushSpeech queues one spoken sentence stamped with the turn sequence.
// It reports false when the turn was cancelled before the queue took it.
func (s *Session) pushSpeech(ctx context.Context, text string, seq int64) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	return s.pushMarker(ctx, Sentence{Text: text}, seq)
}

func (s *Session) pushMarker(ctx context.Context, snt Sentence, seq int64) bool {
	snt.seq = seq
	if err := s.sentences.Push(ctx, snt); err != nil {
		return false
	}
	return true
}

// ─── Pending confirmation ────────────────────────────────────────────────────

// setPending stashes a confirmed-tool request awaiting a yes/no.
func (s *Session) setPending(c *tool.Call) {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	s.pending = c
}

// takePending removes and returns the pending tool, if any.
func (s *Session) takePending() *tool.Call {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	c := s.pending
	s.pending = nil
	return c
}

// hasPending reports whether a confirmation is outstanding.
func (s *Session) hasPending() bool {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	return s.pending != nil
}

// ─── History ─────────────────────────────────────────────────────────────────

// appendTurn records one finalised exchange in the in-session history and
// the conversation store. Its position in the generation flow guarantees the
// append happens before the next turn's generation can start.
func (s *Session) appendTurn(ctx context.Context, turn types.Turn) {
	turn.At = time.Now()

	s.histMu.Lock()
	s.history = append(s.history, turn)
	s.histMu.Unlock()

	if err := s.deps.Conversations.AppendTurn(ctx, s.callID, turn); err != nil {
		slog.Warn("call: turn persist failed", "call_id", s.callID, "err", err)
	}
}

// historyWindow returns the last HistoryWindow turns, oldest first.
func (s *Session) historyWindow() []types.Turn {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	n := len(s.history)
	if n > s.cfg.HistoryWindow {
		n = s.cfg.HistoryWindow
	}
	out := make([]types.Turn, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// historySnapshot copies the full turn history for the persisted transcript.
func (s *Session) historySnapshot() []types.Turn {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]types.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// ─── Liveness ────────────────────────────────────────────────────────────────

// touch refreshes the inactivity clock. Called on every inbound frame and
// every transcript event.
func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// runWatchdog ends the call with a timeout status when the line has been
// dead — no audio, no transcripts — for the configured window.
func (s *Session) runWatchdog(ctx context.Context) error {
	tick := time.NewTicker(watchdogPeriod)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			last := time.Unix(0, s.lastActivity.Load())
			if idle := time.Since(last); idle >= s.cfg.InactivityTimeout {
				slog.Warn("call: inactivity timeout",
					"call_id", s.callID, "idle", idle.Round(time.Second))
				s.end(types.StatusTimeout)
				return nil
			}
		}
	}
}

// ─── Termination ─────────────────────────────────────────────────────────────

// end marks the session terminal with status. The first caller wins; the
// worker group unwinds via the end channel.
func (s *Session) end(status types.CallStatus) {
	s.endOnce.Do(func() {
		s.endMu.Lock()
		s.endStatus = status
		s.endMu.Unlock()
		close(s.endCh)
	})
}

// finalStatus resolves the record status for cleanup: an explicit end beats
// everything; otherwise a clean carrier stop is completed and anything else
// is a disconnect.
func (s *Session) finalStatus() types.CallStatus {
	s.endMu.Lock()
	status := s.endStatus
	s.endMu.Unlock()
	if status != "" {
		return status
	}
	select {
	case <-s.stream.Stopped():
		if s.stream.Err() == nil {
			return types.StatusCompleted
		}
		return types.StatusDisconnected
	default:
		// Torn down from our side (server shutdown) with the stream alive.
		return types.StatusDisconnected
	}
}

// cleanup tears the session down exactly once: stop the live turn, close the
// STT stream, persist the conversation record, and emit the final event and
// metrics. It must not use the session context — that is already dead by the
// time cleanup runs.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		status := s.finalStatus()
		s.setPhase(PhaseEnding)

		s.cancelTurnCtx()
		s.genWG.Wait()

		if h, _ := s.sttSession(); h != nil {
			if err := h.Close(); err != nil {
				slog.Debug("call: stt close", "call_id", s.callID, "err", err)
			}
		}

		endedAt := time.Now()
		turns := s.historySnapshot()

		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.deps.Conversations.Finish(pctx, s.callID, status, types.FormatTranscript(turns), endedAt); err != nil {
			slog.Warn("call: conversation record finish failed",
				"call_id", s.callID, "status", status, "err", err)
		}

		duration := endedAt.Sub(s.startedAt)
		s.events.Emit(webhook.EventCallEnded, map[string]any{
			"status":       string(status),
			"duration_sec": duration.Seconds(),
			"turns":        len(turns),
		})
		// RecordCallEnd also reverses the ActiveCalls increment from Run.
		s.metrics.RecordCallEnd(pctx, string(status), duration)

		slog.Info("call: session finished",
			"call_id", s.callID,
			"status", status,
			"turns", len(turns),
			"duration", duration.Round(time.Millisecond))
	})
}

// ─── STT link ────────────────────────────────────────────────────────────────

func (s *Session) sttConfig() stt.StreamConfig {
	return stt.StreamConfig{
		SampleRate:    audio.SynthesisRate,
		EndpointingMS: sttEndpointingMS,
	}
}

func (s *Session) setSTT(h stt.SessionHandle) {
	s.sttMu.Lock()
	defer s.sttMu.Unlock()
	s.stt = h
	s.sttGen++
}

// sttSession returns the live STT handle and its generation. The generation
// lets the forwarder and reader distinguish "the handle was swapped under
// me" from "the session is closing".
func (s *Session) sttSession() (stt.SessionHandle, int) {
	s.sttMu.Lock()
	defer s.sttMu.Unlock()
	return s.stt, s.sttGen
}

// reopenSTT replaces a failed STT stream, at most once per call. It reports
// whether a live handle exists afterwards; callers degrade the call on
// false. A stale generation means another worker already reopened — nothing
// to do.
func (s *Session) reopenSTT(ctx context.Context, failedGen int) bool {
	s.sttMu.Lock()
	defer s.sttMu.Unlock()

	if failedGen != s.sttGen {
		return s.stt != nil
	}
	if s.sttReopens >= 1 {
		return false
	}
	s.sttReopens++

	if s.stt != nil {
		_ = s.stt.Close()
	}
	slog.Warn("call: stt stream failed, reopening", "call_id", s.callID)

	handle, err := s.deps.STT.StartStream(ctx, s.sttConfig())
	if err != nil {
		slog.Error("call: stt reopen failed", "call_id", s.callID, "err", err)
		s.stt = nil
		s.sttGen++
		return false
	}
	s.stt = handle
	s.sttGen++
	return true
}

// degradeSTT is the second-failure path: the call continues but the agent
// cannot hear, so apologise and let the watchdog end the call if the caller
// gives up.
func (s *Session) degradeSTT(ctx context.Context) {
	s.metrics.RecordProviderError(ctx, "stt", "stream")
	_, seq := s.currentTurn()
	if s.pushSpeech(ctx, Apology, seq) {
		s.pushMarker(ctx, turnEndMarker(), seq)
	}
}

// toolMeta builds the call-scoped context handed to tool executions.
func (s *Session) toolMeta() tool.Meta {
	return tool.Meta{
		CallID:      s.callID,
		AgentID:     s.agentID,
		PhoneNumber: s.phoneNumber,
		WebhookURL:  s.agent.WebhookURL,
		Vars:        s.vars,
	}
}
