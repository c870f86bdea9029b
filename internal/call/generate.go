package call

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/callyx/callyx/internal/agent"
	"github.com/callyx/callyx/internal/intent"
	"github.com/callyx/callyx/internal/rag"
	"github.com/callyx/callyx/internal/sentence"
	"github.com/callyx/callyx/internal/tool"
	"github.com/callyx/callyx/internal/webhook"
	"github.com/callyx/callyx/pkg/audio"
	"github.com/callyx/callyx/pkg/provider/llm"
	"github.com/callyx/callyx/pkg/types"
)

// confirmRetryWords caps how long a non-answer may be and still trigger a
// re-ask. Anything longer is treated as a new request and the pending tool
// is abandoned.
const confirmRetryWords = 5

// generate is one turn's control flow, run on its own goroutine under the
// turn context. It never touches the phase directly: the markers it queues
// drive the transition once the speaker has played everything out.
func (s *Session) generate(ctx context.Context, seq int64, utterance string) {
	if intent.Classify(utterance) == intent.Goodbye {
		// Goodbye beats a pending confirmation: "no thanks, goodbye" must
		// end the call, not re-ask.
		if pending := s.takePending(); pending != nil {
			slog.Debug("call: pending tool dropped on goodbye",
				"call_id", s.callID, "tool", pending.Name)
		}
		s.sayFarewell(ctx, seq, utterance)
		return
	}

	if pending := s.takePending(); pending != nil {
		s.handleConfirmation(ctx, seq, utterance, pending)
		return
	}

	s.respond(ctx, seq, utterance)
}

// sayFarewell queues the agent's farewell followed by a completed-status end
// marker, so the call finishes as soon as the goodbye has been spoken.
func (s *Session) sayFarewell(ctx context.Context, seq int64, utterance string) {
	farewell := s.farewell()
	s.appendTurn(ctx, types.Turn{User: utterance, Assistant: farewell})
	s.events.Emit(webhook.EventAgentResponse, map[string]any{"text": farewell})

	if s.pushSpeech(ctx, farewell, seq) {
		s.pushMarker(ctx, endMarker(types.StatusCompleted), seq)
	}
}

func (s *Session) farewell() string {
	if f := strings.TrimSpace(s.agent.FarewellMessage); f != "" {
		return agent.Render(f, s.vars)
	}
	return DefaultFarewell
}

// handleConfirmation resolves a pending tool against the caller's answer:
// yes executes, no acknowledges and drops, a short non-answer re-asks, and
// anything longer abandons the tool and becomes a fresh turn.
func (s *Session) handleConfirmation(ctx context.Context, seq int64, utterance string, pending *tool.Call) {
	switch intent.ClassifyConfirmation(utterance) {
	case intent.Confirm:
		slog.Info("call: tool confirmed",
			"call_id", s.callID, "tool", pending.Name)
		res := s.executeToolCall(ctx, pending)
		if ctx.Err() != nil {
			return
		}
		if res.Speech != "" {
			s.pushSpeech(ctx, res.Speech, seq)
		}
		s.appendTurn(ctx, types.Turn{User: utterance, Assistant: res.Speech, ToolName: pending.Name})
		s.events.Emit(webhook.EventAgentResponse, map[string]any{"text": res.Speech})
		if res.EndCall {
			s.pushMarker(ctx, endMarker(types.StatusCompleted), seq)
		} else {
			s.pushMarker(ctx, turnEndMarker(), seq)
		}

	case intent.Deny:
		slog.Info("call: tool declined",
			"call_id", s.callID, "tool", pending.Name)
		s.appendTurn(ctx, types.Turn{User: utterance, Assistant: DenyAck})
		s.events.Emit(webhook.EventAgentResponse, map[string]any{"text": DenyAck})
		if s.pushSpeech(ctx, DenyAck, seq) {
			s.pushMarker(ctx, turnEndMarker(), seq)
		}

	default:
		if len(strings.Fields(utterance)) <= confirmRetryWords {
			// Too short to be a new request; hold the tool and ask again.
			s.setPending(pending)
			s.appendTurn(ctx, types.Turn{User: utterance, Assistant: ReaskLine})
			s.events.Emit(webhook.EventAgentResponse, map[string]any{"text": ReaskLine})
			if s.pushSpeech(ctx, ReaskLine, seq) {
				s.pushMarker(ctx, turnEndMarker(), seq)
			}
			return
		}
		slog.Info("call: pending tool abandoned by new request",
			"call_id", s.callID, "tool", pending.Name)
		s.respond(ctx, seq, utterance)
	}
}

// genState accumulates one streamed response.
type genState struct {
	// spoken collects the cleaned sentences queued for synthesis, in order;
	// joined they become the turn's assistant text.
	spoken []string

	// tool is the name of the tool executed this turn, if any.
	tool string

	// pending is set when a confirmation-gated marker was stashed.
	pending bool

	// ended is set once an end marker is queued; the rest of the stream is
	// discarded.
	ended bool
}

// respond runs the retrieval-augmented completion for one utterance and
// feeds the resulting sentences to the speaker.
func (s *Session) respond(ctx context.Context, seq int64, utterance string) {
	knowledge := ""
	if s.deps.Retriever != nil {
		knowledge = s.deps.Retriever.Retrieve(ctx, s.agentID, utterance)
	}
	if ctx.Err() != nil {
		return
	}

	system, messages := rag.Build(rag.Input{
		AgentPrompt: s.systemPrompt,
		Vars:        s.vars,
		History:     s.historyWindow(),
		Context:     knowledge,
		Utterance:   utterance,
	})
	req := llm.CompletionRequest{
		SystemPrompt:  system,
		Messages:      messages,
		Model:         s.agent.ModelName,
		MaxTokens:     s.cfg.LLMMaxTokens,
		StopSequences: rag.StopSequences,
	}

	// The stream gets its own cancel so breaking out early (stop sequence,
	// end marker, mid-stream error) releases the provider promptly.
	sctx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	start := time.Now()
	chunks, err := s.deps.LLM.StreamCompletion(sctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("call: completion start failed", "call_id", s.callID, "err", err)
		s.metrics.RecordProviderError(ctx, "llm", "start")
		s.speakApology(ctx, seq, utterance)
		return
	}

	scanner := llm.NewStopScanner(req.StopSequences)
	split := sentence.NewSplitter()
	st := &genState{}
	first := true
	streamFailed := false

stream:
	for chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		if chunk.FinishReason == "error" {
			slog.Error("call: completion stream failed",
				"call_id", s.callID, "err", chunk.Text)
			s.metrics.RecordProviderError(ctx, "llm", "stream")
			streamFailed = true
			break
		}
		if chunk.Text == "" {
			continue
		}
		if first {
			s.metrics.LLMFirstChunk.Record(ctx, time.Since(start).Seconds())
			first = false
		}

		emit, stopped := scanner.Feed(chunk.Text)
		for _, raw := range split.Push(emit) {
			if !s.handleSentence(ctx, seq, raw, st) {
				break stream
			}
		}
		if stopped {
			break
		}
	}
	cancelStream()
	audio.Drain(chunks)

	if ctx.Err() != nil {
		// Cancelled mid-stream: the cancel protocol owns all state, and an
		// incomplete response never reaches the history.
		return
	}

	// Push the scanner holdback and the splitter residue through the same
	// sentence path, unless the call is already ending.
	if !st.ended {
		if tail := scanner.Flush(); tail != "" {
			for _, raw := range split.Push(tail) {
				if !s.handleSentence(ctx, seq, raw, st) {
					break
				}
			}
		}
	}
	if !st.ended && ctx.Err() == nil {
		if tail := split.Flush(); tail != "" {
			s.handleSentence(ctx, seq, tail, st)
		}
	}
	if ctx.Err() != nil {
		return
	}

	if streamFailed {
		s.pushSpeech(ctx, Apology, seq)
		st.spoken = append(st.spoken, Apology)
	}
	if len(st.spoken) == 0 && !st.ended {
		// The model produced no speakable text at all.
		line := Apology
		if st.pending {
			// A bare confirmation marker with no question attached; ask.
			line = ReaskLine
		} else {
			slog.Warn("call: empty completion", "call_id", s.callID)
		}
		s.pushSpeech(ctx, line, seq)
		st.spoken = append(st.spoken, line)
	}

	assistant := strings.Join(st.spoken, " ")
	s.appendTurn(ctx, types.Turn{User: utterance, Assistant: assistant, ToolName: st.tool})
	s.events.Emit(webhook.EventAgentResponse, map[string]any{"text": assistant})

	if !st.ended {
		s.pushMarker(ctx, turnEndMarker(), seq)
	}
}

// handleSentence processes one split sentence: extract a tool marker, clean
// the remainder for speech, queue it, and run or stash the tool. It reports
// false when the stream should stop (end marker queued or turn cancelled).
func (s *Session) handleSentence(ctx context.Context, seq int64, raw string, st *genState) bool {
	clean, call, err := tool.Extract(raw)
	if err != nil {
		// Malformed marker: never execute a guess. The sentence is spoken
		// exactly as the model wrote it.
		slog.Warn("call: malformed tool marker, speaking sentence unchanged",
			"call_id", s.callID, "err", err)
		clean, call = raw, nil
	}
	clean = sentence.CleanForSpeech(clean)

	if clean != "" {
		if !s.pushSpeech(ctx, clean, seq) {
			return false
		}
		st.spoken = append(st.spoken, clean)
	}
	if call == nil {
		return ctx.Err() == nil
	}

	if call.Confirm {
		slog.Info("call: tool awaiting confirmation",
			"call_id", s.callID, "tool", call.Name)
		s.setPending(call)
		st.pending = true
		return ctx.Err() == nil
	}

	res := s.executeToolCall(ctx, call)
	if ctx.Err() != nil {
		return false
	}
	st.tool = call.Name
	if res.Speech != "" {
		if !s.pushSpeech(ctx, res.Speech, seq) {
			return false
		}
		st.spoken = append(st.spoken, res.Speech)
	}
	if res.EndCall {
		st.ended = true
		s.pushMarker(ctx, endMarker(types.StatusCompleted), seq)
		return false
	}
	return true
}

// executeToolCall runs one tool with the call-scoped metadata filled in and
// records the outcome. A failed tool is reported to the caller with the
// canonical failure line; tools are never retried.
func (s *Session) executeToolCall(ctx context.Context, call *tool.Call) tool.Result {
	call.Meta = s.toolMeta()

	start := time.Now()
	res, err := s.deps.Tools.Execute(ctx, *call)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordToolCall(ctx, call.Name, status, time.Since(start))
	s.events.Emit(webhook.EventToolCalled, map[string]any{
		"tool":   call.Name,
		"params": call.Params,
		"status": status,
	})

	if err != nil {
		slog.Error("call: tool execution failed",
			"call_id", s.callID, "tool", call.Name, "err", err)
		return tool.Result{Speech: tool.FailureSpeech}
	}
	slog.Info("call: tool executed",
		"call_id", s.callID, "tool", call.Name, "elapsed", time.Since(start).Round(time.Millisecond))
	return res
}

// speakApology answers a failed turn with the canonical apology and closes
// the turn normally, so the caller can simply try again.
func (s *Session) speakApology(ctx context.Context, seq int64, utterance string) {
	s.appendTurn(ctx, types.Turn{User: utterance, Assistant: Apology})
	s.events.Emit(webhook.EventAgentResponse, map[string]any{"text": Apology})
	if s.pushSpeech(ctx, Apology, seq) {
		s.pushMarker(ctx, turnEndMarker(), seq)
	}
}
