package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// FailureSpeech is the canonical spoken line when a tool execution fails.
// Tools are never retried; the caller hears this and the call continues.
const FailureSpeech = "I wasn't able to do that."

// webhookTimeout bounds a single call_webhook round trip.
const webhookTimeout = 10 * time.Second

// maxWebhookResponse caps how much of a tool endpoint's response is read.
const maxWebhookResponse = 1 << 20

// departments a caller can be transferred to.
var departments = map[string]bool{
	"sales":     true,
	"support":   true,
	"technical": true,
}

// RegisterBuiltins installs the three core tools on r: end_call,
// transfer_call and call_webhook. client is used for call_webhook; pass nil
// for a default client with a 10 s timeout.
func RegisterBuiltins(r *Registry, client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	r.Register("end_call", endCall)
	r.Register("transfer_call", transferCall)
	r.Register("call_webhook", callWebhook(client))
}

// endCall signals the session to wind the call down. The farewell (if any)
// was already part of the carrying sentence.
func endCall(_ context.Context, call Call) (Result, error) {
	reason := call.Params["reason"]
	if reason == "" {
		reason = "user_goodbye"
	}
	slog.Info("tool: ending call", "call_id", call.Meta.CallID, "reason", reason)
	return Result{EndCall: true}, nil
}

// transferCall validates the target department and acknowledges the
// transfer. The actual carrier-side redirect is performed by the external
// system observing the tool.called webhook.
func transferCall(_ context.Context, call Call) (Result, error) {
	dept := call.Params["department"]
	if dept == "" {
		dept = "sales"
	}
	if !departments[dept] {
		return Result{}, fmt.Errorf("transfer_call: unknown department %q", dept)
	}
	slog.Info("tool: transferring call", "call_id", call.Meta.CallID, "department", dept)
	return Result{Speech: "Transferring you to our " + dept + " team now."}, nil
}

// webhookToolPayload is the body POSTed to the agent's tool endpoint.
type webhookToolPayload struct {
	ToolName    string             `json:"tool_name"`
	Parameters  map[string]string  `json:"parameters"`
	CallContext webhookCallContext `json:"call_context"`
	Timestamp   string             `json:"timestamp"`
}

type webhookCallContext struct {
	CallID           string            `json:"call_id"`
	AgentID          string            `json:"agent_id"`
	PhoneNumber      string            `json:"phone_number"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

// webhookToolResponse is the subset of the endpoint's reply that can be
// spoken back to the caller.
type webhookToolResponse struct {
	Response string `json:"response"`
	Message  string `json:"message"`
}

// callWebhook returns the generic outbound-POST tool. The endpoint comes
// from agent configuration, never from the model.
func callWebhook(client *http.Client) Func {
	return func(ctx context.Context, call Call) (Result, error) {
		url := call.Meta.WebhookURL
		if url == "" {
			return Result{}, errors.New("call_webhook: agent has no webhook endpoint configured")
		}

		body, err := json.Marshal(webhookToolPayload{
			ToolName:   call.Name,
			Parameters: call.Params,
			CallContext: webhookCallContext{
				CallID:           call.Meta.CallID,
				AgentID:          call.Meta.AgentID,
				PhoneNumber:      call.Meta.PhoneNumber,
				DynamicVariables: call.Meta.Vars,
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return Result{}, fmt.Errorf("call_webhook: encode payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return Result{}, fmt.Errorf("call_webhook: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return Result{}, fmt.Errorf("call_webhook: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return Result{}, fmt.Errorf("call_webhook: endpoint returned status %d", resp.StatusCode)
		}

		var out webhookToolResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxWebhookResponse)).Decode(&out); err != nil {
			if errors.Is(err, io.EOF) {
				// Empty 2xx body: the tool succeeded silently.
				return Result{}, nil
			}
			return Result{}, fmt.Errorf("call_webhook: decode response: %w", err)
		}

		speech := out.Response
		if speech == "" {
			speech = out.Message
		}
		return Result{Speech: speech}, nil
	}
}
