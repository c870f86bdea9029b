package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistry_ExecuteUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Execute(context.Background(), Call{Name: "nonexistent"})
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("want ErrUnknownTool, got %v", err)
	}
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("echo", func(_ context.Context, call Call) (Result, error) {
		return Result{Speech: call.Params["text"]}, nil
	})

	res, err := r.Execute(context.Background(), Call{
		Name:   "echo",
		Params: map[string]string{"text": "hello"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Speech != "hello" {
		t.Errorf("Speech: want %q, got %q", "hello", res.Speech)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	RegisterBuiltins(r, nil)
	want := []string{"call_webhook", "end_call", "transfer_call"}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("Names: want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names[%d]: want %q, got %q", i, want[i], got[i])
		}
	}
}

func TestEndCall(t *testing.T) {
	t.Parallel()

	res, err := endCall(context.Background(), Call{
		Name:   "end_call",
		Params: map[string]string{},
		Meta:   Meta{CallID: "CA1"},
	})
	if err != nil {
		t.Fatalf("endCall: %v", err)
	}
	if !res.EndCall {
		t.Error("EndCall flag not set")
	}
	if res.Speech != "" {
		t.Errorf("end_call should not speak, got %q", res.Speech)
	}
}

func TestTransferCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dept    string
		wantErr bool
	}{
		{"sales", "sales", false},
		{"support", "support", false},
		{"technical", "technical", false},
		{"default is sales", "", false},
		{"unknown department rejected", "billing", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			params := map[string]string{}
			if tc.dept != "" {
				params["department"] = tc.dept
			}
			res, err := transferCall(context.Background(), Call{Name: "transfer_call", Params: params})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error for department %q", tc.dept)
				}
				return
			}
			if err != nil {
				t.Fatalf("transferCall: %v", err)
			}
			if res.Speech == "" {
				t.Error("transfer should produce a spoken acknowledgement")
			}
			if res.EndCall {
				t.Error("transfer must not end the session; the carrier side does")
			}
		})
	}
}

func TestCallWebhook(t *testing.T) {
	t.Parallel()

	var received webhookToolPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "Booked for Tuesday."})
	}))
	defer srv.Close()

	r := NewRegistry()
	RegisterBuiltins(r, srv.Client())

	res, err := r.Execute(context.Background(), Call{
		Name:   "call_webhook",
		Params: map[string]string{"action": "book_appointment", "day": "tuesday"},
		Meta: Meta{
			CallID:     "CA1",
			AgentID:    "agent-a",
			WebhookURL: srv.URL,
			Vars:       map[string]string{"caller_name": "Pat"},
		},
	})
	if err != nil {
		t.Fatalf("call_webhook: %v", err)
	}
	if res.Speech != "Booked for Tuesday." {
		t.Errorf("Speech: got %q", res.Speech)
	}
	if received.ToolName != "call_webhook" {
		t.Errorf("payload tool_name: got %q", received.ToolName)
	}
	if received.Parameters["action"] != "book_appointment" {
		t.Errorf("payload parameters missing action: %v", received.Parameters)
	}
	if received.CallContext.CallID != "CA1" || received.CallContext.AgentID != "agent-a" {
		t.Errorf("payload call_context wrong: %+v", received.CallContext)
	}
	if received.CallContext.DynamicVariables["caller_name"] != "Pat" {
		t.Errorf("dynamic variables not forwarded: %+v", received.CallContext.DynamicVariables)
	}
}

func TestCallWebhook_Failures(t *testing.T) {
	t.Parallel()

	t.Run("no endpoint configured", func(t *testing.T) {
		t.Parallel()
		fn := callWebhook(http.DefaultClient)
		_, err := fn(context.Background(), Call{Name: "call_webhook", Meta: Meta{}})
		if err == nil {
			t.Fatal("want error without a webhook URL")
		}
	})

	t.Run("non-2xx status", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		fn := callWebhook(srv.Client())
		_, err := fn(context.Background(), Call{Name: "call_webhook", Meta: Meta{WebhookURL: srv.URL}})
		if err == nil {
			t.Fatal("want error on 502 response")
		}
	})

	t.Run("empty body succeeds silently", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		fn := callWebhook(srv.Client())
		res, err := fn(context.Background(), Call{Name: "call_webhook", Meta: Meta{WebhookURL: srv.URL}})
		if err != nil {
			t.Fatalf("empty body: %v", err)
		}
		if res.Speech != "" {
			t.Errorf("empty body should produce no speech, got %q", res.Speech)
		}
	})
}
