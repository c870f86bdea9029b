package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/callyx/callyx/internal/tool"
)

func TestConnect_ConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{
			name: "empty server name",
			cfg:  ServerConfig{Transport: TransportStdio, Command: []string{"/bin/true"}},
			want: "non-empty name",
		},
		{
			name: "unknown transport",
			cfg:  ServerConfig{Name: "crm", Transport: "carrier-pigeon"},
			want: "unknown transport",
		},
		{
			name: "stdio without command",
			cfg:  ServerConfig{Name: "crm", Transport: TransportStdio},
			want: "requires a command",
		},
		{
			name: "http without url",
			cfg:  ServerConfig{Name: "crm", Transport: TransportStreamableHTTP},
			want: "requires a URL",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := NewBridge()
			defer b.Close()

			_, err := b.Connect(context.Background(), tc.cfg, tool.NewRegistry())
			if err == nil {
				t.Fatalf("Connect(%+v): want error", tc.cfg)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestExecutor_ServerGone(t *testing.T) {
	t.Parallel()

	b := NewBridge()
	defer b.Close()

	fn := b.executor("crm", "lookup_customer")
	_, err := fn(context.Background(), tool.Call{Name: "lookup_customer"})
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("want not-connected error, got %v", err)
	}
}

func TestClose_Empty(t *testing.T) {
	t.Parallel()

	if err := NewBridge().Close(); err != nil {
		t.Errorf("Close on empty bridge: %v", err)
	}
}
