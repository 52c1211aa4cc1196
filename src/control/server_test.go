package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/config"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/host"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/quarantine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeSource struct {
	status  host.Status
	pending map[string]quarantine.PendingFile
}

func (f fakeSource) Status() host.Status { return f.status }

func (f fakeSource) PendingFile(id string) (quarantine.PendingFile, bool) {
	rec, ok := f.pending[id]
	return rec, ok
}

func connect(t *testing.T, src Source) *mcp.ClientSession {
	t.Helper()
	s := New(src, config.ControlConfig{}, testLogger())

	srvTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = s.MCP.Run(ctx, srvTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected 1 content, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected *TextContent, got %T", res.Content[0])
	}
	return tc.Text
}

func TestServer_listsTools(t *testing.T) {
	session := connect(t, fakeSource{})

	names := map[string]bool{}
	for tool, err := range session.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("listing tools: %v", err)
		}
		names[tool.Name] = true
	}
	if !names[ToolHostStatus] || !names[ToolPendingFile] || len(names) != 2 {
		t.Errorf("tools = %v", names)
	}
}

func TestServer_hostStatusReportsDegradedListener(t *testing.T) {
	session := connect(t, fakeSource{status: host.Status{
		Listening:     false,
		Pending:       2,
		ActiveScans:   1,
		IsolationRoot: "/opt/host/.isolated",
	}})

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: ToolHostStatus})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	var got host.Status
	if err := json.Unmarshal([]byte(textOf(t, res)), &got); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if got.Listening || got.Pending != 2 || got.ActiveScans != 1 || got.IsolationRoot != "/opt/host/.isolated" {
		t.Errorf("status = %+v", got)
	}
}

func TestServer_pendingFile(t *testing.T) {
	session := connect(t, fakeSource{pending: map[string]quarantine.PendingFile{
		"n1": {NotificationID: "n1", Filename: "a.exe", IsolatedPath: "/q/.isolated/a.exe"},
	}})

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolPendingFile,
		Arguments: map[string]any{"notificationId": "n1"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}
	var got pendingView
	if err := json.Unmarshal([]byte(textOf(t, res)), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.Filename != "a.exe" || got.IsolatedPath != "/q/.isolated/a.exe" {
		t.Errorf("got %+v", got)
	}
}

func TestServer_pendingFileUnknown(t *testing.T) {
	session := connect(t, fakeSource{})

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolPendingFile,
		Arguments: map[string]any{"notificationId": "nope"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Error("expected IsError for unknown id")
	}
}

func TestRun_rejectsNonLoopback(t *testing.T) {
	for _, addr := range []string{"0.0.0.0:0", ":0", "192.0.2.1:9000", "nonsense"} {
		s := New(fakeSource{}, config.ControlConfig{Addr: addr}, testLogger())
		if err := s.Run(context.Background()); err == nil {
			t.Errorf("Run(%q) should fail", addr)
		}
	}
}

func TestRun_stopsOnCancel(t *testing.T) {
	s := New(fakeSource{}, config.ControlConfig{Addr: "127.0.0.1:0"}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil after cancellation", err)
	}
}
