// Package control serves a read-only MCP view of a running host over
// loopback streamable HTTP.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/config"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/host"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/quarantine"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/transport"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names.
const (
	ToolHostStatus  = "host_status"
	ToolPendingFile = "pending_file"
)

// Source is the host state exposed by the server.
type Source interface {
	Status() host.Status
	PendingFile(id string) (quarantine.PendingFile, bool)
}

// Server wraps an MCP server with the status tools registered.
type Server struct {
	MCP    *mcp.Server
	cfg    config.ControlConfig
	logger *slog.Logger
}

// New creates the control server and registers its tools.
func New(src Source, cfg config.ControlConfig, logger *slog.Logger) *Server {
	srv := mcp.NewServer(
		&mcp.Implementation{
			Name:    "easy-quarantine-host",
			Version: transport.Version,
		},
		&mcp.ServerOptions{Logger: logger},
	)

	srv.AddTool(&mcp.Tool{
		Name:        ToolHostStatus,
		Description: "Report whether the host is listening, pending decisions, running scans and the isolation root.",
		InputSchema: map[string]any{"type": "object"},
	}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(src.Status())
	})

	srv.AddTool(&mcp.Tool{
		Name:        ToolPendingFile,
		Description: "Look up the isolated file awaiting a decision for a notification id.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"notificationId": map[string]any{"type": "string"},
			},
			"required": []string{"notificationId"},
		},
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			NotificationID string `json:"notificationId"`
		}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult("invalid arguments: " + err.Error()), nil
			}
		}
		rec, ok := src.PendingFile(args.NotificationID)
		if !ok {
			return errorResult("no pending file for notificationId " + args.NotificationID), nil
		}
		return jsonResult(pendingView{
			NotificationID: rec.NotificationID,
			Filename:       rec.Filename,
			OriginalPath:   rec.OriginalPath,
			IsolatedPath:   rec.IsolatedPath,
		})
	})

	return &Server{
		MCP:    srv,
		cfg:    cfg,
		logger: logger.With("area", "control"),
	}
}

type pendingView struct {
	NotificationID string `json:"notificationId"`
	Filename       string `json:"filename"`
	OriginalPath   string `json:"originalDownloadPath"`
	IsolatedPath   string `json:"isolatedPath"`
}

// Run serves streamable HTTP on the configured loopback address until ctx
// is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := checkLoopback(s.cfg.Addr); err != nil {
		return err
	}

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return s.MCP },
		&mcp.StreamableHTTPOptions{Logger: s.logger},
	)

	path := s.cfg.Path
	if path == "" {
		path = config.DefaultControlPath
	}
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("control server listening", "addr", ln.Addr(), "path", path)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down control server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// checkLoopback rejects addresses reachable from other machines.
func checkLoopback(addr string) error {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("control address %q: %w", addr, err)
	}
	if h == "localhost" {
		return nil
	}
	if ip := net.ParseIP(h); ip != nil && ip.IsLoopback() {
		return nil
	}
	return errors.New("control address must be a loopback host, got " + addr)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
