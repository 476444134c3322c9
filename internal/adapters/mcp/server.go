// Package mcpadapter exposes guideline search, answer verification and
// safety screening as MCP tools over stdio.
package mcpadapter

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

const (
	serverName    = "medguide"
	serverVersion = "1.0.0"
)

// Ports are the inbound ports served as tools. Answerer is optional.
type Ports struct {
	Searcher  ports.EvidenceSearcher
	Verifier  ports.AnswerVerifier
	Safety    ports.SafetyValidator
	Inspector ports.SystemInspector
	Answerer  ports.ClinicalAnswerer
}

func (p Ports) validate() error {
	if p.Searcher == nil || p.Verifier == nil || p.Safety == nil || p.Inspector == nil {
		return errors.New("mcp: searcher, verifier, safety and inspector are required")
	}
	return nil
}

type Server struct {
	ports  Ports
	logger *slog.Logger
	mcp    *server.MCPServer
}

func NewServer(p Ports, logger *slog.Logger) (*Server, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ports:  p,
		logger: logger,
		mcp: server.NewMCPServer(serverName, serverVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s, nil
}

// Serve runs the JSON-RPC loop until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(slogWriter{s.logger}, "", 0))
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// slogWriter adapts the stdio server's *log.Logger to structured logging.
type slogWriter struct{ logger *slog.Logger }

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Error("mcp_stdio_error", "message", string(p))
	return len(p), nil
}
