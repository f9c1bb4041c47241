package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Server is the MCP server for crmrecall.
type Server struct {
	ports   *Ports
	logger  *zap.Logger
	version string
	server  *mcp.Server
}

// NewServer creates an MCP server over ports. version is reported to clients.
func NewServer(ports *Ports, version string, logger *zap.Logger) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ports:   ports,
		logger:  logger,
		version: version,
		server:  mcp.NewServer(&mcp.Implementation{Name: "crmrecall", Version: version}, nil),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", zap.String("version", s.version))
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
