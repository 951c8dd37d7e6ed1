// Package mcpserver exposes the paygate payment API as MCP tools.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all paygate tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("paygate", "1.0.0")
	h := NewHandlers(NewPaygateClient(cfg))

	s.AddTool(ToolCreatePaymentLink, h.HandleCreatePaymentLink)
	s.AddTool(ToolGetPaymentStatus, h.HandleGetPaymentStatus)
	s.AddTool(ToolExplainResponseCode, h.HandleExplainResponseCode)

	return s
}
