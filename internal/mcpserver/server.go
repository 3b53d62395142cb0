// Package mcpserver is the tool dispatch shell: it exposes the betting
// tools over MCP and gates every paid tool behind payment verification.
package mcpserver

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/BOBER3r/solex-betting-mcp/internal/betting"
	"github.com/BOBER3r/solex-betting-mcp/internal/monitor"
	"github.com/BOBER3r/solex-betting-mcp/internal/payment"
)

// NewMCPServer creates a configured MCP server with all tools registered.
func NewMCPServer(payments *payment.Service, engine *betting.Engine, mon *monitor.Monitor, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("solex-betting", "1.0.0")
	h := NewHandlers(payments, engine, mon, logger)

	s.AddTool(ToolListMarkets, h.HandleListMarkets)
	s.AddTool(ToolGetPaymentInfo, h.HandleGetPaymentInfo)
	s.AddTool(ToolAnalyzeMarket, h.HandleAnalyzeMarket)
	s.AddTool(ToolGetOdds, h.HandleGetOdds)
	s.AddTool(ToolExecuteBet, h.HandleExecuteBet)
	s.AddTool(ToolSimulateBetOutcome, h.HandleSimulateBetOutcome)
	s.AddTool(ToolGetMetrics, h.HandleGetMetrics)
	s.AddTool(ToolServiceHealth, h.HandleServiceHealth)

	return s
}
