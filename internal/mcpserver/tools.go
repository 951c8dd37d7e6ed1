package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the paygate MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCreatePaymentLink = mcp.NewTool("create_payment_link",
	mcp.WithDescription(
		"Create a VNPay payment link for an order. "+
			"Returns the signed URL the customer opens to pay, the order reference and when the link expires. "+
			"Amounts are whole Vietnamese dong (VND)."),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Amount in VND, e.g. 150000")),
	mcp.WithString("description",
		mcp.Required(),
		mcp.Description("Order description shown on the gateway page. Diacritics are stripped.")),
	mcp.WithString("order_reference",
		mcp.Description("Merchant order reference. Generated when omitted.")),
	mcp.WithString("locale",
		mcp.Description("Gateway page language"),
		mcp.Enum("vn", "en")),
)

var ToolGetPaymentStatus = mcp.NewTool("get_payment_status",
	mcp.WithDescription(
		"Look up the state of a payment (pending, paid, failed, expired or cancelled) "+
			"together with the gateway response code and recent callbacks."),
	mcp.WithString("order_reference",
		mcp.Required(),
		mcp.Description("The order reference returned by create_payment_link")),
	mcp.WithNumber("callbacks",
		mcp.Description("Maximum number of recent callbacks to include (default 5)")),
)

var ToolExplainResponseCode = mcp.NewTool("explain_response_code",
	mcp.WithDescription(
		"Explain a VNPay vnp_ResponseCode (e.g. '24' or '51') and whether it settles the order."),
	mcp.WithString("code",
		mcp.Required(),
		mcp.Description("Two-digit response code")),
)
