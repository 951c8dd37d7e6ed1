package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/paygate/internal/vnpay"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *PaygateClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *PaygateClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCreatePaymentLink opens a payment attempt and returns its URL.
func (h *Handlers) HandleCreatePaymentLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount := req.GetFloat("amount", 0)
	if amount <= 0 {
		return mcp.NewToolResultError("amount must be a positive number of VND"), nil
	}
	if amount != float64(int64(amount)) {
		return mcp.NewToolResultError("amount must be a whole number of VND"), nil
	}
	description := req.GetString("description", "")
	if description == "" {
		return mcp.NewToolResultError("description is required"), nil
	}

	raw, err := h.client.CreatePayment(ctx, CreatePaymentInput{
		OrderReference: req.GetString("order_reference", ""),
		Amount:         int64(amount),
		Description:    description,
		Locale:         req.GetString("locale", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create payment: %v", err)), nil
	}

	text, err := formatCreated(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetPaymentStatus reports the state of an attempt.
func (h *Handlers) HandleGetPaymentStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := req.GetString("order_reference", "")
	if ref == "" {
		return mcp.NewToolResultError("order_reference is required"), nil
	}
	limit := req.GetInt("callbacks", 5)

	raw, err := h.client.GetPayment(ctx, ref, limit)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return mcp.NewToolResultError(fmt.Sprintf("No payment attempt with order reference %q", ref)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get payment: %v", err)), nil
	}

	text, err := formatStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleExplainResponseCode answers locally without calling the API.
func (h *Handlers) HandleExplainResponseCode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code := strings.TrimSpace(req.GetString("code", ""))
	if code == "" {
		return mcp.NewToolResultError("code is required"), nil
	}

	var outcome string
	switch (vnpay.GatewayStatus{ResponseCode: code, TransactionStatus: code}).Classify() {
	case vnpay.VerdictSuccess:
		outcome = "paid"
	case vnpay.VerdictFailure:
		outcome = "failed"
	case vnpay.VerdictCancelled:
		outcome = "cancelled"
	default:
		outcome = "left pending for manual review"
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Code %s: %s\nOrder outcome: %s", code, vnpay.ResponseMessage(code), outcome)), nil
}

// --- Formatting helpers ---

type paymentInfo struct {
	OrderReference    string     `json:"orderReference"`
	Amount            int64      `json:"amount"`
	Description       string     `json:"description"`
	State             string     `json:"state"`
	PaymentURL        string     `json:"paymentUrl"`
	ResponseCode      string     `json:"responseCode"`
	TransactionNo     string     `json:"transactionNo"`
	BankCode          string     `json:"bankCode"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	ResolvedAt        *time.Time `json:"resolvedAt"`
	TransactionStatus string     `json:"transactionStatus"`
}

type callbackInfo struct {
	Channel      string    `json:"channel"`
	Reason       string    `json:"reason"`
	ResponseCode string    `json:"responseCode"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

func formatCreated(raw json.RawMessage) (string, error) {
	var resp struct {
		Payment paymentInfo `json:"payment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	p := resp.Payment

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment link created for order %s\n", p.OrderReference)
	fmt.Fprintf(&sb, "Amount: %d VND\n", p.Amount)
	fmt.Fprintf(&sb, "Description: %s\n", p.Description)
	fmt.Fprintf(&sb, "Expires: %s\n", p.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "\nURL: %s", p.PaymentURL)
	return sb.String(), nil
}

func formatStatus(raw json.RawMessage) (string, error) {
	var resp struct {
		Payment   paymentInfo    `json:"payment"`
		Callbacks []callbackInfo `json:"callbacks"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	p := resp.Payment

	var sb strings.Builder
	fmt.Fprintf(&sb, "Order %s: %s\n", p.OrderReference, p.State)
	fmt.Fprintf(&sb, "Amount: %d VND\n", p.Amount)
	if p.ResponseCode != "" {
		fmt.Fprintf(&sb, "Gateway response: %s (%s)\n", p.ResponseCode, vnpay.ResponseMessage(p.ResponseCode))
	}
	if p.TransactionNo != "" {
		fmt.Fprintf(&sb, "Gateway transaction: %s", p.TransactionNo)
		if p.BankCode != "" {
			fmt.Fprintf(&sb, " via %s", p.BankCode)
		}
		sb.WriteString("\n")
	}
	if p.ResolvedAt != nil {
		fmt.Fprintf(&sb, "Resolved: %s\n", p.ResolvedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(&sb, "Expires: %s\n", p.ExpiresAt.Format(time.RFC3339))
	}

	if len(resp.Callbacks) == 0 {
		sb.WriteString("\nNo callbacks received yet.")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "\nRecent callbacks (%d):\n", len(resp.Callbacks))
	for _, cb := range resp.Callbacks {
		fmt.Fprintf(&sb, "  %s %s reason=%s", cb.ReceivedAt.Format(time.RFC3339), cb.Channel, cb.Reason)
		if cb.ResponseCode != "" {
			fmt.Fprintf(&sb, " code=%s", cb.ResponseCode)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
