package payments

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/paygate/internal/validation"
	"github.com/mbd888/paygate/internal/vnpay"
)

// Handler provides HTTP endpoints for payments and gateway callbacks.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the browser-facing payment routes, including the
// Return channel.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:reference", validation.ReferenceParamMiddleware(), h.GetPayment)
	r.GET("/vnpay/return", h.HandleReturn)
}

// RegisterGatewayRoutes sets up the server-to-server IPN channel. The
// gateway retries on anything but a parseable ack, so these routes must not
// sit behind rate limiting or API-key checks.
func (h *Handler) RegisterGatewayRoutes(r *gin.RouterGroup) {
	r.GET("/vnpay/ipn", h.HandleIPN)
	r.POST("/vnpay/ipn", h.HandleIPN)
}

// RegisterProtectedRoutes sets up merchant-only routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.CreatePayment)
}

type createPaymentBody struct {
	OrderReference string `json:"orderReference"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	Locale         string `json:"locale"`
}

// CreatePayment handles POST /v1/payments
func (h *Handler) CreatePayment(c *gin.Context) {
	var body createPaymentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidReference("orderReference", body.OrderReference),
		validation.PositiveAmount("amount", body.Amount),
		validation.MaxLength("description", body.Description, validation.MaxDescriptionLength),
		validation.OneOf("locale", body.Locale, "vn", "en"),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	attempt, err := h.service.CreatePayment(c.Request.Context(), CreateRequest{
		OrderReference: body.OrderReference,
		Amount:         body.Amount,
		Description:    validation.SanitizeString(body.Description, validation.MaxDescriptionLength),
		Locale:         body.Locale,
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		var ve *vnpay.ValidationError
		switch {
		case errors.As(err, &ve):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": ve.Error(),
				"details": validation.Errors{{Field: ve.Field, Message: ve.Message}},
			})
		case errors.Is(err, ErrDuplicateReference):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_reference",
				"message": "Order reference already has a payment attempt",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "payment_failed",
				"message": "Failed to create payment",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"payment":        attempt,
		"paymentUrl":     attempt.PaymentURL,
		"orderReference": attempt.OrderReference,
		"expiresAt":      attempt.ExpiresAt,
	})
}

// GetPayment handles GET /v1/payments/:reference
func (h *Handler) GetPayment(c *gin.Context) {
	ref := c.Param("reference")

	attempt, err := h.service.Get(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load payment",
		})
		return
	}

	limit := DefaultCallbackLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	callbacks, err := h.service.ListCallbacks(c.Request.Context(), ref, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load callbacks",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": attempt, "callbacks": callbacks})
}

// HandleReturn handles GET /v1/vnpay/return, the browser redirect channel.
func (h *Handler) HandleReturn(c *gin.Context) {
	payload := payloadFromQuery(c)

	res, err := h.service.HandleCallback(c.Request.Context(), vnpay.ChannelReturn, payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process payment result",
		})
		return
	}

	v := res.Verification
	c.JSON(returnStatus(v.Reason), gin.H{
		"valid":          v.Valid,
		"reason":         v.Reason,
		"orderReference": v.Callback.OrderReference,
		"state":          res.Outcome.State,
		"responseCode":   v.Callback.ResponseCode,
		"message":        vnpay.ResponseMessage(v.Callback.ResponseCode),
	})
}

// HandleIPN handles GET|POST /v1/vnpay/ipn. The gateway retries anything
// other than a 200 with a RspCode body, so every outcome answers 200.
func (h *Handler) HandleIPN(c *gin.Context) {
	payload, err := payloadFromForm(c)
	if err != nil {
		c.JSON(http.StatusOK, vnpay.AckUnknownError)
		return
	}

	res, err := h.service.HandleCallback(c.Request.Context(), vnpay.ChannelIPN, payload)
	if err != nil {
		c.JSON(http.StatusOK, vnpay.AckUnknownError)
		return
	}
	c.JSON(http.StatusOK, res.Ack)
}

func returnStatus(reason vnpay.Reason) int {
	switch reason {
	case vnpay.ReasonOK, vnpay.ReasonExpired:
		return http.StatusOK
	case vnpay.ReasonUnknownReference:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// payloadFromQuery takes the first value of every query parameter.
func payloadFromQuery(c *gin.Context) vnpay.CallbackPayload {
	q := c.Request.URL.Query()
	payload := make(vnpay.CallbackPayload, len(q))
	for k, vals := range q {
		if len(vals) > 0 {
			payload[k] = vals[0]
		}
	}
	return payload
}

// payloadFromForm merges query and urlencoded body parameters.
func payloadFromForm(c *gin.Context) (vnpay.CallbackPayload, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	payload := make(vnpay.CallbackPayload, len(c.Request.Form))
	for k, vals := range c.Request.Form {
		if len(vals) > 0 {
			payload[k] = vals[0]
		}
	}
	return payload, nil
}
