package vnpay

import (
	"math"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config is the merchant configuration shared by Builder and Verifier.
type Config struct {
	MerchantCode string        // vnp_TmnCode
	PaymentURL   string        // gateway base URL, e.g. https://sandbox.vnpayment.vn/paymentv2/vpcpay.html
	ReturnURL    string        // browser Return channel
	ExpiryWindow time.Duration // createdAt + window = expiresAt
	Locale       string
	OrderType    string
}

func (c Config) withDefaults() Config {
	if c.ExpiryWindow <= 0 {
		c.ExpiryWindow = DefaultExpiry
	}
	if c.Locale == "" {
		c.Locale = DefaultLocale
	}
	if c.OrderType == "" {
		c.OrderType = DefaultOrderType
	}
	return c
}

// Builder assembles signed payment redirect URLs.
type Builder struct {
	cfg    Config
	signer *Signer
	now    func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a builder. Missing merchant code or signer is a
// configuration error.
func NewBuilder(cfg Config, signer *Signer, opts ...BuilderOption) (*Builder, error) {
	if cfg.MerchantCode == "" {
		return nil, ErrEmptyMerchantCode
	}
	if signer == nil {
		return nil, ErrEmptySecret
	}
	b := &Builder{cfg: cfg.withDefaults(), signer: signer, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// ExpiryWindow returns the configured attempt lifetime.
func (b *Builder) ExpiryWindow() time.Duration {
	return b.cfg.ExpiryWindow
}

// Build validates req and returns the signed payment. It never performs I/O.
func (b *Builder) Build(req PaymentRequest) (*SignedPayment, error) {
	if strings.TrimSpace(req.OrderReference) == "" {
		return nil, &ValidationError{Field: "orderReference", Message: "is required"}
	}
	if req.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if req.Amount > math.MaxInt64/AmountScale {
		return nil, &ValidationError{Field: "amount", Message: "is too large"}
	}
	ip, err := normalizeIP(req.ClientIP)
	if err != nil {
		return nil, err
	}

	locale := req.Locale
	if locale == "" {
		locale = b.cfg.Locale
	}
	if locale != "vn" && locale != "en" {
		return nil, &ValidationError{Field: "locale", Message: "must be vn or en"}
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = b.cfg.OrderType
	}

	description := NormalizeDescription(req.Description)
	if description == "" {
		description = NormalizeDescription("Thanh toan don hang " + req.OrderReference)
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = b.now()
	}
	createdAt = createdAt.In(GatewayZone).Truncate(time.Second)
	expiresAt := createdAt.Add(b.cfg.ExpiryWindow)

	// Exactly these twelve keys are signed; there is no expiry key.
	params := map[string]string{
		ParamVersion:    Version,
		ParamCommand:    CommandPay,
		ParamTmnCode:    b.cfg.MerchantCode,
		ParamLocale:     locale,
		ParamCurrCode:   CurrencyVND,
		ParamTxnRef:     req.OrderReference,
		ParamOrderInfo:  description,
		ParamOrderType:  orderType,
		ParamAmount:     strconv.FormatInt(req.Amount*AmountScale, 10),
		ParamReturnURL:  b.cfg.ReturnURL,
		ParamIPAddr:     ip,
		ParamCreateDate: FormatTimestamp(createdAt),
	}

	set := Canonicalize(params)
	sig := b.signer.Sign(set)

	return &SignedPayment{
		URL:            joinQuery(b.cfg.PaymentURL, set.With(ParamSecureHash, sig).String()),
		OrderReference: req.OrderReference,
		Amount:         req.Amount,
		Description:    description,
		Params:         set,
		Signature:      sig,
		CreatedAt:      createdAt,
		ExpiresAt:      expiresAt,
	}, nil
}

// BuildPaymentURL is the one-shot form of Builder.Build for callers that hold
// configuration values rather than a Builder.
func BuildPaymentURL(req PaymentRequest, merchantCode, secret, gatewayBaseURL, returnURL string) (string, error) {
	signer, err := NewSigner(secret)
	if err != nil {
		return "", err
	}
	b, err := NewBuilder(Config{
		MerchantCode: merchantCode,
		PaymentURL:   gatewayBaseURL,
		ReturnURL:    returnURL,
	}, signer)
	if err != nil {
		return "", err
	}
	p, err := b.Build(req)
	if err != nil {
		return "", err
	}
	return p.URL, nil
}

func joinQuery(base, query string) string {
	if strings.Contains(base, "?") {
		return base + "&" + query
	}
	return base + "?" + query
}

// normalizeIP validates the client address. IPv6 loopback and IPv4-mapped
// addresses are reported in dotted form, which is what the gateway expects.
func normalizeIP(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "clientIp", Message: "is required"}
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return "", &ValidationError{Field: "clientIp", Message: "must be an IP address"}
	}
	if ip.IsLoopback() && ip.To4() == nil {
		return "127.0.0.1", nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String(), nil
	}
	return ip.String(), nil
}
