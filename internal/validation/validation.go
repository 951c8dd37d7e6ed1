// Package validation checks merchant input before it reaches the payment
// service, and bounds request bodies.
package validation

import (
	"net/http"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

const (
	// MaxRequestSize caps request bodies. Create requests are small JSON.
	MaxRequestSize = 64 << 10

	// MaxReferenceLength is the longest order reference the gateway accepts.
	MaxReferenceLength = 100

	// MaxDescriptionLength bounds raw descriptions, in characters, before
	// normalization.
	MaxDescriptionLength = 1000
)

var referencePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

const referenceRule = "must be 1-100 letters, digits, '-' or '_'"

// FieldError names the offending field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// Errors collects every failed rule. It reports the first one as its message.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

// Rule returns nil when the value is acceptable.
type Rule func() *FieldError

// Validate runs every rule and returns all failures.
func Validate(rules ...Rule) Errors {
	var errs Errors
	for _, r := range rules {
		if fe := r(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// IsValidOrderReference reports whether ref is usable as vnp_TxnRef.
func IsValidOrderReference(ref string) bool {
	return referencePattern.MatchString(ref)
}

// ValidReference accepts an empty value; the service generates one.
func ValidReference(field, value string) Rule {
	return func() *FieldError {
		if value == "" || IsValidOrderReference(value) {
			return nil
		}
		return &FieldError{Field: field, Message: referenceRule}
	}
}

// MaxLength counts characters, not bytes.
func MaxLength(field, value string, max int) Rule {
	return func() *FieldError {
		if utf8.RuneCountInString(value) > max {
			return &FieldError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// PositiveAmount checks a whole-VND amount.
func PositiveAmount(field string, value int64) Rule {
	return func() *FieldError {
		if value <= 0 {
			return &FieldError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}

// OneOf accepts an empty value or one of allowed.
func OneOf(field, value string, allowed ...string) Rule {
	return func() *FieldError {
		if value == "" || slices.Contains(allowed, value) {
			return nil
		}
		return &FieldError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// SanitizeString trims s, strips NUL bytes and invalid UTF-8, and keeps at
// most maxLen characters.
func SanitizeString(s string, maxLen int) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "")
	s = strings.ReplaceAll(s, "\x00", "")
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen])
}

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ReferenceParamMiddleware rejects a malformed :reference path parameter.
func ReferenceParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ref := c.Param("reference"); ref != "" && !IsValidOrderReference(ref) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_reference",
				"message": "reference " + referenceRule,
			})
			return
		}
		c.Next()
	}
}
