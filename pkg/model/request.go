package model

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// MimeTypes maps every accepted output format to its content type
var MimeTypes = map[string]string{
	"png":     "image/png",
	"json":    "application/json",
	"vl.json": "application/json",
	"html":    "text/html",
	"svg":     "image/svg+xml",
	"pdf":     "application/pdf",
}

// Request defaults
const (
	DefaultFormat = "png"
	DefaultWidth  = 500
	DefaultScale  = 1
)

// Rejection messages returned to clients as plain text
const (
	MsgNoSpec            = "No spec provided"
	MsgPlainNotAllowed   = "Spec must be encoded with key shared key"
	MsgInvalidFormat     = "Invalid image format"
	MsgKeyNotConfigured  = "Encrypted chart sent, but server key not configured."
	MsgDecryptFailed     = "Could not decrypt spec"
	MsgInvalidSpecJSON   = "Spec is not valid JSON"
	MsgSpecTooLarge      = "Spec is too large"
	MsgRateLimitExceeded = "Too many requests"
)

// ContentType returns the MIME type for a format
func ContentType(format string) (string, bool) {
	mime, ok := MimeTypes[format]
	return mime, ok
}

// Formats returns the accepted formats in sorted order
func Formats() []string {
	formats := make([]string, 0, len(MimeTypes))
	for f := range MimeTypes {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// IsScaled reports whether the scale factor applies to a format
func IsScaled(format string) bool {
	return format == "png" || format == "pdf"
}

// ConvertRequest holds the query parameters of /convert_spec
type ConvertRequest struct {
	Spec      string
	Format    string
	Width     int
	Scale     int
	Encrypted bool
	Font      string
}

// ParseConvertRequest reads a ConvertRequest from query values.
// Integers that do not parse fall back to their defaults.
func ParseConvertRequest(q url.Values) ConvertRequest {
	req := ConvertRequest{
		Spec:   q.Get("spec"),
		Format: q.Get("format"),
		Width:  DefaultWidth,
		Scale:  DefaultScale,
		Font:   strings.TrimSpace(q.Get("font")),
	}
	if req.Format == "" {
		req.Format = DefaultFormat
	}
	if v, err := strconv.Atoi(q.Get("width")); err == nil {
		req.Width = v
	}
	if v, err := strconv.Atoi(q.Get("scale")); err == nil {
		req.Scale = v
	}
	req.Encrypted = ParseBool(q.Get("encrypted"))
	return req
}

// ParseBool is true only for the case-insensitive string "true"
func ParseBool(s string) bool {
	return strings.ToLower(strings.TrimSpace(s)) == "true"
}

// RequestError is a client error with the plain-text message to return
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// RequestPolicy decides which requests are accepted
type RequestPolicy struct {
	AllowPlainSpec bool
	KeyConfigured  bool
	MaxSpecBytes   int
}

// Check validates a request before any decoding or rendering happens.
// Checks run in a fixed order so the first failing rule decides the message.
func (p RequestPolicy) Check(req ConvertRequest) error {
	if req.Spec == "" {
		return &RequestError{Message: MsgNoSpec}
	}
	if !req.Encrypted && !p.AllowPlainSpec {
		return &RequestError{Message: MsgPlainNotAllowed}
	}
	if _, ok := MimeTypes[req.Format]; !ok {
		return &RequestError{Message: MsgInvalidFormat}
	}
	if req.Encrypted && !p.KeyConfigured {
		return &RequestError{Message: MsgKeyNotConfigured}
	}
	if p.MaxSpecBytes > 0 && len(req.Spec) > p.MaxSpecBytes {
		return &RequestError{Message: MsgSpecTooLarge}
	}
	return nil
}
