package http

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

// In-band result codes. The platform answers HTTP 200 and reports the outcome in the body.
const (
	CodeOK             = 200
	CodeSessionExpired = 301
	CodeNonJSON        = -1
	CodeTransport      = 500
)

// Response is the decoded reply of one Call.
type Response struct {
	Code       int
	Message    string
	HTTPStatus int
	Body       map[string]any
	Raw        []byte
}

func (r *Response) OK() bool { return r != nil && r.Code == CodeOK }

func (r *Response) SessionExpired() bool { return r != nil && r.Code == CodeSessionExpired }

// Err maps the in-band code onto the error taxonomy. 200 yields nil.
func (r *Response) Err() error {
	switch {
	case r == nil:
		return fmt.Errorf("empty response")
	case r.OK():
		return nil
	case r.SessionExpired():
		return model.ErrSessionExpired
	default:
		return &CodeError{Code: r.Code, Message: r.Message}
	}
}

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Raw) == 0 {
		return fmt.Errorf("response has no body")
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Field returns a top-level body field, or nil.
func (r *Response) Field(key string) any {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body[key]
}

type CodeError struct {
	Code    int
	Message string
}

func (e *CodeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("platform returned code %d", e.Code)
	}
	return fmt.Sprintf("platform returned code %d: %s", e.Code, e.Message)
}

func synthetic(code, status int, msg string) *Response {
	raw, _ := json.Marshal(map[string]any{"code": code, "msg": msg})
	return &Response{
		Code:       code,
		Message:    msg,
		HTTPStatus: status,
		Body:       map[string]any{"code": float64(code), "msg": msg},
		Raw:        raw,
	}
}

// parseBody reads the code field. ok is false when the body is not a JSON object or carries
// no integer code; both count as a non-JSON reply.
func parseBody(status int, raw []byte) (*Response, bool) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return nil, false
	}

	res := &Response{HTTPStatus: status, Body: body, Raw: raw}
	switch v := body["code"].(type) {
	case float64:
		if v != math.Trunc(v) {
			return nil, false
		}
		res.Code = int(v)
	case string:
		code, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, false
		}
		res.Code = code
	default:
		return nil, false
	}
	for _, key := range []string{"msg", "message"} {
		if s, ok := body[key].(string); ok && s != "" {
			res.Message = s
			break
		}
	}
	return res, true
}
