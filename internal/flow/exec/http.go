package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iosans/loom/internal/flow/fault"
)

const maxHTTPResponseBytes = 32 << 20

// No global timeout; per-node deadlines ride the request context.
var defaultHTTPClient = &http.Client{Timeout: 0}

// HTTPRequestExecutor performs one outbound HTTP call. The url supports
// {{var}} substitution from the input map, object bodies go out as JSON,
// and tool invocations may override body and queryParams through inputs.
type HTTPRequestExecutor struct {
	Client *http.Client
}

func (*HTTPRequestExecutor) Validate(ec *Context) error {
	if strings.TrimSpace(ec.Node.DataString("url")) == "" {
		return fault.New(fault.InvalidInput, "httpRequest needs a url")
	}
	return nil
}

func (h *HTTPRequestExecutor) Execute(ctx context.Context, ec *Context) (*Result, error) {
	method := strings.ToUpper(strings.TrimSpace(ec.Node.DataString("method")))
	if method == "" {
		method = http.MethodGet
	}
	target := renderTemplate(ec.Node.DataString("url"), ec.InputMap())

	if v, ok := ec.Node.DataNumber("timeout"); ok && v > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(v)*time.Millisecond)
		defer cancel()
	}

	bodyVal := ec.Node.Data["body"]
	if m := ec.InputMap(); m != nil {
		if v, ok := m["body"]; ok {
			bodyVal = v
		}
		if qp, ok := m["queryParams"].(map[string]any); ok && len(qp) > 0 {
			if u, err := url.Parse(target); err == nil {
				q := u.Query()
				for k, v := range qp {
					q.Set(k, Stringify(v))
				}
				u.RawQuery = q.Encode()
				target = u.String()
			}
		}
	}

	var body io.Reader
	contentType := ""
	if method != http.MethodGet && method != http.MethodHead {
		switch b := bodyVal.(type) {
		case nil:
		case string:
			if b != "" {
				body = strings.NewReader(b)
			}
		default:
			enc, err := json.Marshal(b)
			if err != nil {
				return nil, fault.New(fault.InvalidInput, "request body: %v", err)
			}
			body = bytes.NewReader(enc)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fault.New(fault.InvalidInput, "bad request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hs, ok := ec.Node.Data["headers"].(map[string]any); ok {
		for k, v := range hs {
			req.Header.Set(k, Stringify(v))
		}
	}

	client := h.Client
	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fault.Wrap(fault.ExternalError, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fault.Wrap(fault.ExternalError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fault.New(fault.ExternalError, "HTTP %d: %s", resp.StatusCode, httpReason(resp))
	}
	return &Result{
		Output: decodeHTTPBody(resp.Header.Get("Content-Type"), raw),
		Meta:   map[string]any{"status": resp.StatusCode},
	}, nil
}

// httpReason extracts the reason phrase from a response status line,
// falling back to the standard text for the code.
func httpReason(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// decodeHTTPBody returns parsed JSON when the response looks like JSON,
// otherwise the raw text.
func decodeHTTPBody(contentType string, raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if strings.Contains(contentType, "json") || trimmed[0] == '{' || trimmed[0] == '[' {
		var out any
		if err := json.Unmarshal(trimmed, &out); err == nil {
			return out
		}
	}
	return string(raw)
}
