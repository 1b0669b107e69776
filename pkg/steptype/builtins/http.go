package builtins

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coflow/coflow/pkg/steptype"
)

type httpRequestExecutor struct{ client *http.Client }

func newHTTPRequestExecutor() *httpRequestExecutor {
	return &httpRequestExecutor{client: &http.Client{}}
}

func (e *httpRequestExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "http_request", Name: "HTTP Request", Category: "network",
		Description: "Issues an outbound HTTP request.", Icon: "globe",
		Kind: steptype.KindAction,
		ConfigSchema: map[string]interface{}{
			"required": []string{"url"},
			"properties": map[string]interface{}{
				"url":              map[string]interface{}{"type": "string"},
				"method":           map[string]interface{}{"type": "string", "default": "GET"},
				"headers":          map[string]interface{}{"type": "object"},
				"body":             map[string]interface{}{},
				"timeout_ms":       map[string]interface{}{"type": "integer", "default": 30000, "minimum": 1000},
				"follow_redirects": map[string]interface{}{"type": "boolean", "default": true},
			},
		},
	}
}

func (e *httpRequestExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	var errs []steptype.FieldError
	if configString(config, "url", "") == "" {
		errs = append(errs, steptype.FieldError{Field: "url", Message: "url is required"})
	}
	if timeout := configFloat(config, "timeout_ms", 30000); timeout < 1000 {
		errs = append(errs, steptype.FieldError{Field: "timeout_ms", Message: "timeout_ms must be >= 1000"})
	}
	return errs
}

func (e *httpRequestExecutor) Execute(ctx context.Context, config map[string]interface{}, _ interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	url := configString(config, "url", "")
	method := strings.ToUpper(configString(config, "method", "GET"))
	timeoutMS := configFloat(config, "timeout_ms", 30000)
	followRedirects := configBool(config, "follow_redirects", true)

	var bodyReader io.Reader
	if b, ok := config["body"]; ok && b != nil {
		if s, ok := b.(string); ok {
			bodyReader = strings.NewReader(s)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return steptype.Err("transport_error: " + err.Error()), nil
	}
	if headers, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	client := e.client
	if !followRedirects {
		client = &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}}
	}

	resp, err := client.Do(req)
	if err != nil {
		return steptype.Err("transport_error: " + err.Error()), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return steptype.Err("transport_error: " + err.Error()), nil
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	out := map[string]interface{}{
		"status":  float64(resp.StatusCode),
		"headers": respHeaders,
		"body":    string(respBody),
		"ok":      resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if !out["ok"].(bool) {
		return steptype.Outcome{Kind: steptype.OutcomeError, Reason: "non_2xx_status", Output: out}, nil
	}
	return steptype.OK(out), nil
}
