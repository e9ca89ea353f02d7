package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// maxProfileBody caps provider profile responses.
const maxProfileBody = 1 << 20

// OAuth2Context makes x/oauth2 use client for its token requests.
func OAuth2Context(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// FetchJSON performs an authenticated GET and decodes the JSON body into out.
func FetchJSON(ctx context.Context, client *http.Client, provider, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return NewProviderError(provider, "user_info", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return NewProviderError(provider, "user_info", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
	if err != nil {
		return NewProviderError(provider, "user_info", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &ProviderError{
			Provider:  provider,
			Operation: "user_info",
			Status:    resp.StatusCode,
			Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		var payload map[string]any
		if json.Unmarshal(body, &payload) == nil {
			describeErrorPayload(perr, payload)
		}
		return perr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewProviderError(provider, "user_info", fmt.Errorf("decode profile: %w", err))
	}
	return nil
}

// describeErrorPayload understands both the OAuth {"error": "code"} shape and
// the Google API {"error": {"status": ..., "message": ...}} shape.
func describeErrorPayload(perr *ProviderError, payload map[string]any) {
	switch v := payload["error"].(type) {
	case string:
		perr.Code = v
	case map[string]any:
		perr.Code, _ = v["status"].(string)
		perr.Description, _ = v["message"].(string)
	}
	if desc, ok := payload["error_description"].(string); ok && desc != "" {
		perr.Description = desc
	}
	if perr.Description == "" {
		perr.Description, _ = payload["message"].(string)
	}
}
