package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"print_upload/internal/model"
)

// Client 调用商务平台自动化接口。
type Client interface {
	Trigger(ctx context.Context, shop *model.Shop, handle string, payload json.RawMessage) error
}

const flowTriggerMutation = `mutation flowTriggerReceive($handle: String!, $payload: JSON!) {
  flowTriggerReceive(handle: $handle, payload: $payload) {
    userErrors { field message }
  }
}`

// AutomationClient 以 mutation 形式向店铺 admin GraphQL 端点发送事件。
type AutomationClient struct {
	httpClient *http.Client
	apiVersion string
	// baseURL 为空时使用 https://{shop.Domain}，测试可以指向 httptest 服务。
	baseURL string
}

func NewAutomationClient(apiVersion string) *AutomationClient {
	return &AutomationClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiVersion: apiVersion,
	}
}

// WithBaseURL 覆盖目标地址。
func (c *AutomationClient) WithBaseURL(u string) *AutomationClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data struct {
		FlowTriggerReceive struct {
			UserErrors []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"flowTriggerReceive"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *AutomationClient) Trigger(ctx context.Context, shop *model.Shop, handle string, payload json.RawMessage) error {
	if shop.AccessToken == "" {
		return fmt.Errorf("shop %s has no access token", shop.Domain)
	}
	base := c.baseURL
	if base == "" {
		base = "https://" + shop.Domain
	}
	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", base, c.apiVersion)

	body, err := json.Marshal(gqlRequest{
		Query: flowTriggerMutation,
		Variables: map[string]any{
			"handle":  handle,
			"payload": payload,
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shop-Access-Token", shop.AccessToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("automation request: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode >= 300 {
		return fmt.Errorf("automation status %d: %s", res.StatusCode, string(raw))
	}

	var out gqlResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("automation response: %w", err)
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("automation error: %s", out.Errors[0].Message)
	}
	if ue := out.Data.FlowTriggerReceive.UserErrors; len(ue) > 0 {
		return fmt.Errorf("automation user error: %s", ue[0].Message)
	}
	return nil
}
