package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/claripix/claripix/internal/pkg/env"
)

// Image operations offered by the product, with their credit costs.
const (
	OpUpscale           = "upscale"
	OpBackgroundRemoval = "background-removal"
	OpVectorization     = "vectorization"
	OpAIGeneration      = "ai-generation"
)

var operationCosts = map[string]int64{
	OpUpscale:           1,
	OpBackgroundRemoval: 1,
	OpVectorization:     2,
	OpAIGeneration:      3,
}

var ErrUnknownOperation = errors.New("unknown image operation")

// OperationCost returns the credit price of an operation.
func OperationCost(operation string) (int64, error) {
	cost, ok := operationCosts[strings.TrimSpace(operation)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
	}
	return cost, nil
}

// Operations lists the supported operation names.
func Operations() []string {
	return []string{OpUpscale, OpBackgroundRemoval, OpVectorization, OpAIGeneration}
}

type Result struct {
	JobID     string `json:"job_id"`
	OutputURL string `json:"output_url"`
	Status    string `json:"status"`
}

// Client calls the external image-processing API. Requests carry a bounded
// timeout so a hung backend cannot pin a debit indefinitely.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return &Client{
		BaseURL: strings.TrimRight(env.GetEnv("PROCESSING_API_BASE_URL", "http://localhost:9090"), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("PROCESSING_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type processRequest struct {
	Operation string `json:"operation"`
	SourceURL string `json:"source_url"`
	Prompt    string `json:"prompt,omitempty"`
}

// Process submits one image operation and waits for the synchronous result.
// Callers debit credits before calling and refund on error.
func (c *Client) Process(ctx context.Context, operation, sourceURL, prompt string) (*Result, error) {
	if _, err := OperationCost(operation); err != nil {
		return nil, err
	}

	body, err := json.Marshal(processRequest{
		Operation: operation,
		SourceURL: strings.TrimSpace(sourceURL),
		Prompt:    strings.TrimSpace(prompt),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/process", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("processing request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out Result
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.OutputURL) == "" && strings.TrimSpace(out.JobID) == "" {
		return nil, errors.New("processing backend returned an empty result")
	}
	return &out, nil
}
