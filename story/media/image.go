package media

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ImageClient generates illustrations through a synchronous HTTP service.
// Safe for concurrent use; the pipeline runs one call per branch.
type ImageClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewImageClient creates a client for the service at baseURL.
func NewImageClient(baseURL, apiKey string) (*ImageClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	return &ImageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}, nil
}

type imageRequest struct {
	Prompt string `json:"prompt"`
}

type imageResponse struct {
	URL string `json:"url"`
}

// Generate produces one illustration and returns its stored URL.
func (c *ImageClient) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	var resp imageResponse
	err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/images/generations", c.apiKey,
		imageRequest{Prompt: prompt}, &resp)
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("image generation: service returned no URL")
	}
	return resp.URL, nil
}
