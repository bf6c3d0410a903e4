// Package detector adapts the external PII entity classifier service.
// The gateway never loads a model in-process; inference runs behind an HTTP
// endpoint and is consumed through the Detector contract.
package detector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entity is a typed span found by the classifier. Start and End are
// half-open byte offsets into the UTF-8 input text.
type Entity struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Detector produces typed entity spans with confidence for a given text.
type Detector interface {
	Predict(ctx context.Context, text string, labels []string) ([]Entity, error)
}

// HTTPDetector calls a classifier inference service (POST {base}/predict).
type HTTPDetector struct {
	url string
	hc  *http.Client
}

// NewHTTPDetector creates a detector client against the given base URL.
func NewHTTPDetector(baseURL string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{
		url: baseURL + "/predict",
		hc:  &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

type predictResponse struct {
	Entities []Entity `json:"entities"`
}

// Predict implements Detector.
func (d *HTTPDetector) Predict(ctx context.Context, text string, labels []string) ([]Entity, error) {
	body, err := json.Marshal(predictRequest{Text: text, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("detector: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector: status %d: %s", resp.StatusCode, string(payload))
	}

	var parsed predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("detector: decode response: %w", err)
	}

	return parsed.Entities, nil
}
