package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
)

// HTTPOracle calls an inference server exposing
// GET /health and POST /predict (multipart "file").
type HTTPOracle struct {
	BaseURL string
	Client  *http.Client
}

type predictParams struct {
	Confidence float64 `url:"conf"`
	Verbose    bool    `url:"verbose"`
}

type predictResponse struct {
	Detections []struct {
		Class      string    `json:"class"`
		Confidence float64   `json:"confidence"`
		Box        []float64 `json:"box"`
	} `json:"detections"`
}

func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPOracle{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// HTTPLoader returns a Loader that checks the inference server is reachable
// before handing out the oracle.
func HTTPLoader(baseURL string, timeout time.Duration) Loader {
	return func(ctx context.Context) (Oracle, error) {
		if baseURL == "" {
			return nil, fmt.Errorf("%w: no detector url configured", ErrUnavailable)
		}
		o := NewHTTPOracle(baseURL, timeout)
		if err := o.Health(ctx); err != nil {
			return nil, err
		}
		return o, nil
	}
}

func (o *HTTPOracle) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return fmt.Errorf("detector health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector health check: status %d", resp.StatusCode)
	}
	return nil
}

func (o *HTTPOracle) Detect(ctx context.Context, image []byte, filename string, confidence float64) (Detection, error) {
	params, err := query.Values(predictParams{Confidence: confidence})
	if err != nil {
		return Detection{}, fmt.Errorf("encoding predict params: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Detection{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return Detection{}, fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Detection{}, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/predict?"+params.Encode(), &body)
	if err != nil {
		return Detection{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.Client.Do(req)
	if err != nil {
		return Detection{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Detection{}, fmt.Errorf("detector error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Detection{}, fmt.Errorf("failed to decode response: %w", err)
	}

	d := Detection{}
	for _, det := range pr.Detections {
		if det.Confidence < confidence {
			continue
		}
		d.Confidences = append(d.Confidences, det.Confidence)
	}
	d.Detected = len(d.Confidences) > 0
	return d, nil
}
