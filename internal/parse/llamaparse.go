package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// LlamaParse is a client for a LlamaParse-style OCR service: upload the
// file to start a parsing job, then poll until the markdown result is
// ready.
type LlamaParse struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
}

// NewLlamaParse creates a parser client.
func NewLlamaParse(baseURL, apiKey string, timeout, pollInterval time.Duration) *LlamaParse {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &LlamaParse{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		apiKey:       apiKey,
		pollInterval: pollInterval,
	}
}

// Parse uploads the document and polls for the parsed markdown.
func (p *LlamaParse) Parse(ctx context.Context, filePath string) (string, error) {
	if p.apiKey == "" {
		return "", &Error{Path: filePath, Err: fmt.Errorf("parser API key is not configured")}
	}

	jobID, err := p.upload(ctx, filePath)
	if err != nil {
		return "", &Error{Path: filePath, Err: err}
	}

	text, err := p.poll(ctx, jobID)
	if err != nil {
		return "", &Error{Path: filePath, Err: err}
	}
	return text, nil
}

func (p *LlamaParse) upload(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/upload", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}

	var job struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("upload response missing job id")
	}
	return job.ID, nil
}

func (p *LlamaParse) poll(ctx context.Context, jobID string) (string, error) {
	resultURL := fmt.Sprintf("%s/job/%s/result/markdown", p.baseURL, jobID)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("poll: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var result struct {
				Markdown string `json:"markdown"`
			}
			err := json.NewDecoder(resp.Body).Decode(&result)
			resp.Body.Close()
			if err != nil {
				return "", fmt.Errorf("decode result: %w", err)
			}
			return result.Markdown, nil
		case resp.StatusCode == http.StatusNotFound:
			// Job not ready yet, keep polling.
			resp.Body.Close()
		default:
			resp.Body.Close()
			return "", fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
		}
	}
}
