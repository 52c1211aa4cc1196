// Package scanner uploads quarantined files to the remote analysis service,
// polls for the report and notifies the browser of the verdict.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// UploadField is the multipart form field carrying the file.
const UploadField = "exe_file"

// MaxResponseSize bounds every response body read. Reports are plain text
// logs; anything larger is truncated.
const MaxResponseSize int64 = 16 << 20

// Client talks to the remote analysis service. Upload and FetchReport never
// fail: transport errors are turned into a JSON error body the report
// parser understands.
type Client struct {
	http       *http.Client
	analyzeURL string
	reportURL  string
	timeout    time.Duration
	uploads    *rate.Limiter
}

// NewClient creates a client. uploadsPerMinute <= 0 disables throttling;
// timeout <= 0 disables the per-request timeout.
func NewClient(analyzeURL, reportURL string, timeout time.Duration, uploadsPerMinute int) *Client {
	limit := rate.Inf
	if uploadsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(uploadsPerMinute))
	}
	return &Client{
		http:       newHTTPClient(),
		analyzeURL: analyzeURL,
		reportURL:  reportURL,
		timeout:    timeout,
		uploads:    rate.NewLimiter(limit, 1),
	}
}

func newHTTPClient() *http.Client {
	d := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           d.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Upload posts the file at path to the analyze endpoint and returns the
// response body.
func (c *Client) Upload(ctx context.Context, path string) string {
	if err := c.uploads.Wait(ctx); err != nil {
		return errorBody("Upload failed", fmt.Errorf("waiting for upload slot: %w", err))
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return errorBody("Upload failed", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		part, err := mw.CreateFormFile(UploadField, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.analyzeURL, pr)
	if err != nil {
		pr.CloseWithError(err)
		return errorBody("Upload failed", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(req)
	pr.Close()
	if err != nil {
		return errorBody("Upload failed", err)
	}
	return body
}

// FetchReport fetches the report for jobID from <reportURL><jobID>/.
func (c *Client) FetchReport(ctx context.Context, jobID string) string {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.reportURL+jobID+"/", nil)
	if err != nil {
		return errorBody("Report fetch failed", err)
	}
	body, err := c.do(req)
	if err != nil {
		return errorBody("Report fetch failed", err)
	}
	return body
}

// do executes req and reads the body regardless of status code; the
// service reports problems in the body.
func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}
	return string(data), nil
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func errorBody(kind string, err error) string {
	data, _ := json.Marshal(map[string]string{
		"error":   kind,
		"details": err.Error(),
	})
	return string(data)
}
