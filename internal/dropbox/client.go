// Package dropbox is a minimal Dropbox API v2 client covering folder
// listing and file download.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kissr/kissr-sync/internal/metrics"
	"github.com/kissr/kissr-sync/internal/retry"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com"
	DefaultContentURL = "https://content.dropboxapi.com"
)

// Entry tags.
const (
	TagFile    = "file"
	TagFolder  = "folder"
	TagDeleted = "deleted"
)

// Entry is one file, folder or deletion record from a listing.
type Entry struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	ID             string    `json:"id,omitempty"`
	PathLower      string    `json:"path_lower,omitempty"`
	PathDisplay    string    `json:"path_display,omitempty"`
	Size           int64     `json:"size,omitempty"`
	Rev            string    `json:"rev,omitempty"`
	ContentHash    string    `json:"content_hash,omitempty"`
	ServerModified time.Time `json:"server_modified,omitempty"`
}

// IsFile reports whether the entry is a file.
func (e Entry) IsFile() bool { return e.Tag == TagFile }

// IsDeleted reports whether the entry records a deletion.
func (e Entry) IsDeleted() bool { return e.Tag == TagDeleted }

// ListFolderResult is one page of a folder listing.
type ListFolderResult struct {
	Entries []Entry `json:"entries"`
	Cursor  string  `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

// Download is the body and metadata of a downloaded file.
// The caller must close Body.
type Download struct {
	Body     io.ReadCloser
	Size     int64
	Metadata Entry
}

// APIError is a non-2xx response from the Dropbox API.
type APIError struct {
	Endpoint string
	Status   int
	Summary  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropbox %s: %d %s", e.Endpoint, e.Status, e.Summary)
}

// Config holds client configuration.
type Config struct {
	Token       string
	APIURL      string
	ContentURL  string
	Timeout     time.Duration // 0 = no timeout
	RetryConfig retry.Config
	// Base is the transport-level client the bearer token is layered on.
	// Nil uses http.DefaultClient.
	Base *http.Client
}

// Client talks to the Dropbox API on behalf of one account.
type Client struct {
	apiURL      string
	contentURL  string
	httpClient  *http.Client
	retryConfig retry.Config
}

// New creates a client authorized with a static access token.
func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.ContentURL == "" {
		cfg.ContentURL = DefaultContentURL
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.Once()
	}

	ctx := context.Background()
	if cfg.Base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.Base)
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.Token,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = cfg.Timeout

	return &Client{
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		contentURL:  strings.TrimRight(cfg.ContentURL, "/"),
		httpClient:  httpClient,
		retryConfig: cfg.RetryConfig,
	}
}

// ListFolder starts a listing of path. The root folder is "".
func (c *Client) ListFolder(ctx context.Context, path string, recursive bool) (*ListFolderResult, error) {
	arg := struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}{path, recursive}
	return c.list(ctx, "files/list_folder", arg)
}

// ListFolderContinue fetches the page after cursor.
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (*ListFolderResult, error) {
	arg := struct {
		Cursor string `json:"cursor"`
	}{cursor}
	return c.list(ctx, "files/list_folder/continue", arg)
}

func (c *Client) list(ctx context.Context, endpoint string, arg any) (*ListFolderResult, error) {
	body, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("encode %s arg: %w", endpoint, err)
	}

	return retry.Do(ctx, c.retryConfig, func() (*ListFolderResult, error) {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/2/"+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordDropboxCall(endpoint, time.Since(start), false)
			return nil, retry.Retryable(fmt.Errorf("dropbox %s: %w", endpoint, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.RecordDropboxCall(endpoint, time.Since(start), false)
			return nil, classify(decodeError(endpoint, resp))
		}

		var result ListFolderResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			metrics.RecordDropboxCall(endpoint, time.Since(start), false)
			return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		metrics.RecordDropboxCall(endpoint, time.Since(start), true)
		return &result, nil
	})
}

// Download fetches the content of the file at path.
func (c *Client) Download(ctx context.Context, path string) (*Download, error) {
	const endpoint = "files/download"
	arg, err := headerSafeJSON(struct {
		Path string `json:"path"`
	}{path})
	if err != nil {
		return nil, fmt.Errorf("encode %s arg: %w", endpoint, err)
	}

	return retry.Do(ctx, c.retryConfig, func() (*Download, error) {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/2/"+endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Dropbox-API-Arg", arg)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordDropboxCall(endpoint, time.Since(start), false)
			return nil, retry.Retryable(fmt.Errorf("dropbox %s: %w", endpoint, err))
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			metrics.RecordDropboxCall(endpoint, time.Since(start), false)
			return nil, classify(decodeError(endpoint, resp))
		}

		d := &Download{Body: resp.Body, Size: resp.ContentLength}
		if raw := resp.Header.Get("Dropbox-API-Result"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &d.Metadata); err == nil && d.Size < 0 {
				d.Size = d.Metadata.Size
			}
		}
		metrics.RecordDropboxCall(endpoint, time.Since(start), true)
		return d, nil
	})
}

func decodeError(endpoint string, resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{Endpoint: endpoint, Status: resp.StatusCode}

	var body struct {
		ErrorSummary string `json:"error_summary"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.ErrorSummary != "" {
		apiErr.Summary = body.ErrorSummary
	} else {
		apiErr.Summary = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// classify marks rate limiting and server errors as retryable.
func classify(err *APIError) error {
	if err.Status == http.StatusTooManyRequests || err.Status >= 500 {
		return retry.Retryable(err)
	}
	return err
}

// headerSafeJSON encodes v as JSON with DEL and every non-ASCII rune
// escaped, as required for the Dropbox-API-Arg header.
func headerSafeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, r := range string(b) {
		if r < 0x7F {
			sb.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r -= 0x10000
			sb.WriteString(`\u` + strconv.FormatInt(int64(0xD800+(r>>10)), 16))
			sb.WriteString(`\u` + strconv.FormatInt(int64(0xDC00+(r&0x3FF)), 16))
			continue
		}
		sb.WriteString(fmt.Sprintf(`\u%04x`, r))
	}
	return sb.String(), nil
}
