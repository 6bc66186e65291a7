// Package r2s3 uploads closed period archives to an S3-compatible bucket
// (Cloudflare R2 in production) using SigV4 request signing.
package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// DefaultRegion is what R2 expects in the credential scope.
const DefaultRegion = "auto"

type Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Timeout         time.Duration
}

// Client talks to one bucket with path-style URLs:
// <endpoint>/<bucket>/<key>.
type Client struct {
	baseURL    *url.URL
	bucket     string
	signer     signer
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	for _, f := range []struct{ name, v string }{
		{"endpoint", cfg.Endpoint},
		{"bucket", cfg.Bucket},
		{"access key", cfg.AccessKeyID},
		{"secret key", cfg.SecretAccessKey},
	} {
		if strings.TrimSpace(f.v) == "" {
			return nil, fmt.Errorf("r2: %s is required", f.name)
		}
	}

	raw := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("r2: parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("r2: invalid endpoint %q", raw)
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = DefaultRegion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: u,
		bucket:  strings.TrimSpace(cfg.Bucket),
		signer: signer{
			accessKeyID:     strings.TrimSpace(cfg.AccessKeyID),
			secretAccessKey: strings.TrimSpace(cfg.SecretAccessKey),
			region:          region,
			now:             time.Now,
		},
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// PutFile uploads localPath as objectKey.
func (c *Client) PutFile(ctx context.Context, objectKey, localPath string) error {
	key := normalizeObjectKey(objectKey)
	if key == "" {
		return errors.New("r2: empty object key")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("r2: not a regular file: %s", localPath)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	req, uri, err := c.newRequest(ctx, http.MethodPut, key, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentTypeFor(key))
	c.signer.sign(req, uri, hex.EncodeToString(h.Sum(nil)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("r2 put failed status=%d key=%s body=%s", resp.StatusCode, key, strings.TrimSpace(string(body)))
}

// HeadObject reports the stored size of objectKey. A missing object is
// (0, false, nil).
func (c *Client) HeadObject(ctx context.Context, objectKey string) (int64, bool, error) {
	key := normalizeObjectKey(objectKey)
	if key == "" {
		return 0, false, errors.New("r2: empty object key")
	}
	req, uri, err := c.newRequest(ctx, http.MethodHead, key, nil)
	if err != nil {
		return 0, false, err
	}
	c.signer.sign(req, uri, emptyPayloadHash)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, nil
	case resp.StatusCode/100 == 2:
		return resp.ContentLength, true, nil
	default:
		return 0, false, fmt.Errorf("r2 head failed status=%d key=%s", resp.StatusCode, key)
	}
}

// newRequest returns the request and its canonical (escaped) URI.
func (c *Client) newRequest(ctx context.Context, method, key string, body io.Reader) (*http.Request, string, error) {
	uri := strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + c.bucket + "/" + escapePath(key)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.Scheme+"://"+c.baseURL.Host+uri, body)
	if err != nil {
		return nil, "", err
	}
	return req, uri, nil
}

func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".zst":
		return "application/zstd"
	case ".ljson":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// normalizeObjectKey cleans key to a relative slash path; keys that escape
// the bucket root come back empty.
func normalizeObjectKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if strings.Trim(key, "/") == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" || clean == "." {
		return ""
	}
	return clean
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
