package r2s3

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
	defaultRegion  = "auto"

	amzDateLayout  = "20060102T150405Z"
	amzScopeLayout = "20060102"
	errorBodyLimit = 8 << 10
	uploadTimeout  = 2 * time.Minute
)

var errEmptyKey = errors.New("empty object key")

// Client uploads objects to an S3-compatible bucket (Cloudflare R2, MinIO)
// with path-style URLs.
type Client struct {
	base   *url.URL
	bucket string
	signer signer
	http   *http.Client

	now func() time.Time
}

// signer produces SigV4 Authorization headers for one set of credentials.
type signer struct {
	accessKeyID string
	secret      string
	region      string
}

func New(endpoint, bucket, accessKeyID, secretAccessKey string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.Trim(strings.TrimSpace(bucket), "/")
	accessKeyID = strings.TrimSpace(accessKeyID)
	secretAccessKey = strings.TrimSpace(secretAccessKey)

	var missing []string
	for name, v := range map[string]string{"endpoint": endpoint, "bucket": bucket, "access key": accessKeyID, "secret key": secretAccessKey} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("r2s3: missing %s", strings.Join(missing, ", "))
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("r2s3: parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("r2s3: invalid endpoint %q", endpoint)
	}

	return &Client{
		base:   u,
		bucket: bucket,
		signer: signer{accessKeyID: accessKeyID, secret: secretAccessKey, region: defaultRegion},
		http:   &http.Client{Timeout: uploadTimeout},
		now:    time.Now,
	}, nil
}

// SetRegion overrides the signing region. R2 accepts "auto".
func (c *Client) SetRegion(region string) {
	if region = strings.TrimSpace(region); region != "" {
		c.signer.region = region
	}
}

// PutFile uploads the file at localPath under key.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("r2s3: not a regular file: %s", localPath)
	}
	return c.Put(ctx, key, f, st.Size(), contentTypeFor(key))
}

// Put uploads size bytes from body. body is read twice: once to hash the
// payload and once to send it.
func (c *Client) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	key = cleanKey(key)
	if key == "" {
		return errEmptyKey
	}
	sum := sha256.New()
	if _, err := io.Copy(sum, body); err != nil {
		return fmt.Errorf("r2s3: hash payload: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return err
	}

	target := *c.base
	target.Path = c.base.Path + "/" + c.bucket + "/" + key
	target.RawPath = c.base.EscapedPath() + "/" + c.bucket + "/" + escapeSegments(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), io.NopCloser(body))
	if err != nil {
		return err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.signer.sign(req, hex.EncodeToString(sum.Sum(nil)), c.now().UTC())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return fmt.Errorf("s3 put failed status=%d key=%s body=%s", resp.StatusCode, key, strings.TrimSpace(string(msg)))
}

// sign sets the x-amz headers and Authorization on req. Every header already
// on the request plus host is signed.
func (s signer) sign(req *http.Request, payloadHash string, at time.Time) {
	stamp := at.Format(amzDateLayout)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", stamp)

	values := map[string]string{"host": req.URL.Host}
	for name, vs := range req.Header {
		values[strings.ToLower(name)] = strings.TrimSpace(strings.Join(vs, ","))
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var headers strings.Builder
	for _, name := range names {
		headers.WriteString(name + ":" + values[name] + "\n")
	}
	signed := strings.Join(names, ";")

	canonical := req.Method + "\n" +
		req.URL.EscapedPath() + "\n" +
		req.URL.RawQuery + "\n" +
		headers.String() + "\n" +
		signed + "\n" +
		payloadHash

	scope := at.Format(amzScopeLayout) + "/" + s.region + "/" + sigV4Service + "/aws4_request"
	digest := sha256.Sum256([]byte(canonical))
	toSign := sigV4Algorithm + "\n" + stamp + "\n" + scope + "\n" + hex.EncodeToString(digest[:])

	key := []byte("AWS4" + s.secret)
	for _, part := range []string{at.Format(amzScopeLayout), s.region, sigV4Service, "aws4_request"} {
		key = hmacSum(key, part)
	}
	req.Header.Set("Authorization", sigV4Algorithm+
		" Credential="+s.accessKeyID+"/"+scope+
		", SignedHeaders="+signed+
		", Signature="+hex.EncodeToString(hmacSum(key, toSign)))
}

func hmacSum(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return m.Sum(nil)
}

func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".zst":
		return "application/zstd"
	case ".json":
		return "application/json"
	case ".db", ".sqlite":
		return "application/vnd.sqlite3"
	default:
		return "application/octet-stream"
	}
}

// cleanKey turns key into a slash-separated relative object key. Keys that
// resolve to the bucket root or above it are rejected with "".
func cleanKey(key string) string {
	key = strings.ReplaceAll(strings.TrimSpace(key), `\`, "/")
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" || clean == "." {
		return ""
	}
	return clean
}

func escapeSegments(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
