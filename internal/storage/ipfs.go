// Package storage publishes assets and metadata documents to a
// content-addressed store and hands back ipfs:// locators.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	mh "github.com/multiformats/go-multihash"

	"github.com/Xzeius/decentralised-marketspace/internal/ipfsuri"
)

var log = logging.Logger("storage")

// ErrUploadFailed wraps every failed upload.
var ErrUploadFailed = errors.New("upload failed")

// rawLeafLimit is the largest payload that Kubo stores as a single raw
// block with the default chunker, so its CID can be computed locally.
const rawLeafLimit = 256 << 10

// Upload describes stored content.
type Upload struct {
	CID     cid.Cid
	Locator string
	Size    int
}

// Uploader stores blobs and JSON documents.
type Uploader interface {
	UploadBlob(ctx context.Context, name string, data []byte) (Upload, error)
	UploadJSON(ctx context.Context, name string, doc interface{}) (Upload, error)
}

// Config configures an IPFSUploader.
type Config struct {
	// APIEndpoint is the Kubo RPC API base, e.g. http://localhost:5001.
	APIEndpoint string
	// APIToken is sent as a bearer token when set (pinning services).
	APIToken string
	// VerifyCIDs recomputes the CID of small payloads and rejects
	// mismatching answers.
	VerifyCIDs bool
	Timeout    time.Duration
}

// DefaultConfig returns the local Kubo defaults.
func DefaultConfig() Config {
	return Config{
		APIEndpoint: "http://localhost:5001",
		VerifyCIDs:  true,
		Timeout:     2 * time.Minute,
	}
}

// IPFSUploader uploads through the Kubo /api/v0/add endpoint.
type IPFSUploader struct {
	config     Config
	httpClient *http.Client
}

var _ Uploader = (*IPFSUploader)(nil)

// NewIPFSUploader creates an uploader. httpClient may be nil.
func NewIPFSUploader(config Config, httpClient *http.Client) *IPFSUploader {
	if config.APIEndpoint == "" {
		config.APIEndpoint = DefaultConfig().APIEndpoint
	}
	config.APIEndpoint = strings.TrimRight(config.APIEndpoint, "/")
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultConfig().Timeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &IPFSUploader{config: config, httpClient: httpClient}
}

// UploadJSON marshals doc and uploads it.
func (u *IPFSUploader) UploadJSON(ctx context.Context, name string, doc interface{}) (Upload, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: marshal %s: %w", ErrUploadFailed, name, err)
	}
	return u.UploadBlob(ctx, name, data)
}

// UploadBlob uploads data and pins it.
func (u *IPFSUploader) UploadBlob(ctx context.Context, name string, data []byte) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, fmt.Errorf("%w: %s is empty", ErrUploadFailed, name)
	}
	if name == "" {
		name = "blob"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if _, err := part.Write(data); err != nil {
		return Upload{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if err := mw.Close(); err != nil {
		return Upload{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	url := u.config.APIEndpoint + "/api/v0/add?cid-version=1&raw-leaves=true&pin=true"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: create request: %w", ErrUploadFailed, err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if u.config.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+u.config.APIToken)
	}

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Upload{}, fmt.Errorf("%w: add returned status %d: %s", ErrUploadFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	hash, err := lastHash(resp.Body)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: decode add response: %w", ErrUploadFailed, err)
	}
	// Pinning services sometimes answer with ipfs://<cid> instead of a bare CID.
	c, err := ipfsuri.RootCID(hash)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	if u.config.VerifyCIDs && len(data) <= rawLeafLimit {
		want, err := RawCID(data)
		if err != nil {
			return Upload{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
		if !c.Equals(want) {
			return Upload{}, fmt.Errorf("%w: store answered %s for %s, expected %s", ErrUploadFailed, c, name, want)
		}
	}

	log.Infof("uploaded %s (%d bytes) as %s", name, len(data), c)
	return Upload{CID: c, Locator: ipfsuri.Locator(c), Size: len(data)}, nil
}

// lastHash reads the newline-delimited add response and returns the last
// reported hash, which is the root.
func lastHash(r io.Reader) (string, error) {
	dec := json.NewDecoder(io.LimitReader(r, 1<<20))
	var hash string
	for {
		var entry struct {
			Name string `json:"Name"`
			Hash string `json:"Hash"`
		}
		if err := dec.Decode(&entry); err == io.EOF {
			break
		} else if err != nil {
			return "", err
		}
		if entry.Hash != "" {
			hash = entry.Hash
		}
	}
	if hash == "" {
		return "", errors.New("no hash in response")
	}
	return hash, nil
}

// RawCID computes the CIDv1 (raw codec, sha2-256) of a single-block payload.
func RawCID(data []byte) (cid.Cid, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("hash payload: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
