package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
)

type fakeKubo struct {
	mu      sync.Mutex
	files   map[string][]byte
	auth    string
	query   string
	corrupt bool

	// hashPrefix is prepended to the reported hash.
	hashPrefix string
}

func (k *fakeKubo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v0/add" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(file)

	c, _ := RawCID(data)
	if k.corrupt {
		c, _ = RawCID(append(data, '!'))
	}

	k.mu.Lock()
	k.files[c.String()] = data
	k.auth = r.Header.Get("Authorization")
	k.query = r.URL.RawQuery
	k.mu.Unlock()

	fmt.Fprintf(w, "{\"Name\":%q,\"Hash\":%q,\"Size\":\"%d\"}\n", header.Filename, k.hashPrefix+c.String(), len(data))
}

func (k *fakeKubo) lastAuth() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.auth
}

func newFakeKubo(t *testing.T) (*fakeKubo, *httptest.Server) {
	t.Helper()
	k := &fakeKubo{files: make(map[string][]byte)}
	srv := httptest.NewServer(k)
	t.Cleanup(srv.Close)
	return k, srv
}

func TestUploadBlob(t *testing.T) {
	k, srv := newFakeKubo(t)
	u := NewIPFSUploader(Config{APIEndpoint: srv.URL + "/", APIToken: "secret", VerifyCIDs: true}, nil)

	up, err := u.UploadBlob(context.Background(), "chair.png", []byte("\x89PNG fake image"))
	if err != nil {
		t.Fatalf("UploadBlob: %v", err)
	}
	if want := "ipfs://" + up.CID.String(); up.Locator != want {
		t.Errorf("Locator = %q, want %q", up.Locator, want)
	}
	if up.CID.Prefix().Codec != cid.Raw || up.CID.Version() != 1 {
		t.Errorf("CID %s is not a CIDv1 raw leaf", up.CID)
	}
	if got := k.lastAuth(); got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}
	for _, param := range []string{"cid-version=1", "raw-leaves=true", "pin=true"} {
		if !strings.Contains(k.query, param) {
			t.Errorf("query %q missing %s", k.query, param)
		}
	}
}

func TestUploadJSON(t *testing.T) {
	k, srv := newFakeKubo(t)
	u := NewIPFSUploader(Config{APIEndpoint: srv.URL, VerifyCIDs: true}, srv.Client())

	doc := map[string]string{"name": "Chair", "description": "Oak", "image": "ipfs://bafyimage", "price": "0.5"}
	up, err := u.UploadJSON(context.Background(), "metadata.json", doc)
	if err != nil {
		t.Fatalf("UploadJSON: %v", err)
	}

	var stored map[string]string
	if err := json.Unmarshal(k.files[up.CID.String()], &stored); err != nil {
		t.Fatalf("stored document: %v", err)
	}
	if stored["name"] != "Chair" || stored["price"] != "0.5" {
		t.Errorf("stored = %v", stored)
	}
	if got := k.lastAuth(); got != "" {
		t.Errorf("Authorization sent without token: %q", got)
	}
}

func TestUploadRejectsMismatchedCID(t *testing.T) {
	k, srv := newFakeKubo(t)
	k.corrupt = true

	u := NewIPFSUploader(Config{APIEndpoint: srv.URL, VerifyCIDs: true}, nil)
	if _, err := u.UploadBlob(context.Background(), "x", []byte("payload")); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("error = %v, want ErrUploadFailed", err)
	}

	u = NewIPFSUploader(Config{APIEndpoint: srv.URL}, nil)
	if _, err := u.UploadBlob(context.Background(), "x", []byte("payload")); err != nil {
		t.Fatalf("unverified upload: %v", err)
	}
}

func TestUploadAcceptsLocatorHash(t *testing.T) {
	k, srv := newFakeKubo(t)
	k.hashPrefix = "ipfs://"

	u := NewIPFSUploader(Config{APIEndpoint: srv.URL, VerifyCIDs: true}, nil)
	up, err := u.UploadBlob(context.Background(), "x", []byte("payload"))
	if err != nil {
		t.Fatalf("UploadBlob: %v", err)
	}
	want, _ := RawCID([]byte("payload"))
	if !up.CID.Equals(want) || up.Locator != "ipfs://"+want.String() {
		t.Errorf("upload = %+v, want root %s", up, want)
	}

	k.hashPrefix = "not-a-cid-"
	if _, err := u.UploadBlob(context.Background(), "x", []byte("payload")); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("garbage hash error = %v, want ErrUploadFailed", err)
	}
}

func TestUploadFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pinning quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	u := NewIPFSUploader(Config{APIEndpoint: srv.URL}, nil)
	_, err := u.UploadBlob(context.Background(), "x", []byte("payload"))
	if !errors.Is(err, ErrUploadFailed) || !strings.Contains(err.Error(), "quota") {
		t.Errorf("error = %v, want ErrUploadFailed carrying the server message", err)
	}
	if _, err := u.UploadBlob(context.Background(), "x", nil); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("empty upload error = %v, want ErrUploadFailed", err)
	}
	if _, err := u.UploadJSON(context.Background(), "x", make(chan int)); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("unmarshalable document error = %v, want ErrUploadFailed", err)
	}
}

func TestLastHashTakesRoot(t *testing.T) {
	body := `{"Name":"a","Hash":"leaf"}` + "\n" + `{"Name":"","Hash":"root"}` + "\n"
	got, err := lastHash(strings.NewReader(body))
	if err != nil || got != "root" {
		t.Errorf("lastHash = %q, %v; want root", got, err)
	}
	if _, err := lastHash(strings.NewReader("")); err == nil {
		t.Error("empty response should fail")
	}
}
