package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// PatchRequest is the wire format of a field-level document patch.
// Updates are applied before deletes.
type PatchRequest struct {
	Updates []FieldUpdate `json:"updates,omitempty"`
	Deletes [][]string    `json:"deletes,omitempty"`
}

// Remote is a Store backed by a grind document server. Reads and writes
// go over HTTP; subscriptions hold a WebSocket per document and redial
// with backoff when the connection drops.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *log.Logger

	mu     sync.Mutex
	cancel map[int]context.CancelFunc
	nextID int
	closed bool
}

// RemoteConfig holds options for NewRemote.
type RemoteConfig struct {
	// BaseURL of the document server, e.g. "http://localhost:7433".
	BaseURL string

	// Token is an opaque credential sent as a bearer token. Optional.
	Token string

	// Logger for subscription activity (default: stderr logger).
	Logger *log.Logger
}

// NewRemote creates a client for the document server at cfg.BaseURL.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[docstore] ", log.LstdFlags)
	}
	return &Remote{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
		cancel:  make(map[int]context.CancelFunc),
	}, nil
}

// Get implements Store.Get.
func (r *Remote) Get(ctx context.Context, name string) (Document, bool, error) {
	resp, err := r.do(ctx, http.MethodGet, r.docURL(name), nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var doc Document
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, false, fmt.Errorf("failed to decode document %s: %w", name, err)
		}
		return doc, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, r.statusError(name, resp)
	}
}

// Set implements Store.Set.
func (r *Remote) Set(ctx context.Context, name string, data Document, mergeDoc bool) error {
	u := r.docURL(name)
	if mergeDoc {
		u += "?merge=1"
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", name, err)
	}
	resp, err := r.do(ctx, http.MethodPut, u, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return r.statusError(name, resp)
	}
	return nil
}

// UpdateFields implements Store.UpdateFields.
func (r *Remote) UpdateFields(ctx context.Context, name string, updates []FieldUpdate) error {
	return r.patch(ctx, name, PatchRequest{Updates: updates})
}

// DeleteField implements Store.DeleteField.
func (r *Remote) DeleteField(ctx context.Context, name string, path ...string) error {
	return r.patch(ctx, name, PatchRequest{Deletes: [][]string{path}})
}

func (r *Remote) patch(ctx context.Context, name string, req PatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode patch for %s: %w", name, err)
	}
	resp, err := r.do(ctx, http.MethodPatch, r.docURL(name), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return r.statusError(name, resp)
	}
	return nil
}

// Subscribe implements Store.Subscribe. The watch loop runs until the
// cancel function is called or the client is closed; dropped connections
// are redialed with a fixed backoff.
func (r *Remote) Subscribe(name string, fn func(Snapshot)) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := r.nextID
	r.nextID++
	r.cancel[id] = cancel
	r.mu.Unlock()

	go r.watchLoop(ctx, name, fn)

	return func() {
		cancel()
		r.mu.Lock()
		delete(r.cancel, id)
		r.mu.Unlock()
	}, nil
}

// Close implements Store.Close.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, cancel := range r.cancel {
		cancel()
		delete(r.cancel, id)
	}
	return nil
}

// watchLoop dials the server's watch endpoint and relays snapshots.
func (r *Remote) watchLoop(ctx context.Context, name string, fn func(Snapshot)) {
	const redialDelay = 2 * time.Second

	wsURL := r.watchURL(name)
	for {
		if ctx.Err() != nil {
			return
		}

		opts := &websocket.DialOptions{}
		if r.token != "" {
			opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + r.token}}
		}
		conn, _, err := websocket.Dial(ctx, wsURL, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Printf("watch dial failed for %s: %v (retrying)", name, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
			}
			continue
		}

		r.readLoop(ctx, conn, name, fn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

// readLoop decodes snapshot frames until the connection breaks.
func (r *Remote) readLoop(ctx context.Context, conn *websocket.Conn, name string, fn func(Snapshot)) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Printf("watch connection for %s closed: %v", name, err)
			}
			return
		}

		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			r.logger.Printf("dropping malformed watch frame for %s: %v", name, err)
			continue
		}
		fn(snap)
	}
}

func (r *Remote) docURL(name string) string {
	return r.baseURL + "/v1/docs/" + url.PathEscape(name)
}

func (r *Remote) watchURL(name string) string {
	u := r.docURL(name) + "/watch"
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

func (r *Remote) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func (r *Remote) statusError(name string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: document %s: server returned %s: %s",
		ErrUnavailable, name, resp.Status, strings.TrimSpace(string(msg)))
}
