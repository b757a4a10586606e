package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/onsi/gomega"

	v0 "github.com/stacklok/record-sync/internal/api/v0"
	syncapp "github.com/stacklok/record-sync/internal/app"
	"github.com/stacklok/record-sync/internal/config"
	"github.com/stacklok/record-sync/internal/httpclient"
)

// PipelineHelper manages the lifecycle of one record-sync application for testing
type PipelineHelper struct {
	ctx     context.Context
	cfg     *config.Config
	baseURL string
	address string
	client  httpclient.Client

	app    *syncapp.SyncApp
	cancel context.CancelFunc
	errCh  chan error
}

// NewPipelineHelper creates a helper serving cfg on a free local port
func NewPipelineHelper(ctx context.Context, cfg *config.Config) *PipelineHelper {
	address := freeAddress()
	return &PipelineHelper{
		ctx:     ctx,
		cfg:     cfg,
		address: address,
		baseURL: "http://" + address,
		client:  httpclient.NewDefaultClient(5 * time.Second),
	}
}

// Start builds the application and runs it in the background
func (h *PipelineHelper) Start() error {
	runCtx, cancel := context.WithCancel(h.ctx)
	app, err := syncapp.NewSyncApp(runCtx, syncapp.WithConfig(h.cfg), syncapp.WithAddress(h.address))
	if err != nil {
		cancel()
		return fmt.Errorf("failed to build app: %w", err)
	}

	h.app = app
	h.cancel = cancel
	h.errCh = make(chan error, 1)
	go func() {
		h.errCh <- app.Run(runCtx)
	}()
	return nil
}

// Stop cancels the application, waits for Run to return and releases its stores
func (h *PipelineHelper) Stop() error {
	if h.app == nil {
		return nil
	}
	defer func() {
		h.app.Close()
		h.app = nil
	}()

	h.cancel()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("application did not stop")
	}
}

// App returns the running application
func (h *PipelineHelper) App() *syncapp.SyncApp {
	return h.app
}

// WaitForReady waits until /readiness reports that the first full sync has completed
func (h *PipelineHelper) WaitForReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		_, err := h.client.Get(h.ctx, h.baseURL+"/readiness")
		return err
	}, timeout, 20*time.Millisecond).Should(gomega.Succeed())
}

// Status fetches the persisted status of the pipeline over HTTP
func (h *PipelineHelper) Status() (v0.PipelineStatus, error) {
	var out v0.PipelineStatus
	body, err := h.client.Get(h.ctx, h.baseURL+"/status/"+url.PathEscape(h.cfg.GetName()))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("failed to decode status: %w", err)
	}
	return out, nil
}

// StatusList fetches the status of every known pipeline over HTTP
func (h *PipelineHelper) StatusList() (v0.StatusListResponse, error) {
	var out v0.StatusListResponse
	body, err := h.client.Get(h.ctx, h.baseURL+"/status")
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("failed to decode status list: %w", err)
	}
	return out, nil
}

// Resync asks the running application for a full sync
func (h *PipelineHelper) Resync() (v0.ResyncResponse, error) {
	var out v0.ResyncResponse
	body, err := h.client.Post(h.ctx, h.baseURL+"/resync")
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("failed to decode resync response: %w", err)
	}
	return out, nil
}

// Get fetches an arbitrary path of the API
func (h *PipelineHelper) Get(path string) ([]byte, error) {
	return h.client.Get(h.ctx, h.baseURL+path)
}

// freeAddress reserves a local port and releases it for the application to bind
func freeAddress() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer l.Close()
	return l.Addr().String()
}
