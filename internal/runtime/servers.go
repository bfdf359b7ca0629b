package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/drblury/servoflow/internal/runtime/logging"
)

// listen is overridden in tests.
var listen = net.Listen

const readHeaderTimeout = 5 * time.Second

// httpServers groups handlers by port so metrics and status can share one
// listener when they are configured on the same port.
type httpServers struct {
	logger logging.ServiceLogger

	mu      sync.Mutex
	muxes   map[int]*http.ServeMux
	servers []*http.Server
	addrs   map[int]net.Addr
	wg      sync.WaitGroup
}

func newHTTPServers(logger logging.ServiceLogger) *httpServers {
	return &httpServers{
		logger: logger,
		muxes:  make(map[int]*http.ServeMux),
		addrs:  make(map[int]net.Addr),
	}
}

// Handle registers handler for pattern on port.
func (h *httpServers) Handle(port int, pattern string, handler http.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	mux, ok := h.muxes[port]
	if !ok {
		mux = http.NewServeMux()
		h.muxes[port] = mux
	}
	mux.Handle(pattern, handler)
}

// Start binds every port before serving, so a port that is already in use
// fails here instead of in a background goroutine.
func (h *httpServers) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ports := make([]int, 0, len(h.muxes))
	for port := range h.muxes {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	for _, port := range ports {
		addr := fmt.Sprintf(":%d", port)
		ln, err := listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv := &http.Server{Handler: h.muxes[port], ReadHeaderTimeout: readHeaderTimeout}
		h.servers = append(h.servers, srv)
		h.addrs[port] = ln.Addr()
		h.logger.Info("Starting HTTP server", logging.LogFields{"address": ln.Addr().String()})

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.logger.Error("HTTP server stopped", err, logging.LogFields{"address": addr})
			}
		}()
	}
	return nil
}

// Addr returns the bound address for a configured port, or nil.
func (h *httpServers) Addr(port int) net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addrs[port]
}

// Shutdown stops every server and waits for them to return.
func (h *httpServers) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	servers := h.servers
	h.servers = nil
	h.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	h.wg.Wait()
	return errors.Join(errs...)
}
