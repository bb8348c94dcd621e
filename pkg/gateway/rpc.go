// DingClaw - DingTalk Stream channel gateway
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zhaopengme/dingclaw/pkg/channels"
	"github.com/zhaopengme/dingclaw/pkg/logger"
)

// RPCServer exposes the local control endpoints used by the status CLI.
type RPCServer struct {
	channels *channels.Manager
	server   *http.Server
}

func NewRPCServer(host string, port int, cm *channels.Manager) *RPCServer {
	rpc := &RPCServer{channels: cm}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc/channels.status", rpc.handleStatus)
	mux.HandleFunc("/rpc/channels.probe", rpc.handleProbe)

	rpc.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return rpc
}

// Start serves until the context is cancelled.
func (r *RPCServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.InfoCF("gateway", "RPC server listening", map[string]interface{}{
		"addr": r.server.Addr,
	})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (r *RPCServer) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, map[string]interface{}{
		"channels": r.channels.Status(),
	})
}

// handleProbe exercises each account's credentials against the vendor
// API, so "configured" and "actually working" can be told apart.
func (r *RPCServer) handleProbe(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 15*time.Second)
	defer cancel()

	writeJSON(w, map[string]interface{}{
		"accounts": r.channels.Probe(ctx),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("gateway", "RPC response encode failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
