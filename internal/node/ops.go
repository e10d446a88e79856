package node

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsServer exposes ambient health/metrics HTTP endpoints alongside the
// broker-mediated coordination protocol: a liveness summary and a
// dedicated Prometheus metrics endpoint.
type OpsServer struct {
	srv *http.Server
	n   *Node
}

// NewOpsServer builds the HTTP server; addr is typically config.HTTPAddr.
func NewOpsServer(addr string, n *Node) *OpsServer {
	mux := http.NewServeMux()
	o := &OpsServer{n: n}
	mux.HandleFunc("/healthz", o.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	o.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return o
}

func (o *OpsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	hb := o.n.Heartbeat()
	body := map[string]interface{}{
		"status":    "healthy",
		"node_id":   hb.Node,
		"node_status": hb.Status,
		"is_leader": o.n.IsLeader(),
		"live_nodes": o.n.Tracker().Len(),
		"timestamp": time.Now().Unix(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// ListenAndServe runs the HTTP server until the server is shut down.
func (o *OpsServer) ListenAndServe() error {
	err := o.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (o *OpsServer) Shutdown(ctx context.Context) error {
	return o.srv.Shutdown(ctx)
}
