package route

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/rowroute/internal/model"
)

// Decision is the outcome of dispatching one record.
type Decision struct {
	// NodeIDs are the destinations, deduplicated, in first-seen order.
	// Unrouted decisions hold only model.UnroutedNodeID.
	NodeIDs []string

	// Unrouted is set when no real node receives the record.
	Unrouted bool

	// Anomaly is set when no binding resolved for the record's table or
	// a router could not evaluate the record.
	Anomaly bool
}

// Dispatcher maps change records to destination nodes.
// It is used by one consuming goroutine at a time; per-pass memoization
// lives in the caller's PassContext.
type Dispatcher struct {
	catalog Catalog
	routers *Registry
}

// NewDispatcher creates a dispatcher over catalog using routers.
func NewDispatcher(catalog Catalog, routers *Registry) *Dispatcher {
	if routers == nil {
		routers = NewRegistry()
	}
	return &Dispatcher{catalog: catalog, routers: routers}
}

// Dispatch routes rec and updates pc's statistics and candidate cache.
//
// Records on ignored channels, records no router selected, and records with
// no binding all go to the unrouted node so their ids are still accounted
// for. A router that fails on the record itself, such as a payload that
// does not decode, is logged as an anomaly and its binding contributes no
// nodes; retrying would fail the same way. Only configuration errors and
// cancellation are returned. A record is never routed back to its source
// node.
func (d *Dispatcher) Dispatch(ctx context.Context, pc *model.PassContext, rec model.ChangeRecord) (Decision, error) {
	if pc.Channel.Ignored {
		pc.Stats.DataUnrouted++
		return unrouted(false), nil
	}

	bindings := d.bindingsFor(rec)
	if len(bindings) == 0 {
		slog.Warn("no router binding for change; skipping delivery",
			"data_id", rec.ID,
			"table", rec.TableName,
			"channel", rec.ChannelID,
		)
		pc.Stats.Anomalies++
		pc.Stats.DataUnrouted++
		return unrouted(true), nil
	}

	seen := make(map[string]struct{})
	var nodeIDs []string
	anomaly := false
	for _, b := range bindings {
		router, ok := d.routers.Lookup(b.RouterType)
		if !ok {
			return Decision{}, fmt.Errorf("route data %d: binding %s: unknown router type %q", rec.ID, b.Key(), b.RouterType)
		}

		candidates := d.candidates(pc, b)
		if len(candidates) == 0 {
			continue
		}

		start := time.Now()
		ids, err := router.RouteToNodes(ctx, rec, b, candidates)
		pc.Stats.RouterTime += time.Since(start)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Decision{}, ctxErr
			}
			slog.Warn("router failed on change; binding skipped",
				"data_id", rec.ID,
				"table", rec.TableName,
				"binding", b.Key(),
				"error", err,
			)
			anomaly = true
			continue
		}

		for _, id := range ids {
			if id == rec.SourceNodeID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			nodeIDs = append(nodeIDs, id)
		}
	}

	if anomaly {
		pc.Stats.Anomalies++
	}
	if len(nodeIDs) == 0 {
		pc.Stats.DataUnrouted++
		return unrouted(anomaly), nil
	}
	pc.Stats.DataRouted++
	return Decision{NodeIDs: nodeIDs, Anomaly: anomaly}, nil
}

// bindingsFor returns the bindings on rec's table that capture into rec's
// channel. Bindings without a channel match any channel.
func (d *Dispatcher) bindingsFor(rec model.ChangeRecord) []model.Binding {
	all := d.catalog.Bindings(rec.TableName)
	out := all[:0:0]
	for _, b := range all {
		if b.ChannelID == "" || b.ChannelID == rec.ChannelID {
			out = append(out, b)
		}
	}
	return out
}

// candidates returns the enabled nodes of b's target group, computed once
// per pass.
func (d *Dispatcher) candidates(pc *model.PassContext, b model.Binding) []model.Node {
	key := b.Key()
	if nodes, ok := pc.Candidates[key]; ok {
		return nodes
	}
	var nodes []model.Node
	for _, n := range d.catalog.CandidateNodes(b.TargetGroupID) {
		if n.Enabled {
			nodes = append(nodes, n)
		}
	}
	pc.Candidates[key] = nodes
	return nodes
}

func unrouted(anomaly bool) Decision {
	return Decision{NodeIDs: []string{model.UnroutedNodeID}, Unrouted: true, Anomaly: anomaly}
}
