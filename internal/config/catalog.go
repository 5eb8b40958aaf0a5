package config

import (
	"slices"

	"github.com/roach88/rowroute/internal/model"
)

// Catalog is the routing view of a Config: channels, the bindings per
// table, and nodes per group. It is immutable once built and safe for
// concurrent use.
type Catalog struct {
	channels []model.Channel
	bindings map[string][]model.Binding
	groups   map[string][]model.Node
}

// NewCatalog builds the catalog for c. Only routers whose source group is
// the local node's group (or unset) take part, and disabled trigger-router
// links are dropped. Bindings for a table keep configuration order.
func NewCatalog(c *Config) *Catalog {
	cat := &Catalog{
		bindings: make(map[string][]model.Binding),
		groups:   make(map[string][]model.Node),
	}
	for _, ch := range c.Channels {
		cat.channels = append(cat.channels, ch.Model())
	}
	for _, n := range c.Nodes {
		cat.groups[n.GroupID] = append(cat.groups[n.GroupID], n.Model())
	}

	triggers := make(map[string]TriggerConfig, len(c.Triggers))
	for _, t := range c.Triggers {
		triggers[t.ID] = t
	}
	routers := make(map[string]RouterConfig, len(c.Routers))
	for _, r := range c.Routers {
		routers[r.ID] = r
	}

	for _, tr := range c.TriggerRouters {
		if tr.Enabled != nil && !*tr.Enabled {
			continue
		}
		t, ok := triggers[tr.Trigger]
		if !ok {
			continue
		}
		r, ok := routers[tr.Router]
		if !ok {
			continue
		}
		if r.SourceGroup != "" && r.SourceGroup != c.Node.GroupID {
			continue
		}
		cat.bindings[t.Table] = append(cat.bindings[t.Table], model.Binding{
			TriggerID:     t.ID,
			RouterID:      r.ID,
			TableName:     t.Table,
			ChannelID:     t.Channel,
			RouterType:    r.Type,
			SourceGroupID: r.SourceGroup,
			TargetGroupID: r.TargetGroup,
			Expression:    r.Expression,
		})
	}
	return cat
}

// Channels returns the configured channels.
func (c *Catalog) Channels() []model.Channel {
	return slices.Clone(c.channels)
}

// Bindings returns the bindings on tableName. The name is compared in NFC.
func (c *Catalog) Bindings(tableName string) []model.Binding {
	return c.bindings[NormalizeName(tableName)]
}

// CandidateNodes returns every node in groupID, enabled or not.
func (c *Catalog) CandidateNodes(groupID string) []model.Node {
	return c.groups[NormalizeName(groupID)]
}

// Tables returns the tables that have at least one binding, sorted.
func (c *Catalog) Tables() []string {
	out := make([]string, 0, len(c.bindings))
	for t := range c.bindings {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
