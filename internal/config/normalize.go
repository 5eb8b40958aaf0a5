package config

import "golang.org/x/text/unicode/norm"

// Normalize rewrites every identifier to Unicode NFC so that lookups by
// table, channel, node and group compare equal however the capture layer
// or the config file encoded them.
func (c *Config) Normalize() {
	nfc(&c.Node.ID, &c.Node.GroupID)
	for i := range c.Channels {
		nfc(&c.Channels[i].ID)
	}
	for i := range c.Nodes {
		n := &c.Nodes[i]
		nfc(&n.ID, &n.GroupID, &n.ExternalID)
	}
	for i := range c.Triggers {
		t := &c.Triggers[i]
		nfc(&t.ID, &t.Table, &t.Channel)
	}
	for i := range c.Routers {
		r := &c.Routers[i]
		nfc(&r.ID, &r.SourceGroup, &r.TargetGroup)
	}
	for i := range c.TriggerRouters {
		tr := &c.TriggerRouters[i]
		nfc(&tr.Trigger, &tr.Router)
	}
}

// NormalizeName returns s in NFC.
func NormalizeName(s string) string {
	return norm.NFC.String(s)
}

func nfc(ss ...*string) {
	for _, s := range ss {
		*s = norm.NFC.String(*s)
	}
}
