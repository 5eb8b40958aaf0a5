package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rowroute/internal/batch"
	"github.com/roach88/rowroute/internal/lock"
	"github.com/roach88/rowroute/internal/route"
)

// Validation error codes (E200-E299)
const (
	ErrRequired          = "E201" // required field missing
	ErrDuplicateID       = "E202" // duplicate id in a list
	ErrUnknownReference  = "E203" // reference to an undefined id
	ErrUnknownRouterType = "E204" // router type not registered
	ErrInvalidExpression = "E205" // router expression rejected by its router
	ErrUnknownAlgorithm  = "E206" // batch algorithm not registered
	ErrNonPositive       = "E207" // size or count must be positive
	ErrInvalidDuration   = "E208" // duration does not parse or is negative
	ErrUnknownType       = "E209" // unknown source or lock type
)

// ValidationError is one problem found in a configuration.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is every problem found in a configuration.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("invalid configuration (%d errors):\n  %s", len(es), strings.Join(msgs, "\n  "))
}

// Validate checks c after ApplyDefaults. It returns all errors found (does
// not fail-fast). Router types, expressions and batch algorithms are checked
// against the given registries; nil registries use the built-in ones.
func Validate(c *Config, registry *route.Registry, algorithms *batch.Registry) ValidationErrors {
	if registry == nil {
		registry = route.NewRegistry()
	}
	if algorithms == nil {
		algorithms = batch.NewRegistry()
	}
	v := &validator{}

	v.required("node.id", c.Node.ID)
	v.required("node.group_id", c.Node.GroupID)
	v.required("store.path", c.Store.Path)

	switch c.Source.Type {
	case SourceSQLite:
	case SourcePostgres, SourceMSSQL:
		v.required("source.dsn", c.Source.DSN)
	default:
		v.add("source.type", ErrUnknownType, "unknown source type %q", c.Source.Type)
	}
	v.required("source.table", c.Source.Table)

	switch c.Lock.Type {
	case lock.TypeSQLite, lock.TypeLocal:
	case lock.TypeAzureBlob:
		v.required("lock.connection_string", c.Lock.ConnectionString)
		v.required("lock.container", c.Lock.Container)
	default:
		v.add("lock.type", ErrUnknownType, "unknown lock type %q", c.Lock.Type)
	}
	v.positiveDuration("lock.lease", c.Lock.Lease)

	v.positive("routing.peek_ahead", c.Routing.PeekAhead)
	v.positive("routing.id_step", int(c.Routing.IDStep))
	v.positive("routing.max_gaps_in_query", c.Routing.MaxGapsInQuery)
	v.duration("routing.gap_timeout", c.Routing.GapTimeout)
	v.positiveDuration("routing.poll_interval", c.Routing.PollInterval)
	v.positiveDuration("routing.max_poll_interval", c.Routing.MaxPollInterval)

	channels := make(map[string]bool)
	for i, ch := range c.Channels {
		field := fmt.Sprintf("channels[%d]", i)
		v.required(field+".id", ch.ID)
		v.unique(channels, field+".id", ch.ID)
		v.positive(field+".max_batch_size", ch.MaxBatchSize)
		v.positive(field+".max_batches_per_pass", ch.MaxBatchesPerPass)
		v.positive(field+".max_data_to_route", ch.MaxDataToRoute)
		if _, ok := algorithms.Lookup(ch.BatchAlgorithm); !ok {
			v.add(field+".batch_algorithm", ErrUnknownAlgorithm,
				"unknown batch algorithm %q (have %s)", ch.BatchAlgorithm, strings.Join(algorithms.Names(), ", "))
		}
	}

	nodes := make(map[string]bool)
	for i, n := range c.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		v.required(field+".id", n.ID)
		v.required(field+".group_id", n.GroupID)
		v.unique(nodes, field+".id", n.ID)
	}

	triggers := make(map[string]bool)
	for i, t := range c.Triggers {
		field := fmt.Sprintf("triggers[%d]", i)
		v.required(field+".id", t.ID)
		v.required(field+".table", t.Table)
		v.unique(triggers, field+".id", t.ID)
		if t.Channel == "" {
			v.required(field+".channel", t.Channel)
		} else if !channels[t.Channel] {
			v.add(field+".channel", ErrUnknownReference, "channel %q is not defined", t.Channel)
		}
	}

	routerIDs := make(map[string]bool)
	for i, r := range c.Routers {
		field := fmt.Sprintf("routers[%d]", i)
		v.required(field+".id", r.ID)
		v.required(field+".target_group", r.TargetGroup)
		v.unique(routerIDs, field+".id", r.ID)
		if _, ok := registry.Lookup(r.Type); !ok {
			v.add(field+".type", ErrUnknownRouterType,
				"unknown router type %q (have %s)", r.Type, strings.Join(registry.Types(), ", "))
			continue
		}
		if err := registry.Validate(r.Type, r.Expression); err != nil {
			v.add(field+".expression", ErrInvalidExpression, "%v", err)
		}
	}

	for i, tr := range c.TriggerRouters {
		field := fmt.Sprintf("trigger_routers[%d]", i)
		if !triggers[tr.Trigger] {
			v.add(field+".trigger", ErrUnknownReference, "trigger %q is not defined", tr.Trigger)
		}
		if !routerIDs[tr.Router] {
			v.add(field+".router", ErrUnknownReference, "router %q is not defined", tr.Router)
		}
	}

	return v.errs
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, ErrRequired, "is required")
	}
}

func (v *validator) unique(seen map[string]bool, field, id string) {
	if id == "" {
		return
	}
	if seen[id] {
		v.add(field, ErrDuplicateID, "duplicate id %q", id)
	}
	seen[id] = true
}

func (v *validator) positive(field string, n int) {
	if n <= 0 {
		v.add(field, ErrNonPositive, "must be positive, got %d", n)
	}
}

func (v *validator) duration(field, s string) {
	d, err := time.ParseDuration(s)
	if err != nil {
		v.add(field, ErrInvalidDuration, "invalid duration %q", s)
		return
	}
	if d < 0 {
		v.add(field, ErrInvalidDuration, "must not be negative, got %s", s)
	}
}

func (v *validator) positiveDuration(field, s string) {
	d, err := time.ParseDuration(s)
	if err != nil {
		v.add(field, ErrInvalidDuration, "invalid duration %q", s)
		return
	}
	if d <= 0 {
		v.add(field, ErrInvalidDuration, "must be positive, got %s", s)
	}
}
