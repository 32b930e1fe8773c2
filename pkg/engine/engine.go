// Package engine compiles entropy specs into analytic queries, runs them
// against a datasource and computes entropy and surprise over the resulting
// alphabet, either locally or through a server-side routine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/attribute"
	"github.com/ekaya-inc/ekaya-entropy/pkg/bins"
	"github.com/ekaya-inc/ekaya-entropy/pkg/logging"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

// Mode selects where the alphabet is aggregated.
type Mode string

const (
	// ModeClient fetches every (row, symbol) pair and aggregates locally.
	ModeClient Mode = "client"
	// ModeServer delegates aggregation to a routine installed in the database.
	ModeServer Mode = "server"
)

// HashScheme selects how VON bin values combine into one symbol.
type HashScheme string

const (
	// HashDigest hashes the tuple of bin values. Safe for any cardinality.
	HashDigest HashScheme = "digest"
	// HashRadix256 packs integer bin values as base-256 digits.
	HashRadix256 HashScheme = "radix256"
	// HashRadix65536 packs integer bin values as base-65536 digits.
	HashRadix65536 HashScheme = "radix65536"
)

// radix returns the digit base and the number of VONs that fit in a bigint.
func (h HashScheme) radix() (base int64, maxVONs int) {
	switch h {
	case HashRadix256:
		return 256, 7
	case HashRadix65536:
		return 65536, 3
	}
	return 0, 0
}

// ParseMode accepts "client" or "server".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeClient, ModeServer:
		return m, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

// ParseHashScheme accepts "digest", "radix256" or "radix65536".
func ParseHashScheme(s string) (HashScheme, error) {
	switch h := HashScheme(strings.ToLower(s)); h {
	case HashDigest, HashRadix256, HashRadix65536:
		return h, nil
	}
	return "", fmt.Errorf("unknown hash scheme %q", s)
}

const (
	DefaultServerRoutine = "entropy_server"
	DefaultRowIDColumn   = "id"

	// DefaultServerRoutineSignature is the column definition list of the
	// server routine's result.
	DefaultServerRoutineSignature = "totalrowcount bigint, zcount bigint, hz numeric, sum_surprise numeric, stddev_surprise numeric"

	// Result column aliases of the row query.
	rowIDAlias  = "row_id"
	symbolAlias = "hash"
)

// Engine owns one spec and the attributes and conditions derived from it.
// It is not safe for concurrent use; concurrent runs need separate engines.
type Engine struct {
	ds      datasource.DataSource
	catalog datasource.FieldCatalog
	table   string
	dialect sqlutil.Dialect

	spec       *models.Spec
	vons       map[string]*attribute.Attribute
	conditions map[string]*attribute.Condition
	strategy   bins.Strategy

	limit       int
	mode        Mode
	hash        HashScheme
	routine     string
	signature   string
	rowID       string
	epochAnchor float64

	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimit caps the rows read per run. Zero disables the cap.
func WithLimit(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.limit = n
		}
	}
}

func WithMode(m Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithHashScheme fixes the composite symbol scheme for the engine's lifetime.
func WithHashScheme(h HashScheme) Option {
	return func(e *Engine) { e.hash = h }
}

// WithServerRoutine names the server routine and its result signature.
// An empty signature keeps the default.
func WithServerRoutine(name, signature string) Option {
	return func(e *Engine) {
		if name != "" {
			e.routine = name
		}
		if signature != "" {
			e.signature = signature
		}
	}
}

// WithRowIDColumn names the column identifying rows in per-row results.
// An empty name falls back to row ordinals.
func WithRowIDColumn(name string) Option {
	return func(e *Engine) { e.rowID = name }
}

// WithEpochAnchor sets the anchor of timestamp bins created by sync.
func WithEpochAnchor(anchor float64) Option {
	return func(e *Engine) { e.epochAnchor = anchor }
}

// WithCatalog resolves fields through c instead of the datasource's column list.
func WithCatalog(c datasource.FieldCatalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine over table and syncs it with spec. A nil spec starts empty.
func New(ctx context.Context, ds datasource.DataSource, table string, spec *models.Spec, opts ...Option) *Engine {
	e := &Engine{
		ds:          ds,
		table:       table,
		dialect:     ds.Dialect(),
		vons:        make(map[string]*attribute.Attribute),
		conditions:  make(map[string]*attribute.Condition),
		mode:        ModeClient,
		hash:        HashDigest,
		routine:     DefaultServerRoutine,
		signature:   DefaultServerRoutineSignature,
		rowID:       DefaultRowIDColumn,
		epochAnchor: bins.DefaultEpochAnchor,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.catalog == nil {
		e.catalog = datasource.NewTableCatalog(ds, table)
	}
	e.logger = e.logger.Named("engine").With(zap.String("table", table))

	if spec == nil {
		spec = models.NewSpec("")
	}
	e.SetSpec(ctx, spec)
	return e
}

func (e *Engine) Table() string            { return e.table }
func (e *Engine) Dialect() sqlutil.Dialect { return e.dialect }
func (e *Engine) Mode() Mode               { return e.mode }
func (e *Engine) HashScheme() HashScheme   { return e.hash }
func (e *Engine) Limit() int               { return e.limit }
func (e *Engine) HasVONs() bool            { return len(e.vons) > 0 }

// SetLimit caps the rows read per run. Zero disables the cap.
func (e *Engine) SetLimit(n int) {
	if n >= 0 {
		e.limit = n
	}
}

func (e *Engine) SetMode(m Mode) { e.mode = m }

// Spec returns a copy of the engine's spec.
func (e *Engine) Spec() *models.Spec { return e.spec.Clone() }

// SetSpec replaces the spec and re-derives attributes and conditions.
func (e *Engine) SetSpec(ctx context.Context, spec *models.Spec) {
	e.spec = spec.Clone()
	e.spec.Normalize()
	e.Sync(ctx)
}

// Sync reconciles attributes and conditions with the spec: names new to the
// spec are resolved through the catalog, names no longer in it are dropped.
// Names that fail to resolve are kept as unresolved attributes.
func (e *Engine) Sync(ctx context.Context) {
	for _, name := range e.spec.VONs {
		if _, ok := e.vons[name]; !ok {
			e.vons[name] = e.resolve(ctx, name)
		}
	}
	for name := range e.vons {
		if !e.spec.HasVON(name) {
			delete(e.vons, name)
		}
	}

	for _, name := range e.spec.Conditionals {
		if _, ok := e.conditions[name]; !ok {
			e.conditions[name] = attribute.NewCondition(e.resolve(ctx, name))
		}
	}
	for name := range e.conditions {
		if !e.spec.HasConditional(name) {
			delete(e.conditions, name)
		}
	}
}

func (e *Engine) resolve(ctx context.Context, name string) *attribute.Attribute {
	field, err := e.catalog.Resolve(ctx, name)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			e.logger.Warn("field resolution failed",
				zap.String("field", name),
				zap.String("error", logging.SanitizeError(err)))
		}
		return attribute.Unresolved(name, e.dialect)
	}

	a := attribute.New(field, e.dialect, e.epochAnchor)
	if e.strategy != nil {
		a.Strategy = e.strategy
	}
	return a
}

// AddVON declares name as a VON.
func (e *Engine) AddVON(ctx context.Context, name string) {
	if e.spec.AddVON(name) {
		e.Sync(ctx)
	}
}

func (e *Engine) RemoveVON(ctx context.Context, name string) {
	if e.spec.RemoveVON(name) {
		e.Sync(ctx)
	}
}

// AddConditional declares name as a conditional with an empty equality condition.
func (e *Engine) AddConditional(ctx context.Context, name string) {
	if e.spec.AddConditional(name) {
		e.Sync(ctx)
	}
}

func (e *Engine) RemoveConditional(ctx context.Context, name string) {
	if e.spec.RemoveConditional(name) {
		e.Sync(ctx)
	}
}

// ClearVONs removes every VON.
func (e *Engine) ClearVONs(ctx context.Context) {
	e.spec.VONs = nil
	e.Sync(ctx)
}

// ClearConditionals removes every conditional.
func (e *Engine) ClearConditionals(ctx context.Context) {
	e.spec.Conditionals = nil
	e.Sync(ctx)
}

// SetCondition fixes the operator and operands of a conditional, declaring it
// first if needed. Operands are trimmed.
func (e *Engine) SetCondition(ctx context.Context, name string, op attribute.Operator, values ...string) {
	e.AddConditional(ctx, name)
	c := e.conditions[name]
	c.Operator = op
	c.Values = make([]string, len(values))
	for i, v := range values {
		c.Values[i] = strings.TrimSpace(v)
	}
}

// Attribute returns the attribute of a VON or conditional.
func (e *Engine) Attribute(name string) (*attribute.Attribute, bool) {
	if a, ok := e.vons[name]; ok {
		return a, true
	}
	if c, ok := e.conditions[name]; ok {
		return c.Attribute, true
	}
	return nil, false
}

// Condition returns the condition of a conditional.
func (e *Engine) Condition(name string) (*attribute.Condition, bool) {
	c, ok := e.conditions[name]
	return c, ok
}

// attributes lists VON attributes then conditional attributes, each by name.
func (e *Engine) attributes() []*attribute.Attribute {
	out := make([]*attribute.Attribute, 0, len(e.vons)+len(e.conditions))
	for _, name := range sortedKeys(e.vons) {
		out = append(out, e.vons[name])
	}
	for _, name := range sortedKeys(e.conditions) {
		out = append(out, e.conditions[name].Attribute)
	}
	return out
}

// SetBinStrategy makes st the default strategy and applies it to every
// attribute without one, or to all attributes when override is set.
// Each application costs one statistics round trip.
func (e *Engine) SetBinStrategy(ctx context.Context, st bins.Strategy, override bool) error {
	e.strategy = st
	for _, a := range e.attributes() {
		if !override && a.Strategy != nil {
			continue
		}
		a.Strategy = st
		if err := a.ApplyStrategy(ctx, e.ds, e.table, nil); err != nil {
			return fmt.Errorf("bin strategy for %s: %w", a.Name, err)
		}
	}
	return nil
}

// SetAttributeBinStrategy applies st to one attribute.
func (e *Engine) SetAttributeBinStrategy(ctx context.Context, name string, st bins.Strategy) error {
	a, ok := e.Attribute(name)
	if !ok {
		return fmt.Errorf("attribute %s: %w", name, apperrors.ErrNotFound)
	}
	a.Strategy = st
	if err := a.ApplyStrategy(ctx, e.ds, e.table, nil); err != nil {
		return fmt.Errorf("bin strategy for %s: %w", name, err)
	}
	return nil
}

// IsComplete reports whether the spec can run, with a diagnostic when it cannot.
func (e *Engine) IsComplete() (bool, string) {
	for _, name := range sortedKeys(e.conditions) {
		c := e.conditions[name]
		if !c.Attribute.IsResolved() {
			return false, fmt.Sprintf("Conditional field %q doesn't exist.", name)
		}
		if !c.IsComplete() {
			return false, fmt.Sprintf("Conditional %q is not complete; entropy not computed.", name)
		}
	}
	if len(e.vons) == 0 {
		return false, "No VONs yet; entropy not computed."
	}
	for _, name := range sortedKeys(e.vons) {
		if !e.vons[name].IsResolved() {
			return false, fmt.Sprintf("VON field %q doesn't exist.", name)
		}
	}
	if base, maxVONs := e.hash.radix(); base > 0 {
		if len(e.vons) > maxVONs {
			return false, fmt.Sprintf("Hash scheme %s supports at most %d VONs.", e.hash, maxVONs)
		}
		for _, name := range sortedKeys(e.vons) {
			if !e.vons[name].Bin.IsQuantitative() {
				return false, fmt.Sprintf("Hash scheme %s needs numeric VONs; %q is not.", e.hash, name)
			}
		}
	}
	return true, ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
