package objgraph

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"strings"
)

type MappingOptions struct {
	// NameWeight and TypeWeight combine name and type similarity into a
	// match score. Default to 0.4 and 0.6.
	NameWeight float64
	TypeWeight float64

	// MinSimilarity is the lowest score a pair may have to be matched.
	// Defaults to 0.55.
	MinSimilarity float64

	// RejectAmbiguous fails the mapping when a member has two equally
	// scored candidates and the tie had to be broken by declaration order.
	RejectAmbiguous bool
}

func (o MappingOptions) withDefaults() MappingOptions {
	if o.NameWeight == 0 && o.TypeWeight == 0 {
		o.NameWeight, o.TypeWeight = 0.4, 0.6
	}
	if o.MinSimilarity == 0 {
		o.MinSimilarity = 0.55
	}
	return o
}

// MemberMatch pairs a legacy member with a current one.
type MemberMatch struct {
	Legacy     int
	Current    int
	Similarity float64
	Explicit   bool
}

// LegacyMappingResult describes how a legacy layout maps onto the current
// one. Every legacy member is either matched or discarded, and every
// current member is either matched or new.
type LegacyMappingResult struct {
	Legacy  *TypeDescriptor
	Current *TypeDescriptor

	Matched   []MemberMatch
	New       []int
	Discarded []int

	translators map[int]valueTranslator // by current member index
}

// SourceOf returns the legacy member index feeding current member ci, or -1.
func (r *LegacyMappingResult) SourceOf(ci int) int {
	for _, m := range r.Matched {
		if m.Current == ci {
			return m.Legacy
		}
	}
	return -1
}

// String renders the mapping as an aligned table.
func (r *LegacyMappingResult) String() string {
	width := len("[new]")
	for i := range r.Legacy.Members {
		width = max(width, len(r.Legacy.Members[i].Name))
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %016x -> %016x\n", r.Current.Name, r.Legacy.Fingerprint(), r.Current.Fingerprint())
	for _, m := range r.Matched {
		marker := fmt.Sprintf("-%.3f->", m.Similarity)
		if m.Explicit {
			marker = "-explicit->"
		}
		fmt.Fprintf(&buf, "  %-*s %s %s\n", width, r.Legacy.Members[m.Legacy].Name, marker, r.Current.Members[m.Current].Name)
	}
	for _, li := range r.Discarded {
		fmt.Fprintf(&buf, "  %-*s [discarded]\n", width, r.Legacy.Members[li].Name)
	}
	for _, ci := range r.New {
		fmt.Fprintf(&buf, "  %-*s [new] %s\n", width, "", r.Current.Members[ci].Name)
	}
	return buf.String()
}

// ComputeMapping matches the members of a legacy layout to the members of
// the current one. Explicit mappings are applied first; the remaining
// members are paired by a maximum-weight assignment over their
// similarity scores, with ties going to the pair closest in declaration
// order. Pairs scoring below MinSimilarity, or whose values cannot be
// translated, are never matched. The result depends only on its inputs.
func ComputeMapping(legacy, current *TypeDescriptor, explicit map[string]string, newMembers []string, sim *TypeMapping, opts MappingOptions) (*LegacyMappingResult, error) {
	opts = opts.withDefaults()
	if sim == nil {
		sim = DefaultTypeMapping()
	}
	L, C := len(legacy.Members), len(current.Members)
	result := &LegacyMappingResult{
		Legacy:      legacy,
		Current:     current,
		translators: make(map[int]valueTranslator),
	}
	legacyDone := make([]bool, L)
	currentDone := make([]bool, C)

	for _, name := range newMembers {
		ci := current.MemberIndex(name)
		if ci < 0 {
			return nil, legacyErrf(current.Name, name, nil, "declared new, but the current type has no such member")
		}
		if !currentDone[ci] {
			currentDone[ci] = true
			result.New = append(result.New, ci)
		}
	}

	legacyNames := make([]string, 0, len(explicit))
	for name := range explicit {
		legacyNames = append(legacyNames, name)
	}
	slices.Sort(legacyNames)
	for _, ln := range legacyNames {
		li := legacy.MemberIndex(ln)
		if li < 0 {
			continue // belongs to another legacy version
		}
		cn := explicit[ln]
		legacyDone[li] = true
		if cn == "" {
			result.Discarded = append(result.Discarded, li)
			continue
		}
		ci := current.MemberIndex(cn)
		if ci < 0 {
			return nil, legacyErrf(current.Name, ln, nil, "mapped to unknown member %q", cn)
		}
		if currentDone[ci] {
			return nil, legacyErrf(current.Name, cn, nil, "mapped more than once or declared new")
		}
		tr := translatorFor(&legacy.Members[li], &current.Members[ci])
		if tr == nil {
			return nil, legacyErrf(current.Name, cn, nil, "cannot translate %s from legacy %s", current.Members[ci].TypeName, legacy.Members[li].TypeName)
		}
		currentDone[ci] = true
		result.Matched = append(result.Matched, MemberMatch{Legacy: li, Current: ci, Similarity: 1, Explicit: true})
		result.translators[ci] = tr
	}

	var rows, cols []int
	for li := range legacyDone {
		if !legacyDone[li] {
			rows = append(rows, li)
		}
	}
	for ci := range currentDone {
		if !currentDone[ci] {
			cols = append(cols, ci)
		}
	}

	n := max(len(rows), len(cols))
	scale := int64(n+1) * int64(n+1)
	scores := make([][]float64, len(rows))
	trs := make([][]valueTranslator, len(rows))
	weights := make([][]int64, len(rows))
	for r, li := range rows {
		scores[r] = make([]float64, len(cols))
		trs[r] = make([]valueTranslator, len(cols))
		weights[r] = make([]int64, len(cols))
		lm := &legacy.Members[li]
		for c, ci := range cols {
			cm := &current.Members[ci]
			tr := translatorFor(lm, cm)
			if tr == nil {
				continue
			}
			s := opts.NameWeight*nameSimilarity(lm.Name, cm.Name) + opts.TypeWeight*sim.Similarity(lm.TypeName, cm.TypeName)
			if s < opts.MinSimilarity {
				continue
			}
			scores[r][c] = s
			trs[r][c] = tr
			proximity := int64(n) - min(int64(abs(li-ci)), int64(n))
			weights[r][c] = int64(math.Round(s*1e6))*scale + proximity
		}
	}

	assigned := maxWeightAssignment(weights, len(rows), len(cols))
	matchedCol := make([]bool, len(cols))
	for r, c := range assigned {
		li := rows[r]
		if c < 0 || trs[r][c] == nil {
			result.Discarded = append(result.Discarded, li)
			continue
		}
		ci := cols[c]
		matchedCol[c] = true
		result.Matched = append(result.Matched, MemberMatch{Legacy: li, Current: ci, Similarity: scores[r][c]})
		result.translators[ci] = trs[r][c]
	}
	for c, ci := range cols {
		if !matchedCol[c] {
			result.New = append(result.New, ci)
		}
	}

	if opts.RejectAmbiguous {
		if err := checkAmbiguity(result, rows, cols, assigned, scores, trs); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(result.Matched, func(a, b MemberMatch) int { return a.Current - b.Current })
	slices.Sort(result.New)
	slices.Sort(result.Discarded)
	return result, nil
}

// checkAmbiguity reports a matched pair that has an alternative with the
// same score: an unmatched legacy row or current column that would have
// scored exactly as well.
func checkAmbiguity(result *LegacyMappingResult, rows, cols, assigned []int, scores [][]float64, trs [][]valueTranslator) error {
	const eps = 1e-9
	rowOfCol := make([]int, len(cols))
	for c := range rowOfCol {
		rowOfCol[c] = -1
	}
	for r, c := range assigned {
		if c >= 0 && trs[r][c] != nil {
			rowOfCol[c] = r
		}
	}
	for r, c := range assigned {
		if c < 0 || trs[r][c] == nil {
			continue
		}
		s := scores[r][c]
		for c2 := range cols {
			if c2 != c && trs[r][c2] != nil && rowOfCol[c2] < 0 && math.Abs(scores[r][c2]-s) < eps {
				return legacyErrf(result.Current.Name, result.Legacy.Members[rows[r]].Name, nil,
					"ambiguous: %s and %s score %.3f", result.Current.Members[cols[c]].Name, result.Current.Members[cols[c2]].Name, s)
			}
		}
		for r2 := range rows {
			if r2 != r && trs[r2][c] != nil && (assigned[r2] < 0 || trs[r2][assigned[r2]] == nil) && math.Abs(scores[r2][c]-s) < eps {
				return legacyErrf(result.Current.Name, result.Current.Members[cols[c]].Name, nil,
					"ambiguous: legacy %s and %s score %.3f", result.Legacy.Members[rows[r]].Name, result.Legacy.Members[rows[r2]].Name, s)
			}
		}
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// valueTranslator converts the value of a legacy member into the value of
// the current member it is matched to.
type valueTranslator func(fv FieldValue, lc *LoadContext) (FieldValue, error)

func copyValue(fv FieldValue, lc *LoadContext) (FieldValue, error) {
	return fv, nil
}

// translatorFor returns how to turn lm values into cm values, or nil if no
// lossless-enough translation exists.
func translatorFor(lm, cm *MemberDescriptor) valueTranslator {
	if lm.Kind == cm.Kind && lm.Elem == cm.Elem && lm.Value == cm.Value {
		// also covers ref to ref; assignability is checked on load
		return copyValue
	}
	switch {
	case lm.Kind == MemberFixed && cm.Kind == MemberFixed:
		switch {
		case !lm.Elem.Ref && !cm.Elem.Ref:
			if primConvertible(lm.Elem.Primitive, cm.Elem.Primitive) {
				return convertFixed(lm.Elem, cm.Elem)
			}
		case lm.Elem.Ref && !cm.Elem.Ref:
			if p, ok := boxedPrimitive(lm.TypeName); ok && primConvertible(p, cm.Elem.Primitive) {
				return unboxFixed(p, cm.Elem)
			}
		case !lm.Elem.Ref && cm.Elem.Ref:
			if p, ok := boxedPrimitive(cm.TypeName); ok && primConvertible(lm.Elem.Primitive, p) {
				return boxFixed(lm.Elem, p)
			}
		}
	case lm.Kind == MemberList && cm.Kind == MemberList:
		if !lm.Elem.Ref && !cm.Elem.Ref && strings.HasPrefix(lm.TypeName, "[]") && strings.HasPrefix(cm.TypeName, "[]") &&
			primConvertible(lm.Elem.Primitive, cm.Elem.Primitive) {
			return convertList(lm.Elem, cm.Elem)
		}
	}
	return nil
}

func boxedPrimitive(typeName string) (string, bool) {
	p, ok := strings.CutPrefix(typeName, "*")
	if !ok || primitiveTypes[p] == nil {
		return "", false
	}
	return p, true
}

func convertFixed(from, to Elem) valueTranslator {
	return func(fv FieldValue, lc *LoadContext) (FieldValue, error) {
		raw := make([]byte, to.Width)
		convertPrim(raw, to.Primitive, fv.Raw, from.Primitive)
		return FieldValue{Raw: raw}, nil
	}
}

func convertList(from, to Elem) valueTranslator {
	return func(fv FieldValue, lc *LoadContext) (FieldValue, error) {
		if fv.Nil {
			return fv, nil
		}
		n := len(fv.Raw) / from.Width
		raw := make([]byte, n*to.Width)
		for i := 0; i < n; i++ {
			convertPrim(raw[i*to.Width:(i+1)*to.Width], to.Primitive, fv.Raw[i*from.Width:(i+1)*from.Width], from.Primitive)
		}
		return FieldValue{Raw: raw}, nil
	}
}

// unboxFixed turns a reference to a boxed primitive into the primitive; a
// nil reference becomes zero.
func unboxFixed(prim string, to Elem) valueTranslator {
	pt := primitiveTypes[prim]
	pe, _ := primElem(pt)
	return func(fv FieldValue, lc *LoadContext) (FieldValue, error) {
		raw := make([]byte, to.Width)
		inst, err := lc.Resolve(fv.Word)
		if err != nil || !inst.IsValid() {
			return FieldValue{Raw: raw}, err
		}
		for inst.Kind() == reflect.Pointer || inst.Kind() == reflect.Interface {
			if inst.IsNil() {
				return FieldValue{Raw: raw}, nil
			}
			inst = inst.Elem()
		}
		if !inst.CanConvert(pt) {
			return FieldValue{}, fmt.Errorf("cannot unbox %v as %s", inst.Type(), prim)
		}
		src := make([]byte, pe.Width)
		putPrim(src, inst.Convert(pt))
		convertPrim(raw, to.Primitive, src, prim)
		return FieldValue{Raw: raw}, nil
	}
}

// boxFixed turns a primitive into a fresh pointer to the primitive the
// current member holds.
func boxFixed(from Elem, prim string) valueTranslator {
	pt := primitiveTypes[prim]
	pe, _ := primElem(pt)
	return func(fv FieldValue, lc *LoadContext) (FieldValue, error) {
		raw := make([]byte, pe.Width)
		convertPrim(raw, prim, fv.Raw, from.Primitive)
		p := reflect.New(pt)
		getPrim(raw, p.Elem())
		return FieldValue{boxed: p.Interface()}, nil
	}
}

type legacyKey struct {
	fingerprint uint64
	name        string
}

// LegacyMapper computes and caches legacy mappings and the handlers built
// from them. A mapping is computed at most once per legacy layout;
// concurrent requests for the same layout wait for the first one.
type LegacyMapper struct {
	similarity *TypeMapping
	opts       MappingOptions
	logger     *slog.Logger
	metrics    *Metrics

	guard    RWGuard
	results  map[legacyKey]*LegacyMappingResult
	handlers map[legacyKey]TypeHandler
	stripes  *StripedLocks[string]
}

func newLegacyMapper(sim *TypeMapping, opts MappingOptions, logger *slog.Logger, metrics *Metrics) *LegacyMapper {
	return &LegacyMapper{
		similarity: sim,
		opts:       opts.withDefaults(),
		logger:     logger,
		metrics:    metrics,
		results:    make(map[legacyKey]*LegacyMappingResult),
		handlers:   make(map[legacyKey]TypeHandler),
		stripes:    NewStripedLocks[string](0),
	}
}

// Result returns the cached mapping of a legacy layout, if one was computed.
func (m *LegacyMapper) Result(legacy *TypeDescriptor) *LegacyMappingResult {
	k := legacyKey{legacy.Fingerprint(), legacy.Name}
	return ReadValue(&m.guard, func() *LegacyMappingResult { return m.results[k] })
}

func (m *LegacyMapper) legacyHandler(desc *TypeDescriptor, current TypeHandler, explicit map[string]string, newMembers []string, updater legacyUpdater) (TypeHandler, error) {
	k := legacyKey{desc.Fingerprint(), desc.Name}
	if h := ReadValue(&m.guard, func() TypeHandler { return m.handlers[k] }); h != nil {
		return h, nil
	}
	unlock := m.stripes.Lock(desc.Name)
	defer unlock()
	if h := ReadValue(&m.guard, func() TypeHandler { return m.handlers[k] }); h != nil {
		return h, nil
	}

	sh, ok := current.(*structHandler)
	if !ok {
		return nil, legacyErrf(desc.Name, "", nil, "layout changed, but %v is not a registered struct type", current.Type())
	}
	var h TypeHandler
	if updater != nil {
		h = &customLegacyHandler{current: sh, legacy: desc, update: updater}
		m.logger.LogAttrs(context.Background(), slog.LevelInfo, "legacy type handled by updater",
			slog.String("type", desc.Name), hexAttr("fingerprint", desc.Fingerprint()))
	} else {
		result, err := ComputeMapping(desc, sh.Layout(), explicit, newMembers, m.similarity, m.opts)
		if err != nil {
			m.metrics.legacyMapping(desc.Name, false)
			return nil, err
		}
		m.metrics.legacyMapping(desc.Name, true)
		m.logger.LogAttrs(context.Background(), slog.LevelInfo, "legacy type mapping",
			slog.String("type", desc.Name),
			hexAttr("fingerprint", desc.Fingerprint()),
			slog.Int("matched", len(result.Matched)),
			slog.Int("new", len(result.New)),
			slog.Int("discarded", len(result.Discarded)),
			slog.String("mapping", result.String()))
		m.guard.Write(func() {
			m.results[k] = result
		})
		h = newTranslatingHandler(sh, result)
	}
	m.guard.Write(func() {
		m.handlers[k] = h
	})
	return h, nil
}
