package objgraph

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpTypes
	DumpEntities
	DumpFields
	DumpRoot

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump describes the raw contents of the store. It only decodes entities
// against the persisted dictionary and never instantiates Go values, so it
// works without any types registered.
func (s *Store) Dump(f DumpFlags) (string, error) {
	lister, ok := s.backend.(HandleLister)
	if !ok {
		return "", fmt.Errorf("backend cannot list handles")
	}
	var w strings.Builder

	if f.Contains(DumpHeader) {
		stats, err := s.Stats()
		if err != nil {
			return "", err
		}
		fmt.Fprintln(&w, dumpSep1)
		fmt.Fprintf(&w, "store %s (%s, created %s)\n", s.meta.ID, s.meta.Order, s.meta.Created.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&w, "  entities: %s in %s\n", humanize.Comma(int64(stats.Entities)), humanize.Bytes(uint64(stats.EntityData)))
		fmt.Fprintf(&w, "  types:    %d in %s\n", stats.Types, humanize.Bytes(uint64(stats.TypeData)))
		fmt.Fprintf(&w, "  last oid: %d, root: %d\n", s.meta.LastID, s.meta.RootID)
		for _, desc := range s.dict.All() {
			if ts, ok := stats.ByType[desc.Name]; ok {
				fmt.Fprintf(&w, "  %s %s in %s\n", rpad(desc.Name, 30, ' '), humanize.Comma(int64(ts.Entities)), humanize.Bytes(uint64(ts.Bytes)))
			}
		}
	}

	if f.Contains(DumpTypes) {
		fmt.Fprintln(&w, dumpSep2)
		for _, desc := range s.dict.All() {
			current := ""
			if h, err := s.tt.HandlerByName(desc.Name); err == nil && !h.Layout().SameLayout(desc) {
				current = " LEGACY"
			}
			fmt.Fprintf(&w, "type %d %s (fixed %d bytes, fp %016x)%s\n", desc.ID, desc.Name, desc.FixedSize(), desc.Fingerprint(), current)
			for i := range desc.Members {
				fmt.Fprintf(&w, "  %s\n", desc.Members[i].String())
			}
		}
	}

	if f.Contains(DumpEntities) {
		fmt.Fprintln(&w, dumpSep2)
		err := s.eachEntity(lister, func(oid ObjectID, hdr entityHeader, data []byte) error {
			desc, ok := s.dict.Lookup(hdr.TypeID)
			if !ok {
				fmt.Fprintf(&w, "e.%d = ** ERROR: unknown type %d\n", oid, hdr.TypeID)
				return nil
			}
			fmt.Fprintf(&w, "e.%d = %s (%s)\n", oid, desc.Name, humanize.Bytes(uint64(len(data))))
			if !f.Contains(DumpFields) {
				return nil
			}
			e, err := DecodeEntity(data, desc, s.meta.Order)
			if err != nil {
				fmt.Fprintf(&w, "  ** ERROR: %v\n", err)
				return nil
			}
			for i := range desc.Members {
				fmt.Fprintf(&w, "  %s = %s\n", desc.Members[i].Name, formatFieldValue(&desc.Members[i], e.Fields[i]))
			}
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	if f.Contains(DumpRoot) {
		fmt.Fprintln(&w, dumpSep2)
		if s.meta.RootID == NilObjectID {
			fmt.Fprintln(&w, "root: none")
		} else {
			counts, missing, err := s.reachable(s.meta.RootID)
			if err != nil {
				return "", err
			}
			var total int
			for _, n := range counts {
				total += n
			}
			fmt.Fprintf(&w, "root: %d, %d reachable objects, %d missing\n", s.meta.RootID, total, missing)
			for _, desc := range s.dict.All() {
				if n := counts[desc.Name]; n > 0 {
					fmt.Fprintf(&w, "  %s %d\n", rpad(desc.Name, 30, ' '), n)
				}
			}
		}
	}
	return w.String(), nil
}

// reachable walks references from oid over raw entities, counting the
// reachable objects per type name.
func (s *Store) reachable(oid ObjectID) (map[string]int, int, error) {
	counts := make(map[string]int)
	seen := map[ObjectID]bool{oid: true}
	queue := []ObjectID{oid}
	var missing int
	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]
		data, err := s.fetch(oid)
		if err != nil {
			return nil, 0, err
		}
		if data == nil {
			missing++
			continue
		}
		hdr, err := readEntityHeader(data, readerFor(s.meta.Order))
		if err != nil {
			return nil, 0, err
		}
		desc, ok := s.dict.Lookup(hdr.TypeID)
		if !ok {
			return nil, 0, formatErrf(data, 8, nil, "unknown type ID %d", hdr.TypeID)
		}
		e, err := DecodeEntity(data, desc, s.meta.Order)
		if err != nil {
			return nil, 0, err
		}
		counts[desc.Name]++
		for i := range desc.Members {
			for _, ref := range memberRefs(&desc.Members[i], e.Fields[i]) {
				if ref != NilObjectID && !seen[ref] {
					seen[ref] = true
					queue = append(queue, ref)
				}
			}
		}
	}
	return counts, missing, nil
}

// memberRefs lists the object IDs held by one decoded member.
func memberRefs(m *MemberDescriptor, fv FieldValue) []ObjectID {
	if !m.HasReferences() {
		return nil
	}
	if m.Kind == MemberFixed {
		return []ObjectID{fv.Word}
	}
	var result []ObjectID
	w := m.SlotWidth()
	for off := 0; off+w <= len(fv.Raw); off += w {
		if m.Elem.Ref {
			result = append(result, binary.LittleEndian.Uint64(fv.Raw[off:]))
		}
		if m.Kind == MemberEntries && m.Value.Ref {
			result = append(result, binary.LittleEndian.Uint64(fv.Raw[off+m.Elem.Width:]))
		}
	}
	return result
}

func formatFieldValue(m *MemberDescriptor, fv FieldValue) string {
	switch {
	case fv.Nil:
		return "nil"
	case m.Kind == MemberFixed && m.Elem.Ref:
		if fv.Word == NilObjectID {
			return "nil"
		}
		return fmt.Sprintf("-> %d", fv.Word)
	case m.Kind == MemberFixed:
		return formatPrim(m.Elem, fv.Raw)
	case m.Kind == MemberList && m.Elem == byteElem && m.TypeName != "[]uint8":
		return fmt.Sprintf("%q", fv.Raw)
	case m.Kind == MemberList && m.Elem.Ref:
		refs := memberRefs(m, fv)
		return fmt.Sprintf("%d refs %v", len(refs), refs)
	default:
		return fmt.Sprintf("%d elements, %s", fv.Len(m), hexstr(fv.Raw))
	}
}

func formatPrim(e Elem, raw []byte) string {
	var t reflect.Type
	switch e.Primitive {
	case timePrimitive:
		t = timeType
	default:
		t = primitiveTypes[e.Primitive]
	}
	if t == nil {
		return hexstr(raw)
	}
	v := reflect.New(t).Elem()
	getPrim(raw, v)
	return fmt.Sprint(v.Interface())
}
