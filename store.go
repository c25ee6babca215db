package objgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	metaHandle         = "meta"
	typesHandle        = "types"
	entityHandlePrefix = "e/"
)

func entityHandle(oid ObjectID) string {
	return fmt.Sprintf("%s%016x", entityHandlePrefix, oid)
}

func parseEntityHandle(handle string) (ObjectID, bool) {
	s, ok := strings.CutPrefix(handle, entityHandlePrefix)
	if !ok || len(s) != 16 {
		return NilObjectID, false
	}
	oid, err := strconv.ParseUint(s, 16, 64)
	return oid, err == nil
}

type StoreOptions struct {
	// ByteOrder used when creating a new store. An existing store keeps
	// the order it was created with. Defaults to LittleEndian.
	ByteOrder ByteOrder

	// WriteController is consulted before every write. Defaults to always
	// writable.
	WriteController WriteController

	Logger  *slog.Logger
	Verbose bool
	Metrics *Metrics
}

type storeMeta struct {
	ID      string    `msgpack:"id"`
	Order   ByteOrder `msgpack:"order"`
	LastID  uint64    `msgpack:"last_id"`
	RootID  uint64    `msgpack:"root"`
	Created time.Time `msgpack:"created"`
}

// Store persists object graphs in a Backend. Instances loaded from or
// stored into a Store keep their object IDs for the lifetime of the Store,
// so storing a graph twice writes only what is new, and loading an object
// twice yields the same instance.
//
// The backend holds a meta record, the type dictionary and one blob per
// entity. Store calls are serialized.
type Store struct {
	backend Backend
	tt      *TypeTable
	dict    *TypeDictionary
	reg     *ObjectRegistry
	wc      WriteController
	logger  *slog.Logger
	verbose bool
	metrics *Metrics

	mu     sync.Mutex
	meta   storeMeta
	closed bool

	lazyGuard RWGuard
	lazies    map[lazyReference]struct{}
}

// OpenStore opens a store over backend, initializing it if empty.
func OpenStore(backend Backend, tt *TypeTable, opts StoreOptions) (*Store, error) {
	if opts.ByteOrder == 0 {
		opts.ByteOrder = LittleEndian
	}
	if !opts.ByteOrder.Valid() {
		return nil, fmt.Errorf("invalid byte order %d", opts.ByteOrder)
	}
	if opts.WriteController == nil {
		opts.WriteController = alwaysWritable{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Store{
		backend: backend,
		tt:      tt,
		reg:     NewObjectRegistry(),
		wc:      opts.WriteController,
		logger:  opts.Logger,
		verbose: opts.Verbose,
		metrics: opts.Metrics,
		lazies:  make(map[lazyReference]struct{}),
	}

	metaData, err := backend.ReadBytes(metaHandle)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", metaHandle, err)
	}
	isNew := metaData == nil
	if isNew {
		s.meta = storeMeta{
			ID:      uuid.New().String(),
			Order:   opts.ByteOrder,
			Created: time.Now().UTC(),
		}
	} else {
		if err := msgpack.Unmarshal(metaData, &s.meta); err != nil {
			return nil, formatErrf(metaData, 0, err, "invalid store meta record")
		}
		if !s.meta.Order.Valid() {
			return nil, formatErrf(metaData, 0, nil, "invalid byte order %d in store meta record", s.meta.Order)
		}
	}
	s.reg.SetLastID(s.meta.LastID)

	typesData, err := backend.ReadBytes(typesHandle)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", typesHandle, err)
	}
	if typesData == nil {
		s.dict = NewTypeDictionary()
	} else if s.dict, err = loadDictionary(typesData); err != nil {
		return nil, err
	}

	if isNew && s.wc.IsWritable() {
		if err := s.writeItems([]HandleBytes{{metaHandle, must(s.encodeMeta(s.meta))}}); err != nil {
			return nil, err
		}
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "store opened",
		slog.String("store", s.meta.ID),
		slog.Bool("new", isNew),
		slog.String("order", s.meta.Order.String()),
		slog.Int("types", s.dict.Len()),
		slog.Uint64("last_oid", s.meta.LastID))
	return s, nil
}

// ID returns the unique identifier assigned when the store was created.
func (s *Store) ID() string {
	return s.meta.ID
}

func (s *Store) ByteOrder() ByteOrder {
	return s.meta.Order
}

func (s *Store) TypeTable() *TypeTable {
	return s.tt
}

// Dictionary returns the persisted layouts, including legacy ones.
func (s *Store) Dictionary() *TypeDictionary {
	return s.dict
}

// Store writes obj and every object reachable from it that has not been
// stored or loaded through this Store before. obj itself is always
// rewritten. Returns obj's object ID.
func (s *Store) Store(obj any) (ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store_locked(obj, false)
}

// SetRoot stores obj like Store does and makes it the root object. A nil
// obj clears the root.
func (s *Store) SetRoot(obj any) (ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store_locked(obj, true)
}

func (s *Store) store_locked(obj any, setRoot bool) (ObjectID, error) {
	if s.closed {
		return NilObjectID, errStorageClosed
	}
	if !s.wc.IsWritable() {
		return NilObjectID, ErrNotWritable
	}
	st := &storer{
		tt:         s.tt,
		dict:       s.dict,
		reg:        s.reg,
		order:      s.meta.Order,
		metrics:    s.metrics,
		lazyLoader: s,
		onLazy:     s.trackLazy,
		buf:        acquireEntityBuffer(),
	}
	defer func() { releaseEntityBuffer(st.buf) }()

	oid, err := st.storeRoot(reflect.ValueOf(obj), true)
	if err == nil {
		err = s.commit_locked(st, oid, setRoot)
	}
	if err != nil {
		st.rollback()
		return NilObjectID, err
	}
	st.commitLazies()
	return oid, nil
}

func (s *Store) commit_locked(st *storer, oid ObjectID, setRoot bool) error {
	start := time.Now()
	items := make([]HandleBytes, 0, len(st.entities)+2)
	var size int
	for _, e := range st.entities {
		data := st.entityBytes(e)
		items = append(items, HandleBytes{entityHandle(e.oid), data})
		size += len(data)
	}
	newTypes := s.dict.Drain()
	if len(newTypes) > 0 {
		data, err := encodeDictionary(s.dict.All())
		if err != nil {
			s.dict.Undrain(newTypes)
			return err
		}
		items = append(items, HandleBytes{typesHandle, data})
	}
	meta := s.meta
	meta.LastID = s.reg.LastID()
	if setRoot {
		meta.RootID = oid
	}
	metaData, err := s.encodeMeta(meta)
	if err != nil {
		s.dict.Undrain(newTypes)
		return err
	}
	items = append(items, HandleBytes{metaHandle, metaData})

	if err := s.writeItems(items); err != nil {
		s.dict.Undrain(newTypes)
		return err
	}
	s.meta = meta
	s.metrics.committed(time.Since(start), size)
	if s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "store commit",
			oidAttr(oid),
			slog.Int("entities", len(st.entities)),
			slog.Int("new_types", len(newTypes)),
			slog.Int("bytes", size),
			slog.Duration("took", time.Since(start)))
	}
	return nil
}

// writeItems writes in one batch if the backend supports it. Otherwise the
// meta record goes last, so that it never points past written entities.
func (s *Store) writeItems(items []HandleBytes) error {
	if !s.wc.IsWritable() {
		return ErrNotWritable
	}
	if bw, ok := s.backend.(BatchWriter); ok {
		return bw.WriteBatch(items)
	}
	for _, item := range items {
		if !s.wc.IsWritable() {
			return ErrNotWritable
		}
		if _, err := s.backend.WriteBytes(item.Handle, item.Data); err != nil {
			return fmt.Errorf("writing %s: %w", item.Handle, err)
		}
	}
	return nil
}

func (s *Store) encodeMeta(meta storeMeta) ([]byte, error) {
	return msgpack.Marshal(&meta)
}

// RootID returns the object ID of the root object, or NilObjectID.
func (s *Store) RootID() ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.RootID
}

// Root loads the root object. Returns nil if no root has been set.
func (s *Store) Root() (any, error) {
	oid := s.RootID()
	if oid == NilObjectID {
		return nil, nil
	}
	return s.Load(oid)
}

// Load returns the instance stored under oid, loading it and whatever it
// references that is not loaded yet.
func (s *Store) Load(oid ObjectID) (any, error) {
	v, err := s.load(oid)
	if err != nil || !v.IsValid() {
		return nil, err
	}
	return v.Interface(), nil
}

// LoadObject implements ObjectLoader for lazy references.
func (s *Store) LoadObject(oid ObjectID) (any, error) {
	return s.Load(oid)
}

func (s *Store) load(oid ObjectID) (reflect.Value, error) {
	if oid == NilObjectID {
		return reflect.Value{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return reflect.Value{}, errStorageClosed
	}
	if inst, ok := s.reg.Instance(oid); ok {
		return inst, nil
	}

	var lazies []lazyReference
	l := newLoader(s.tt, s.dict, s.meta.Order)
	l.metrics = s.metrics
	l.existing = s.reg.Instance
	l.fetch = s.fetch
	l.objectLoader = s
	l.onLazy = func(lr lazyReference) { lazies = append(lazies, lr) }

	v, err := l.resolve(oid)
	if err != nil {
		return reflect.Value{}, err
	}
	if !v.IsValid() {
		return reflect.Value{}, formatErrf(nil, 0, nil, "object %d loaded as nothing", oid)
	}
	if err := l.run(nil); err != nil {
		return reflect.Value{}, err
	}
	if err := s.reg.Publish(l.identities()); err != nil {
		return reflect.Value{}, err
	}
	for _, lr := range lazies {
		s.trackLazy(lr)
	}
	return v, nil
}

func (s *Store) fetch(oid ObjectID) ([]byte, error) {
	data, err := s.backend.ReadBytes(entityHandle(oid))
	if err != nil {
		return nil, fmt.Errorf("reading object %d: %w", oid, err)
	}
	return data, nil
}

// ObjectID returns the ID obj was stored or loaded under.
func (s *Store) ObjectID(obj any) (ObjectID, bool) {
	return s.reg.LookupID(reflect.ValueOf(obj))
}

func (s *Store) trackLazy(lr lazyReference) {
	s.lazyGuard.Write(func() {
		s.lazies[lr] = struct{}{}
	})
}

// SweepLazy clears the subjects of lazy references bound to this store that
// have not been accessed for at least idle, subject to their usage marks
// and clear controllers. Returns the number of subjects cleared.
func (s *Store) SweepLazy(idle time.Duration) int {
	var refs []lazyReference
	s.lazyGuard.Read(func() {
		refs = make([]lazyReference, 0, len(s.lazies))
		for lr := range s.lazies {
			refs = append(refs, lr)
		}
	})
	now := time.Now()
	var n int
	for _, lr := range refs {
		if now.Sub(lr.lastTouched()) >= idle && lr.Clear() {
			n++
		}
	}
	if n > 0 && s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "lazy sweep",
			slog.Int("cleared", n), slog.Int("tracked", len(refs)))
	}
	return n
}

// Stats summarizes the stored entities by type. The backend must be able
// to list its handles.
func (s *Store) Stats() (StoreStats, error) {
	lister, ok := s.backend.(HandleLister)
	if !ok {
		return StoreStats{}, errors.New("backend cannot list handles")
	}
	stats := StoreStats{Types: s.dict.Len(), ByType: make(map[string]TypeStats)}
	err := s.eachEntity(lister, func(oid ObjectID, hdr entityHeader, data []byte) error {
		name := fmt.Sprintf("#%d", hdr.TypeID)
		if desc, ok := s.dict.Lookup(hdr.TypeID); ok {
			name = desc.Name
		}
		ts := stats.ByType[name]
		ts.Entities++
		ts.Bytes += len(data)
		stats.ByType[name] = ts
		stats.Entities++
		stats.EntityData += len(data)
		return nil
	})
	if err != nil {
		return stats, err
	}
	err = lister.ListHandles(typesHandle, func(handle string, size int) error {
		if handle == typesHandle {
			stats.TypeData = size
		}
		return nil
	})
	return stats, err
}

func (s *Store) eachEntity(lister HandleLister, f func(oid ObjectID, hdr entityHeader, data []byte) error) error {
	r := readerFor(s.meta.Order)
	return lister.ListHandles(entityHandlePrefix, func(handle string, size int) error {
		oid, ok := parseEntityHandle(handle)
		if !ok {
			return nil
		}
		data, err := s.backend.ReadBytes(handle)
		if err != nil {
			return err
		}
		hdr, err := readEntityHeader(data, r)
		if err != nil {
			return fmt.Errorf("%s: %w", handle, err)
		}
		if hdr.ObjectID != oid {
			return formatErrf(data, 16, nil, "%s holds object %d", handle, hdr.ObjectID)
		}
		return f(oid, hdr, data)
	})
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}
