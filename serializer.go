package objgraph

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"reflect"
)

var messageMagic = []byte("OBJGRAF1")

const messageHeaderSize = 8 + 1 + 8

type SerializerOptions struct {
	// ByteOrder of produced messages. Defaults to LittleEndian. Messages in
	// either order can be read.
	ByteOrder ByteOrder

	Logger  *slog.Logger
	Verbose bool
	Metrics *Metrics
}

// Serializer turns an object graph into a self-contained message and back.
// Every message carries the layouts of the types it uses, and object IDs
// are local to the message. A Serializer is safe for concurrent use.
//
// A message is
//
//	magic:8 | order:1 | dictLen:8 | dictionary | rootOID:8 | entities
//
// where dictionary is the msgpack-encoded list of type descriptors and all
// integers are in the message's byte order.
type Serializer struct {
	tt      *TypeTable
	order   ByteOrder
	logger  *slog.Logger
	verbose bool
	metrics *Metrics
}

func NewSerializer(tt *TypeTable, opts SerializerOptions) *Serializer {
	if opts.ByteOrder == 0 {
		opts.ByteOrder = LittleEndian
	}
	if !opts.ByteOrder.Valid() {
		panic(fmt.Errorf("invalid byte order %d", opts.ByteOrder))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Serializer{
		tt:      tt,
		order:   opts.ByteOrder,
		logger:  opts.Logger,
		verbose: opts.Verbose,
		metrics: opts.Metrics,
	}
}

func (s *Serializer) ByteOrder() ByteOrder {
	return s.order
}

// Serialize encodes root and everything reachable from it. Unloaded lazy
// references are materialized so that the message is complete.
func (s *Serializer) Serialize(root any) ([]byte, error) {
	st := &storer{
		tt:        s.tt,
		dict:      NewTypeDictionary(),
		reg:       NewObjectRegistry(),
		order:     s.order,
		metrics:   s.metrics,
		eagerLazy: true,
		buf:       acquireEntityBuffer(),
	}
	defer func() { releaseEntityBuffer(st.buf) }()
	rootOID, err := st.storeRoot(reflect.ValueOf(root), false)
	if err != nil {
		return nil, err
	}
	dict, err := encodeDictionary(st.dict.All())
	if err != nil {
		return nil, err
	}

	bb := bytesBuilder{Order: s.order}
	bb.EnsureExtra(messageHeaderSize + len(dict) + 8 + len(st.buf))
	bb.Write(messageMagic)
	bb.AppendByte(byte(s.order))
	bb.AppendUint64(uint64(len(dict)))
	bb.Write(dict)
	bb.AppendUint64(rootOID)
	bb.Write(st.buf)

	if s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "serialized",
			slog.Int("entities", len(st.entities)),
			slog.Int("types", st.dict.Len()),
			slog.Int("bytes", len(bb.Buf)))
	}
	return bb.Buf, nil
}

// MessageByteOrder returns the byte order a message was written in.
func MessageByteOrder(data []byte) (ByteOrder, error) {
	if len(data) < messageHeaderSize {
		return 0, formatErrf(data, 0, nil, "message needs at least %d bytes, got %d", messageHeaderSize, len(data))
	}
	if !bytes.Equal(data[:len(messageMagic)], messageMagic) {
		return 0, formatErrf(data, 0, nil, "bad message magic")
	}
	order := ByteOrder(data[len(messageMagic)])
	if !order.Valid() {
		return 0, formatErrf(data, len(messageMagic), nil, "invalid byte order %d", order)
	}
	return order, nil
}

// Deserialize decodes a message produced by Serialize, in either byte
// order. Entities written with older layouts of a registered type are
// translated into the current type.
func (s *Serializer) Deserialize(data []byte) (any, error) {
	v, err := s.deserialize(data)
	if err != nil || !v.IsValid() {
		return nil, err
	}
	return v.Interface(), nil
}

func (s *Serializer) deserialize(data []byte) (reflect.Value, error) {
	order, err := MessageByteOrder(data)
	if err != nil {
		return reflect.Value{}, err
	}
	d := makeByteDecoder(data, order)
	d.Raw(len(messageMagic) + 1)
	dictLen, err := d.Uint64()
	if err != nil {
		return reflect.Value{}, err
	}
	if dictLen > uint64(len(d.Buf)) {
		return reflect.Value{}, formatErrf(data, d.Off()-8, nil, "dictionary length %d exceeds message", dictLen)
	}
	dictData, _ := d.Raw(int(dictLen))
	dict, err := loadDictionary(dictData)
	if err != nil {
		return reflect.Value{}, err
	}
	rootOID, err := d.Uint64()
	if err != nil {
		return reflect.Value{}, err
	}
	raws, err := scanEntities(d.Buf, order)
	if err != nil {
		return reflect.Value{}, err
	}

	l := newLoader(s.tt, dict, order)
	l.metrics = s.metrics
	l.objectLoader = l
	entries := make([]*loadEntry, 0, len(raws))
	for _, raw := range raws {
		en, err := l.add(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		entries = append(entries, en)
	}
	if rootOID != NilObjectID && l.entries[rootOID] == nil {
		return reflect.Value{}, formatErrf(data, messageHeaderSize+int(dictLen), nil, "root object %d is not in the message", rootOID)
	}
	if err := l.run(entries); err != nil {
		return reflect.Value{}, err
	}
	return l.resolve(rootOID)
}

// DeserializeAs decodes a message whose root is a T.
func DeserializeAs[T any](s *Serializer, data []byte) (T, error) {
	var zero T
	v, err := s.deserialize(data)
	if err != nil || !v.IsValid() {
		return zero, err
	}
	want := reflect.TypeFor[T]()
	if !v.Type().AssignableTo(want) {
		if v.Type().ConvertibleTo(want) && v.Kind() == want.Kind() {
			return v.Convert(want).Interface().(T), nil
		}
		return zero, fmt.Errorf("message root is %v, wanted %v", v.Type(), want)
	}
	return v.Interface().(T), nil
}
