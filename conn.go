package objgraph

import (
	"context"
	"errors"
	"log/slog"

	"github.com/andreyvit/objgraph/transport"
)

// Conn exchanges object graphs over a transport channel, one message per
// chunk. Messages are written in this side's byte order. A message in the
// other order is read through the byte-reversing path, never re-encoded.
type Conn struct {
	ch      *transport.Channel
	ser     *Serializer
	local   ByteOrder
	target  ByteOrder
	logger  *slog.Logger
	verbose bool
}

func NewConn(ch *transport.Channel, tt *TypeTable, opts SerializerOptions) *Conn {
	opts.ByteOrder = byteOrderOf(ch.LocalByteOrder())
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Conn{
		ch:      ch,
		ser:     NewSerializer(tt, opts),
		local:   opts.ByteOrder,
		target:  byteOrderOf(ch.TargetByteOrder()),
		logger:  opts.Logger,
		verbose: opts.Verbose,
	}
}

// Reversing reports whether messages from the peer are read byte-reversed.
func (c *Conn) Reversing() bool {
	return c.local != c.target
}

func (c *Conn) Send(v any) error {
	data, err := c.ser.Serialize(v)
	if err != nil {
		return err
	}
	return c.ch.WriteChunk(data)
}

// Receive reads the next message. A corrupted chunk header is reported as
// a format violation; other stream failures as transport errors.
func (c *Conn) Receive() (any, error) {
	data, err := c.ch.ReadChunk()
	if err != nil {
		if errors.Is(err, transport.ErrCorruptHeader) {
			return nil, formatErrf(nil, 0, err, "corrupt chunk")
		}
		return nil, err
	}
	order, err := MessageByteOrder(data)
	if err != nil {
		return nil, err
	}
	if c.verbose && order != c.local {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "byte-reversed message",
			slog.String("order", order.String()),
			slog.String("local", c.local.String()),
			slog.Int("size", len(data)))
	}
	return c.ser.Deserialize(data)
}

func (c *Conn) Close() error {
	return c.ch.Close()
}
