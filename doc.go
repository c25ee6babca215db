/*
Package objgraph persists graphs of Go values: structs, slices, maps and
pointers between them, including cycles. A graph can be written into a
self-contained message (Serializer), kept in a key-value store (Store) or
exchanged over a stream (Conn).

We implement:

1. A binary entity format with per-type layouts, readable in either byte
order.

2. Type handlers with a four-phase protocol (store, create, update, complete)
that allows cyclic graphs to be rebuilt.

3. An object registry that gives every instance a stable object ID.

4. Legacy type mapping: entities written by an older version of a struct are
translated into the current struct by matching members on name and type
similarity.

5. Lazy references, loaded on first access and droppable again.

# Technical Details

**Type descriptors.**
Every handler describes its binary layout as a TypeDescriptor: a type name
plus ordered members. A member is either fixed (a primitive or a reference
in the fixed section) or variable (a list of slots, or a list of key/value
slot pairs). Descriptors get a type ID when they are first used in a
TypeDictionary. The dictionary is persisted (or sent) as msgpack next to
the entities, so data can be read back without the Go types that wrote it.

**Object IDs.**
IDs are positive integers. Zero is the nil reference. A Store never reuses
an ID; the last assigned ID is kept in the meta record.

## Binary encoding

**Entity**:
 1. Length (8 bytes), the size of the whole entity including this header.
 2. Type ID (8 bytes).
 3. Object ID (8 bytes).
 4. Fixed section: fixed members in declaration order, each at its offset.
 5. One variable section per variable member, in declaration order: element
    count (8 bytes, all ones for nil), then the element slots.

Integers and slot granules are in the byte order of the enclosing message or
store. Decoding swaps them into little-endian, which is the canonical form
handlers see.

**Message**: magic "OBJGRAF1", byte order (1 byte), dictionary length
(8 bytes), dictionary, root object ID (8 bytes), entities.

**Store handles**: "meta" (msgpack), "types" (msgpack dictionary) and
"e/<16 hex digits>" per entity.
*/
package objgraph
