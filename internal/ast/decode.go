package ast

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Primitive tag bytes, spec.md §6 "Primitive encodings", supplemented
// per SPEC_FULL.md §6 with the original reader's fixmap/fixarray/fixstr/
// fixint short forms (original_source/src/lib/pack.cc, reader.cc).
const (
	tagMap32    = 0xdf
	tagArray32  = 0xdd
	tagString32 = 0xdb
	tagInt64    = 0xd3
	tagTrue     = 0xc3
	tagFalse    = 0xc2
	tagExt      = 0xc7

	extAtom = 1

	fixmapMin, fixmapMax     = 0x80, 0x8f
	fixarrayMin, fixarrayMax = 0x90, 0x9f
	fixstrMin, fixstrMax     = 0xa0, 0xbf
	// Positive/negative fixint, read-only supplement (SPEC_FULL.md §6).
	posFixintMax = 0x7f
	negFixintMin = 0xe0
)

// Decoder reads the length-prefixed binary tag/value AST format.
type Decoder struct {
	r io.Reader
}

// NewDecoder wraps r for reading one top-level module record.
func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

// DecodeModule reads the single top-level map (spec.md §6: "Top-level is
// a map with string keys") and builds the corresponding Node tree.
func (d *Decoder) DecodeModule() (*Node, error) {
	v, err := d.readValue()
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("ast: top-level record is not a map")
	}
	return nodeFromMap(m)
}

func (d *Decoder) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) readN(n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Decoder) readU32() (uint32, error) {
	buf, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// readValue decodes one tagged value. Returned Go types: map[string]interface{},
// []interface{}, string, int64, bool.
func (d *Decoder) readValue() (interface{}, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch {
	case tag <= posFixintMax:
		return int64(tag), nil
	case tag >= negFixintMin:
		return int64(int8(tag)), nil
	case tag >= fixmapMin && tag <= fixmapMax:
		return d.readMap(uint32(tag - fixmapMin))
	case tag >= fixarrayMin && tag <= fixarrayMax:
		return d.readArray(uint32(tag - fixarrayMin))
	case tag >= fixstrMin && tag <= fixstrMax:
		return d.readString(uint32(tag - fixstrMin))
	}
	switch tag {
	case tagMap32:
		n, err := d.readU32()
		if err != nil {
			return nil, err
		}
		return d.readMap(n)
	case tagArray32:
		n, err := d.readU32()
		if err != nil {
			return nil, err
		}
		return d.readArray(n)
	case tagString32:
		n, err := d.readU32()
		if err != nil {
			return nil, err
		}
		return d.readString(n)
	case tagInt64:
		buf, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(buf)), nil
	case tagTrue:
		return true, nil
	case tagFalse:
		return false, nil
	case tagExt:
		length, err := d.readByte()
		if err != nil {
			return nil, err
		}
		extTag, err := d.readByte()
		if err != nil {
			return nil, err
		}
		payload, err := d.readN(uint32(length))
		if err != nil {
			return nil, err
		}
		if extTag != extAtom {
			return nil, fmt.Errorf("ast: unrecognized extension tag %d", extTag)
		}
		return atomWrapper{payload: payload}, nil
	default:
		return nil, fmt.Errorf("ast: unrecognized tag byte 0x%02x", tag)
	}
}

// atomWrapper is the extension-tag-1 "atom wrapper" (spec.md §6). The
// atom built-in type itself is an out-of-core-scope value type; the
// decoder only needs to preserve its raw payload for whatever external
// collaborator interprets it.
type atomWrapper struct{ payload []byte }

func (d *Decoder) readMap(n uint32) (map[string]interface{}, error) {
	m := make(map[string]interface{}, n)
	for i := uint32(0); i < n; i++ {
		k, err := d.readValue()
		if err != nil {
			return nil, err
		}
		ks, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("ast: map key is not a string")
		}
		v, err := d.readValue()
		if err != nil {
			return nil, err
		}
		m[ks] = v
	}
	return m, nil
}

func (d *Decoder) readArray(n uint32) ([]interface{}, error) {
	a := make([]interface{}, n)
	for i := range a {
		v, err := d.readValue()
		if err != nil {
			return nil, err
		}
		a[i] = v
	}
	return a, nil
}

func (d *Decoder) readString(n uint32) (string, error) {
	buf, err := d.readN(n)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// nodeFromMap converts a decoded generic map/array/scalar tree rooted at
// a node-shaped map into a *Node, recursively, dispatching on the node's
// recognized keys (spec.md §6).
func nodeFromMap(m map[string]interface{}) (*Node, error) {
	kindStr, _ := m["kind"].(string)
	if kindStr == "" {
		// Some records (e.g. struct_field) are nested without an
		// explicit "kind" key when unambiguous from context; default to
		// Local when a "name" key is present, otherwise to Module.
		kindStr = string(Module)
		if _, ok := m["name"]; ok {
			kindStr = string(Local)
		}
	}
	n := &Node{Kind: Kind(kindStr)}
	if v, ok := m["name"].(string); ok {
		n.Name = v
	}
	if v, ok := m["from"].(string); ok {
		n.From = v
	}
	if v, ok := m["line"].(int64); ok {
		n.Line = v
	}
	if v, ok := m["value"]; ok {
		child, err := asNode(v)
		if err != nil {
			return nil, err
		}
		n.Value = child
	}
	if v, ok := m["expr"]; ok {
		child, err := asNode(v)
		if err != nil {
			return nil, err
		}
		n.Expr = child
	}
	if v, ok := m["stmts"]; ok {
		list, err := asNodeList(v)
		if err != nil {
			return nil, err
		}
		n.Stmts = list
	}
	if v, ok := m["if_stmts"]; ok {
		list, err := asNodeList(v)
		if err != nil {
			return nil, err
		}
		n.IfStmts = list
	}
	if v, ok := m["else_stmts"]; ok {
		list, err := asNodeList(v)
		if err != nil {
			return nil, err
		}
		n.ElseStmts = list
	}
	if v, ok := m["args"]; ok {
		list, err := asNodeList(v)
		if err != nil {
			return nil, err
		}
		n.Args = list
	}
	if v, ok := m["parms"]; ok {
		n.Parms = asStringList(v)
	}
	if v, ok := m["locals"]; ok {
		n.Locals = asStringList(v)
	}
	if v, ok := m["freevars"]; ok {
		n.FreeVars = asStringList(v)
	}
	if v, ok := m["imports"]; ok {
		list, err := asNodeList(v)
		if err != nil {
			return nil, err
		}
		n.Imports = list
	}
	if v, ok := m["data"]; ok {
		data, err := asData(n.Kind, v)
		if err != nil {
			return nil, err
		}
		n.Data = data
	}
	return n, nil
}

func asNode(v interface{}) (*Node, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("ast: expected a node map, got %T", v)
	}
	return nodeFromMap(m)
}

func asNodeList(v interface{}) ([]*Node, error) {
	a, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("ast: expected a node array, got %T", v)
	}
	out := make([]*Node, len(a))
	for i, e := range a {
		n, err := asNode(e)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func asStringList(v interface{}) []string {
	a, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(a))
	for _, e := range a {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asData(kind Kind, v interface{}) (interface{}, error) {
	switch kind {
	case Integer:
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("ast: integer node data is not an int64")
		}
		return n, nil
	case String, Keyword, Symbol, Global:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("ast: %s node data is not a string", kind)
		}
		return s, nil
	case Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("ast: boolean node data is not a bool")
		}
		return b, nil
	case Vector:
		return asNodeList(v)
	case Dict:
		a, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("ast: dict node data is not an array of pairs")
		}
		entries := make([]DictEntry, 0, len(a)/2)
		for i := 0; i+1 < len(a); i += 2 {
			k, err := asNode(a[i])
			if err != nil {
				return nil, err
			}
			val, err := asNode(a[i+1])
			if err != nil {
				return nil, err
			}
			entries = append(entries, DictEntry{Key: k, Value: val})
		}
		return entries, nil
	default:
		return v, nil
	}
}
