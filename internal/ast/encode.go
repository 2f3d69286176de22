package ast

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder writes the binary tag/value format. Per SPEC_FULL.md §6, the
// writer always emits the 32-bit map/array/string forms, matching the
// original implementation's own asymmetric reader/writer
// (original_source/src/lib/pack.cc's write_map always emits map32 even
// though its reader also accepts fixmap).
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// EncodeModule writes n as the top-level module record.
func (e *Encoder) EncodeModule(n *Node) error {
	return e.writeValue(nodeToMap(n))
}

func (e *Encoder) writeByte(b byte) error {
	_, err := e.w.Write([]byte{b})
	return err
}

func (e *Encoder) writeU32(n uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], n)
	_, err := e.w.Write(buf[:])
	return err
}

func (e *Encoder) writeValue(v interface{}) error {
	switch x := v.(type) {
	case map[string]interface{}:
		if err := e.writeByte(tagMap32); err != nil {
			return err
		}
		if err := e.writeU32(uint32(len(x))); err != nil {
			return err
		}
		for k, val := range x {
			if err := e.writeValue(k); err != nil {
				return err
			}
			if err := e.writeValue(val); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		if err := e.writeByte(tagArray32); err != nil {
			return err
		}
		if err := e.writeU32(uint32(len(x))); err != nil {
			return err
		}
		for _, val := range x {
			if err := e.writeValue(val); err != nil {
				return err
			}
		}
		return nil
	case string:
		if err := e.writeByte(tagString32); err != nil {
			return err
		}
		if err := e.writeU32(uint32(len(x))); err != nil {
			return err
		}
		_, err := io.WriteString(e.w, x)
		return err
	case int64:
		if err := e.writeByte(tagInt64); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(x))
		_, err := e.w.Write(buf[:])
		return err
	case bool:
		if x {
			return e.writeByte(tagTrue)
		}
		return e.writeByte(tagFalse)
	case nil:
		return e.writeValue([]interface{}{})
	default:
		return fmt.Errorf("ast: cannot encode value of type %T", v)
	}
}

func nodeToMap(n *Node) map[string]interface{} {
	m := map[string]interface{}{"kind": string(n.Kind)}
	if n.Name != "" {
		m["name"] = n.Name
	}
	if n.From != "" {
		m["from"] = n.From
	}
	if n.Line != 0 {
		m["line"] = n.Line
	}
	if n.Value != nil {
		m["value"] = nodeToMap(n.Value)
	}
	if n.Expr != nil {
		m["expr"] = nodeToMap(n.Expr)
	}
	if n.Stmts != nil {
		m["stmts"] = nodeListToArray(n.Stmts)
	}
	if n.IfStmts != nil {
		m["if_stmts"] = nodeListToArray(n.IfStmts)
	}
	if n.ElseStmts != nil {
		m["else_stmts"] = nodeListToArray(n.ElseStmts)
	}
	if n.Args != nil {
		m["args"] = nodeListToArray(n.Args)
	}
	if n.Parms != nil {
		m["parms"] = stringListToArray(n.Parms)
	}
	if n.Locals != nil {
		m["locals"] = stringListToArray(n.Locals)
	}
	if n.FreeVars != nil {
		m["freevars"] = stringListToArray(n.FreeVars)
	}
	if n.Imports != nil {
		m["imports"] = nodeListToArray(n.Imports)
	}
	if n.Data != nil {
		m["data"] = dataToValue(n.Data)
	}
	return m
}

func nodeListToArray(ns []*Node) []interface{} {
	out := make([]interface{}, len(ns))
	for i, n := range ns {
		out[i] = nodeToMap(n)
	}
	return out
}

func stringListToArray(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func dataToValue(d interface{}) interface{} {
	switch x := d.(type) {
	case []*Node:
		return nodeListToArray(x)
	case []DictEntry:
		out := make([]interface{}, 0, len(x)*2)
		for _, e := range x {
			out = append(out, nodeToMap(e.Key), nodeToMap(e.Value))
		}
		return out
	default:
		return x
	}
}
