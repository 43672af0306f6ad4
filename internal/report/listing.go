// Package report renders decoded facts for people: an assembly listing
// rebuilt from the instruction relations, and a markdown batch summary.
package report

import (
	"fmt"
	"sort"
	"strings"

	"disfacts/internal/disasm"
	"disfacts/internal/facts"
	"disfacts/internal/relation"
)

type slot struct {
	addr uint64
	idx  uint64
}

// operands indexes every operand relation by (address, operand index).
type operands map[slot]disasm.Operand

func text(c relation.Cell) string {
	s := c.String()
	if s == relation.None {
		return ""
	}
	return s
}

func u(c relation.Cell) uint64 {
	v, _ := c.(relation.Unsigned)
	return uint64(v)
}

func i64(c relation.Cell) int64 {
	v, _ := c.(relation.Int)
	return int64(v)
}

func collect(store *facts.Store) operands {
	ops := make(operands)
	each := func(name string, fn func(relation.Row)) {
		if rel, ok := store.Lookup(name); ok {
			for _, row := range rel.Rows {
				fn(row)
			}
		}
	}
	each("op_regdirect", func(r relation.Row) {
		ops[slot{u(r[0]), u(r[1])}] = disasm.Reg{Name: text(r[2])}
	})
	each("op_immediate", func(r relation.Row) {
		ops[slot{u(r[0]), u(r[1])}] = disasm.Imm{Value: i64(r[2]), Size: int(u(r[3]))}
	})
	each("op_indirect", func(r relation.Row) {
		ops[slot{u(r[0]), u(r[1])}] = disasm.Mem{
			Segment: text(r[2]), Base: text(r[3]), Index: text(r[4]),
			Scale: i64(r[5]), Disp: i64(r[6]), Size: int(u(r[7])),
		}
	})
	each("op_shifted", func(r relation.Row) {
		ops[slot{u(r[0]), u(r[1])}] = disasm.Shifted{Reg: text(r[2]), Amount: u(r[3]), Shift: text(r[4])}
	})
	each("op_special", func(r relation.Row) {
		ops[slot{u(r[0]), u(r[1])}] = disasm.Special{Kind: text(r[2]), Value: text(r[3])}
	})

	// register lists arrive one row per member, ordered by position
	type member struct {
		pos uint64
		reg string
	}
	lists := make(map[slot][]member)
	each("op_register_bitfield", func(r relation.Row) {
		k := slot{u(r[0]), u(r[1])}
		lists[k] = append(lists[k], member{u(r[2]), text(r[3])})
	})
	for k, ms := range lists {
		sort.Slice(ms, func(i, j int) bool { return ms[i].pos < ms[j].pos })
		regs := make([]string, len(ms))
		for i, m := range ms {
			regs[i] = m.reg
		}
		ops[k] = disasm.RegList{Regs: regs}
	}
	return ops
}

// Stream rebuilds the decoded instructions from store, sorted by address.
func Stream(store *facts.Store) (disasm.Stream, error) {
	rel, ok := store.Lookup("instruction")
	if !ok {
		return nil, fmt.Errorf("no instruction relation")
	}
	if rel.Schema.Arity() != 4+disasm.MaxOperands {
		return nil, fmt.Errorf("instruction relation has %d columns", rel.Schema.Arity())
	}

	conds := make(map[uint64]string)
	if cc, ok := store.Lookup("instruction_cond_code"); ok {
		for _, r := range cc.Rows {
			conds[u(r[0])] = text(r[1])
		}
	}
	ops := collect(store)

	stream := make(disasm.Stream, 0, rel.Len())
	for _, r := range rel.Rows {
		inst := disasm.Inst{
			Address:  u(r[0]),
			Size:     int(u(r[1])),
			Prefix:   text(r[2]),
			Mnemonic: text(r[3]),
			Cond:     conds[u(r[0])],
		}
		for _, c := range r[4:] {
			idx := u(c)
			if idx == 0 {
				continue
			}
			op, ok := ops[slot{inst.Address, idx}]
			if !ok {
				return nil, fmt.Errorf("instruction %#x: operand %d has no row", inst.Address, idx)
			}
			inst.Operands = append(inst.Operands, op)
		}
		stream = append(stream, inst)
	}
	sort.SliceStable(stream, func(i, j int) bool { return stream[i].Address < stream[j].Address })
	return stream, nil
}

// Listing renders instructions and opaque placeholders as one line each,
// "address  text", sorted by address.
func Listing(store *facts.Store) (string, error) {
	stream, err := Stream(store)
	if err != nil {
		return "", err
	}
	type line struct {
		addr uint64
		text string
	}
	lines := make([]line, 0, len(stream))
	for _, inst := range stream {
		lines = append(lines, line{inst.Address, inst.String()})
	}
	if inv, ok := store.Lookup("invalid"); ok {
		for _, r := range inv.Rows {
			lines = append(lines, line{u(r[0]), fmt.Sprintf(".invalid %d ; %s", u(r[1]), text(r[2]))})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].addr < lines[j].addr })

	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%08x  %s\n", l.addr, l.text)
	}
	return b.String(), nil
}
