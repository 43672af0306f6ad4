package loader

import (
	"disfacts/internal/disasm"
	"disfacts/internal/facts"
	"disfacts/internal/relation"
)

// Schemas are the signatures of every relation the instruction loader writes.
var Schemas = map[string]string{
	"instruction":           "<u:address,u:size,s:prefix,s:mnemonic,u:op1,u:op2,u:op3,u:op4>",
	"instruction_cond_code": "<u:address,s:cond>",
	"op_regdirect":          "<u:address,u:index,s:register>",
	"op_immediate":          "<u:address,u:index,i:value,u:size>",
	"op_indirect":           "<u:address,u:index,s:segment,s:base,s:index_reg,i:scale,i:disp,u:size>",
	"op_shifted":            "<u:address,u:index,s:register,u:amount,s:shift>",
	"op_register_bitfield":  "<u:address,u:index,u:position,s:register>",
	"op_special":            "<u:address,u:index,s:kind,s:value>",
	"invalid":               "<u:address,u:size,s:reason>",
}

// Declare creates every instruction relation in store, so that relations
// with no rows are still reported as computed.
func Declare(store *facts.Store) error {
	for name, sig := range Schemas {
		if err := store.Declare(name, relation.ParseSchema(sig)); err != nil {
			return err
		}
	}
	return nil
}

// Emit writes the rows describing one decoded instruction.
func Emit(store *facts.Store, inst disasm.Inst) error {
	addr := relation.Unsigned(inst.Address)
	var slots [disasm.MaxOperands]relation.Unsigned
	for n, op := range inst.Operands {
		if n == disasm.MaxOperands {
			break
		}
		idx := relation.Unsigned(n + 1)
		wrote, err := emitOperand(store, addr, idx, op)
		if err != nil {
			return err
		}
		// an operand slot only references rows that exist
		if wrote {
			slots[n] = idx
		}
	}

	row := relation.Row{addr, relation.Unsigned(inst.Size), relation.Token(inst.Prefix), relation.Token(inst.Mnemonic)}
	for _, s := range slots {
		row = append(row, s)
	}
	if err := store.Insert("instruction", row); err != nil {
		return err
	}
	if inst.Cond != "" {
		return store.Insert("instruction_cond_code", relation.Row{addr, relation.Token(inst.Cond)})
	}
	return nil
}

func emitOperand(store *facts.Store, addr, idx relation.Unsigned, op disasm.Operand) (bool, error) {
	switch o := op.(type) {
	case disasm.Reg:
		return true, store.Insert("op_regdirect", relation.Row{addr, idx, relation.Token(o.Name)})
	case disasm.Imm:
		return true, store.Insert("op_immediate", relation.Row{addr, idx, relation.Int(o.Value), relation.Unsigned(o.Size)})
	case disasm.Mem:
		return true, store.Insert("op_indirect", relation.Row{
			addr, idx,
			relation.Token(o.Segment), relation.Token(o.Base), relation.Token(o.Index),
			relation.Int(o.Scale), relation.Int(o.Disp), relation.Unsigned(o.Size),
		})
	case disasm.Shifted:
		return true, store.Insert("op_shifted", relation.Row{addr, idx, relation.Token(o.Reg), relation.Unsigned(o.Amount), relation.Token(o.Shift)})
	case disasm.RegList:
		if len(o.Regs) == 0 {
			return false, nil
		}
		rows := make([]relation.Row, len(o.Regs))
		for i, r := range o.Regs {
			rows[i] = relation.Row{addr, idx, relation.Unsigned(i), relation.Token(r)}
		}
		return true, store.Insert("op_register_bitfield", rows...)
	case disasm.Special:
		return true, store.Insert("op_special", relation.Row{addr, idx, relation.Token(o.Kind), relation.Token(o.Value)})
	}
	return false, nil
}

// EmitInvalid writes an opaque-data placeholder.
func EmitInvalid(store *facts.Store, addr uint64, size int, reason string) error {
	return store.Insert("invalid", relation.Row{relation.Unsigned(addr), relation.Unsigned(size), relation.Token(reason)})
}
