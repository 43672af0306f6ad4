// Package loader walks code intervals with an architecture decoder and
// turns every decoded position into instruction and operand facts.
package loader

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sort"

	"disfacts/internal/arch"
	"disfacts/internal/binir"
	"disfacts/internal/facts"

	"golang.org/x/sync/errgroup"
)

// Opaque reasons recorded in the invalid relation.
const (
	ReasonUnsupported = "unsupported_encoding"
	ReasonTruncated   = "truncated"
	ReasonDecodeError = "decode_error"
	ReasonStalled     = "stalled"
)

// Options configures a Load.
type Options struct {
	Workers int          // concurrent work units, default runtime.NumCPU()
	Logger  *slog.Logger // default slog.Default()
}

// Stats summarises one Load.
type Stats struct {
	Intervals    int            // work units run (passes x intervals)
	Instructions int            // successfully decoded positions
	Opaque       map[string]int // placeholders by reason
	Stalled      int            // decodes that did not advance correctly
}

// OpaqueTotal is the number of placeholders across all reasons.
func (s Stats) OpaqueTotal() int {
	n := 0
	for _, c := range s.Opaque {
		n += c
	}
	return n
}

func (s *Stats) add(o Stats) {
	s.Intervals += o.Intervals
	s.Instructions += o.Instructions
	s.Stalled += o.Stalled
	if len(o.Opaque) > 0 && s.Opaque == nil {
		s.Opaque = make(map[string]int)
	}
	for k, v := range o.Opaque {
		s.Opaque[k] += v
	}
}

type unit struct {
	mode     arch.Mode
	interval binir.Interval
}

type result struct {
	store *facts.Store
	stats Stats
}

// Load decodes every interval once per decoder pass and merges the facts
// into store. Work units run concurrently, each into its own store; the
// merge happens after all of them finish, in pass then interval order.
// Cancelling ctx stops new units from starting.
func Load(ctx context.Context, d arch.Decoder, intervals []binir.Interval, store *facts.Store, opts Options) (Stats, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	if err := Declare(store); err != nil {
		return Stats{}, err
	}

	var units []unit
	for _, pass := range d.Passes() {
		for _, iv := range intervals {
			units = append(units, unit{mode: pass, interval: iv})
		}
	}
	results := make([]result, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, u := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			local := facts.NewStore()
			stats, err := decodeInterval(d, u.mode, u.interval, local, lg)
			if err != nil {
				return err
			}
			results[i] = result{store: local, stats: stats}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	var total Stats
	for _, r := range results {
		if err := store.Merge(r.store); err != nil {
			return total, err
		}
		total.add(r.stats)
	}
	return total, nil
}

// decodeInterval walks one interval in one decoder mode. Every position
// yields either an instruction or an invalid placeholder, and the cursor
// always moves forward.
func decodeInterval(d arch.Decoder, mode arch.Mode, iv binir.Interval, store *facts.Store, lg *slog.Logger) (Stats, error) {
	stats := Stats{Intervals: 1, Opaque: make(map[string]int)}

	off := 0
	for off < len(iv.Bytes) {
		addr := iv.Address + uint64(off)
		window := iv.Bytes[off:]
		cur := mode
		align := max(d.Alignment(cur), 1)

		inst, next, err := d.Decode(window, addr, cur)
		if err != nil {
			reason := opaqueReason(err)
			size := min(align, len(window))
			if err := EmitInvalid(store, arch.AddressOf(d, addr, cur), size, reason); err != nil {
				return stats, err
			}
			stats.Opaque[reason]++
			mode = next
			off += size
			continue
		}

		if inst.Size <= 0 || inst.Size > len(window) || inst.Size%align != 0 {
			lg.Error("decoder did not advance correctly",
				"isa", d.Name(), "address", addr, "size", inst.Size, "window", len(window))
			stats.Stalled++
			size := min(align, len(window))
			if err := EmitInvalid(store, arch.AddressOf(d, addr, cur), size, ReasonStalled); err != nil {
				return stats, err
			}
			stats.Opaque[ReasonStalled]++
			off += size
			continue
		}

		if err := Emit(store, inst); err != nil {
			return stats, err
		}
		stats.Instructions++
		mode = next
		off += inst.Size
	}
	lg.Debug("decoded interval",
		"isa", d.Name(), "mode", uint32(mode), "address", iv.Address,
		"bytes", len(iv.Bytes), "instructions", stats.Instructions, "opaque", stats.OpaqueTotal())
	return stats, nil
}

func opaqueReason(err error) string {
	switch {
	case errors.Is(err, arch.ErrTruncatedInstruction):
		return ReasonTruncated
	case errors.Is(err, arch.ErrUnsupportedEncoding):
		return ReasonUnsupported
	}
	return ReasonDecodeError
}

// Reasons lists the opaque reasons present in s, sorted.
func (s Stats) Reasons() []string {
	out := make([]string, 0, len(s.Opaque))
	for k := range s.Opaque {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
