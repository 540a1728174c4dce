package payload

import (
	"encoding/binary"
	"time"
)

// Manager holds the immutable set of packet descriptors and their
// atomic counters for the lifetime of the process. It is constructed
// once after script verification and shared read-only (Descriptors) or
// atomically mutated (Counters) across every shard goroutine.
type Manager struct {
	descriptors        []Descriptor
	perPayloadCounters [][]*AtomicCounter
}

// NewManager builds a Manager from the verified packet catalog.
// counterSteps[i] holds one step per Counter op appearing (in order)
// in descriptors[i].Ops. Each payload may declare more than one
// independent counter (one per distinct COUNTER op); one
// AtomicCounter is built per step.
func NewManager(descriptors []Descriptor, counterSteps [][]uint32) *Manager {
	m := &Manager{descriptors: descriptors}

	perPayloadCounters := make([][]*AtomicCounter, len(descriptors))
	for i := range descriptors {
		steps := counterSteps[i]
		cs := make([]*AtomicCounter, len(steps))
		for j, step := range steps {
			cs[j] = NewCounter(step)
		}
		perPayloadCounters[i] = cs
	}
	m.perPayloadCounters = perPayloadCounters

	return m
}

// Count returns the number of payloads in the catalog.
func (m *Manager) Count() int {
	return len(m.descriptors)
}

// Fill computes the current concrete bytes of payload index i into
// out, reusing out's backing storage. Returns false if index is out of
// range, matching PayloadManager::fill_payload's contract.
func (m *Manager) Fill(index int, out *Prepared) bool {
	if index < 0 || index >= len(m.descriptors) {
		return false
	}

	descriptor := m.descriptors[index]
	counters := m.perPayloadCounters[index]

	out.Reset()

	// Compute the exact number of dynamic bytes so Temps never
	// reallocates while we record slices into it (see Prepared's
	// doc comment for why this is load-bearing, not an optimization).
	totalDynamic := 0
	for _, op := range descriptor.Ops {
		if op.Type != Identity {
			totalDynamic += int(op.Length)
		}
	}

	if cap(out.Temps) < totalDynamic {
		out.Temps = make([]byte, 0, totalDynamic)
	}
	if cap(out.Slices) < len(descriptor.Ops) {
		out.Slices = make([]Slice, 0, len(descriptor.Ops))
	}

	staticOffset := 0

	for _, op := range descriptor.Ops {
		switch op.Type {
		case Identity:
			out.Slices = append(out.Slices, Slice{
				Bytes: descriptor.PacketBytes[staticOffset : staticOffset+int(op.Length)],
			})
			staticOffset += int(op.Length)

		case Counter:
			counter := counters[op.CounterIndex]

			val := counter.Next()

			writeIndex := len(out.Temps)
			out.Temps = out.Temps[:writeIndex+int(op.Length)]
			span := out.Temps[writeIndex : writeIndex+int(op.Length)]
			writeNumeric(span, val, op.LittleEndian)

			out.Slices = append(out.Slices, Slice{Bytes: span})

		case Timestamp:
			val := timestampValue(op.Unit)

			writeIndex := len(out.Temps)
			out.Temps = out.Temps[:writeIndex+int(op.Length)]
			span := out.Temps[writeIndex : writeIndex+int(op.Length)]
			writeNumeric(span, val, op.LittleEndian)

			out.Slices = append(out.Slices, Slice{Bytes: span})
		}
	}

	return true
}

func timestampValue(unit TimestampUnit) uint64 {
	now := time.Now()
	switch unit {
	case Seconds:
		return uint64(now.Unix())
	case Milliseconds:
		return uint64(now.UnixMilli())
	case Microseconds:
		return uint64(now.UnixMicro())
	case Nanoseconds:
		return uint64(now.UnixNano())
	default:
		return uint64(now.Unix())
	}
}

// writeNumeric writes the low len(dst) bytes of v into dst. For
// len == 4 or 8 it uses a single native-width store (via encoding/binary)
// plus an endian choice; for any other length (1,2,3,5,6,7) it writes
// byte-by-byte with a shift loop, exactly mirroring the source's
// special-cased 4/8 fast path and generic fallback.
func writeNumeric(dst []byte, v uint64, littleEndian bool) {
	length := len(dst)

	switch length {
	case 8:
		if littleEndian {
			binary.LittleEndian.PutUint64(dst, v)
		} else {
			binary.BigEndian.PutUint64(dst, v)
		}
		return
	case 4:
		v32 := uint32(v)
		if littleEndian {
			binary.LittleEndian.PutUint32(dst, v32)
		} else {
			binary.BigEndian.PutUint32(dst, v32)
		}
		return
	}

	for i := 0; i < length; i++ {
		var shift int
		if littleEndian {
			shift = i * 8
		} else {
			shift = (length - 1 - i) * 8
		}
		dst[i] = byte(v >> shift)
	}
}
