package opcode

// HelperID identifies one of the kernel's indirectly-called helper
// functions (spec.md §4.5, GLOSSARY "Helper"). Values and names are the
// real kernel helper IDs, adapted from the teacher's enumeration.
type HelperID int32

const (
	// void *map_lookup_elem(&map, &key)
	HelperMapLookupElem HelperID = iota + 1
	// int map_update_elem(&map, &key, &value, flags)
	HelperMapUpdateElem
	// int map_delete_elem(&map, &key)
	HelperMapDeleteElem
	// int bpf_probe_read(void *dst, int size, void *src)
	HelperProbeRead
	// u64 bpf_ktime_get_ns(void)
	HelperKtimeGetNS
	// int bpf_trace_printk(const char *fmt, int fmt_size, ...)
	HelperTracePrintk
	// u64 bpf_get_current_pid_tgid(void)
	HelperGetCurrentPidTGid
	// int bpf_tail_call(ctx, prog_array_map, index)
	HelperTailCall
	// u64 bpf_perf_event_read(map, flags)
	HelperPerfEventRead
	// int bpf_perf_event_output(ctx, map, flags, data, size)
	HelperPerfEventOutput
	// int bpf_get_stackid(ctx, map, flags)
	HelperGetStackID
	// long bpf_spin_lock(struct bpf_spin_lock *lock)
	HelperSpinLock
	// long bpf_spin_unlock(struct bpf_spin_lock *lock)
	HelperSpinUnlock
	// void *bpf_ringbuf_reserve(map, size, flags)
	HelperRingbufReserve
	// void bpf_ringbuf_submit(data, flags)
	HelperRingbufSubmit
	// void bpf_ringbuf_discard(data, flags)
	HelperRingbufDiscard
	// u32 bpf_get_smp_processor_id(void)
	HelperGetSmpProcessorID
	// long bpf_dynptr_from_mem(void *data, u32 size, u64 flags, struct bpf_dynptr *ptr)
	HelperDynptrFromMem
)

var helperNames = map[HelperID]string{
	HelperMapLookupElem:     "map_lookup_elem",
	HelperMapUpdateElem:     "map_update_elem",
	HelperMapDeleteElem:     "map_delete_elem",
	HelperProbeRead:         "probe_read",
	HelperKtimeGetNS:        "ktime_get_ns",
	HelperTracePrintk:       "trace_printk",
	HelperGetCurrentPidTGid: "get_current_pid_tgid",
	HelperTailCall:          "tail_call",
	HelperPerfEventRead:     "perf_event_read",
	HelperPerfEventOutput:   "perf_event_output",
	HelperGetStackID:        "get_stackid",
	HelperSpinLock:          "spin_lock",
	HelperSpinUnlock:        "spin_unlock",
	HelperRingbufReserve:    "ringbuf_reserve",
	HelperRingbufDiscard:    "ringbuf_discard",
	HelperRingbufSubmit:     "ringbuf_submit",
	HelperGetSmpProcessorID: "get_smp_processor_id",
	HelperDynptrFromMem:     "dynptr_from_mem",
}

// Name returns the kernel name of h, or a placeholder for unrecognized IDs
// — the verifier does not reject an unrecognized helper solely because
// its name is unknown to this table, see internal/calls.
func (h HelperID) Name() string {
	if n, ok := helperNames[h]; ok {
		return n
	}
	return "unknown_helper"
}
