// Package btf provides the minimal in-memory type database the verifier
// consults to resolve kfunc prototypes and PTR_TO_BTF_ID targets
// (spec.md §6 "shared read-only resources (BTF objects...)", §9 "Global
// caches... pass them as explicit context handles; the single
// process-wide mutex becomes a per-handle lock"). It is not a BTF-wire-
// format parser: callers build a TypeDB from already-resolved type
// records (spec.md scopes loading/parsing out as belonging to the loader,
// not the core).
package btf

import "sync"

// TypeKind distinguishes the handful of BTF type flavors the verifier's
// argument-matching logic needs to branch on.
type TypeKind uint8

const (
	TypeKindUnknown TypeKind = iota
	TypeKindStruct
	TypeKindInt
	TypeKindPointer
	TypeKindFunc
)

// TypeInfo is one resolved BTF type record.
type TypeInfo struct {
	ID     uint32
	Name   string
	Kind   TypeKind
	Size   uint32
	Fields []FieldInfo
}

// FieldInfo is one field of a TypeKindStruct type, used to recognize the
// specially-constrained field kinds spec.md §4.3 lists (kptr, spin-lock,
// timer, list-head, rb-root, refcount).
type FieldInfo struct {
	Name     string
	Offset   uint32
	TypeID   uint32
	Special  SpecialField
}

// SpecialField tags a struct field whose access pattern spec.md §4.3
// constrains beyond ordinary bounds-checking.
type SpecialField uint8

const (
	FieldOrdinary SpecialField = iota
	FieldSpinLock
	FieldTimer
	FieldKptr
	FieldListHead
	FieldRBRoot
	FieldRefcount
)

// KfuncProto is a typed kernel function's resolved prototype.
type KfuncProto struct {
	ID      uint32
	Name    string
	Args    []KfuncArg
	RetKind KfuncRetKind
}

// KfuncArgKind enumerates the richer argument kinds kfuncs add over
// ordinary helpers (spec.md §4.5).
type KfuncArgKind uint8

const (
	KfuncArgOrdinary KfuncArgKind = iota
	KfuncArgAllocBTFID
	KfuncArgRefcountedKptr
	KfuncArgListHead
	KfuncArgListNode
	KfuncArgRBRoot
	KfuncArgRBNode
	KfuncArgIterUninit
	KfuncArgIterNext
	KfuncArgIterDestroy
	KfuncArgCallback
)

type KfuncArg struct {
	Kind      KfuncArgKind
	TypeID    uint32
	Nullable  bool
}

type KfuncRetKind uint8

const (
	KfuncRetVoid KfuncRetKind = iota
	KfuncRetAllocatedObj
	KfuncRetScalar
	KfuncRetPtrOrNull
)

// TypeDB is a process-wide, read-mostly cache of resolved BTF types and
// kfunc prototypes. A single DB instance is shared by every verification
// running in the process; cacheMu is the "per-handle lock" spec.md §9
// asks for in place of the kernel's one global mutex — one TypeDB,
// one mutex, any number of concurrent Verify calls consulting it.
type TypeDB struct {
	cacheMu    sync.Mutex
	types      map[uint32]TypeInfo
	kfuncs     map[string]KfuncProto
	kfuncsByID map[uint32]KfuncProto
}

// NewTypeDB returns an empty database; callers populate it via Register*
// before passing it to Config.
func NewTypeDB() *TypeDB {
	return &TypeDB{
		types:      map[uint32]TypeInfo{},
		kfuncs:     map[string]KfuncProto{},
		kfuncsByID: map[uint32]KfuncProto{},
	}
}

func (db *TypeDB) RegisterType(t TypeInfo) {
	db.cacheMu.Lock()
	defer db.cacheMu.Unlock()
	db.types[t.ID] = t
}

func (db *TypeDB) RegisterKfunc(p KfuncProto) {
	db.cacheMu.Lock()
	defer db.cacheMu.Unlock()
	db.kfuncs[p.Name] = p
	db.kfuncsByID[p.ID] = p
}

func (db *TypeDB) Type(id uint32) (TypeInfo, bool) {
	db.cacheMu.Lock()
	defer db.cacheMu.Unlock()
	t, ok := db.types[id]
	return t, ok
}

func (db *TypeDB) Kfunc(name string) (KfuncProto, bool) {
	db.cacheMu.Lock()
	defer db.cacheMu.Unlock()
	p, ok := db.kfuncs[name]
	return p, ok
}

// KfuncByID looks up a kfunc by its BTF function id, the form a BPF_CALL
// instruction carries (spec.md §4.5 kfunc call dispatch).
func (db *TypeDB) KfuncByID(id uint32) (KfuncProto, bool) {
	db.cacheMu.Lock()
	defer db.cacheMu.Unlock()
	p, ok := db.kfuncsByID[id]
	return p, ok
}

// FieldAt returns the field of the struct type id that starts exactly at
// byte offset off (an offset inside a field finds nothing), for spec.md §4.3's
// "exact, aligned, single-pointer-sized access" rule for special fields.
func (db *TypeDB) FieldAt(id uint32, off uint32) (FieldInfo, bool) {
	t, ok := db.Type(id)
	if !ok || t.Kind != TypeKindStruct {
		return FieldInfo{}, false
	}
	for _, f := range t.Fields {
		if f.Offset == off {
			return f, true
		}
	}
	return FieldInfo{}, false
}
