package guest

import "github.com/tetratelabs/wazero/api"

// Layout of the Pair structure used by the fixtures: struct { int32 a; int32 b; }.
const (
	PairSize    = 8
	PairOffsetA = 0
	PairOffsetB = 4
)

// Fixture memory layout.
const (
	HeapBase     = 1024 // first address handed out by the bump allocators
	GreetingAddr = 512
	Greeting     = "hello, pair"
)

var i32 = api.ValueTypeI32

func vals(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

// PairModule returns a module with a bump malloc, a counting free and
// functions over Pair structures:
//
//	malloc(size) ptr          bump allocation aligned to 8; 0 when memory is full
//	free(ptr)                 counts non-null frees
//	free_count() i32
//	sum_pair(p) i32           p->a + p->b
//	init_pair(p, a, b) ptr    stores a and b, returns p
//	pair_a(p) i32, pair_b(p) i32
//	make_pair(a, b) ptr       mallocs and initializes a Pair
//	strlen(s) i32
//	greeting() ptr            a NUL-terminated string in static data
func PairModule() []byte {
	b := NewBuilder().Memory(4, "memory")
	b.Data(GreetingAddr, append([]byte(Greeting), 0))

	top := b.Global("", i32, true, HeapBase)
	frees := b.Global("", i32, true, 0)

	malloc := b.Func(bumpMalloc("malloc", top))

	b.Func(Func{
		Name:   "free",
		Params: vals(1),
		Body: new(Code).
			LocalGet(0).Op(OpI32Eqz).If().Op(OpReturn).End().
			GlobalGet(frees).I32Const(1).Op(OpI32Add).GlobalSet(frees).
			Bytes(),
	})
	b.Func(Func{
		Name:    "free_count",
		Results: vals(1),
		Body:    new(Code).GlobalGet(frees).Bytes(),
	})

	addPairFuncs(b)

	b.Func(Func{
		Name:    "make_pair",
		Params:  vals(2),
		Results: vals(1),
		Locals:  vals(1),
		Body: new(Code).
			I32Const(PairSize).Call(malloc).LocalTee(2).
			LocalGet(0).Mem(OpI32Store, 2, PairOffsetA).
			LocalGet(2).LocalGet(1).Mem(OpI32Store, 2, PairOffsetB).
			LocalGet(2).
			Bytes(),
	})
	b.Func(Func{
		Name:    "strlen",
		Params:  vals(1),
		Results: vals(1),
		Locals:  vals(1),
		Body: new(Code).
			LocalGet(0).LocalSet(1).
			Block().Loop().
			LocalGet(1).Mem(OpI32Load8U, 0, 0).Op(OpI32Eqz).BrIf(1).
			LocalGet(1).I32Const(1).Op(OpI32Add).LocalSet(1).
			Br(0).
			End().End().
			LocalGet(1).LocalGet(0).Op(OpI32Sub).
			Bytes(),
	})
	b.Func(Func{
		Name:    "greeting",
		Results: vals(1),
		Body:    new(Code).I32Const(GreetingAddr).Bytes(),
	})

	return b.Build()
}

// ReallocModule returns a module whose only allocator export is
// cabi_realloc(ptr, old_size, align, new_size). A zero new_size frees and
// is counted by free_count; growing in place is not supported.
func ReallocModule() []byte {
	b := NewBuilder().Memory(2, "memory")

	top := b.Global("", i32, true, HeapBase)
	frees := b.Global("", i32, true, 0)

	b.Func(Func{
		Name:    "cabi_realloc",
		Params:  vals(4),
		Results: vals(1),
		Locals:  vals(2),
		Body: new(Code).
			LocalGet(3).Op(OpI32Eqz).If().
			GlobalGet(frees).I32Const(1).Op(OpI32Add).GlobalSet(frees).
			I32Const(0).Op(OpReturn).
			End().
			// aligned = (top + align - 1) & -align
			GlobalGet(top).LocalGet(2).Op(OpI32Add).I32Const(1).Op(OpI32Sub).
			I32Const(0).LocalGet(2).Op(OpI32Sub).Op(OpI32And).LocalSet(4).
			LocalGet(4).LocalGet(3).Op(OpI32Add).LocalSet(5).
			LocalGet(5).MemorySize().I32Const(16).Op(OpI32Shl).Op(OpI32GtU).If().
			I32Const(0).Op(OpReturn).
			End().
			LocalGet(5).GlobalSet(top).
			LocalGet(4).
			Bytes(),
	})
	b.Func(Func{
		Name:    "free_count",
		Results: vals(1),
		Body:    new(Code).GlobalGet(frees).Bytes(),
	})

	addPairFuncs(b)
	return b.Build()
}

// BareModule returns a module that exports memory and the Pair functions
// but no allocator. The host has to manage the memory itself.
func BareModule() []byte {
	b := NewBuilder().Memory(1, "memory")
	addPairFuncs(b)
	return b.Build()
}

func bumpMalloc(name string, top uint32) Func {
	return Func{
		Name:    name,
		Params:  vals(1),
		Results: vals(1),
		Locals:  vals(2),
		Body: new(Code).
			GlobalGet(top).I32Const(7).Op(OpI32Add).I32Const(-8).Op(OpI32And).LocalSet(1).
			LocalGet(1).LocalGet(0).Op(OpI32Add).LocalSet(2).
			LocalGet(2).MemorySize().I32Const(16).Op(OpI32Shl).Op(OpI32GtU).If().
			I32Const(0).Op(OpReturn).
			End().
			LocalGet(2).GlobalSet(top).
			LocalGet(1).
			Bytes(),
	}
}

func addPairFuncs(b *Builder) {
	b.Func(Func{
		Name:    "sum_pair",
		Params:  vals(1),
		Results: vals(1),
		Body: new(Code).
			LocalGet(0).Mem(OpI32Load, 2, PairOffsetA).
			LocalGet(0).Mem(OpI32Load, 2, PairOffsetB).
			Op(OpI32Add).
			Bytes(),
	})
	b.Func(Func{
		Name:    "init_pair",
		Params:  vals(3),
		Results: vals(1),
		Body: new(Code).
			LocalGet(0).LocalGet(1).Mem(OpI32Store, 2, PairOffsetA).
			LocalGet(0).LocalGet(2).Mem(OpI32Store, 2, PairOffsetB).
			LocalGet(0).
			Bytes(),
	})
	b.Func(Func{
		Name:    "pair_a",
		Params:  vals(1),
		Results: vals(1),
		Body:    new(Code).LocalGet(0).Mem(OpI32Load, 2, PairOffsetA).Bytes(),
	})
	b.Func(Func{
		Name:    "pair_b",
		Params:  vals(1),
		Results: vals(1),
		Body:    new(Code).LocalGet(0).Mem(OpI32Load, 2, PairOffsetB).Bytes(),
	})
}
