package guest

import "github.com/tetratelabs/wazero/api"

// Func is a function defined by the module.
type Func struct {
	Name    string // export name; empty means not exported
	Params  []api.ValueType
	Results []api.ValueType
	Locals  []api.ValueType
	Body    []byte // instructions without the trailing end
}

type global struct {
	exportName string
	valType    api.ValueType
	mutable    bool
	initValue  int64
}

type segment struct {
	offset uint32
	data   []byte
}

// Builder assembles a core wasm module.
type Builder struct {
	memoryExport string
	funcs        []Func
	globals      []global
	data         []segment
	memoryPages  uint32
	hasMemory    bool
}

// NewBuilder returns an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Memory defines the module memory with minPages initial pages, exported
// under exportName when it is not empty.
func (b *Builder) Memory(minPages uint32, exportName string) *Builder {
	b.hasMemory = true
	b.memoryPages = minPages
	b.memoryExport = exportName
	return b
}

// Global defines a global and returns its index.
func (b *Builder) Global(exportName string, valType api.ValueType, mutable bool, initValue int64) uint32 {
	b.globals = append(b.globals, global{
		exportName: exportName,
		valType:    valType,
		mutable:    mutable,
		initValue:  initValue,
	})
	return uint32(len(b.globals) - 1)
}

// Func defines a function and returns its index.
func (b *Builder) Func(f Func) uint32 {
	b.funcs = append(b.funcs, f)
	return uint32(len(b.funcs) - 1)
}

// Data places bytes at offset when the module is instantiated.
func (b *Builder) Data(offset uint32, data []byte) *Builder {
	b.data = append(b.data, segment{offset: offset, data: data})
	return b
}

// Build generates the module bytes.
func (b *Builder) Build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, SectionType, b.buildTypeSection())
		wasm = appendSection(wasm, SectionFunction, b.buildFuncSection())
	}
	if b.hasMemory {
		mem := []byte{0x01, 0x00}
		mem = append(mem, EncodeULEB128(b.memoryPages)...)
		wasm = appendSection(wasm, SectionMemory, mem)
	}
	if len(b.globals) > 0 {
		wasm = appendSection(wasm, SectionGlobal, b.buildGlobalSection())
	}
	wasm = appendSection(wasm, SectionExport, b.buildExportSection())
	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, SectionCode, b.buildCodeSection())
	}
	if len(b.data) > 0 {
		wasm = appendSection(wasm, SectionData, b.buildDataSection())
	}
	return wasm
}

func (b *Builder) buildTypeSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		section = append(section, 0x60)
		section = append(section, EncodeULEB128(uint32(len(f.Params)))...)
		for _, t := range f.Params {
			section = append(section, ValType(t))
		}
		section = append(section, EncodeULEB128(uint32(len(f.Results)))...)
		for _, t := range f.Results {
			section = append(section, ValType(t))
		}
	}
	return section
}

func (b *Builder) buildFuncSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i := range b.funcs {
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *Builder) buildGlobalSection() []byte {
	section := EncodeULEB128(uint32(len(b.globals)))
	for _, g := range b.globals {
		section = append(section, ValType(g.valType))
		if g.mutable {
			section = append(section, 0x01)
		} else {
			section = append(section, 0x00)
		}
		switch g.valType {
		case api.ValueTypeI64:
			section = append(section, OpI64Const)
			section = append(section, EncodeSLEB128(g.initValue)...)
		default:
			section = append(section, OpI32Const)
			section = append(section, EncodeSLEB128(int32(g.initValue))...)
		}
		section = append(section, OpEnd)
	}
	return section
}

func (b *Builder) buildExportSection() []byte {
	var entries []byte
	count := 0

	if b.hasMemory && b.memoryExport != "" {
		entries = appendName(entries, b.memoryExport)
		entries = append(entries, KindMemory, 0x00)
		count++
	}
	for i, g := range b.globals {
		if g.exportName == "" {
			continue
		}
		entries = appendName(entries, g.exportName)
		entries = append(entries, KindGlobal)
		entries = append(entries, EncodeULEB128(uint32(i))...)
		count++
	}
	for i, f := range b.funcs {
		if f.Name == "" {
			continue
		}
		entries = appendName(entries, f.Name)
		entries = append(entries, KindFunc)
		entries = append(entries, EncodeULEB128(uint32(i))...)
		count++
	}

	return append(EncodeULEB128(uint32(count)), entries...)
}

func (b *Builder) buildCodeSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		body := EncodeULEB128(uint32(len(f.Locals)))
		for _, t := range f.Locals {
			body = append(body, 0x01, ValType(t))
		}
		body = append(body, f.Body...)
		body = append(body, OpEnd)

		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	return section
}

func (b *Builder) buildDataSection() []byte {
	section := EncodeULEB128(uint32(len(b.data)))
	for _, s := range b.data {
		section = append(section, 0x00, OpI32Const)
		section = append(section, EncodeSLEB128(int32(s.offset))...)
		section = append(section, OpEnd)
		section = append(section, EncodeULEB128(uint32(len(s.data)))...)
		section = append(section, s.data...)
	}
	return section
}
