package guest

// Code accumulates a function body.
type Code struct {
	buf []byte
}

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte {
	return c.buf
}

// Op appends raw opcodes.
func (c *Code) Op(ops ...byte) *Code {
	c.buf = append(c.buf, ops...)
	return c
}

func (c *Code) idx(op byte, i uint32) *Code {
	c.buf = append(c.buf, op)
	c.buf = append(c.buf, EncodeULEB128(i)...)
	return c
}

func (c *Code) LocalGet(i uint32) *Code  { return c.idx(OpLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code  { return c.idx(OpLocalSet, i) }
func (c *Code) LocalTee(i uint32) *Code  { return c.idx(OpLocalTee, i) }
func (c *Code) GlobalGet(i uint32) *Code { return c.idx(OpGlobalGet, i) }
func (c *Code) GlobalSet(i uint32) *Code { return c.idx(OpGlobalSet, i) }
func (c *Code) Call(i uint32) *Code      { return c.idx(OpCall, i) }
func (c *Code) Br(depth uint32) *Code    { return c.idx(OpBr, depth) }
func (c *Code) BrIf(depth uint32) *Code  { return c.idx(OpBrIf, depth) }

// I32Const pushes a constant.
func (c *Code) I32Const(v int32) *Code {
	c.buf = append(c.buf, OpI32Const)
	c.buf = append(c.buf, EncodeSLEB128(v)...)
	return c
}

// Mem appends a load or store with its alignment exponent and offset.
func (c *Code) Mem(op byte, alignExp, offset uint32) *Code {
	c.buf = append(c.buf, op)
	c.buf = append(c.buf, EncodeULEB128(alignExp)...)
	c.buf = append(c.buf, EncodeULEB128(offset)...)
	return c
}

// MemorySize pushes the memory size in pages.
func (c *Code) MemorySize() *Code {
	return c.Op(OpMemorySize, 0x00)
}

// Block opens a block with no result.
func (c *Code) Block() *Code { return c.Op(OpBlock, BlockTypeVoid) }

// Loop opens a loop with no result.
func (c *Code) Loop() *Code { return c.Op(OpLoop, BlockTypeVoid) }

// If opens an if with no result.
func (c *Code) If() *Code { return c.Op(OpIf, BlockTypeVoid) }

// End closes the innermost block.
func (c *Code) End() *Code { return c.Op(OpEnd) }
