package contracts

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

// hostImports is the full import surface a module may declare, all under
// the "env" module. Anything else fails validation at deploy.
var hostImports = map[string]struct{}{
	"storage_read":        {},
	"storage_write":       {},
	"storage_remove":      {},
	"get_sender":          {},
	"get_contract_id":     {},
	"get_block_height":    {},
	"get_block_timestamp": {},
	"get_input":           {},
	"hash_sha256":         {},
	"verify_sig":          {},
	"call_contract":       {},
	"read_call_result":    {},
	"emit_event":          {},
	"revert":              {},
}

const hostModule = "env"

// reservedExportPrefix marks export names the host claims for itself.
const reservedExportPrefix = "__baals"

type moduleInfo struct {
	memMinPages uint32
	memMaxPages uint32
	hasMemMax   bool
	exports     map[string]struct{}
	codeBodies  [][]byte
}

func (m *moduleInfo) hasExport(name string) bool {
	_, ok := m.exports[name]
	return ok
}

// validateModule enforces the deploy-time rules: module size, declared
// memory limits, imports restricted to the host-call table, no reserved
// exports, and an allow-list of deterministic integer opcodes in every
// function body. Float, SIMD and any unknown instruction are rejected
// outright.
func validateModule(wasm []byte, maxModuleBytes int, maxMemoryPages uint32) (*moduleInfo, error) {
	if len(wasm) > maxModuleBytes {
		return nil, errors.Wrapf(ErrValidation, "module exceeds %d bytes", maxModuleBytes)
	}

	info, err := parseModule(wasm, maxMemoryPages)
	if err != nil {
		return nil, err
	}

	for _, body := range info.codeBodies {
		if err := scanBody(body); err != nil {
			return nil, err
		}
	}

	return info, nil
}

type wasmReader struct {
	b   []byte
	off int
}

func (r *wasmReader) len() int { return len(r.b) - r.off }

func (r *wasmReader) byte() (byte, error) {
	if r.off >= len(r.b) {
		return 0, errors.Wrap(ErrValidation, "unexpected end of module")
	}
	b := r.b[r.off]
	r.off++
	return b, nil
}

func (r *wasmReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, errors.Wrap(ErrValidation, "unexpected end of module")
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *wasmReader) uleb() (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < 10; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, errors.Wrap(ErrValidation, "leb128 overflow")
}

func (r *wasmReader) sleb() error {
	for i := 0; i < 10; i++ {
		b, err := r.byte()
		if err != nil {
			return err
		}
		if b&0x80 == 0 {
			return nil
		}
	}
	return errors.Wrap(ErrValidation, "leb128 overflow")
}

func (r *wasmReader) name() (string, error) {
	n, err := r.uleb()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *wasmReader) limits() (min uint32, max uint32, hasMax bool, err error) {
	flag, err := r.byte()
	if err != nil {
		return 0, 0, false, err
	}

	mn, err := r.uleb()
	if err != nil {
		return 0, 0, false, err
	}

	switch flag {
	case 0x00:
		return uint32(mn), 0, false, nil
	case 0x01:
		mx, err := r.uleb()
		if err != nil {
			return 0, 0, false, err
		}
		return uint32(mn), uint32(mx), true, nil
	default:
		return 0, 0, false, errors.Wrap(ErrValidation, "bad limits flag")
	}
}

func parseModule(wasm []byte, maxMemoryPages uint32) (*moduleInfo, error) {
	if len(wasm) < 8 ||
		wasm[0] != 0x00 || wasm[1] != 0x61 || wasm[2] != 0x73 || wasm[3] != 0x6D {
		return nil, errors.Wrap(ErrValidation, "bad wasm magic")
	}
	if binary.LittleEndian.Uint32(wasm[4:8]) != 1 {
		return nil, errors.Wrap(ErrValidation, "unsupported wasm version")
	}

	info := &moduleInfo{exports: make(map[string]struct{})}

	r := &wasmReader{b: wasm, off: 8}
	for r.len() > 0 {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.uleb()
		if err != nil {
			return nil, err
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, err
		}

		sr := &wasmReader{b: body}
		switch id {
		case 2:
			if err := parseImports(sr); err != nil {
				return nil, err
			}
		case 5:
			if err := parseMemory(sr, info, maxMemoryPages); err != nil {
				return nil, err
			}
		case 7:
			if err := parseExports(sr, info); err != nil {
				return nil, err
			}
		case 10:
			if err := parseCode(sr, info); err != nil {
				return nil, err
			}
		}
	}

	return info, nil
}

func parseImports(r *wasmReader) error {
	count, err := r.uleb()
	if err != nil {
		return err
	}

	for i := uint64(0); i < count; i++ {
		mod, err := r.name()
		if err != nil {
			return err
		}
		field, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}

		if kind != 0x00 {
			return errors.Wrapf(ErrValidation, "non-function import %s.%s", mod, field)
		}
		if mod != hostModule {
			return errors.Wrapf(ErrValidation, "import from unknown module %q", mod)
		}
		if _, ok := hostImports[field]; !ok {
			return errors.Wrapf(ErrValidation, "import %q not in host-call table", field)
		}

		if _, err := r.uleb(); err != nil { // type index
			return err
		}
	}

	return nil
}

func parseMemory(r *wasmReader, info *moduleInfo, maxPages uint32) error {
	count, err := r.uleb()
	if err != nil {
		return err
	}
	if count > 1 {
		return errors.Wrap(ErrValidation, "multiple memories")
	}

	for i := uint64(0); i < count; i++ {
		min, max, hasMax, err := r.limits()
		if err != nil {
			return err
		}

		if min > maxPages || (hasMax && max > maxPages) || (!hasMax && maxPages > 0) {
			return errors.Wrapf(ErrValidation, "memory limits exceed %d pages", maxPages)
		}

		info.memMinPages = min
		info.memMaxPages = max
		info.hasMemMax = hasMax
	}

	return nil
}

func parseExports(r *wasmReader, info *moduleInfo) error {
	count, err := r.uleb()
	if err != nil {
		return err
	}

	for i := uint64(0); i < count; i++ {
		name, err := r.name()
		if err != nil {
			return err
		}
		if _, err := r.byte(); err != nil { // kind
			return err
		}
		if _, err := r.uleb(); err != nil { // index
			return err
		}

		if strings.HasPrefix(name, reservedExportPrefix) {
			return errors.Wrapf(ErrValidation, "export %q uses reserved prefix", name)
		}

		info.exports[name] = struct{}{}
	}

	return nil
}

func parseCode(r *wasmReader, info *moduleInfo) error {
	count, err := r.uleb()
	if err != nil {
		return err
	}

	for i := uint64(0); i < count; i++ {
		size, err := r.uleb()
		if err != nil {
			return err
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return err
		}
		info.codeBodies = append(info.codeBodies, body)
	}

	return nil
}

func intValType(t byte) bool { return t == 0x7F || t == 0x7E }

// scanBody walks one function body instruction by instruction. Only the
// deterministic integer subset of core wasm passes; every other opcode
// fails the module.
func scanBody(body []byte) error {
	r := &wasmReader{b: body}

	// locals
	groups, err := r.uleb()
	if err != nil {
		return err
	}
	for i := uint64(0); i < groups; i++ {
		if _, err := r.uleb(); err != nil {
			return err
		}
		t, err := r.byte()
		if err != nil {
			return err
		}
		if !intValType(t) {
			return errors.Wrapf(ErrValidation, "non-integer local type 0x%02x", t)
		}
	}

	for r.len() > 0 {
		op, err := r.byte()
		if err != nil {
			return err
		}

		switch {
		case op == 0x00 || op == 0x01 || op == 0x05 || op == 0x0B || op == 0x0F:
			// unreachable, nop, else, end, return

		case op == 0x02 || op == 0x03 || op == 0x04: // block, loop, if
			if err := scanBlockType(r); err != nil {
				return err
			}

		case op == 0x0C || op == 0x0D || op == 0x10: // br, br_if, call
			if _, err := r.uleb(); err != nil {
				return err
			}

		case op == 0x0E: // br_table
			n, err := r.uleb()
			if err != nil {
				return err
			}
			for j := uint64(0); j <= n; j++ {
				if _, err := r.uleb(); err != nil {
					return err
				}
			}

		case op == 0x11: // call_indirect
			if _, err := r.uleb(); err != nil {
				return err
			}
			if _, err := r.uleb(); err != nil {
				return err
			}

		case op == 0x1A || op == 0x1B: // drop, select

		case op >= 0x20 && op <= 0x24: // local/global get/set/tee
			if _, err := r.uleb(); err != nil {
				return err
			}

		case op == 0x28 || op == 0x29 || (op >= 0x2C && op <= 0x37) ||
			(op >= 0x3A && op <= 0x3E): // integer loads and stores
			if _, err := r.uleb(); err != nil { // align
				return err
			}
			if _, err := r.uleb(); err != nil { // offset
				return err
			}

		case op == 0x3F || op == 0x40: // memory.size, memory.grow
			if _, err := r.byte(); err != nil {
				return err
			}

		case op == 0x41 || op == 0x42: // i32.const, i64.const
			if err := r.sleb(); err != nil {
				return err
			}

		case op >= 0x45 && op <= 0x5A: // i32/i64 comparisons

		case op >= 0x67 && op <= 0x8A: // i32/i64 arithmetic

		case op == 0xA7: // i32.wrap_i64

		case op == 0xAC || op == 0xAD: // i64.extend_i32_s/u

		case op >= 0xC0 && op <= 0xC4: // sign extension

		default:
			return errors.Wrapf(ErrValidation, "disallowed opcode 0x%02x", op)
		}
	}

	return nil
}

func scanBlockType(r *wasmReader) error {
	b, err := r.byte()
	if err != nil {
		return err
	}

	switch {
	case b == 0x40: // empty
		return nil
	case intValType(b):
		return nil
	case b == 0x7D || b == 0x7C || b == 0x7B || b == 0x70 || b == 0x6F:
		return errors.Wrapf(ErrValidation, "disallowed block type 0x%02x", b)
	default:
		// multi-value type index, encoded as s33; first byte already
		// consumed
		if b&0x80 != 0 {
			return r.sleb()
		}
		return nil
	}
}
