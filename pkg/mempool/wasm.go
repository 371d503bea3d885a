package mempool

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6D}

// precheckWasm runs the lightweight structural checks admission needs:
// magic bytes, version, and sane section ordering. Full validation is
// deferred to deploy.
func precheckWasm(b []byte) error {
	if len(b) < 8 {
		return errors.New("wasm module truncated")
	}
	for i, m := range wasmMagic {
		if b[i] != m {
			return errors.New("bad wasm magic")
		}
	}
	if binary.LittleEndian.Uint32(b[4:8]) != 1 {
		return errors.New("unsupported wasm version")
	}

	// non-custom section ids must be strictly increasing
	off := 8
	last := -1
	for off < len(b) {
		id := int(b[off])
		off++

		size, n := readUvarint(b[off:])
		if n <= 0 || off+n+int(size) > len(b) {
			return errors.New("wasm section overruns module")
		}
		off += n + int(size)

		if id == 0 {
			continue
		}
		if id <= last || id > 12 {
			return errors.New("wasm sections out of order")
		}
		last = id
	}

	return nil
}

func readUvarint(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i := 0; i < len(b) && i < 10; i++ {
		v |= uint64(b[i]&0x7f) << shift
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
	}
	return 0, -1
}
