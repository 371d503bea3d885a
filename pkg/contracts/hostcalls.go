package contracts

import (
	"crypto/sha256"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/types"
)

// hostEnv is the per-execution host state the host-call closures share.
type hostEnv struct {
	engine  *Engine
	store   *wasmtime.Store
	state   State
	ctx     *CallContext
	overlay *Overlay

	events     []Event
	lastResult []byte

	revert    *RevertError
	hostErr   error
	outOfFuel bool
}

func (env *hostEnv) charge(n uint64) *wasmtime.Trap {
	fuel, err := env.store.GetFuel()
	if err != nil {
		env.hostErr = errors.Wrap(err, "reading fuel")
		return wasmtime.NewTrap("fuel unavailable")
	}
	if fuel < n {
		env.outOfFuel = true
		env.store.SetFuel(0)
		return wasmtime.NewTrap("all fuel consumed")
	}
	if err := env.store.SetFuel(fuel - n); err != nil {
		env.hostErr = errors.Wrap(err, "deducting fuel")
		return wasmtime.NewTrap("fuel unavailable")
	}
	return nil
}

func (env *hostEnv) abuse(reason string) *wasmtime.Trap {
	env.hostErr = errors.Wrap(ErrHostAbuse, reason)
	return wasmtime.NewTrap(reason)
}

func (env *hostEnv) memory(caller *wasmtime.Caller) ([]byte, *wasmtime.Trap) {
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		return nil, env.abuse("module exports no memory")
	}
	return ext.Memory().UnsafeData(env.store), nil
}

func (env *hostEnv) read(mem []byte, ptr, length int32) ([]byte, *wasmtime.Trap) {
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(mem) {
		return nil, env.abuse("read outside linear memory")
	}
	return mem[ptr : int(ptr)+int(length)], nil
}

func (env *hostEnv) write(mem []byte, ptr int32, data []byte) *wasmtime.Trap {
	if ptr < 0 || int(ptr)+len(data) > len(mem) {
		return env.abuse("write outside linear memory")
	}
	copy(mem[ptr:], data)
	return nil
}

// readInto implements the shared truncation contract: the actual length
// is always returned, and the value is only written when it fits the
// caller's buffer.
func (env *hostEnv) readInto(caller *wasmtime.Caller, value []byte, outPtr, outCap int32) (int32, *wasmtime.Trap) {
	if len(value) > int(outCap) {
		return int32(len(value)), nil
	}

	mem, trap := env.memory(caller)
	if trap != nil {
		return 0, trap
	}
	if trap := env.write(mem, outPtr, value); trap != nil {
		return 0, trap
	}

	return int32(len(value)), nil
}

// lookupStorage resolves a key through the overlay chain before
// consulting staged chain state.
func (env *hostEnv) lookupStorage(key []byte) ([]byte, bool, error) {
	if v, found, deleted := env.overlay.Get(env.ctx.Contract, key); found {
		return v, !deleted, nil
	}
	return env.state.GetContractStorage(env.ctx.Contract, key)
}

func vts(kinds ...wasmtime.ValKind) []*wasmtime.ValType {
	out := make([]*wasmtime.ValType, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, wasmtime.NewValType(k))
	}
	return out
}

const (
	i32 = wasmtime.KindI32
	i64 = wasmtime.KindI64
)

type hostFn func(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap)

func i32Ret(v int32) []wasmtime.Val { return []wasmtime.Val{wasmtime.ValI32(v)} }

func i64Ret(v int64) []wasmtime.Val { return []wasmtime.Val{wasmtime.ValI64(v)} }

// register binds the whole host-call table onto the linker under the
// env module.
func (env *hostEnv) register(linker *wasmtime.Linker) error {
	table := []struct {
		name    string
		params  []*wasmtime.ValType
		results []*wasmtime.ValType
		fn      hostFn
	}{
		{"storage_read", vts(i32, i32, i32, i32), vts(i32), env.storageRead},
		{"storage_write", vts(i32, i32, i32, i32), nil, env.storageWrite},
		{"storage_remove", vts(i32, i32), nil, env.storageRemove},
		{"get_sender", vts(i32), nil, env.getSender},
		{"get_contract_id", vts(i32), nil, env.getContractID},
		{"get_block_height", nil, vts(i64), env.getBlockHeight},
		{"get_block_timestamp", nil, vts(i64), env.getBlockTimestamp},
		{"get_input", vts(i32, i32), vts(i32), env.getInput},
		{"hash_sha256", vts(i32, i32, i32), nil, env.hashSha256},
		{"verify_sig", vts(i32, i32, i32, i32, i32, i32), vts(i32), env.verifySig},
		{"call_contract", vts(i32, i32, i32, i32, i32, i32, i64), vts(i32), env.callContract},
		{"read_call_result", vts(i32, i32), vts(i32), env.readCallResult},
		{"emit_event", vts(i32, i32, i32, i32), nil, env.emitEvent},
		{"revert", vts(i32, i32), nil, env.revertCall},
	}

	for _, h := range table {
		ft := wasmtime.NewFuncType(h.params, h.results)
		if err := linker.FuncNew(hostModule, h.name, ft, h.fn); err != nil {
			return errors.Wrapf(err, "defining %s", h.name)
		}
	}

	return nil
}

func (env *hostEnv) storageRead(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costStorageReadBase); trap != nil {
		return nil, trap
	}

	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	key, trap := env.read(mem, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}
	if len(key) > maxKeyLen {
		return nil, env.abuse("storage key too long")
	}

	value, ok, err := env.lookupStorage(key)
	if err != nil {
		env.hostErr = errors.Wrap(err, "reading contract storage")
		return nil, wasmtime.NewTrap("storage read failed")
	}
	if !ok {
		return i32Ret(-1), nil
	}

	if trap := env.charge(uint64(len(value)) * costStorageReadByte); trap != nil {
		return nil, trap
	}

	n, trap := env.readInto(caller, value, args[2].I32(), args[3].I32())
	if trap != nil {
		return nil, trap
	}

	return i32Ret(n), nil
}

func (env *hostEnv) storageWrite(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	key, trap := env.read(mem, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}
	value, trap := env.read(mem, args[2].I32(), args[3].I32())
	if trap != nil {
		return nil, trap
	}

	if len(key) == 0 || len(key) > maxKeyLen {
		return nil, env.abuse("storage key length out of range")
	}
	if len(value) > maxValueLen {
		return nil, env.abuse("storage value too long")
	}

	if trap := env.charge(costStorageWriteBase + uint64(len(value))*costStorageWriteByte); trap != nil {
		return nil, trap
	}

	env.overlay.Put(env.ctx.Contract, key, value)
	return nil, nil
}

func (env *hostEnv) storageRemove(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costStorageRemove); trap != nil {
		return nil, trap
	}

	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	key, trap := env.read(mem, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}
	if len(key) == 0 || len(key) > maxKeyLen {
		return nil, env.abuse("storage key length out of range")
	}

	env.overlay.Delete(env.ctx.Contract, key)
	return nil, nil
}

func (env *hostEnv) getSender(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costEnvRead); trap != nil {
		return nil, trap
	}

	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	return nil, env.write(mem, args[0].I32(), env.ctx.Sender[:])
}

func (env *hostEnv) getContractID(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costEnvRead); trap != nil {
		return nil, trap
	}

	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	return nil, env.write(mem, args[0].I32(), env.ctx.Contract[:])
}

func (env *hostEnv) getBlockHeight(_ *wasmtime.Caller, _ []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costEnvRead); trap != nil {
		return nil, trap
	}
	return i64Ret(int64(env.ctx.BlockHeight)), nil
}

func (env *hostEnv) getBlockTimestamp(_ *wasmtime.Caller, _ []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costEnvRead); trap != nil {
		return nil, trap
	}
	return i64Ret(env.ctx.BlockTime), nil
}

func (env *hostEnv) getInput(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costEnvRead); trap != nil {
		return nil, trap
	}

	n, trap := env.readInto(caller, env.ctx.Input, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}

	return i32Ret(n), nil
}

func (env *hostEnv) hashSha256(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	data, trap := env.read(mem, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}

	if trap := env.charge(costHash + uint64(len(data))*costHashByte); trap != nil {
		return nil, trap
	}

	sum := sha256.Sum256(data)
	return nil, env.write(mem, args[2].I32(), sum[:])
}

func (env *hostEnv) verifySig(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costVerifySig); trap != nil {
		return nil, trap
	}

	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	pkb, trap := env.read(mem, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}
	msg, trap := env.read(mem, args[2].I32(), args[3].I32())
	if trap != nil {
		return nil, trap
	}
	sigb, trap := env.read(mem, args[4].I32(), args[5].I32())
	if trap != nil {
		return nil, trap
	}

	pk, err := types.PublicKeyFromBytes(pkb)
	if err != nil {
		return i32Ret(0), nil
	}
	sig, err := types.SignatureFromBytes(sigb)
	if err != nil {
		return i32Ret(0), nil
	}

	if pk.Verify(msg, sig) {
		return i32Ret(1), nil
	}
	return i32Ret(0), nil
}

func (env *hostEnv) callContract(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costCallBase); trap != nil {
		return nil, trap
	}

	// native value transfer inside nested calls is not supported;
	// callers observe the failure and may revert
	if args[6].I64() != 0 {
		return i32Ret(-1), nil
	}

	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	idb, trap := env.read(mem, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}
	methodb, trap := env.read(mem, args[2].I32(), args[3].I32())
	if trap != nil {
		return nil, trap
	}
	payload, trap := env.read(mem, args[4].I32(), args[5].I32())
	if trap != nil {
		return nil, trap
	}

	id, err := types.ContractIDFromBytes(idb)
	if err != nil {
		return nil, env.abuse("bad contract id length")
	}

	code, err := env.state.GetContractCode(id)
	if err != nil {
		return i32Ret(-1), nil
	}

	remaining, err := env.store.GetFuel()
	if err != nil {
		env.hostErr = errors.Wrap(err, "reading fuel")
		return nil, wasmtime.NewTrap("fuel unavailable")
	}

	child := CallContext{
		Sender:      env.ctx.Sender,
		Contract:    id,
		BlockHeight: env.ctx.BlockHeight,
		BlockTime:   env.ctx.BlockTime,
		Input:       append([]byte(nil), payload...),
		Gas:         remaining,
		Depth:       env.ctx.Depth + 1,
	}

	res, callErr := env.engine.execute(env.state, child, code, string(methodb), env.overlay)

	// the child burned from its own counter; mirror that into the
	// parent before resuming
	if res != nil {
		used := res.GasUsed
		if used > remaining {
			used = remaining
		}
		if err := env.store.SetFuel(remaining - used); err != nil {
			env.hostErr = errors.Wrap(err, "deducting child fuel")
			return nil, wasmtime.NewTrap("fuel unavailable")
		}
	}

	if callErr != nil {
		// child reverts and traps roll back only the child overlay
		env.lastResult = nil
		return i32Ret(-1), nil
	}

	env.overlay.Merge(res.Overlay)
	env.events = append(env.events, res.Events...)
	env.lastResult = res.Return

	return i32Ret(int32(len(res.Return))), nil
}

func (env *hostEnv) readCallResult(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	if trap := env.charge(costEnvRead); trap != nil {
		return nil, trap
	}

	n, trap := env.readInto(caller, env.lastResult, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}

	return i32Ret(n), nil
}

func (env *hostEnv) emitEvent(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	topic, trap := env.read(mem, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}
	data, trap := env.read(mem, args[2].I32(), args[3].I32())
	if trap != nil {
		return nil, trap
	}

	if len(topic) > maxKeyLen || len(data) > maxValueLen {
		return nil, env.abuse("event too large")
	}

	if trap := env.charge(costEmitEventBase + uint64(len(topic)+len(data))*costEmitEventByte); trap != nil {
		return nil, trap
	}

	env.events = append(env.events, Event{
		Contract: env.ctx.Contract,
		Topic:    append([]byte(nil), topic...),
		Data:     append([]byte(nil), data...),
	})

	return nil, nil
}

func (env *hostEnv) revertCall(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	mem, trap := env.memory(caller)
	if trap != nil {
		return nil, trap
	}

	msg, trap := env.read(mem, args[0].I32(), args[1].I32())
	if trap != nil {
		return nil, trap
	}

	env.revert = &RevertError{Message: string(msg)}
	return nil, wasmtime.NewTrap("explicit revert")
}
