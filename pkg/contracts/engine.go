// Package contracts is the WASM contract sandbox: deterministic,
// fuel-metered execution of deployed modules with access to chain state
// only through the host-call table.
package contracts

import (
	"github.com/bytecodealliance/wasmtime-go/v25"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/types"
)

const (
	// InitExport is the optional constructor entry point run at deploy.
	InitExport = "init"

	maxKeyLen   = 256
	maxValueLen = 64 << 10
)

type Config struct {
	MaxModuleBytes int
	MaxMemoryPages uint32
	MaxCallDepth   int
	ModuleCacheLen int
}

func DefaultConfig() Config {
	return Config{
		MaxModuleBytes: 1 << 20,
		MaxMemoryPages: 64,
		MaxCallDepth:   8,
		ModuleCacheLen: 128,
	}
}

// State is the sandbox's read view of staged chain state, provided by
// the ledger for the block being applied.
type State interface {
	// GetContractStorage returns the committed-or-staged value for a
	// contract's key; ok is false when the key is absent.
	GetContractStorage(id types.ContractID, key []byte) (value []byte, ok bool, err error)

	// GetContractCode returns the deployed module bytes for id.
	GetContractCode(id types.ContractID) ([]byte, error)
}

// Event is one emitted log entry, scoped to the contract that emitted
// it.
type Event struct {
	Contract types.ContractID `msgpack:"c"`
	Topic    []byte           `msgpack:"t"`
	Data     []byte           `msgpack:"d"`
}

// CallContext carries the per-call environment visible to the contract
// through host calls.
type CallContext struct {
	Sender      types.PublicKey
	Contract    types.ContractID
	BlockHeight uint64
	BlockTime   int64
	Input       []byte
	Gas         uint64
	Depth       int
}

// Result is the outcome of a completed execution. GasUsed is reported
// even on failure; Overlay and Events are only meaningful on success.
type Result struct {
	Return  []byte
	GasUsed uint64
	Events  []Event
	Overlay *Overlay
}

// Engine validates, instantiates and executes contract modules under a
// fuel budget.
type Engine struct {
	cfg     Config
	engine  *wasmtime.Engine
	modules *lru.Cache[types.Hash, *wasmtime.Module]
}

func NewEngine(cfg Config) (*Engine, error) {
	wcfg := wasmtime.NewConfig()
	wcfg.SetConsumeFuel(true)
	// relaxed SIMD must go before plain SIMD: wasmtime refuses a config
	// with SIMD off while relaxed SIMD is still on
	wcfg.SetWasmRelaxedSIMD(false)
	wcfg.SetWasmSIMD(false)
	wcfg.SetWasmThreads(false)
	wcfg.SetWasmReferenceTypes(false)

	cache, err := lru.New[types.Hash, *wasmtime.Module](cfg.ModuleCacheLen)
	if err != nil {
		return nil, errors.Wrap(err, "creating module cache")
	}

	return &Engine{
		cfg:     cfg,
		engine:  wasmtime.NewEngineWithConfig(wcfg),
		modules: cache,
	}, nil
}

// ValidateModule runs the full deploy-time validation: structural
// parse, import/export checks, the integer-only opcode scan, and
// finally wasmtime's own validator.
func (e *Engine) ValidateModule(wasm []byte) error {
	if _, err := validateModule(wasm, e.cfg.MaxModuleBytes, e.cfg.MaxMemoryPages); err != nil {
		return err
	}

	if err := wasmtime.ModuleValidate(e.engine, wasm); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}

	return nil
}

// HasExport reports whether the module exports the named function,
// without instantiating it.
func (e *Engine) HasExport(wasm []byte, name string) (bool, error) {
	info, err := parseModule(wasm, e.cfg.MaxMemoryPages)
	if err != nil {
		return false, err
	}
	return info.hasExport(name), nil
}

func (e *Engine) compile(code []byte) (*wasmtime.Module, error) {
	codeHash := types.HashBytes(code)
	if m, ok := e.modules.Get(codeHash); ok {
		return m, nil
	}

	m, err := wasmtime.NewModule(e.engine, code)
	if err != nil {
		return nil, errors.Wrap(ErrValidation, err.Error())
	}

	e.modules.Add(codeHash, m)
	return m, nil
}

// Execute instantiates code with a fresh memory, seeds the fuel counter
// from ctx.Gas and invokes the exported method. Storage writes land in
// the returned overlay; nothing touches durable state here.
func (e *Engine) Execute(state State, ctx CallContext, code []byte, method string) (*Result, error) {
	return e.execute(state, ctx, code, method, nil)
}

func (e *Engine) execute(state State, ctx CallContext, code []byte, method string, parent *Overlay) (*Result, error) {
	if ctx.Depth >= e.cfg.MaxCallDepth {
		return nil, ErrCallDepth
	}

	module, err := e.compile(code)
	if err != nil {
		return nil, err
	}

	store := wasmtime.NewStore(e.engine)
	if err := store.SetFuel(ctx.Gas); err != nil {
		return nil, errors.Wrap(err, "seeding fuel")
	}

	env := &hostEnv{
		engine:  e,
		store:   store,
		state:   state,
		ctx:     &ctx,
		overlay: NewOverlay(parent),
	}

	linker := wasmtime.NewLinker(e.engine)
	if err := env.register(linker); err != nil {
		return nil, errors.Wrap(err, "binding host calls")
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, errors.Wrap(ErrValidation, err.Error())
	}

	ext := instance.GetExport(store, method)
	if ext == nil || ext.Func() == nil {
		return nil, errors.Wrapf(ErrNoMethod, "%q", method)
	}

	var memStart uint64
	if mem := instance.GetExport(store, "memory"); mem != nil && mem.Memory() != nil {
		memStart = mem.Memory().Size(store)
	}

	ret, callErr := ext.Func().Call(store)

	// memory growth is settled against the same fuel counter after the
	// call; the validator's page cap bounds the overshoot
	memShort := false
	if mem := instance.GetExport(store, "memory"); mem != nil && mem.Memory() != nil {
		if grown := mem.Memory().Size(store) - memStart; grown > 0 {
			cost := grown * costMemoryGrowPage
			if remaining, ferr := store.GetFuel(); ferr == nil {
				if remaining < cost {
					memShort = true
					store.SetFuel(0)
				} else {
					store.SetFuel(remaining - cost)
				}
			}
		}
	}

	res := &Result{}
	if remaining, err := store.GetFuel(); err == nil && remaining <= ctx.Gas {
		res.GasUsed = ctx.Gas - remaining
	} else {
		res.GasUsed = ctx.Gas
	}

	if env.revert != nil {
		return res, env.revert
	}
	if env.hostErr != nil {
		return res, env.hostErr
	}
	if env.outOfFuel || memShort {
		return res, ErrOutOfFuel
	}
	if callErr != nil {
		return res, classifyTrap(callErr)
	}

	res.Return = encodeReturn(ret)
	res.Events = env.events
	res.Overlay = env.overlay

	return res, nil
}

// encodeReturn flattens an integer result value into little-endian
// return bytes; methods with no results return nothing.
func encodeReturn(v interface{}) []byte {
	switch x := v.(type) {
	case int32:
		return []byte{byte(x), byte(x >> 8), byte(x >> 16), byte(x >> 24)}
	case int64:
		return []byte{
			byte(x), byte(x >> 8), byte(x >> 16), byte(x >> 24),
			byte(x >> 32), byte(x >> 40), byte(x >> 48), byte(x >> 56),
		}
	default:
		return nil
	}
}

func classifyTrap(err error) error {
	var trap *wasmtime.Trap
	if errors.As(err, &trap) {
		if code := trap.Code(); code != nil && *code == wasmtime.OutOfFuel {
			return ErrOutOfFuel
		}
		return &TrapError{Kind: trap.Message()}
	}
	return &TrapError{Kind: err.Error()}
}
