// Package runtime is the orchestrator an application embeds: it owns
// the mempool and the production loop, and holds shared handles to
// storage, the sandbox, the ledger and the consensus engine.
package runtime

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tcfw/baals/internal/utils/logging"
	"github.com/tcfw/baals/pkg/consensus"
	"github.com/tcfw/baals/pkg/contracts"
	"github.com/tcfw/baals/pkg/ledger"
	"github.com/tcfw/baals/pkg/mempool"
	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/types"
)

// ErrNothingToProduce signals an empty selection; the production loop
// treats it as a no-op tick.
var ErrNothingToProduce = errors.New("no pending transactions")

type Config struct {
	// BlockInterval is the timer trigger for production; queue pressure
	// can fire a cycle early.
	BlockInterval time.Duration

	BlockGasLimit  uint64
	BlockSizeLimit int

	// PressureThreshold is the pending-transaction count that triggers
	// production ahead of the timer.
	PressureThreshold int

	ExpireInterval time.Duration
	BlockCacheLen  int
	EventBuffer    int

	Mempool   mempool.Config
	Contracts contracts.Config
	Ledger    ledger.Config
	Consensus consensus.AuthorityConfig
}

func DefaultConfig() Config {
	return Config{
		BlockInterval:     5 * time.Second,
		BlockGasLimit:     50_000_000,
		BlockSizeLimit:    4 << 20,
		PressureThreshold: 512,
		ExpireInterval:    time.Minute,
		BlockCacheLen:     256,
		EventBuffer:       128,
		Mempool:           mempool.DefaultConfig(),
		Contracts:         contracts.DefaultConfig(),
		Ledger:            ledger.DefaultConfig(),
		Consensus:         consensus.DefaultAuthorityConfig(),
	}
}

// BlockEvent is emitted after every committed block, whether produced
// locally or applied from a peer.
type BlockEvent struct {
	Block    *types.Block
	Receipts []*ledger.Receipt
}

// Runtime wires the engine together. One Runtime serializes all writes
// to canonical state; reads run against committed snapshots.
type Runtime struct {
	cfg   Config
	store storage.Store
	clock clockwork.Clock

	pool    *mempool.Pool
	sandbox *contracts.Engine
	ledger  *ledger.Ledger
	engine  consensus.Engine

	blocks *lru.Cache[types.Hash, *types.Block]

	events   chan BlockEvent
	pressure chan struct{}

	// produceMu serializes block production and external application
	produceMu sync.Mutex
}

// New assembles a runtime around an open store. authorityKey may be nil
// for a validate-only node; signers is the authorized signer set.
func New(cfg Config, store storage.Store, authorityKey *types.PrivateKey, signers []types.PublicKey, clock clockwork.Clock) (*Runtime, error) {
	sandbox, err := contracts.NewEngine(cfg.Contracts)
	if err != nil {
		return nil, errors.Wrap(err, "creating contract engine")
	}

	engine := consensus.NewAuthority(cfg.Consensus, authorityKey, signers, store, clock)
	led := ledger.New(cfg.Ledger, store, sandbox, engine, clock)
	pool := mempool.New(cfg.Mempool, &committedNonces{store: store}, clock)

	blocks, err := lru.New[types.Hash, *types.Block](cfg.BlockCacheLen)
	if err != nil {
		return nil, errors.Wrap(err, "creating block cache")
	}

	return &Runtime{
		cfg:      cfg,
		store:    store,
		clock:    clock,
		pool:     pool,
		sandbox:  sandbox,
		ledger:   led,
		engine:   engine,
		blocks:   blocks,
		events:   make(chan BlockEvent, cfg.EventBuffer),
		pressure: make(chan struct{}, 1),
	}, nil
}

// InitializeChain commits genesis; safe to skip when a chain already
// exists.
func (r *Runtime) InitializeChain(g *ledger.GenesisConfig) (*types.Block, error) {
	return r.ledger.InitializeChain(g)
}

// Events is the committed-block feed. Slow consumers lose events rather
// than stalling commits.
func (r *Runtime) Events() <-chan BlockEvent {
	return r.events
}

// Submit admits a signed transaction into the mempool and signals the
// producer under queue pressure.
func (r *Runtime) Submit(tx *types.Transaction) error {
	if err := r.pool.Admit(tx); err != nil {
		return err
	}

	if r.pool.Len() >= r.cfg.PressureThreshold {
		select {
		case r.pressure <- struct{}{}:
		default:
		}
	}

	return nil
}

// ProduceBlock runs one production cycle: select, assemble, seal,
// apply, evict. Returns ErrNothingToProduce on an empty selection.
func (r *Runtime) ProduceBlock() (*types.Block, []*ledger.Receipt, error) {
	r.produceMu.Lock()
	defer r.produceMu.Unlock()

	cs, err := r.chainState()
	if err != nil {
		return nil, nil, err
	}

	txs, err := r.pool.Select(r.cfg.BlockGasLimit, r.cfg.BlockSizeLimit)
	if err != nil {
		return nil, nil, errors.Wrap(err, "selecting transactions")
	}
	if len(txs) == 0 {
		return nil, nil, ErrNothingToProduce
	}

	blk, err := r.engine.GenerateBlock(txs, cs, r.ledger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "generating block")
	}

	receipts, err := r.ledger.ApplyBlock(blk)
	if err != nil {
		return nil, nil, errors.Wrap(err, "applying produced block")
	}

	r.afterCommit(blk, receipts)
	return blk, receipts, nil
}

// ApplyExternalBlock validates and commits a block received from a
// peer. A rejected block leaves no state behind.
func (r *Runtime) ApplyExternalBlock(blk *types.Block) error {
	r.produceMu.Lock()
	defer r.produceMu.Unlock()

	receipts, err := r.ledger.ApplyBlock(blk)
	if err != nil {
		return err
	}

	r.afterCommit(blk, receipts)
	return nil
}

func (r *Runtime) afterCommit(blk *types.Block, receipts []*ledger.Receipt) {
	hashes := make([]types.Hash, 0, len(blk.Txs))
	for _, tx := range blk.Txs {
		hashes = append(hashes, tx.Hash)
	}
	if err := r.pool.Remove(hashes); err != nil {
		logging.WithError(err).Warn("evicting committed transactions")
	}

	r.blocks.Add(blk.Hash, blk)

	select {
	case r.events <- BlockEvent{Block: blk, Receipts: receipts}:
	default:
		logging.Entry().WithFields(logging.Fields{"height": blk.Height}).
			Warn("event buffer full, dropping block event")
	}
}

// Run owns the production and expiry loops until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := r.clock.NewTicker(r.cfg.BlockInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.Chan():
			case <-r.pressure:
			}

			blk, _, err := r.ProduceBlock()
			switch {
			case errors.Is(err, ErrNothingToProduce):
			case err != nil:
				logging.WithError(err).Error("block production failed")
				if errors.Is(err, storage.ErrCorruption) {
					return err
				}
			default:
				logging.Entry().WithFields(logging.Fields{
					"height": blk.Height,
					"txs":    len(blk.Txs),
				}).Debug("produced block")
			}
		}
	})

	g.Go(func() error {
		ticker := r.clock.NewTicker(r.cfg.ExpireInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.Chan():
			}

			if n := r.pool.Expire(); n > 0 {
				logging.Entry().WithFields(logging.Fields{"count": n}).
					Debug("expired stale transactions")
			}
		}
	})

	return g.Wait()
}

// Close releases the underlying store. The production loop must have
// stopped first.
func (r *Runtime) Close() error {
	return r.store.Close()
}

func (r *Runtime) chainState() (*types.ChainState, error) {
	snap, err := r.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	cs, err := storage.GetChainState(snap)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ledger.ErrNotInitialized
	}
	return cs, err
}

// committedNonces reads committed sender nonces for mempool admission.
type committedNonces struct {
	store storage.Store
}

var _ mempool.NonceSource = (*committedNonces)(nil)

func (n *committedNonces) CommittedNonce(pk types.PublicKey) (uint64, error) {
	snap, err := n.store.Snapshot()
	if err != nil {
		return 0, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	acct, err := storage.GetAccount(snap, [32]byte(pk))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return acct.Nonce, nil
}
