// Package node assembles a full engine instance from configuration:
// store, runtime, keys and genesis.
package node

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/tcfw/baals/internal/config"
	"github.com/tcfw/baals/internal/keystore"
	"github.com/tcfw/baals/internal/utils/logging"
	"github.com/tcfw/baals/pkg/ledger"
	"github.com/tcfw/baals/pkg/runtime"
	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/types"
)

type Node struct {
	cfg   *config.Config
	store storage.Store
	rt    *runtime.Runtime
}

// NewNode opens the data directory and wires the runtime. If the config
// carries a genesis description and the store is empty, the chain is
// initialized.
func NewNode(ctx context.Context) (*Node, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, errors.Wrap(err, "loading config")
	}

	store, err := storage.NewPebbleStore(cfg.DataDir())
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}

	var key *types.PrivateKey
	if kf := cfg.Node().KeyFile; kf != "" {
		key, err = keystore.LoadFile(kf)
		if err != nil {
			store.Close()
			return nil, errors.Wrap(err, "loading authority key")
		}
	}

	signers := cfg.Node().Signers
	if len(signers) == 0 && key != nil {
		signers = []types.PublicKey{key.Public()}
	}
	if len(signers) == 0 && cfg.Chain().Genesis != nil {
		signers = []types.PublicKey{cfg.Chain().Genesis.Authority}
	}

	rtCfg := runtime.DefaultConfig()
	if iv := cfg.Node().BlockInterval; iv > 0 {
		rtCfg.BlockInterval = iv
	}
	if g := cfg.Node().BlockGasLimit; g > 0 {
		rtCfg.BlockGasLimit = g
	}
	if s := cfg.Node().BlockSizeLimit; s > 0 {
		rtCfg.BlockSizeLimit = s
	}

	rt, err := runtime.New(rtCfg, store, key, signers, clockwork.NewRealClock())
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "assembling runtime")
	}

	n := &Node{cfg: cfg, store: store, rt: rt}

	if g := cfg.Chain().Genesis; g != nil {
		if _, err := rt.InitializeChain(g); err != nil && !errors.Is(err, ledger.ErrAlreadyInitialized) {
			store.Close()
			return nil, errors.Wrap(err, "initializing chain")
		}
	}

	return n, nil
}

func (n *Node) Runtime() *runtime.Runtime { return n.rt }

func (n *Node) Config() *config.Config { return n.cfg }

// Run drives the production and expiry loops until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	logging.Entry().Info("node running")
	return n.rt.Run(ctx)
}

func (n *Node) Stop() error {
	return n.rt.Close()
}
