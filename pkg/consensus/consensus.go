// Package consensus implements block production and validation under a
// known-signer trust model. The engine contract is two operations;
// alternative schemes (authority rotation, stake weighting) slot in
// behind the same interface without touching the ledger or mempool.
package consensus

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/types"
)

// StateComputer dry-applies a candidate block and reports the accounts
// root it would commit. The ledger provides the canonical
// implementation.
type StateComputer interface {
	ComputeStateRoot(blk *types.Block, cs *types.ChainState) (types.Hash, error)
}

// Engine assembles and validates blocks.
type Engine interface {
	// GenerateBlock builds, fills and seals a block extending the
	// current tip from the given transaction selection.
	GenerateBlock(txs []*types.Transaction, cs *types.ChainState, states StateComputer) (*types.Block, error)

	// ValidateBlock checks a block's signer, signature, timestamp and
	// header self-consistency against the current tip.
	ValidateBlock(blk *types.Block, cs *types.ChainState) error
}

type AuthorityConfig struct {
	// FutureTolerance bounds how far ahead of the local clock an
	// incoming block timestamp may sit.
	FutureTolerance time.Duration
}

func DefaultAuthorityConfig() AuthorityConfig {
	return AuthorityConfig{FutureTolerance: 15 * time.Second}
}

// Authority is the default single-signer engine: one key produces
// every block, and validation accepts a fixed set of signers
// (singleton in the common case).
type Authority struct {
	cfg     AuthorityConfig
	key     *types.PrivateKey
	signers map[types.PublicKey]struct{}
	store   storage.Store
	clock   clockwork.Clock
}

var _ Engine = (*Authority)(nil)

// NewAuthority builds the engine. key may be nil on a validate-only
// node; signers must contain every key allowed to seal blocks.
func NewAuthority(cfg AuthorityConfig, key *types.PrivateKey, signers []types.PublicKey, store storage.Store, clock clockwork.Clock) *Authority {
	set := make(map[types.PublicKey]struct{}, len(signers))
	for _, s := range signers {
		set[s] = struct{}{}
	}

	return &Authority{
		cfg:     cfg,
		key:     key,
		signers: set,
		store:   store,
		clock:   clock,
	}
}

func (a *Authority) GenerateBlock(txs []*types.Transaction, cs *types.ChainState, states StateComputer) (*types.Block, error) {
	if a.key == nil {
		return nil, errors.New("no authority key configured")
	}

	// producer timestamps never regress even if the host clock does
	ts := a.clock.Now().UnixMilli()
	prev, err := a.prevTimestamp(cs)
	if err != nil {
		return nil, err
	}
	if ts <= prev {
		ts = prev + 1
	}

	blk := &types.Block{
		Height:   cs.LatestHeight + 1,
		Ts:       ts,
		PrevHash: cs.LatestHash,
		TxRoot:   types.TxMerkleRoot(txs),
		Signer:   a.key.Public(),
		Txs:      txs,
	}

	// the signed header must commit to the post-application state, so
	// the body is dry-applied before sealing; the real apply recomputes
	// and refuses to commit on any divergence
	blk.StateRoot, err = states.ComputeStateRoot(blk, cs)
	if err != nil {
		return nil, errors.Wrap(err, "computing candidate state root")
	}

	if err := blk.Seal(a.key); err != nil {
		return nil, errors.Wrap(err, "sealing block")
	}

	return blk, nil
}

func (a *Authority) ValidateBlock(blk *types.Block, cs *types.ChainState) error {
	if _, ok := a.signers[blk.Signer]; !ok {
		return errors.Wrapf(ErrUnauthorizedSigner, "%s", blk.Signer)
	}

	if err := blk.VerifySignature(); err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}

	if blk.Height != cs.LatestHeight+1 || blk.PrevHash != cs.LatestHash {
		return ErrBadLinkage
	}

	prev, err := a.prevTimestamp(cs)
	if err != nil {
		return err
	}
	if blk.Ts <= prev {
		return errors.Wrap(ErrBadTimestamp, "not after previous block")
	}
	if blk.Ts > a.clock.Now().Add(a.cfg.FutureTolerance).UnixMilli() {
		return errors.Wrap(ErrBadTimestamp, "too far in the future")
	}

	if blk.TxRoot != types.TxMerkleRoot(blk.Txs) {
		return errors.Wrap(ErrBadLinkage, "tx root does not cover body")
	}

	h, err := blk.ComputeHash()
	if err != nil {
		return err
	}
	if h != blk.Hash {
		return errors.Wrap(ErrBadLinkage, "claimed hash does not match header")
	}

	return nil
}

// prevTimestamp reads the tip block's timestamp, which ChainState does
// not carry.
func (a *Authority) prevTimestamp(cs *types.ChainState) (int64, error) {
	snap, err := a.store.Snapshot()
	if err != nil {
		return 0, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	blk, err := storage.GetBlock(snap, cs.LatestHash)
	if err != nil {
		return 0, errors.Wrap(err, "loading tip block")
	}

	return blk.Ts, nil
}
