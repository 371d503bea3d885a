// Package ledger implements the state-transition function: block
// validation, ordered transaction application against a staged view,
// and a single atomic commit per block.
package ledger

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/tcfw/baals/internal/utils/logging"
	"github.com/tcfw/baals/pkg/contracts"
	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/types"
)

// BlockValidator is the consensus engine's validation half, injected so
// alternative engines plug in without touching the ledger.
type BlockValidator interface {
	ValidateBlock(blk *types.Block, cs *types.ChainState) error
}

type Config struct {
	// SkewTolerance bounds how far ahead of the local clock a block
	// timestamp may sit.
	SkewTolerance time.Duration
}

func DefaultConfig() Config {
	return Config{SkewTolerance: 15 * time.Second}
}

// Ledger owns block application. All writes to canonical state funnel
// through ApplyBlock; everything else reads committed snapshots.
type Ledger struct {
	cfg       Config
	store     storage.Store
	sandbox   *contracts.Engine
	validator BlockValidator
	clock     clockwork.Clock
}

func New(cfg Config, store storage.Store, sandbox *contracts.Engine, validator BlockValidator, clock clockwork.Clock) *Ledger {
	return &Ledger{
		cfg:       cfg,
		store:     store,
		sandbox:   sandbox,
		validator: validator,
		clock:     clock,
	}
}

// ApplyBlock validates blk against the current tip, applies its
// transactions to a staged view and commits one atomic batch. On any
// error the staged view is dropped and nothing persists.
func (l *Ledger) ApplyBlock(blk *types.Block) ([]*Receipt, error) {
	snap, err := l.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	cs, err := storage.GetChainState(snap)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}

	if err := l.checkHeader(snap, blk, cs); err != nil {
		return nil, err
	}

	if err := l.validator.ValidateBlock(blk, cs); err != nil {
		return nil, err
	}

	st := newStagedState(snap)
	receipts, err := l.applyTxs(st, blk)
	if err != nil {
		return nil, err
	}

	batch := &storage.Batch{}
	root, err := st.finalize(cs.AccountsRoot, batch)
	if err != nil {
		return nil, err
	}

	if root != blk.StateRoot {
		return nil, errors.Wrapf(ErrStateRootMismatch, "computed %s, header %s", root, blk.StateRoot)
	}

	if err := storage.PutBlock(batch, blk); err != nil {
		return nil, err
	}

	for i, tx := range blk.Txs {
		rd, err := receipts[i].Marshal()
		if err != nil {
			return nil, errors.Wrap(err, "encoding receipt")
		}

		if err := storage.PutTxIndex(batch, tx.Hash, &storage.TxIndexEntry{
			BlockHash: blk.Hash,
			Index:     uint32(i),
			Receipt:   rd,
		}); err != nil {
			return nil, err
		}
	}

	if err := storage.PutChainState(batch, &types.ChainState{
		LatestHash:   blk.Hash,
		LatestHeight: blk.Height,
		AccountsRoot: root,
		TotalSupply:  cs.TotalSupply,
	}); err != nil {
		return nil, err
	}

	if err := l.store.Apply(batch); err != nil {
		return nil, errors.Wrap(err, "committing block batch")
	}

	logging.Entry().WithFields(logging.Fields{
		"height": blk.Height,
		"hash":   blk.Hash,
		"txs":    len(blk.Txs),
	}).Info("block committed")

	return receipts, nil
}

// ComputeStateRoot dry-applies blk's transactions against the current
// snapshot and returns the resulting accounts root without committing
// anything. Used by the producer to fill the header before sealing.
func (l *Ledger) ComputeStateRoot(blk *types.Block, cs *types.ChainState) (types.Hash, error) {
	snap, err := l.store.Snapshot()
	if err != nil {
		return types.ZeroHash, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	st := newStagedState(snap)
	if _, err := l.applyTxs(st, blk); err != nil {
		return types.ZeroHash, err
	}

	// the batch is discarded; finalize needs one to stage trie nodes on
	return st.finalize(cs.AccountsRoot, &storage.Batch{})
}

func (l *Ledger) checkHeader(snap storage.Reader, blk *types.Block, cs *types.ChainState) error {
	if blk.Height != cs.LatestHeight+1 {
		return errors.Wrapf(ErrBadHeader, "height %d does not extend %d", blk.Height, cs.LatestHeight)
	}
	if blk.PrevHash != cs.LatestHash {
		return errors.Wrap(ErrBadHeader, "prev hash does not match tip")
	}

	prev, err := storage.GetBlock(snap, cs.LatestHash)
	if err != nil {
		return errors.Wrap(err, "loading tip block")
	}
	if blk.Ts <= prev.Ts {
		return errors.Wrap(ErrBadHeader, "timestamp not after tip")
	}
	if blk.Ts > l.clock.Now().Add(l.cfg.SkewTolerance).UnixMilli() {
		return errors.Wrap(ErrBadHeader, "timestamp too far in the future")
	}

	if blk.TxRoot != types.TxMerkleRoot(blk.Txs) {
		return errors.Wrap(ErrBadHeader, "tx root does not cover body")
	}

	h, err := blk.ComputeHash()
	if err != nil {
		return err
	}
	if h != blk.Hash {
		return errors.Wrap(ErrBadHeader, "claimed hash does not match header")
	}

	return nil
}

func (l *Ledger) applyTxs(st *stagedState, blk *types.Block) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0, len(blk.Txs))

	for i, tx := range blk.Txs {
		r, err := l.applyTx(st, blk, tx)
		if err != nil {
			return nil, &TxApplyError{Index: i, Tx: tx.Hash, Cause: err}
		}
		receipts = append(receipts, r)
	}

	return receipts, nil
}

// applyTx applies one transaction. Pre-dispatch failures return an
// error and abort the block; dispatch failures are confined to a
// reverted receipt with the nonce advance and intrinsic charge kept.
func (l *Ledger) applyTx(st *stagedState, blk *types.Block, tx *types.Transaction) (*Receipt, error) {
	if err := tx.Payload.Valid(); err != nil {
		return nil, err
	}
	if err := tx.VerifySignature(); err != nil {
		return nil, err
	}

	sender := [32]byte(tx.Sender)
	acct, err := st.account(sender)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		acct = types.NewWalletAccount(0)
	}

	if tx.Nonce != acct.Nonce+1 {
		return nil, errors.Errorf("nonce %d does not follow %d", tx.Nonce, acct.Nonce)
	}

	intrinsic := IntrinsicGas(tx)
	if tx.GasLimit < intrinsic {
		return nil, errors.Errorf("gas limit %d below intrinsic %d", tx.GasLimit, intrinsic)
	}

	nonceBefore := acct.Nonce
	acct.Nonce++
	st.setAccount(sender, acct)

	r := &Receipt{TxHash: tx.Hash, Status: ReceiptSuccess, GasUsed: intrinsic}

	var dispatchErr error
	switch tx.Payload.Kind {
	case types.PayloadTransfer:
		dispatchErr, err = l.applyTransfer(st, tx, acct)
	case types.PayloadDeploy:
		dispatchErr, err = l.applyDeploy(st, blk, tx, nonceBefore, intrinsic, r)
	case types.PayloadCall:
		dispatchErr, err = l.applyCall(st, blk, tx, intrinsic, r)
	case types.PayloadData:
		// nonce advance and indexing only
	}
	if err != nil {
		return nil, err
	}

	if dispatchErr != nil {
		r.Status = ReceiptReverted
		r.Error = dispatchErr.Error()
		r.Return = nil
		r.Events = nil
		r.ContractID = types.ContractID{}

		logging.Entry().WithFields(logging.Fields{
			"tx":    tx.Hash,
			"cause": dispatchErr,
		}).Debug("transaction reverted")
	}

	return r, nil
}

func (l *Ledger) applyTransfer(st *stagedState, tx *types.Transaction, sender *types.Account) (dispatchErr, fatal error) {
	if err := tx.Recipient.Valid(); err != nil {
		return err, nil
	}

	amount := tx.Payload.Transfer.Amount
	if sender.Balance < amount {
		return errors.Errorf("balance %d below amount %d", sender.Balance, amount), nil
	}

	addr := tx.Recipient.Digest()
	if addr == [32]byte(tx.Sender) {
		return nil, nil
	}

	recip, err := st.account(addr)
	if err != nil {
		return nil, err
	}
	if recip == nil {
		if tx.Recipient.Kind == types.AddressContract {
			return errors.New("transfer to unknown contract"), nil
		}
		recip = types.NewWalletAccount(0)
	}

	sender.Balance -= amount
	recip.Balance += amount
	st.setAccount([32]byte(tx.Sender), sender)
	st.setAccount(addr, recip)

	return nil, nil
}

func (l *Ledger) applyDeploy(st *stagedState, blk *types.Block, tx *types.Transaction, nonceBefore, intrinsic uint64, r *Receipt) (dispatchErr, fatal error) {
	wasm := tx.Payload.Deploy.Wasm
	codeHash := types.HashBytes(wasm)
	id := types.DeriveContractID(tx.Sender, nonceBefore, codeHash)

	existing, err := st.account([32]byte(id))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return errors.Errorf("contract address %s already occupied", id), nil
	}

	if err := l.sandbox.ValidateModule(wasm); err != nil {
		return err, nil
	}

	budget := tx.GasLimit - intrinsic

	if len(tx.Payload.Deploy.InitArgs) > 0 {
		hasInit, err := l.sandbox.HasExport(wasm, contracts.InitExport)
		if err != nil {
			return err, nil
		}
		if !hasInit {
			return errors.New("init args given but module exports no init"), nil
		}

		load := contracts.CodeLoadCost(len(wasm))
		if budget < load {
			r.GasUsed = tx.GasLimit
			return contracts.ErrOutOfFuel, nil
		}

		res, execErr := l.sandbox.Execute(st, contracts.CallContext{
			Sender:      tx.Sender,
			Contract:    id,
			BlockHeight: blk.Height,
			BlockTime:   blk.Ts,
			Input:       tx.Payload.Deploy.InitArgs,
			Gas:         budget - load,
		}, wasm, contracts.InitExport)

		r.GasUsed += load
		if res != nil {
			r.GasUsed += res.GasUsed
		}
		if execErr != nil {
			return execErr, nil
		}

		st.mergeOverlay(res.Overlay)
		r.Events = res.Events
	}

	st.setCode(id, wasm)
	st.setAccount([32]byte(id), types.NewContractAccount(codeHash))
	r.ContractID = id

	return nil, nil
}

func (l *Ledger) applyCall(st *stagedState, blk *types.Block, tx *types.Transaction, intrinsic uint64, r *Receipt) (dispatchErr, fatal error) {
	if tx.Recipient.Kind != types.AddressContract {
		return errors.New("call recipient is not a contract"), nil
	}
	id := tx.Recipient.Contract

	acct, err := st.account([32]byte(id))
	if err != nil {
		return nil, err
	}
	if acct == nil || !acct.IsContract() {
		return errors.Errorf("no contract at %s", id), nil
	}

	code, err := st.GetContractCode(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrap(storage.ErrCorruption, "contract account without code")
	}
	if err != nil {
		return nil, err
	}

	budget := tx.GasLimit - intrinsic
	load := contracts.CodeLoadCost(len(code))
	if budget < load {
		r.GasUsed = tx.GasLimit
		return contracts.ErrOutOfFuel, nil
	}

	res, execErr := l.sandbox.Execute(st, contracts.CallContext{
		Sender:      tx.Sender,
		Contract:    id,
		BlockHeight: blk.Height,
		BlockTime:   blk.Ts,
		Input:       tx.Payload.Call.Args,
		Gas:         budget - load,
	}, code, tx.Payload.Call.Method)

	r.GasUsed += load
	if res != nil {
		r.GasUsed += res.GasUsed
	}
	if execErr != nil {
		return execErr, nil
	}

	st.mergeOverlay(res.Overlay)
	r.Return = res.Return
	r.Events = res.Events

	return nil, nil
}
