// Package mempool holds admitted, validated, uncommitted transactions
// and hands deterministic selections to the block producer.
package mempool

import (
	"bytes"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/types"
)

type GapPolicy uint8

const (
	// GapReject only admits the next consecutive nonce per sender.
	GapReject GapPolicy = iota
	// GapQueue holds out-of-order nonces until the gap fills.
	GapQueue
)

type Config struct {
	MaxTransactions int
	MaxBytes        int
	Expiry          time.Duration
	GapPolicy       GapPolicy
	MaxTxGas        uint64
	MaxPayloadBytes int
}

func DefaultConfig() Config {
	return Config{
		MaxTransactions: 4096,
		MaxBytes:        32 << 20,
		Expiry:          15 * time.Minute,
		GapPolicy:       GapReject,
		MaxTxGas:        10_000_000,
		MaxPayloadBytes: 1 << 20,
	}
}

// NonceSource reads the committed nonce for a sender; unknown accounts
// report zero.
type NonceSource interface {
	CommittedNonce(types.PublicKey) (uint64, error)
}

type entry struct {
	tx     *types.Transaction
	weight int
	added  time.Time
}

// Pool is the mempool. All mutation happens under one lock; selection
// is a pure function of the pending set.
type Pool struct {
	mu sync.Mutex

	cfg    Config
	clock  clockwork.Clock
	nonces NonceSource

	byHash   map[types.Hash]*entry
	bySender map[types.PublicKey]map[uint64]types.Hash
	seen     *bloom.BloomFilter
	bytes    int
}

func New(cfg Config, nonces NonceSource, clock clockwork.Clock) *Pool {
	return &Pool{
		cfg:      cfg,
		clock:    clock,
		nonces:   nonces,
		byHash:   make(map[types.Hash]*entry),
		bySender: make(map[types.PublicKey]map[uint64]types.Hash),
		seen:     bloom.NewWithEstimates(uint(cfg.MaxTransactions)*16, 0.01),
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.byHash)
}

// Admit validates and inserts a signed transaction.
func (p *Pool) Admit(tx *types.Transaction) error {
	if tx == nil {
		return ErrMalformed
	}
	if err := tx.Payload.Valid(); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	if err := tx.Recipient.Valid(); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	if tx.GasLimit == 0 || tx.GasLimit > p.cfg.MaxTxGas {
		return errors.Wrap(ErrMalformed, "gas limit out of range")
	}
	if tx.Payload.Size() > p.cfg.MaxPayloadBytes {
		return errors.Wrap(ErrMalformed, "payload too large")
	}
	if tx.Payload.Kind == types.PayloadDeploy {
		if err := precheckWasm(tx.Payload.Deploy.Wasm); err != nil {
			return errors.Wrap(ErrMalformed, err.Error())
		}
	}

	if err := tx.VerifySignature(); err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seen.Test(tx.Hash[:]) {
		if _, ok := p.byHash[tx.Hash]; ok {
			return ErrDuplicate
		}
	}

	committed, err := p.nonces.CommittedNonce(tx.Sender)
	if err != nil {
		return errors.Wrap(err, "reading committed nonce")
	}

	if tx.Nonce <= committed {
		return ErrNonceTooLow
	}

	pending := p.bySender[tx.Sender]
	if _, ok := pending[tx.Nonce]; ok {
		return errors.Wrap(ErrDuplicate, "nonce already pending")
	}

	// next admissible nonce is committed+1 extended by the pending
	// consecutive run
	expected := committed + 1
	for {
		if _, ok := pending[expected]; !ok {
			break
		}
		expected++
	}

	if tx.Nonce != expected && p.cfg.GapPolicy == GapReject {
		return ErrNonceGap
	}

	weight := tx.Weight()
	if err := p.makeRoom(tx, weight); err != nil {
		return err
	}

	e := &entry{tx: tx, weight: weight, added: p.clock.Now()}
	p.byHash[tx.Hash] = e
	if pending == nil {
		pending = make(map[uint64]types.Hash)
		p.bySender[tx.Sender] = pending
	}
	pending[tx.Nonce] = tx.Hash
	p.seen.Add(tx.Hash[:])
	p.bytes += weight

	return nil
}

// makeRoom evicts the weakest pending transactions until the incoming
// one fits, or rejects it if it would itself be the victim.
func (p *Pool) makeRoom(tx *types.Transaction, weight int) error {
	for len(p.byHash) >= p.cfg.MaxTransactions || p.bytes+weight > p.cfg.MaxBytes {
		victim := p.weakest()
		if victim == nil {
			return ErrFull
		}
		if !strongerThan(tx, victim.tx) {
			return ErrFull
		}
		p.drop(victim.tx)
	}
	return nil
}

// weakest returns the entry with the lowest (priority, -timestamp)
// key: lowest priority first, newest timestamp among equals.
func (p *Pool) weakest() *entry {
	var w *entry
	for _, e := range p.byHash {
		if w == nil || strongerThan(w.tx, e.tx) {
			w = e
		}
	}
	return w
}

// strongerThan orders a before b by priority descending, timestamp
// ascending, sender bytes ascending. It is the one comparison used for
// both eviction and selection so the two can never disagree.
func strongerThan(a, b *types.Transaction) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Ts != b.Ts {
		return a.Ts < b.Ts
	}
	return bytes.Compare(a.Sender[:], b.Sender[:]) < 0
}

func (p *Pool) drop(tx *types.Transaction) {
	e, ok := p.byHash[tx.Hash]
	if !ok {
		return
	}

	delete(p.byHash, tx.Hash)
	p.bytes -= e.weight

	if pending, ok := p.bySender[tx.Sender]; ok {
		delete(pending, tx.Nonce)
		if len(pending) == 0 {
			delete(p.bySender, tx.Sender)
		}
	}
}

// Select produces the deterministic ordered candidate list for one
// block: per sender nonces run consecutively from the committed nonce,
// across senders ordering follows priority desc, timestamp asc, sender
// lexicographic. Selection stops at the first candidate that would
// exceed either budget.
func (p *Pool) Select(gasBudget uint64, sizeBudget int) ([]*types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	type cursor struct {
		next uint64
	}

	cursors := make(map[types.PublicKey]*cursor, len(p.bySender))
	for sender := range p.bySender {
		committed, err := p.nonces.CommittedNonce(sender)
		if err != nil {
			return nil, errors.Wrap(err, "reading committed nonce")
		}
		cursors[sender] = &cursor{next: committed + 1}
	}

	var (
		out      []*types.Transaction
		gasUsed  uint64
		sizeUsed int
	)

	for {
		var best *entry
		var bestSender types.PublicKey

		for sender, c := range cursors {
			h, ok := p.bySender[sender][c.next]
			if !ok {
				continue
			}
			e := p.byHash[h]
			if best == nil || strongerThan(e.tx, best.tx) {
				best, bestSender = e, sender
			}
		}

		if best == nil {
			break
		}
		if gasUsed+best.tx.GasLimit > gasBudget || sizeUsed+best.weight > sizeBudget {
			break
		}

		out = append(out, best.tx)
		gasUsed += best.tx.GasLimit
		sizeUsed += best.weight
		cursors[bestSender].next++
	}

	return out, nil
}

// Remove drops the given hashes after a block commit and sweeps any
// transaction made stale by advanced committed nonces.
func (p *Pool) Remove(hashes []types.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range hashes {
		if e, ok := p.byHash[h]; ok {
			p.drop(e.tx)
		}
	}

	for sender, pending := range p.bySender {
		committed, err := p.nonces.CommittedNonce(sender)
		if err != nil {
			return errors.Wrap(err, "reading committed nonce")
		}
		for nonce, h := range pending {
			if nonce <= committed {
				if e, ok := p.byHash[h]; ok {
					p.drop(e.tx)
				}
			}
		}
	}

	return nil
}

// Expire removes entries older than the configured expiry.
func (p *Pool) Expire() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.clock.Now().Add(-p.cfg.Expiry)

	var dropped int
	for _, e := range p.byHash {
		if e.added.Before(cutoff) {
			p.drop(e.tx)
			dropped++
		}
	}

	return dropped
}
