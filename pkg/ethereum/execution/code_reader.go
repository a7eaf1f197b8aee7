package execution

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethpandaops/call-tracer/pkg/calltracer"
)

// CodeReader resolves deployed contract code through a node at a fixed block.
// Lookups are memoised per address. calltracer.StateReader has no error
// return, so the first failure is kept and reported by Err.
type CodeReader struct {
	ctx   context.Context
	node  Node
	block *big.Int

	mu    sync.Mutex
	cache map[common.Address][]byte
	err   error
}

var _ calltracer.StateReader = (*CodeReader)(nil)

// NewCodeReader reads code as of the end of blockNumber.
func NewCodeReader(ctx context.Context, node Node, blockNumber uint64) *CodeReader {
	return &CodeReader{
		ctx:   ctx,
		node:  node,
		block: new(big.Int).SetUint64(blockNumber),
		cache: make(map[common.Address][]byte),
	}
}

// GetCode implements calltracer.StateReader.
func (r *CodeReader) GetCode(addr common.Address) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if code, ok := r.cache[addr]; ok {
		return code
	}

	code, err := r.node.CodeAt(r.ctx, addr, r.block)
	if err != nil {
		if r.err == nil {
			r.err = err
		}

		return nil
	}

	r.cache[addr] = code

	return code
}

// Err returns the first lookup error, if any.
func (r *CodeReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}
