package calltracer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type fakeStep struct {
	op    string
	depth int
	addr  common.Address
	stack WordStack
	mem   []byte
	cost  uint64
	gas   uint64
	err   error
}

func (s *fakeStep) Op() string              { return s.op }
func (s *fakeStep) Depth() int              { return s.depth }
func (s *fakeStep) Address() common.Address { return s.addr }
func (s *fakeStep) Stack() Stack            { return s.stack }
func (s *fakeStep) Memory() []byte          { return s.mem }
func (s *fakeStep) Cost() uint64            { return s.cost }
func (s *fakeStep) Gas() uint64             { return s.gas }
func (s *fakeStep) Err() error              { return s.err }

type fakeState map[common.Address][]byte

func (f fakeState) GetCode(addr common.Address) []byte {
	return f[addr]
}

// stackOf builds a WordStack from values listed top first.
func stackOf(top ...uint64) WordStack {
	s := make(WordStack, len(top))
	for i, v := range top {
		s[len(top)-1-i].SetUint64(v)
	}

	return s
}

func word(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func addrWord(a common.Address) uint64 {
	return new(uint256.Int).SetBytes(a.Bytes()).Uint64()
}

var (
	caller = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	callee = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	inner  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func op(name string, depth int) *fakeStep {
	return &fakeStep{op: name, depth: depth, addr: caller}
}

// returned is the first step in the caller after a callee returns with result ret.
func returned(depth int, ret uint64, mem []byte) *fakeStep {
	return &fakeStep{op: "ISZERO", depth: depth, addr: caller, stack: stackOf(ret), mem: mem}
}

func run(t *Tracer, state StateReader, steps ...Step) {
	for _, s := range steps {
		t.Step(s, state)
	}
}
