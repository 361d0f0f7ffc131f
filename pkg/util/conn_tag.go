package utils

import (
	"math/rand"
	"strings"
	"sync"
)

// ConnTagLength is long enough to tell concurrent connections apart in logs.
const ConnTagLength = 6

// Ambiguous glyphs (0/O, l/I) are left out so tags survive being read aloud.
const connTagAlphabet = "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// ConnTagGenerator hands out short tags that correlate one connection's log lines.
// Tags are not unique and must not be used as identifiers.
type ConnTagGenerator struct {
	mut sync.Mutex
	rng *rand.Rand
}

func NewConnTagGenerator(seed int64) *ConnTagGenerator {
	return &ConnTagGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *ConnTagGenerator) Tag() string {
	g.mut.Lock()
	defer g.mut.Unlock()

	var b strings.Builder
	b.Grow(ConnTagLength)
	for i := 0; i < ConnTagLength; i++ {
		b.WriteByte(connTagAlphabet[g.rng.Intn(len(connTagAlphabet))])
	}
	return b.String()
}
