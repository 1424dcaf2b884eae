package store

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

// pushChars is ordered by ASCII value so that ids sort lexicographically
// in the same order they were generated.
const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

var pushGen = &pushIDGenerator{}

type pushIDGenerator struct {
	mu       sync.Mutex
	lastTime int64
	lastRand [12]int
}

// NewPushID returns a 20 character id: 8 characters of millisecond
// timestamp followed by 12 characters of randomness. Ids generated in
// the same millisecond increment the random part, so key order equals
// generation order within a process.
func NewPushID(now time.Time) string {
	return pushGen.next(now.UnixMilli())
}

func (g *pushIDGenerator) next(ms int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Never go backwards; a clock step back reuses the last timestamp.
	if ms < g.lastTime {
		ms = g.lastTime
	}
	duplicate := ms == g.lastTime
	g.lastTime = ms

	var id [20]byte
	t := ms
	for i := 7; i >= 0; i-- {
		id[i] = pushChars[t%64]
		t /= 64
	}

	if !duplicate {
		for i := range g.lastRand {
			n, err := rand.Int(rand.Reader, big.NewInt(64))
			if err != nil {
				g.lastRand[i] = 0
				continue
			}
			g.lastRand[i] = int(n.Int64())
		}
	} else {
		i := len(g.lastRand) - 1
		for ; i >= 0 && g.lastRand[i] == 63; i-- {
			g.lastRand[i] = 0
		}
		if i >= 0 {
			g.lastRand[i]++
		}
	}
	for i, r := range g.lastRand {
		id[8+i] = pushChars[r]
	}
	return string(id[:])
}
