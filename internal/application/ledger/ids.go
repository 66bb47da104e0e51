package ledger

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idGen genera ULIDs monotónicos: dos trades en el mismo milisegundo siguen
// ordenando por ID en el orden en que se crearon.
type idGen struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDGen() *idGen {
	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &idGen{entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

func (g *idGen) next(at time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(at), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
