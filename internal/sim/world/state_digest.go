package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest fingerprints everything that influences future ticks. The run id
// and wall-clock data are excluded so replays reproduce it.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, w.nextItem.Load())
	digestWriteU64(h, &tmp, uint64(len(w.order)))
	for _, id := range w.order {
		l := w.lanes[id]
		digestWriteString(h, &tmp, string(id))
		digestWriteI64(h, &tmp, int64(l.Length()))
		digestWriteI64(h, &tmp, int64(l.Speed()))
		out, _ := l.ConnectionOut()
		digestWriteString(h, &tmp, string(out))
		h.Write([]byte{byte(l.Exit())})

		items := l.Items()
		digestWriteU64(h, &tmp, uint64(len(items)))
		for _, s := range items {
			digestWriteI64(h, &tmp, int64(s.Pos))
			digestWriteString(h, &tmp, s.Item.ID)
			digestWriteString(h, &tmp, s.Item.Kind)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteString(h hashWriter, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}
