package profile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// writer accumulates wire-format frames into a private page chain,
// allocating a new page whenever a field doesn't fit in what's left of the
// current one. A single logical frame may be split across a page boundary
// at any field boundary, including inside a variable-id array or a name's
// byte payload; Decode reassembles a frame transparently across that split.
type writer struct {
	head *page
	cur  *page
}

func newWriter() *writer {
	p := newPage()
	return &writer{head: p, cur: p}
}

func (w *writer) ensure(n int) []byte {
	if b := w.cur.reserve(n); b != nil {
		return b
	}
	np := newPage()
	w.cur.next = np
	w.cur = np
	b := w.cur.reserve(n)
	if b == nil {
		panic(fmt.Sprintf("profile: frame field of %d bytes exceeds page size %d", n, DefaultPageSize))
	}
	return b
}

func (w *writer) writeU8(v uint8)   { w.ensure(1)[0] = v }
func (w *writer) writeU16(v uint16) { binary.LittleEndian.PutUint16(w.ensure(2), v) }
func (w *writer) writeU32(v uint32) { binary.LittleEndian.PutUint32(w.ensure(4), v) }
func (w *writer) writeU64(v uint64) { binary.LittleEndian.PutUint64(w.ensure(8), v) }
func (w *writer) writeI64(v int64)  { w.writeU64(uint64(v)) }

func (w *writer) writeBytes(b []byte) {
	for len(b) > 0 {
		if dst := w.cur.reserve(len(b)); dst != nil {
			copy(dst, b)
			return
		}
		if rem := w.cur.remaining(); rem > 0 {
			copy(w.cur.reserve(rem), b[:rem])
			b = b[rem:]
		}
		np := newPage()
		w.cur.next = np
		w.cur = np
	}
}

// varName writes a tag=0 VarName frame binding a variable's identity to a
// previously interned name key.
func (w *writer) varName(varID, nameID uint64) {
	w.writeU8(uint8(KindVarName))
	w.writeU64(varID)
	w.writeU64(nameID)
}

// commitOrConflict writes a tag=1 Commit or tag=2 Conflict frame. ids is
// the write set for a Commit, the read ("got") set for a Conflict.
func (w *writer) commitOrConflict(kind FrameKind, nameID, threadNameID uint64, startNS, endNS int64, fileID uint64, line uint16, ids []uint64) {
	w.writeU8(uint8(kind))
	w.writeU64(nameID)
	w.writeU64(threadNameID)
	w.writeI64(startNS)
	w.writeI64(endNS)
	w.writeU64(fileID)
	w.writeU16(line)
	w.writeU16(uint16(len(ids)))
	for _, id := range ids {
		w.writeU64(id)
	}
}

// nameData writes a tag=3 NameData frame, emitted once per interned string
// when the stream is flushed.
func (w *writer) nameData(key uint64, name string) {
	w.writeU8(uint8(KindNameData))
	w.writeU64(key)
	raw := []byte(name)
	w.writeU32(uint32(len(raw)))
	w.writeBytes(raw)
}

// Flush walks every page grafted onto the global registry, appends a
// NameData frame for each interned string, and writes the resulting stream
// to dir/wstm_<unix-seconds>.profile. It returns the path written.
func Flush(dir string) (string, error) {
	head, names := global.snapshot()

	out := newWriter()
	for p := head; p != nil; p = p.next {
		out.writeBytes(p.data[:p.used])
	}
	for name, key := range names {
		out.nameData(key, name)
	}

	path := filepath.Join(dir, fmt.Sprintf("wstm_%d.profile", time.Now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for p := out.head; p != nil; p = p.next {
		if _, err := bw.Write(p.data[:p.used]); err != nil {
			return "", err
		}
	}
	return path, bw.Flush()
}

// DecodedFrame is a parsed view of one frame from a flushed stream, used
// by tests to verify round-tripping without standing up the offline
// post-processor this package deliberately does not include.
type DecodedFrame struct {
	Kind         FrameKind
	VarID        uint64
	NameID       uint64
	TxnNameID    uint64
	ThreadNameID uint64
	StartNS      int64
	EndNS        int64
	FileID       uint64
	Line         uint16
	IDs          []uint64
	Key          uint64
	Name         string
}

// Decode parses every frame in a flushed byte stream in order.
func Decode(data []byte) ([]DecodedFrame, error) {
	var frames []DecodedFrame
	for len(data) > 0 {
		kind := FrameKind(data[0])
		data = data[1:]
		switch kind {
		case KindVarName:
			if len(data) < 16 {
				return frames, fmt.Errorf("profile: truncated VarName frame")
			}
			varID := binary.LittleEndian.Uint64(data[0:8])
			nameID := binary.LittleEndian.Uint64(data[8:16])
			data = data[16:]
			frames = append(frames, DecodedFrame{Kind: kind, VarID: varID, NameID: nameID})
		case KindCommit, KindConflict:
			if len(data) < 8+8+8+8+8+2+2 {
				return frames, fmt.Errorf("profile: truncated Commit/Conflict frame")
			}
			nameID := binary.LittleEndian.Uint64(data[0:8])
			threadNameID := binary.LittleEndian.Uint64(data[8:16])
			startNS := int64(binary.LittleEndian.Uint64(data[16:24]))
			endNS := int64(binary.LittleEndian.Uint64(data[24:32]))
			fileID := binary.LittleEndian.Uint64(data[32:40])
			line := binary.LittleEndian.Uint16(data[40:42])
			n := binary.LittleEndian.Uint16(data[42:44])
			data = data[44:]
			ids := make([]uint64, n)
			for i := range ids {
				if len(data) < 8 {
					return frames, fmt.Errorf("profile: truncated id array")
				}
				ids[i] = binary.LittleEndian.Uint64(data[0:8])
				data = data[8:]
			}
			frames = append(frames, DecodedFrame{
				Kind: kind, NameID: nameID, ThreadNameID: threadNameID,
				StartNS: startNS, EndNS: endNS, FileID: fileID, Line: line, IDs: ids,
			})
		case KindNameData:
			if len(data) < 12 {
				return frames, fmt.Errorf("profile: truncated NameData frame")
			}
			key := binary.LittleEndian.Uint64(data[0:8])
			n := binary.LittleEndian.Uint32(data[8:12])
			data = data[12:]
			if uint32(len(data)) < n {
				return frames, fmt.Errorf("profile: truncated NameData payload")
			}
			name := string(data[:n])
			data = data[n:]
			frames = append(frames, DecodedFrame{Kind: kind, Key: key, Name: name})
		default:
			return frames, fmt.Errorf("profile: unknown frame tag %d", kind)
		}
	}
	return frames, nil
}
