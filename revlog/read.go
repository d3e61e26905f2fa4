package revlog

import (
	"io"

	"github.com/rcowham/revlogstore/rlerrors"
)

// Revision reconstructs the full text of rev by walking its delta chain back
// to a full-text anchor, decompressing each stored payload, applying deltas
// forward, running any registered flag processor, and verifying the node
// hash (spec §4.D "Read algorithm").
func (rl *Revlog) Revision(rev Rev) ([]byte, error) {
	e, err := rl.entry(rev)
	if err != nil {
		return nil, err
	}
	if e.Flags&^knownFlags != 0 {
		return nil, &rlerrors.CorruptRevlog{Detail: "unknown flag bits set on rev " + itoa(int(rev))}
	}

	chain, err := rl.deltaChain(rev)
	if err != nil {
		return nil, err
	}

	var text []byte
	for i := len(chain) - 1; i >= 0; i-- {
		payload, err := rl.readPayload(chain[i])
		if err != nil {
			return nil, err
		}
		if i == len(chain)-1 && rl.entries[chain[i]].BaseRev == int32(chain[i]) {
			text = payload // full-text anchor revision
			continue
		}
		d, err := decodeDelta(payload)
		if err != nil {
			return nil, &rlerrors.CorruptRevlog{Detail: "malformed delta payload", Cause: err}
		}
		text = d.apply(text)
	}

	if proc, ok := rl.flagProcessors[e.Flags&knownFlags]; ok && proc.Read != nil {
		out, validated, err := proc.Read(text)
		if err != nil {
			return nil, err
		}
		text = out
		if validated {
			return text, nil
		}
	}
	if e.Flags&FlagCensored != 0 {
		return nil, &rlerrors.CensoredEntry{Rev: int(rev)}
	}

	computed := rl.opts.Hasher.Hash(rl.parentNode(e.Parent1Rev), rl.parentNode(e.Parent2Rev), text)
	if computed != e.Node {
		return nil, &rlerrors.CorruptRevlog{Detail: "node hash mismatch on rev " + itoa(int(rev))}
	}
	return text, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (rl *Revlog) parentNode(parentRev int32) [20]byte {
	if parentRev < 0 {
		return [20]byte{}
	}
	return rl.entries[parentRev].Node
}

// deltaChain returns the revision numbers from rev back to (and including)
// its full-text anchor, in descending order (rev first, anchor last).
func (rl *Revlog) deltaChain(rev Rev) ([]Rev, error) {
	var chain []Rev
	seen := make(map[Rev]bool)
	cur := rev
	for {
		if seen[cur] {
			return nil, &rlerrors.CorruptRevlog{Detail: "cyclic delta chain at rev " + itoa(int(cur))}
		}
		seen[cur] = true
		chain = append(chain, cur)
		e, err := rl.entry(cur)
		if err != nil {
			return nil, err
		}
		if len(chain) > rl.opts.ChainLengthMax+1 {
			return nil, &rlerrors.CorruptRevlog{Detail: "delta chain exceeds configured maximum"}
		}
		base := Rev(e.BaseRev)
		if base == cur {
			return chain, nil // anchor: delta-encodes against itself, i.e. stores fulltext
		}
		cur = base
	}
}

// readPayload reads and decompresses the raw stored bytes for rev (either a
// fulltext or an encoded delta, depending on position in the chain).
func (rl *Revlog) readPayload(rev Rev) ([]byte, error) {
	raw, err := rl.readRawBytes(rev)
	if err != nil {
		return nil, err
	}
	allowLegacy := rl.format == 1
	out, err := rl.opts.Compression.Decompress(raw, allowLegacy)
	if err != nil {
		return nil, &rlerrors.CorruptRevlog{Detail: "decompress rev " + itoa(int(rev)), Cause: err}
	}
	return out, nil
}

// Sidedata returns the raw side-channel bytes associated with rev, or nil if
// none were stored.
func (rl *Revlog) Sidedata(rev Rev) ([]byte, error) {
	e, err := rl.entry(rev)
	if err != nil {
		return nil, err
	}
	if e.SidedataLength == 0 {
		return nil, nil
	}
	path := rl.dataPath
	if rl.inline {
		path = rl.indexPath
	}
	f, err := rl.fs.Open(path)
	if err != nil {
		return nil, &rlerrors.IO{Source: err}
	}
	defer f.Close()
	if _, err := f.Seek(int64(e.SidedataOffset), io.SeekStart); err != nil {
		return nil, &rlerrors.IO{Source: err}
	}
	buf := make([]byte, e.SidedataLength)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, &rlerrors.IO{Source: err}
	}
	return buf, nil
}

func (rl *Revlog) readRawBytes(rev Rev) ([]byte, error) {
	entry := rl.entries[rev]
	if rl.inline {
		f, err := rl.fs.Open(rl.indexPath)
		if err != nil {
			return nil, &rlerrors.IO{Source: err}
		}
		defer f.Close()
		if _, err := f.Seek(int64(entry.Offset), io.SeekStart); err != nil {
			return nil, &rlerrors.IO{Source: err}
		}
		buf := make([]byte, entry.CompressedLength)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, &rlerrors.IO{Source: err}
		}
		return buf, nil
	}
	f, err := rl.fs.Open(rl.dataPath)
	if err != nil {
		return nil, &rlerrors.IO{Source: err}
	}
	defer f.Close()
	if _, err := f.Seek(int64(entry.Offset), io.SeekStart); err != nil {
		return nil, &rlerrors.IO{Source: err}
	}
	buf := make([]byte, entry.CompressedLength)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, &rlerrors.IO{Source: err}
	}
	return buf, nil
}
