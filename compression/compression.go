// Package compression implements the revlog payload compression-engine
// registry (spec §4.D "Read algorithm" step 3): the first byte of a raw
// payload selects the engine, the remainder is the compressed body. The
// registry is the "module-level global state... a process-wide init-once
// structure" spec §9 calls for, generalized from Mercurial's per-process
// util.compengines table into a Go registry keyed by marker byte.
package compression

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Marker is the first byte of a compressed payload, selecting the engine
// that produced it.
type Marker byte

const (
	MarkerNone    Marker = 0
	MarkerZlib    Marker = 'x'
	MarkerLiteral Marker = 'u'
	MarkerZstd    Marker = 0x28
	MarkerSnappy  Marker = 's'
)

// Engine compresses and decompresses revision payloads. Compress must
// prefix its own marker byte; Decompress receives the full marked payload
// (marker included) and strips it.
type Engine interface {
	Marker() Marker
	Name() string
	Compress(raw []byte) ([]byte, error)
	Decompress(payload []byte) ([]byte, error)
}

// noneEngine stores payloads unmodified behind the \0 marker: used for
// payloads the caller has already decided not to compress (e.g. already
// compressed content, or payloads below a size threshold).
type noneEngine struct{}

func (noneEngine) Marker() Marker { return MarkerNone }
func (noneEngine) Name() string   { return "none" }
func (noneEngine) Compress(raw []byte) ([]byte, error) {
	out := make([]byte, 1+len(raw))
	out[0] = byte(MarkerNone)
	copy(out[1:], raw)
	return out, nil
}
func (noneEngine) Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	return payload[1:], nil
}

// literalEngine is the 'u' marker: historically used for revision 0's
// full text written by very old clients; treated identically to none but
// kept distinct because the marker byte is part of the wire contract.
type literalEngine struct{}

func (literalEngine) Marker() Marker { return MarkerLiteral }
func (literalEngine) Name() string   { return "literal" }
func (literalEngine) Compress(raw []byte) ([]byte, error) {
	out := make([]byte, 1+len(raw))
	out[0] = byte(MarkerLiteral)
	copy(out[1:], raw)
	return out, nil
}
func (literalEngine) Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	return payload[1:], nil
}

// zlibEngine is the default/legacy 'x' marker engine. It stays on the
// standard library because zlib IS the wire format the spec mandates —
// there is no third-party library to "use instead of" the algorithm here.
type zlibEngine struct{ level int }

func (zlibEngine) Marker() Marker { return MarkerZlib }
func (zlibEngine) Name() string   { return "zlib" }

func (e zlibEngine) Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(MarkerZlib))
	w, err := zlib.NewWriterLevel(&buf, e.level)
	if err != nil {
		return nil, fmt.Errorf("compression: zlib writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compression: zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression: zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibEngine) Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(payload[1:]))
	if err != nil {
		return nil, fmt.Errorf("compression: zlib reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compression: zlib read: %w", err)
	}
	return out, nil
}

// zstdEngine is the \x28 marker engine, grounded on
// github.com/klauspost/compress/zstd.
type zstdEngine struct{}

func (zstdEngine) Marker() Marker { return MarkerZstd }
func (zstdEngine) Name() string   { return "zstd" }

func (zstdEngine) Compress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd encoder: %w", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)
	out := make([]byte, 1+len(compressed))
	out[0] = byte(MarkerZstd)
	copy(out[1:], compressed)
	return out, nil
}

func (zstdEngine) Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(payload[1:], nil)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd decode: %w", err)
	}
	return out, nil
}

// snappyEngine is an additional registered engine ('s' marker), grounded on
// github.com/golang/snappy as used by dolthub/noms's content-addressed
// chunk store.
type snappyEngine struct{}

func (snappyEngine) Marker() Marker { return MarkerSnappy }
func (snappyEngine) Name() string   { return "snappy" }

func (snappyEngine) Compress(raw []byte) ([]byte, error) {
	compressed := snappy.Encode(nil, raw)
	out := make([]byte, 1+len(compressed))
	out[0] = byte(MarkerSnappy)
	copy(out[1:], compressed)
	return out, nil
}

func (snappyEngine) Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	out, err := snappy.Decode(nil, payload[1:])
	if err != nil {
		return nil, fmt.Errorf("compression: snappy decode: %w", err)
	}
	return out, nil
}

// Registry maps marker bytes to engines. It is built once and treated as
// immutable thereafter, per spec §9's "process-wide init-once structure".
type Registry struct {
	engines map[Marker]Engine
	legacy  Engine // fallback for unrecognised v1 markers
}

// NewRegistry builds the default registry: none, literal, zlib, zstd, and
// snappy engines, with zlib as the legacy v1 fallback (spec §4.D: "Unknown
// first-byte values fall back to zlib only for legacy reasons (v1)").
func NewRegistry() *Registry {
	zlib := zlibEngine{level: 6}
	r := &Registry{
		engines: map[Marker]Engine{
			MarkerNone:    noneEngine{},
			MarkerLiteral: literalEngine{},
			MarkerZlib:    zlib,
			MarkerZstd:    zstdEngine{},
			MarkerSnappy:  snappyEngine{},
		},
		legacy: zlib,
	}
	return r
}

// Register adds or replaces the engine for its own marker byte. Intended
// for embedders wiring in an additional engine at process start.
func (r *Registry) Register(e Engine) {
	r.engines[e.Marker()] = e
}

// Engine returns the engine registered for marker, or an error if none is
// registered. The legacy zlib fallback applies only in Decompress.
func (r *Registry) Engine(marker Marker) (Engine, error) {
	if e, ok := r.engines[marker]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("compression: no engine registered for marker %q", byte(marker))
}

// Decompress picks the engine by payload[0] and decompresses, falling back
// to the legacy zlib engine for v1 revlogs whose marker byte doesn't match
// any registered engine.
func (r *Registry) Decompress(payload []byte, allowLegacyFallback bool) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	marker := Marker(payload[0])
	e, ok := r.engines[marker]
	if !ok {
		if allowLegacyFallback {
			relabelled := append([]byte{byte(MarkerZlib)}, payload[1:]...)
			return r.legacy.Decompress(relabelled)
		}
		return nil, fmt.Errorf("compression: unrecognised marker %q", payload[0])
	}
	return e.Decompress(payload)
}

// ByName looks an engine up by its configuration-file name ("zlib", "zstd",
// "snappy", "none"), for config.Config.CompressionEngine.
func (r *Registry) ByName(name string) (Engine, error) {
	for _, e := range r.engines {
		if e.Name() == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("compression: unknown engine name %q", name)
}
