package artifact

import (
	"bytes"
	"fmt"

	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// Magic identifies a regovm artifact file: the ASCII bytes "REGO".
var Magic = [4]byte{'R', 'E', 'G', 'O'}

// CurrentVersion is the version this package writes. Versions 1-3 are
// accepted on read; versions above CurrentVersion are rejected.
const CurrentVersion = 3

const minReadableVersion = 1

// Artifact is the decoded split view of a serialized program: the
// always-parseable header fields, plus the compiled program itself
// (valid only when NeedsRecompilation is false).
type Artifact struct {
	Version     uint32
	RegoV0      bool
	EntryPoints []program.EntryPoint
	Sources     []program.Source
	Literals    []value.Value
	RuleTree    program.RuleTree

	// Program is nil when the extensible section failed to decode;
	// NeedsRecompilation is true in that case and the header fields
	// above are still valid.
	Program            *program.Program
	NeedsRecompilation bool
}

// Serialize writes p in the §4.5 split binary layout: a
// forward-compatible artifact section (entry points, sources,
// literals, rule tree) followed by a length-prefixed extensible
// section (instructions, parameter tables, rule infos, spans,
// metadata) that a newer writer may extend without breaking older
// readers of the artifact section.
func Serialize(p *program.Program) ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(Magic[:])
	writeU32(&buf, CurrentVersion)

	var epBuf, srcBuf, litBuf, treeBuf bytes.Buffer
	if err := encodeEntryPoints(&epBuf, p.EntryPoints); err != nil {
		return nil, err
	}
	if err := encodeSources(&srcBuf, p.Sources); err != nil {
		return nil, err
	}
	if err := encodeLiterals(&litBuf, p.Literals); err != nil {
		return nil, err
	}
	if err := encodeValue(&treeBuf, p.RuleTree.Root); err != nil {
		return nil, err
	}

	writeU32(&buf, uint32(epBuf.Len()))
	writeU32(&buf, uint32(srcBuf.Len()))
	writeU32(&buf, uint32(litBuf.Len()))
	writeU32(&buf, uint32(treeBuf.Len()))

	if p.RegoV0 {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	buf.Write(epBuf.Bytes())
	buf.Write(srcBuf.Bytes())
	buf.Write(litBuf.Bytes())
	buf.Write(treeBuf.Bytes())

	var extBuf bytes.Buffer
	if err := encodeExtensible(&extBuf, p); err != nil {
		return nil, err
	}
	writeU32(&buf, uint32(extBuf.Len()))
	buf.Write(extBuf.Bytes())

	return buf.Bytes(), nil
}

// Deserialize reads a full artifact, including the extensible
// section. If the extensible section fails to decode (a version/
// schema drift the current reader doesn't understand), the returned
// Artifact has NeedsRecompilation=true and a nil Program, but every
// header field is still populated: the caller can inspect entry
// points and sources from a newer artifact it otherwise can't run.
func Deserialize(data []byte) (*Artifact, error) {
	art, body, err := deserializeHeader(data)
	if err != nil {
		return nil, err
	}

	extLen, err := readU32(body)
	if err != nil {
		return nil, fmt.Errorf("artifact: reading extensible section length: %w", err)
	}
	extBytes := make([]byte, extLen)
	if _, err := readFull(body, extBytes); err != nil {
		art.NeedsRecompilation = true
		return art, nil
	}

	p, err := decodeExtensible(bytes.NewReader(extBytes), art)
	if err != nil {
		art.NeedsRecompilation = true
		return art, nil
	}
	art.Program = p
	return art, nil
}

// DeserializeArtifactsOnly reads only the forward-compatible header
// (entry points, sources, literals, rule tree), skipping the
// extensible section entirely. A tool built against an older version
// of this package can use this to inspect a newer artifact's entry
// points and sources without needing to understand its instruction
// encoding.
func DeserializeArtifactsOnly(data []byte) (*Artifact, error) {
	art, _, err := deserializeHeader(data)
	if err != nil {
		return nil, err
	}
	art.NeedsRecompilation = true
	return art, nil
}

func deserializeHeader(data []byte) (*Artifact, *bytes.Reader, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := readFull(r, magic[:]); err != nil {
		return nil, nil, fmt.Errorf("artifact: reading magic: %w", err)
	}
	if magic != Magic {
		return nil, nil, fmt.Errorf("artifact: bad magic %q, want %q", magic, Magic)
	}

	version, err := readU32(r)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: reading version: %w", err)
	}
	if version < minReadableVersion || version > CurrentVersion {
		return nil, nil, fmt.Errorf("artifact: unsupported version %d (supported %d-%d)", version, minReadableVersion, CurrentVersion)
	}

	epLen, err := readU32(r)
	if err != nil {
		return nil, nil, err
	}
	srcLen, err := readU32(r)
	if err != nil {
		return nil, nil, err
	}
	litLen, err := readU32(r)
	if err != nil {
		return nil, nil, err
	}
	treeLen, err := readU32(r)
	if err != nil {
		return nil, nil, err
	}

	regoV0Byte, err := r.ReadByte()
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: reading rego_v0 flag: %w", err)
	}

	epSection := make([]byte, epLen)
	if _, err := readFull(r, epSection); err != nil {
		return nil, nil, fmt.Errorf("artifact: reading entry points: %w", err)
	}
	srcSection := make([]byte, srcLen)
	if _, err := readFull(r, srcSection); err != nil {
		return nil, nil, fmt.Errorf("artifact: reading sources: %w", err)
	}
	litSection := make([]byte, litLen)
	if _, err := readFull(r, litSection); err != nil {
		return nil, nil, fmt.Errorf("artifact: reading literals: %w", err)
	}
	treeSection := make([]byte, treeLen)
	if _, err := readFull(r, treeSection); err != nil {
		return nil, nil, fmt.Errorf("artifact: reading rule tree: %w", err)
	}

	entryPoints, err := decodeEntryPoints(bytes.NewReader(epSection))
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: decoding entry points: %w", err)
	}
	sources, err := decodeSources(bytes.NewReader(srcSection))
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: decoding sources: %w", err)
	}
	literals, err := decodeLiterals(bytes.NewReader(litSection))
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: decoding literals: %w", err)
	}
	treeRoot, err := decodeValue(bytes.NewReader(treeSection))
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: decoding rule tree: %w", err)
	}

	art := &Artifact{
		Version:     version,
		RegoV0:      regoV0Byte != 0,
		EntryPoints: entryPoints,
		Sources:     sources,
		Literals:    literals,
		RuleTree:    program.RuleTree{Root: treeRoot},
	}
	return art, r, nil
}

func encodeEntryPoints(buf *bytes.Buffer, eps []program.EntryPoint) error {
	writeU32(buf, uint32(len(eps)))
	for _, ep := range eps {
		writeBytes(buf, []byte(ep.Path))
		writeU32(buf, ep.Index)
	}
	return nil
}

func decodeEntryPoints(r *bytes.Reader) ([]program.EntryPoint, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]program.EntryPoint, n)
	for i := range out {
		path, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		idx, err := readU32(r)
		if err != nil {
			return nil, err
		}
		out[i] = program.EntryPoint{Path: string(path), Index: idx}
	}
	return out, nil
}

func encodeSources(buf *bytes.Buffer, srcs []program.Source) error {
	writeU32(buf, uint32(len(srcs)))
	for _, s := range srcs {
		writeBytes(buf, []byte(s.Name))
		writeBytes(buf, []byte(s.Text))
	}
	return nil
}

func decodeSources(r *bytes.Reader) ([]program.Source, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]program.Source, n)
	for i := range out {
		name, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		text, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		out[i] = program.Source{Name: string(name), Text: string(text)}
	}
	return out, nil
}

func encodeLiterals(buf *bytes.Buffer, lits []value.Value) error {
	writeU32(buf, uint32(len(lits)))
	for _, v := range lits {
		if err := encodeValue(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func decodeLiterals(r *bytes.Reader) ([]value.Value, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, n)
	for i := range out {
		v, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
