package remote

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// LayerTargetSize bounds the payload bytes packed into one layer. A single
// object larger than this gets a layer of its own.
const LayerTargetSize = 5 * 1024 * 1024

// Kinds in layer order: leaves first, so a registry holding a partial push
// has the values later layers point at.
var kinds = []string{"blob", "ref", "tree", "commit"}

// Object is one framed value in a bundle.
type Object struct {
	Digest string
	Kind   string
	Data   []byte
}

// FrameKind checks the "<kind> <size>\x00" header of a framed value and
// returns its kind.
func FrameKind(data []byte) (string, error) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return "", errors.New("missing frame header")
	}
	kind, size, ok := strings.Cut(string(data[:idx]), " ")
	if !ok {
		return "", fmt.Errorf("malformed frame header %q", data[:idx])
	}
	if !slices.Contains(kinds, kind) {
		return "", fmt.Errorf("unknown kind %q", kind)
	}
	if n, err := strconv.Atoi(size); err != nil || n != len(data)-idx-1 {
		return "", fmt.Errorf("frame size %q does not match %d payload bytes", size, len(data)-idx-1)
	}
	return kind, nil
}

func checkDigest(digest string) error {
	algo, sum, ok := strings.Cut(digest, ":")
	if !ok || (algo != "sha256" && algo != "blake3") {
		return fmt.Errorf("digest %q: unsupported algorithm", digest)
	}
	if len(sum) != 64 || strings.ToLower(sum) != sum {
		return fmt.Errorf("digest %q: want 64 lowercase hex chars", digest)
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return fmt.Errorf("digest %q: %w", digest, err)
	}
	return nil
}

// PlanLayers classifies objects by kind and splits each kind into layers of
// about LayerTargetSize bytes, ordered by digest within a kind.
func PlanLayers(objects map[string][]byte) ([][]Object, error) {
	byKind := make(map[string][]Object)
	for digest, data := range objects {
		if err := checkDigest(digest); err != nil {
			return nil, err
		}
		kind, err := FrameKind(data)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", digest, err)
		}
		byKind[kind] = append(byKind[kind], Object{Digest: digest, Kind: kind, Data: data})
	}

	var layers [][]Object
	for _, kind := range kinds {
		group := byKind[kind]
		slices.SortFunc(group, func(a, b Object) int { return strings.Compare(a.Digest, b.Digest) })

		var current []Object
		size := 0
		for _, obj := range group {
			if len(current) > 0 && size+len(obj.Data) > LayerTargetSize {
				layers = append(layers, current)
				current, size = nil, 0
			}
			current = append(current, obj)
			size += len(obj.Data)
		}
		if len(current) > 0 {
			layers = append(layers, current)
		}
	}
	return layers, nil
}

// PackLayer encodes objects as a sequence of records:
//
//	[digest length u8][digest][payload length uvarint][payload]
func PackLayer(objects []Object) ([]byte, error) {
	var buf []byte
	for _, obj := range objects {
		if err := checkDigest(obj.Digest); err != nil {
			return nil, err
		}
		buf = append(buf, byte(len(obj.Digest)))
		buf = append(buf, obj.Digest...)
		buf = binary.AppendUvarint(buf, uint64(len(obj.Data)))
		buf = append(buf, obj.Data...)
	}
	return buf, nil
}

// UnpackLayer decodes a packed layer. Every record must carry a well-formed
// digest and a framed value; hashes are verified by the caller.
func UnpackLayer(data []byte) ([]Object, error) {
	var objects []Object
	for len(data) > 0 {
		n := int(data[0])
		data = data[1:]
		if n > len(data) {
			return nil, fmt.Errorf("digest length %d exceeds remaining %d bytes", n, len(data))
		}
		digest := string(data[:n])
		data = data[n:]
		if err := checkDigest(digest); err != nil {
			return nil, err
		}

		size, read := binary.Uvarint(data)
		if read <= 0 {
			return nil, fmt.Errorf("object %s: bad payload length", digest)
		}
		data = data[read:]
		if size > uint64(len(data)) {
			return nil, fmt.Errorf("object %s: length %d exceeds remaining %d bytes", digest, size, len(data))
		}
		payload := bytes.Clone(data[:size])
		data = data[size:]

		kind, err := FrameKind(payload)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", digest, err)
		}
		objects = append(objects, Object{Digest: digest, Kind: kind, Data: payload})
	}
	return objects, nil
}
