// Package gguf reads the tokenizer embedded in GGUF model files (the llama.cpp format).
//
// Only the metadata section of the file is read: the tensor infos and data that follow are never touched,
// so loading the tokenizer of a multi-gigabyte model reads only its header.
package gguf

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

const (
	ggufMagic           = "GGUF"
	minSupportedVersion = 2

	// Sanity limits against corrupted files.
	maxStringLength = 1 << 20
	maxArrayLength  = 1 << 26

	// Arrays are read this many elements at a time, so memory grows with the data actually present,
	// not with the declared count.
	arrayBatchLength = 1 << 14
)

// Metadata holds the key-value pairs of a GGUF file header, in file order.
type Metadata struct {
	// Version is the GGUF format version (2 or 3).
	Version uint32

	// TensorCount is the number of tensors declared in the header (they are not read).
	TensorCount uint64

	// KeyValues holds all metadata key-value pairs.
	KeyValues []KeyValue

	kvByKey map[string]*KeyValue
}

// ReadMetadataFile reads the metadata of a GGUF file. The file is memory-mapped: only the pages holding the
// header are read.
func ReadMetadataFile(path string) (*Metadata, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, api.Wrapf(api.ErrConfig, err, "failed to open GGUF file")
	}
	defer func() { _ = reader.Close() }()
	md, err := ReadMetadata(bufio.NewReader(io.NewSectionReader(reader, 0, int64(reader.Len()))))
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", path)
	}
	return md, nil
}

// ReadMetadata reads the header and the metadata key-value pairs of a GGUF stream. Errors wrap api.ErrConfig.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	md, err := readMetadata(r)
	if err != nil {
		return nil, api.Wrapf(api.ErrConfig, err, "invalid GGUF metadata")
	}
	return md, nil
}

func readMetadata(r io.Reader) (*Metadata, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errors.Wrap(err, "read magic")
	}
	if string(magic[:]) != ggufMagic {
		return nil, errors.Errorf("invalid magic %q, expected %q", magic[:], ggufMagic)
	}

	md := &Metadata{}
	if err := binary.Read(r, binary.LittleEndian, &md.Version); err != nil {
		return nil, errors.Wrap(err, "read version")
	}
	if md.Version < minSupportedVersion {
		return nil, errors.Errorf("unsupported version %d (minimum %d)", md.Version, minSupportedVersion)
	}
	var kvCount uint64
	if err := binary.Read(r, binary.LittleEndian, &md.TensorCount); err != nil {
		return nil, errors.Wrap(err, "read tensor count")
	}
	if err := binary.Read(r, binary.LittleEndian, &kvCount); err != nil {
		return nil, errors.Wrap(err, "read kv count")
	}
	if kvCount > maxArrayLength {
		return nil, errors.Errorf("kv count %d is too large", kvCount)
	}

	md.KeyValues = make([]KeyValue, 0, kvCount)
	for range kvCount {
		kv, err := readKeyValue(r)
		if err != nil {
			return nil, errors.WithMessagef(err, "read kv pair %d/%d", len(md.KeyValues), kvCount)
		}
		md.KeyValues = append(md.KeyValues, kv)
	}
	md.kvByKey = make(map[string]*KeyValue, len(md.KeyValues))
	for i := range md.KeyValues {
		md.kvByKey[md.KeyValues[i].Key] = &md.KeyValues[i]
	}
	return md, nil
}

// Get looks up a metadata value by its key.
func (md *Metadata) Get(key string) (Value, bool) {
	kv, ok := md.kvByKey[key]
	if !ok {
		return Value{}, false
	}
	return kv.Value, true
}

// Architecture returns the model architecture (e.g. "gpt2"), or "" if "general.architecture" is not present.
func (md *Metadata) Architecture() string {
	v, _ := md.Get("general.architecture")
	return v.String()
}

// readString reads a GGUF string: uint64 length prefix followed by that many bytes.
func readString(r io.Reader) (string, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", errors.Wrap(err, "read string length")
	}
	if length > maxStringLength {
		return "", errors.Errorf("string length %d exceeds the 1MB limit", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.Wrap(err, "read string data")
	}
	return string(buf), nil
}

func readKeyValue(r io.Reader) (KeyValue, error) {
	key, err := readString(r)
	if err != nil {
		return KeyValue{}, errors.WithMessage(err, "read key")
	}
	var typeTag uint32
	if err := binary.Read(r, binary.LittleEndian, &typeTag); err != nil {
		return KeyValue{}, errors.Wrapf(err, "read value type for %q", key)
	}
	val, err := readValue(r, valueType(typeTag))
	if err != nil {
		return KeyValue{}, errors.WithMessagef(err, "read value for %q (type %d)", key, typeTag)
	}
	return KeyValue{Key: key, Value: val}, nil
}

func readScalar[T any](r io.Reader) (Value, error) {
	var v T
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return Value{}, errors.Wrap(err, "read scalar")
	}
	return Value{data: v}, nil
}

func readValue(r io.Reader, vtype valueType) (Value, error) {
	switch vtype {
	case valueTypeUint8:
		return readScalar[uint8](r)
	case valueTypeInt8:
		return readScalar[int8](r)
	case valueTypeUint16:
		return readScalar[uint16](r)
	case valueTypeInt16:
		return readScalar[int16](r)
	case valueTypeUint32:
		return readScalar[uint32](r)
	case valueTypeInt32:
		return readScalar[int32](r)
	case valueTypeFloat32:
		return readScalar[float32](r)
	case valueTypeUint64:
		return readScalar[uint64](r)
	case valueTypeInt64:
		return readScalar[int64](r)
	case valueTypeFloat64:
		return readScalar[float64](r)
	case valueTypeBool:
		v, err := readScalar[uint8](r)
		if err != nil {
			return Value{}, err
		}
		return Value{data: v.data.(uint8) != 0}, nil
	case valueTypeString:
		s, err := readString(r)
		return Value{data: s}, err
	case valueTypeArray:
		return readArray(r)
	default:
		return Value{}, errors.Errorf("unknown value type %d", vtype)
	}
}

// readArray reads a GGUF typed array: uint32 element type, uint64 count, then elements.
func readArray(r io.Reader) (Value, error) {
	var elemType uint32
	if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
		return Value{}, errors.Wrap(err, "read array element type")
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return Value{}, errors.Wrap(err, "read array count")
	}
	if count > maxArrayLength {
		return Value{}, errors.Errorf("array length %d is too large", count)
	}

	switch valueType(elemType) {
	case valueTypeUint8:
		return readArrayOf[uint8](r, count)
	case valueTypeInt8:
		return readArrayOf[int8](r, count)
	case valueTypeUint16:
		return readArrayOf[uint16](r, count)
	case valueTypeInt16:
		return readArrayOf[int16](r, count)
	case valueTypeUint32:
		return readArrayOf[uint32](r, count)
	case valueTypeInt32:
		return readArrayOf[int32](r, count)
	case valueTypeFloat32:
		return readArrayOf[float32](r, count)
	case valueTypeUint64:
		return readArrayOf[uint64](r, count)
	case valueTypeInt64:
		return readArrayOf[int64](r, count)
	case valueTypeFloat64:
		return readArrayOf[float64](r, count)
	case valueTypeBool:
		raw, err := readArrayOf[uint8](r, count)
		if err != nil {
			return Value{}, err
		}
		bools := make([]bool, count)
		for i, b := range raw.data.([]uint8) {
			bools[i] = b != 0
		}
		return Value{data: bools}, nil
	case valueTypeString:
		vals := make([]string, 0, min(count, arrayBatchLength))
		for i := range count {
			s, err := readString(r)
			if err != nil {
				return Value{}, errors.WithMessagef(err, "read string array element %d", i)
			}
			vals = append(vals, s)
		}
		return Value{data: vals}, nil
	default:
		return Value{}, errors.Errorf("unsupported array element type %d", elemType)
	}
}

// readArrayOf reads a numeric array in batches of at most arrayBatchLength elements.
func readArrayOf[T any](r io.Reader, count uint64) (Value, error) {
	vals := make([]T, 0, min(count, arrayBatchLength))
	batch := make([]T, min(count, arrayBatchLength))
	for remaining := count; remaining > 0; {
		n := min(remaining, arrayBatchLength)
		if err := binary.Read(r, binary.LittleEndian, batch[:n]); err != nil {
			return Value{}, errors.Wrapf(err, "read array of %d elements at element %d", count, count-remaining)
		}
		vals = append(vals, batch[:n]...)
		remaining -= n
	}
	return Value{data: vals}, nil
}
