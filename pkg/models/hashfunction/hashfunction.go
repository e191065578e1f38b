package hashfunction

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/go-faster/city"
	"github.com/spaolacci/murmur3"
)

type HashFunctionType int

/* Pre-defined hash functions */
const (
	HashFunctionIdent  = HashFunctionType(0)
	HashFunctionMurmur = HashFunctionType(1)
	HashFunctionCity   = HashFunctionType(2)
)

var errUnknownValueType = func(v any, hf HashFunctionType) error {
	return fmt.Errorf("unknown type of partition key: %T for %s hash type", v, ToString(hf))
}

func EncodeUInt64(input uint64) []byte {
	const ENCODING_BYTES_BIG = binary.MaxVarintLen64
	const ENCODING_BYTES = 8
	const BOUND = 1 << 56 /* 72057594037927936 */

	sz := ENCODING_BYTES
	if input >= BOUND {
		sz = ENCODING_BYTES_BIG
	}

	buf := make([]byte, sz)
	binary.PutUvarint(buf, input)
	return buf
}

// keyBytes encodes a partition key the same way for every hash function.
func keyBytes(input any, hf HashFunctionType) ([]byte, error) {
	switch v := input.(type) {
	case int:
		return EncodeUInt64(uint64(v)), nil
	case int64:
		return EncodeUInt64(uint64(v)), nil
	case uint64:
		return EncodeUInt64(v), nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, errUnknownValueType(input, hf)
	}
}

// Apply hashes a partition key into a 32-bit bucket value.
// The identity function accepts integers and numeric strings only.
func Apply(input any, hf HashFunctionType) (uint32, error) {
	switch hf {
	case HashFunctionIdent:
		switch v := input.(type) {
		case int:
			return uint32(v), nil
		case int64:
			return uint32(v), nil
		case uint64:
			return uint32(v), nil
		case string:
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return 0, err
			}
			return uint32(n), nil
		default:
			return 0, errUnknownValueType(input, hf)
		}
	case HashFunctionMurmur:
		buf, err := keyBytes(input, hf)
		if err != nil {
			return 0, err
		}
		return murmur3.Sum32(buf), nil
	case HashFunctionCity:
		buf, err := keyBytes(input, hf)
		if err != nil {
			return 0, err
		}
		return city.Hash32(buf), nil
	default:
		return 0, fmt.Errorf("unknown hash function type: %d", hf)
	}
}

// Partition maps a key onto one of n partitions.
func Partition(input any, hf HashFunctionType, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("partition count must be positive, got %d", n)
	}
	h, err := Apply(input, hf)
	if err != nil {
		return 0, err
	}
	return int(h % uint32(n)), nil
}

// HashFunctionByName returns the corresponding HashFunctionType based on the given hash function name.
func HashFunctionByName(hfn string) (HashFunctionType, error) {
	switch hfn {
	case "identity", "ident":
		return HashFunctionIdent, nil
	case "murmur", "":
		return HashFunctionMurmur, nil
	case "city":
		return HashFunctionCity, nil
	default:
		return 0, fmt.Errorf("unknown hash function type: %s", hfn)
	}
}

func ToString(hf HashFunctionType) string {
	switch hf {
	case HashFunctionIdent:
		return "identity"
	case HashFunctionMurmur:
		return "murmur"
	case HashFunctionCity:
		return "city"
	}
	return ""
}
