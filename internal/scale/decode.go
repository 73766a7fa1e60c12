package scale

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Decoder reads SCALE-encoded values from a byte slice.
type Decoder struct {
	data []byte
	off  int
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// FromHex builds a Decoder from a 0x-prefixed hex string, as returned by the
// node's state queries.
func FromHex(s string) (*Decoder, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return nil, err
	}

	return NewDecoder(b), nil
}

func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "hex.DecodeString")
	}

	return b, nil
}

func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.off+n > len(d.data) {
		return nil, errors.Errorf("unexpected end of input: need %d bytes at offset %d, have %d", n, d.off, len(d.data))
	}

	b := d.data[d.off : d.off+n]
	d.off += n

	return b, nil
}

func (d *Decoder) Uint8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (d *Decoder) Bool() (bool, error) {
	b, err := d.Uint8()
	if err != nil {
		return false, err
	}

	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.Errorf("invalid bool byte 0x%02x", b)
	}
}

func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

// Uint128 decodes a little-endian u128 balance.
func (d *Decoder) Uint128() (*uint256.Int, error) {
	b, err := d.take(16)
	if err != nil {
		return nil, err
	}

	be := make([]byte, 16)
	for i := range b {
		be[15-i] = b[i]
	}

	return new(uint256.Int).SetBytes(be), nil
}

// Compact decodes a SCALE compact-encoded unsigned integer.
func (d *Decoder) Compact() (uint64, error) {
	first, err := d.Uint8()
	if err != nil {
		return 0, err
	}

	switch first & 0b11 {
	case 0:
		return uint64(first >> 2), nil
	case 1:
		second, err := d.Uint8()
		if err != nil {
			return 0, err
		}

		return (uint64(first) | uint64(second)<<8) >> 2, nil
	case 2:
		rest, err := d.take(3)
		if err != nil {
			return 0, err
		}

		v := uint64(first) | uint64(rest[0])<<8 | uint64(rest[1])<<16 | uint64(rest[2])<<24

		return v >> 2, nil
	default:
		numBytes := int(first>>2) + 4
		if numBytes > 8 {
			return 0, errors.Errorf("compact value of %d bytes exceeds u64", numBytes)
		}

		rest, err := d.take(numBytes)
		if err != nil {
			return 0, err
		}

		var v uint64
		for i, b := range rest {
			v |= uint64(b) << (8 * i)
		}

		return v, nil
	}
}

// AccountID decodes a 32-byte account id, rendered as 0x-prefixed hex.
// The raw public key form is chain-format independent; SS58 display is left
// to consumers.
func (d *Decoder) AccountID() (string, error) {
	b, err := d.take(32)
	if err != nil {
		return "", err
	}

	return EncodeHex(b), nil
}

// OptionAccountID decodes Option<AccountId32>, returning nil for None.
func (d *Decoder) OptionAccountID() (*string, error) {
	some, err := d.Bool()
	if err != nil {
		return nil, errors.Wrap(err, "option tag")
	}

	if !some {
		return nil, nil
	}

	account, err := d.AccountID()
	if err != nil {
		return nil, err
	}

	return &account, nil
}

// Remaining reports how many undecoded bytes are left.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.off
}

const (
	storagePrefixLen = 32 // twox128(pallet) ++ twox128(item)
	blake2ConcatLen  = 16 // Blake2_128Concat hash ahead of the raw key
)

// DecodeMapKey extracts the (collectionId, itemId) tuple embedded in a
// Blake2_128Concat storage map key. The layout is
// [32-byte prefix][16-byte blake2_128 hash][SCALE (u32, u32)]; the raw tuple
// bytes trail the hash and are carried through as decoded, never re-encoded.
func DecodeMapKey(key string) (collectionID, itemID uint32, err error) {
	raw, err := DecodeHex(key)
	if err != nil {
		return 0, 0, err
	}

	if len(raw) < storagePrefixLen+blake2ConcatLen+8 {
		return 0, 0, errors.Errorf("storage key too short: %d bytes", len(raw))
	}

	d := NewDecoder(raw[storagePrefixLen+blake2ConcatLen:])

	if collectionID, err = d.Uint32(); err != nil {
		return 0, 0, errors.Wrap(err, "collection id")
	}

	if itemID, err = d.Uint32(); err != nil {
		return 0, 0, errors.Wrap(err, "item id")
	}

	return collectionID, itemID, nil
}
