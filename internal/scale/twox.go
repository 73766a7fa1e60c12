package scale

import "encoding/binary"

// Substrate derives storage prefixes with the "twox128" hasher: the
// concatenation of two seeded xxHash64 digests (seeds 0 and 1) in
// little-endian byte order. The xxHash64 core is implemented here because
// the ecosystem packages expose only the seed-0 variant.

const (
	prime1 uint64 = 11400714785074694791
	prime2 uint64 = 14029467366897019727
	prime3 uint64 = 1609587929392839161
	prime4 uint64 = 9650029242287828579
	prime5 uint64 = 2870177450012600261
)

func rotl(x uint64, r uint) uint64 {
	return x<<r | x>>(64-r)
}

func round(acc, lane uint64) uint64 {
	return rotl(acc+lane*prime2, 31) * prime1
}

func xxhash64(data []byte, seed uint64) uint64 {
	n := len(data)
	var h uint64

	if n >= 32 {
		v1 := seed + prime1 + prime2
		v2 := seed + prime2
		v3 := seed
		v4 := seed - prime1

		for len(data) >= 32 {
			v1 = round(v1, binary.LittleEndian.Uint64(data[0:8]))
			v2 = round(v2, binary.LittleEndian.Uint64(data[8:16]))
			v3 = round(v3, binary.LittleEndian.Uint64(data[16:24]))
			v4 = round(v4, binary.LittleEndian.Uint64(data[24:32]))
			data = data[32:]
		}

		h = rotl(v1, 1) + rotl(v2, 7) + rotl(v3, 12) + rotl(v4, 18)
		for _, v := range []uint64{v1, v2, v3, v4} {
			h = (h^round(0, v))*prime1 + prime4
		}
	} else {
		h = seed + prime5
	}

	h += uint64(n)

	for len(data) >= 8 {
		h = rotl(h^round(0, binary.LittleEndian.Uint64(data[:8])), 27)*prime1 + prime4
		data = data[8:]
	}

	if len(data) >= 4 {
		h = rotl(h^uint64(binary.LittleEndian.Uint32(data[:4]))*prime1, 23)*prime2 + prime3
		data = data[4:]
	}

	for _, b := range data {
		h = rotl(h^uint64(b)*prime5, 11) * prime1
	}

	h ^= h >> 33
	h *= prime2
	h ^= h >> 29
	h *= prime3
	h ^= h >> 32

	return h
}

// Twox128 returns the 16-byte twox128 digest of data.
func Twox128(data []byte) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:8], xxhash64(data, 0))
	binary.LittleEndian.PutUint64(out[8:16], xxhash64(data, 1))
	return out
}

// StoragePrefix returns the storage key prefix of an item in a pallet,
// twox128(pallet) ++ twox128(item).
func StoragePrefix(pallet, item string) []byte {
	return append(Twox128([]byte(pallet)), Twox128([]byte(item))...)
}
