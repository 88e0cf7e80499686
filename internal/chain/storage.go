package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// twox128 is the Substrate storage prefix hasher: two seeded xxhash64 digests,
// each little-endian.
func twox128(data []byte) []byte {
	out := make([]byte, 0, 16)
	for seed := uint64(0); seed < 2; seed++ {
		d := xxhash.NewWithSeed(seed)
		d.Write(data)
		out = binary.LittleEndian.AppendUint64(out, d.Sum64())
	}
	return out
}

// blake2128Concat hashes data with blake2b-128 and appends the raw input.
func blake2128Concat(data []byte) []byte {
	h, _ := blake2b.New(16, nil)
	h.Write(data)
	return append(h.Sum(nil), data...)
}

// systemAccountKey returns the System.Account storage key for an account ID.
func systemAccountKey(accountID []byte) string {
	key := append(twox128([]byte("System")), twox128([]byte("Account"))...)
	key = append(key, blake2128Concat(accountID)...)
	return "0x" + hex.EncodeToString(key)
}

// assetAccountKey returns the Assets.Account storage key for (assetID, accountID).
func assetAccountKey(assetID uint32, accountID []byte) string {
	id := binary.LittleEndian.AppendUint32(nil, assetID)

	key := append(twox128([]byte("Assets")), twox128([]byte("Account"))...)
	key = append(key, blake2128Concat(id)...)
	key = append(key, blake2128Concat(accountID)...)
	return "0x" + hex.EncodeToString(key)
}

// decodeU128LE reads a SCALE u128 at offset.
func decodeU128LE(data []byte, offset int) (*big.Int, error) {
	if len(data) < offset+16 {
		return nil, fmt.Errorf("storage value too short: %d bytes, need %d", len(data), offset+16)
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[15-i] = data[offset+i]
	}
	return new(big.Int).SetBytes(be), nil
}

func decodeHexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// AccountInfo layout: nonce, consumers, providers, sufficients (u32 each),
// then AccountData whose first field is the free balance.
const accountInfoFreeOffset = 16

// decodeAccountFree extracts the free balance from an encoded AccountInfo.
func decodeAccountFree(raw []byte) (*big.Int, error) {
	return decodeU128LE(raw, accountInfoFreeOffset)
}

// decodeAssetBalance extracts the balance from an encoded AssetAccount.
func decodeAssetBalance(raw []byte) (*big.Int, error) {
	return decodeU128LE(raw, 0)
}
