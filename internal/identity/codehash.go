package identity

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
)

// HashManifest computes codeHash as the keccak256 digest of the agent's
// manifest file (spec §3 "codeHash"). keccak256 is the hash this corpus
// reaches for whenever it needs a stable content digest (see the billing
// service's voucher usage-hash and EIP-712 struct hashes); it is used here
// purely as a hash function, with no EVM signing semantics attached.
func HashManifest(manifestPath string) (string, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("identity: read manifest %s: %w", manifestPath, err)
	}
	return crypto.Keccak256Hash(data).Hex(), nil
}
