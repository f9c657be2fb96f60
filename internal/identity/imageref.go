package identity

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// ResolveImageDigest enriches a dockerImage traceability string (spec §3)
// with its content digest, e.g. "proofofflip/agent:v3" becomes
// "proofofflip/agent:v3@sha256:...". Resolution is best-effort: a
// registry that is unreachable or a malformed reference is non-fatal,
// mirroring the funding-failure-is-non-fatal pattern in spec §7 — a birth
// certificate must still be constructible when the agent operator's
// registry happens to be offline.
func ResolveImageDigest(image string) (string, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return image, fmt.Errorf("identity: parse image reference %q: %w", image, err)
	}
	desc, err := remote.Head(ref)
	if err != nil {
		return image, fmt.Errorf("identity: resolve digest for %q: %w", image, err)
	}
	return fmt.Sprintf("%s@%s", ref.Context().Name(), desc.Digest.String()), nil
}
