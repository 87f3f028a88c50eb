package crypto

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

// GenPrivate returns a uniformly random private key in [2, P-1] drawn from
// a cryptographically appropriate source.
func GenPrivate() (uint64, error) {
	// span = P - 2, candidates are offset by 2 to land in [2, P-1].
	span := new(big.Int).SetUint64(P - 2)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, errors.Wrap(err, "generate private key")
	}
	return n.Uint64() + 2, nil
}

// GenPublic returns g^priv mod P.
func GenPublic(priv uint64) uint64 {
	return ModExp(G, priv, P)
}

// IntermediateValue computes a participant's round-1 contribution:
//
//	X_i = (z_after * z_before^-1) ^ priv mod P
//
// where z_before and z_after are the public keys of the participant's
// predecessor and successor in the group ring.
func IntermediateValue(priv, zBefore, zAfter uint64) uint64 {
	inv := ModInverse(zBefore, P)
	base := mulMod(zAfter, inv, P)
	return ModExp(base, priv, P)
}

// SharedSecret computes the Burmester-Desmedt group key from this
// participant's own index, the ordered list of member public keys, and
// the ordered list of every participant's round-1 intermediate value.
//
//	K_i = z_{i-1}^(N*priv) * X_i^(N-1) * X_{i+1}^(N-2) * ... * X_{i+N-2}^1  (mod P)
//
// ordered index arithmetic wraps modulo N, matching the ring topology of
// the group members list.
func SharedSecret(priv uint64, myIndex int, publicKeys []uint64, intermediate []uint64) (uint64, error) {
	n := len(publicKeys)
	if n == 0 || len(intermediate) != n {
		return 0, errors.New("shared secret: mismatched group size")
	}
	if myIndex < 0 || myIndex >= n {
		return 0, errors.New("shared secret: index out of range")
	}

	before := publicKeys[(myIndex-1+n)%n]
	k := ModExp(before, uint64(n)*priv, P)

	for j := 0; j < n-1; j++ {
		idx := (myIndex + j) % n
		exp := uint64(n - 1 - j)
		k = mulMod(k, ModExp(intermediate[idx], exp, P), P)
	}

	return k, nil
}
