// Package crypto implements the Burmester-Desmedt group Diffie-Hellman
// key agreement and the symmetric scheme used to protect group messages
// under the resulting shared secret.
//
// The modulus P is a 32-bit safe prime chosen for pedagogy, not security;
// see the package-level note in params.go.
package crypto

// P and G are the fixed public parameters of the group. P is a 32-bit
// safe prime (P-1)/2 is also prime); G generates a large prime-order
// subgroup of Z/PZ*.
//
// A 32-bit modulus gives essentially no real-world confidentiality. A
// production deployment replaces P with a >=3072-bit safe prime (e.g.
// RFC 3526 group 15) without touching any other part of the protocol.
const (
	P uint64 = 3786491543
	G uint64 = 5
)
