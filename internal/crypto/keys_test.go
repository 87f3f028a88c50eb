package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenPrivateInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		priv, err := GenPrivate()
		require.NoError(t, err)
		require.GreaterOrEqual(t, priv, uint64(2))
		require.Less(t, priv, P)
	}
}

func TestGenPublic(t *testing.T) {
	require.Equal(t, ModExp(G, 3, P), GenPublic(3))
}

// agree runs the two-round BD protocol for a set of private keys and
// asserts every participant derives the same shared secret.
func agree(t *testing.T, privs []uint64) uint64 {
	t.Helper()
	n := len(privs)

	pubs := make([]uint64, n)
	for i, priv := range privs {
		pubs[i] = GenPublic(priv)
	}

	intermediate := make([]uint64, n)
	for i := range privs {
		before := pubs[(i-1+n)%n]
		after := pubs[(i+1)%n]
		intermediate[i] = IntermediateValue(privs[i], before, after)
	}

	secrets := make([]uint64, n)
	for i := range privs {
		k, err := SharedSecret(privs[i], i, pubs, intermediate)
		require.NoError(t, err)
		secrets[i] = k
	}

	for i := 1; i < n; i++ {
		require.Equalf(t, secrets[0], secrets[i], "participant %d disagrees with participant 0", i)
	}

	return secrets[0]
}

func TestSharedSecretTwoParty(t *testing.T) {
	agree(t, []uint64{3, 7})
}

func TestSharedSecretThreeParty(t *testing.T) {
	agree(t, []uint64{3, 7, 11})
}

func TestSharedSecretChangesOnMembershipChange(t *testing.T) {
	k1 := agree(t, []uint64{3, 7, 11})
	k2 := agree(t, []uint64{3, 7})
	require.NotEqual(t, k1, k2)
}

func TestSharedSecretRejectsMismatchedSizes(t *testing.T) {
	_, err := SharedSecret(3, 0, []uint64{1, 2}, []uint64{1})
	require.Error(t, err)
}
