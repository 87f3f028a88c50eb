package crypto

// IsSafePrime reports whether candidate is a safe prime: candidate is
// prime and (candidate-1)/2 is also prime. It is a diagnostic helper, not
// on the hot path of the protocol — P is a fixed constant — but is kept
// as a grounded supplement for verifying alternate parameter choices.
func IsSafePrime(candidate uint64) bool {
	if candidate < 5 || candidate%2 == 0 {
		return false
	}
	return millerRabin(candidate) && millerRabin((candidate-1)/2)
}

// millerRabin is a fixed-round Miller-Rabin primality test, sufficient for
// the 32-bit candidates this package deals with.
func millerRabin(n uint64) bool {
	if n < 2 {
		return false
	}
	for _, p := range []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31} {
		if n == p {
			return true
		}
		if n%p == 0 {
			return false
		}
	}

	d := n - 1
	r := 0
	for d%2 == 0 {
		d /= 2
		r++
	}

	// Deterministic witness set, valid for all n < 318,665,857,834,031,151,167,461
	// (well beyond the 32-bit range used by this package).
	witnesses := []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37}
	for _, a := range witnesses {
		if a >= n {
			continue
		}
		if !isWitnessComposite(a, d, n, r) {
			continue
		}
		return false
	}

	return true
}

func isWitnessComposite(a, d, n uint64, r int) bool {
	x := ModExp(a, d, n)
	if x == 1 || x == n-1 {
		return false
	}
	for i := 0; i < r-1; i++ {
		x = mulMod(x, x, n)
		if x == n-1 {
			return false
		}
	}
	return true
}
