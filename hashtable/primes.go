package hashtable

import (
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// Table sizes are drawn from this list. Each entry is roughly 1.2x the one before it, which keeps
// rehash costs bounded without jumping straight to double the memory.
var primes = []int{
	3, 7, 11, 17, 23, 29, 37, 47, 59, 71, 89, 107, 131, 163, 197, 239, 293, 353, 431, 521, 631, 761, 919,
	1103, 1327, 1597, 1931, 2333, 2801, 3371, 4049, 4861, 5839, 7013, 8419, 10103, 12143, 14591,
	17519, 21023, 25229, 30293, 36353, 43627, 52361, 62851, 75431, 90523, 108631, 130363, 156437,
	187751, 225307, 270371, 324449, 389357, 467237, 560689, 672827, 807403, 968897, 1162687, 1395263,
	1674319, 2009191, 2411033, 2893249, 3471899, 4166287, 4999559, 5999471, 7199369,
}

// Index of the last entry nextPrime returned. Tables tend to ask for the same few sizes repeatedly.
var lastPrime atomic.Int32

// nextPrime returns the smallest prime in the table that is >= n. Past the end of the table, it
// searches odd numbers directly.
func nextPrime(n int) int {
	index := int(lastPrime.Load())
	if primes[index] >= n && (index == 0 || primes[index-1] < n) {
		return primes[index]
	}

	index, _ = slices.BinarySearch(primes, n)
	if index < len(primes) {
		lastPrime.Store(int32(index))
		return primes[index]
	}

	candidate := n | 1
	for !isPrime(candidate) {
		candidate += 2
	}
	return candidate
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}

	for divisor := 3; divisor*divisor <= n; divisor += 2 {
		if n%divisor == 0 {
			return false
		}
	}
	return true
}
