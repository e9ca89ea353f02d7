//go:build !race

package uas

// DefaultBcryptCost is used when no cost is configured.
const DefaultBcryptCost = 12

func passwordHashCost() int {
	return DefaultBcryptCost
}
