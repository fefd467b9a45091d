// Package testing provides deterministic fixtures for simulator tests:
// a scripted random source, a fixed epoch and validator builders.
//
//	rng := testing.NewScriptedRandom(0.9, 0.1)
//	nodes := testing.Honest(4)
package testing
