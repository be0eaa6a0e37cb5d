// Package testutil provides fixtures and deterministic corpus
// generation for tests and benchmarks.
//
// This package is intended for use in tests only.
//
// # Fixed fixtures
//
//	tax := testutil.Taxonomy()      // the four-dimension taxonomy
//	rows := testutil.Examples()     // two rows with disjoint vocabularies
//
// # Synthetic corpora
//
//	g := testutil.NewGenerator(42)
//	rows := g.Examples(100)
//
// The generator draws from fixed per-label vocabulary pools, so the
// same seed always yields the same corpus and the labels stay
// consistent with the message text.
package testutil
