// Package textutil compares transcripts by vocabulary.
//
// A Fingerprint is a term-frequency vector over lowercase alphanumeric tokens
// of at least three characters, with common English filler words removed. A
// Corpus turns a set of fingerprints into IDF weights so that words every
// participant says carry little weight when two transcripts are compared.
package textutil
