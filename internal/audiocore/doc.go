// Package audiocore defines the audio-format model shared by every stage
// of the engine: decoder, player, output, the chunk/pipe substrate, and
// the cross-fade calculator. Subpackages implement each stage; this
// package holds only the vocabulary they all depend on.
package audiocore
