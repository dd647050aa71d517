// Package main converts a trained SavedModel into the int8 model file run
// on the edge device. A directory of representative images calibrates the
// activation ranges.
package main
