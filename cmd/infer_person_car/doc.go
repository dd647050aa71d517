// Package main runs the int8 person/car model on image files and prints the
// scores of each, one line per image.
package main
