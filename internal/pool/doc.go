// Package pool runs a work function over a stream of indexed jobs with a fixed
// number of worker goroutines.
package pool
