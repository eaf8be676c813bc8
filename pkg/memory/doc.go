// Package memory samples process memory for the batch runner's backpressure.
//
// Sampling is best effort: a Monitor returns Unknown (-1) rather than an
// error, and callers treat Unknown as "not over the limit".
package memory
