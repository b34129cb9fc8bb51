package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// OutOfRangeError is returned when an offset or size falls outside the block that is meant to contain it
var OutOfRangeError error = errors.New("range lies outside of the block")
