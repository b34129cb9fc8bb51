package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// CheckRange returns OutOfRangeError if [offset, offset+size) does not fit inside a block of blockSize units
func CheckRange(offset, size, blockSize int) error {
	if offset < 0 || size < 0 || offset+size > blockSize {
		return cerrors.Wrapf(OutOfRangeError, "range [%d, %d) in block of size %d", offset, offset+size, blockSize)
	}
	return nil
}
