package dslog

import (
	"reflect"
)

// GetPointer do the same thing like fmt.Sprintf("%p", &num) but fast.
// Used to tag log lines with the identity of a connection handle.
func GetPointer(value any) uint {
	ptr := reflect.ValueOf(value).Pointer()
	uintPtr := uintptr(ptr)
	return uint(uintPtr)
}
