package internal

import (
	"fmt"
	"strings"
)

// StructName returns the package qualified type name of v, without the pointer marker.
// fmt.Stringer values are described by their String method.
func StructName(v interface{}) string {
	if v == nil {
		return "none"
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}

	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
