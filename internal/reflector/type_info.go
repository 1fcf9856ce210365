// Package reflector derives stable names for Go types. Event kinds that do not
// declare their own tag are named after their type.
package reflector

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
)

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

// TypeInfo holds naming metadata about a reflected type.
type TypeInfo struct {
	Name  string       // "pkg/path.TypeName"
	Snake string       // "type_name"
	Type  reflect.Type // pointer types are unwrapped
}

func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

// TypeInfoForType returns TypeInfo for t, unwrapping one level of pointer.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	ti = TypeInfo{
		Name:  t.PkgPath() + "." + t.Name(),
		Snake: Snake(t.Name()),
		Type:  t,
	}

	muCache.Lock()
	cache[t] = ti
	muCache.Unlock()
	return ti
}

// Snake converts a Go identifier to snake case: "OrderPaidEvent" -> "order_paid_event",
// "HTTPRequest" -> "http_request".
func Snake(s string) string {
	var (
		b     strings.Builder
		runes = []rune(s)
	)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
