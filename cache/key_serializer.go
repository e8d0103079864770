package cache

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

var timeType = reflect.TypeOf(time.Time{})

// defaultKeySerializer implements KeySerializer using reflection-based serialization.
// It recurses into pointers, slices, maps and structs and falls back to JSON
// for anything else, so equal arguments always produce equal keys.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey builds a cache key from method name and args using reflection.
func (s *defaultKeySerializer) SerializeKey(method string, args ...any) string {
	if len(args) == 0 {
		return method
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, method)
	for _, arg := range args {
		parts = append(parts, s.serializeValue(reflect.ValueOf(arg)))
	}

	return strings.Join(parts, KeySeparator)
}

// serializeValue handles individual argument serialization based on kind.
func (s *defaultKeySerializer) serializeValue(rv reflect.Value) string {
	if !rv.IsValid() {
		return "nil"
	}

	if rv.Type() == timeType {
		return rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano)
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return s.serializeValue(rv.Elem())
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return fmt.Sprintf("slice[%d]:{%s}", rv.Len(), s.serializeElems(rv))
	case reflect.Array:
		return fmt.Sprintf("array[%d]:{%s}", rv.Len(), s.serializeElems(rv))
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return s.serializeMap(rv)
	case reflect.Struct:
		return s.serializeStruct(rv)
	case reflect.Func, reflect.Chan:
		return fmt.Sprintf("%s:%#x", rv.Kind(), rv.Pointer())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	}

	return s.jsonFallback(rv)
}

func (s *defaultKeySerializer) serializeElems(rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = s.serializeValue(rv.Index(i))
	}
	return strings.Join(parts, ",")
}

// serializeMap handles map serialization with sorted keys for determinism
func (s *defaultKeySerializer) serializeMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, s.serializeValue(iter.Key())+"="+s.serializeValue(iter.Value()))
	}
	sort.Strings(pairs)
	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

// serializeStruct handles struct serialization with field names, skipping
// unexported fields and zero values so that adding an optional filter field
// does not change the keys of existing queries.
func (s *defaultKeySerializer) serializeStruct(rv reflect.Value) string {
	rt := rv.Type()
	parts := make([]string, 0, rv.NumField())

	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := rv.Field(i)
		if fv.IsZero() {
			continue
		}
		parts = append(parts, field.Name+":"+s.serializeValue(fv))
	}

	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

// jsonFallback provides JSON serialization as a last resort
func (s *defaultKeySerializer) jsonFallback(rv reflect.Value) string {
	if !rv.CanInterface() {
		return "fallback:" + rv.Type().String()
	}
	data, err := json.Marshal(rv.Interface())
	if err != nil {
		return "fallback:" + rv.Type().String()
	}
	return "json:" + string(data)
}

// hashedKeySerializer prefixes keys and replaces the argument part with its
// xxhash digest so composite keys stay short regardless of filter size.
type hashedKeySerializer struct {
	prefix string
	inner  KeySerializer
}

// NewHashedKeySerializer wraps the default serializer. Keys have the form
// prefix + method + ":" + hex(xxhash(serialized args)).
func NewHashedKeySerializer(prefix string) KeySerializer {
	return &hashedKeySerializer{prefix: prefix, inner: NewDefaultKeySerializer()}
}

// SerializeKey implements KeySerializer.
func (s *hashedKeySerializer) SerializeKey(method string, args ...any) string {
	if len(args) == 0 {
		return s.prefix + method
	}
	raw := s.inner.SerializeKey(method, args...)
	return s.prefix + method + ":" + strconv.FormatUint(xxhash.Sum64String(raw), 16)
}
