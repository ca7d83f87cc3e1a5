// Package codec produces deterministic RFC 8785 (JCS) encodings of structured
// records and the SHA-256 digests used to content-address them.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/gowebpki/jcs"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

// Canonicalize 返回 v 的规范化 JSON 字节：键按字典序排列、无空白。
// 相同逻辑内容无论原始键顺序如何，输出都逐字节一致。
// NaN、Inf、循环引用以及无法表示为 JSON 的类型会返回 ENCODING_ERROR。
func Canonicalize(v any) ([]byte, error) {
	w := walker{seen: make(map[uintptr]struct{})}
	if err := w.check(reflect.ValueOf(v), "$"); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "序列化失败")
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "规范化失败")
	}
	return out, nil
}

// Hash 返回 data 的 SHA-256 十六进制摘要。
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Digest 等价于 Hash(Canonicalize(v))。
func Digest(v any) (string, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return Hash(data), nil
}

type walker struct {
	seen map[uintptr]struct{}
}

func (w walker) check(v reflect.Value, path string) error {
	if !v.IsValid() {
		return nil
	}

	if v.Kind() != reflect.Interface && v.Kind() != reflect.Pointer && v.Type().Implements(marshalerType) {
		return nil
	}

	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return unsupported(path, "非有限浮点数 %v", f)
		}
	case reflect.Complex64, reflect.Complex128:
		return unsupported(path, "不支持复数类型 %s", v.Type())
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return unsupported(path, "不支持的类型 %s", v.Type())
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.check(v.Elem(), path)
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if v.Type().Implements(marshalerType) {
			return nil
		}
		return w.enter(v, path, func() error { return w.check(v.Elem(), path) })
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		return w.enter(v, path, func() error {
			iter := v.MapRange()
			for iter.Next() {
				if err := w.check(iter.Value(), fmt.Sprintf("%s.%v", path, iter.Key())); err != nil {
					return err
				}
			}
			return nil
		})
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		return w.enter(v, path, func() error { return w.checkElems(v, path) })
	case reflect.Array:
		return w.checkElems(v, path)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag := field.Tag.Get("json"); tag != "" {
				if tag == "-" {
					continue
				}
				if idx := strings.IndexByte(tag, ','); idx > 0 {
					name = tag[:idx]
				} else if idx < 0 {
					name = tag
				}
			}
			if err := w.check(v.Field(i), path+"."+name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w walker) checkElems(v reflect.Value, path string) error {
	for i := 0; i < v.Len(); i++ {
		if err := w.check(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// enter 记录正在访问的引用，再次进入同一引用即视为循环。
func (w walker) enter(v reflect.Value, path string, fn func() error) error {
	ptr := v.Pointer()
	if ptr == 0 {
		return fn()
	}
	if _, ok := w.seen[ptr]; ok {
		return unsupported(path, "检测到循环引用")
	}
	w.seen[ptr] = struct{}{}
	defer delete(w.seen, ptr)
	return fn()
}

func unsupported(path, format string, args ...any) error {
	return xerrors.New(xerrors.CodeEncoding, fmt.Sprintf(format, args...), xerrors.WithMetadata("path", path))
}
