package decode

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 是否启用宽松解码（默认 true）：
	// 例如 "123" -> int、1.0 -> int64 等。
	WeaklyTypedInput bool
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// WithWeaklyTypedInput 便捷开关。
func WithWeaklyTypedInput(v bool) Options {
	return Options{WeaklyTypedInput: v}
}

// DecodeMap 将 map[string]any 动态解码到任意结构体 T。
// T 通常是按 event_type 定义的业务负载。
// 结构体字段读取使用 `json` tag。
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("payload map is nil")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			stringToInt64Hook(),
		),
	}
	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, err
	}
	return &out, nil
}

// floatToIntHook：JSON 反序列化后数字默认是 float64，这里落回整型
func floatToIntHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.Float64 {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			return int64(data.(float64)), nil
		default:
			return data, nil
		}
	}
}

// stringToInt64Hook："123" -> 123（上游偶尔把数值写成字符串）
func stringToInt64Hook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Int64 {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return int64(0), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return data, nil
		}
		return n, nil
	}
}
