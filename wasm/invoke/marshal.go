package invoke

import (
	"fmt"
	"strconv"
	"strings"

	"huawei.com/wasm-runner/wasm/interfaces"
)

// ParseArgs converts args into call values, one per parameter of sig.
func ParseArgs(sig interfaces.Signature, args []string) ([]interface{}, error) {
	if len(args) != len(sig.Params) {
		return nil, &ArityMismatchError{
			Raw:      strings.Join(args, " "),
			Expected: len(sig.Params),
			Received: len(args),
		}
	}

	values := make([]interface{}, len(args))

	for i, arg := range args {
		value, err := ParseValue(sig.Params[i], arg)
		if err != nil {
			return nil, err
		}

		values[i] = value
	}

	return values, nil
}

func ParseValue(kind interfaces.ValueKind, arg string) (interface{}, error) {
	var (
		value interface{}
		err   error
	)

	switch kind {
	case interfaces.KindI32:
		var v int64
		v, err = strconv.ParseInt(arg, 10, 32)
		value = int32(v)
	case interfaces.KindI64:
		value, err = strconv.ParseInt(arg, 10, 64)
	case interfaces.KindF32:
		var v float64
		v, err = strconv.ParseFloat(arg, 32)
		value = float32(v)
	case interfaces.KindF64:
		value, err = strconv.ParseFloat(arg, 64)
	default:
		return nil, &ArgumentConversionError{Arg: arg, Kind: kind, Unsupported: true}
	}

	if err != nil {
		return nil, &ArgumentConversionError{Err: err, Arg: arg, Kind: kind}
	}

	return value, nil
}

// FormatResults renders results space separated, in return order.
func FormatResults(results []interface{}) string {
	formatted := make([]string, len(results))

	for i, result := range results {
		formatted[i] = FormatValue(result)
	}

	return strings.Join(formatted, " ")
}

func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
