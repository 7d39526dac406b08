package log

import (
	"fmt"

	"go.uber.org/zap"
)

// toFields converts logr-style key/value arguments into zap fields.
// A bare error or zap.Field may appear anywhere in the list. A trailing
// unpaired value is kept under "arg#N", a non-string key under "invalid_key_N".
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i += 2

		k, ok := key.(string)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", i/2), map[string]any{
				"key":   key,
				"value": val,
			}))
			continue
		}

		// zap.Any picks the typed constructor (ints, durations, times,
		// errors, Stringers, byte slices) and falls back to reflection.
		fields = append(fields, zap.Any(k, val))
	}

	return fields
}
