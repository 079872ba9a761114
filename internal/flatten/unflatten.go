package flatten

import "fmt"

// Unflatten re-nests leaves into map[string]any / []any values, the inverse of
// Leaves for documents without empty objects or arrays. Array slots that no
// leaf addresses are left nil.
func Unflatten(fields []Field) (any, error) {
	var root any
	for _, f := range fields {
		if err := place(&root, f.Path, f.Value.Interface()); err != nil {
			return nil, fmt.Errorf("unflatten %s: %w", displayName(f.Name), err)
		}
	}
	return root, nil
}

func place(dst *any, path Path, v any) error {
	if len(path) == 0 {
		if *dst != nil {
			return fmt.Errorf("leaf overlaps an existing value")
		}
		*dst = v
		return nil
	}
	seg, rest := path[0], path[1:]

	if seg.IsIndex {
		arr, ok := (*dst).([]any)
		if !ok && *dst != nil {
			return fmt.Errorf("index %d under a non-array", seg.Index)
		}
		if seg.Index >= len(arr) {
			arr = append(arr, make([]any, seg.Index+1-len(arr))...)
		}
		child := arr[seg.Index]
		if err := place(&child, rest, v); err != nil {
			return err
		}
		arr[seg.Index] = child
		*dst = arr
		return nil
	}

	obj, ok := (*dst).(map[string]any)
	if !ok {
		if *dst != nil {
			return fmt.Errorf("key %q under a non-object", seg.Key)
		}
		obj = make(map[string]any)
		*dst = obj
	}
	child := obj[seg.Key]
	if err := place(&child, rest, v); err != nil {
		return err
	}
	obj[seg.Key] = child
	return nil
}
