package mapping

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/worksync/go-trackers/core"
)

// segment is one step of a parsed field path. Either a map key or an
// array index, never both.
type segment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath splits a dotted path with optional bracketed numeric
// indices into segments. "fields.items[2].name" yields
// [{key:fields} {key:items} {index:2} {key:name}].
func parsePath(path string) ([]segment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, core.BadInputError("empty field path", map[string]any{"path": path})
	}

	var segs []segment
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			i++
			if i >= len(path) {
				return nil, core.BadInputError("field path ends with '.'", map[string]any{"path": path})
			}
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, core.BadInputError("unterminated '[' in field path", map[string]any{"path": path})
			}
			raw := path[i+1 : i+end]
			idx, err := strconv.Atoi(raw)
			if err != nil || idx < 0 {
				return nil, core.BadInputError(fmt.Sprintf("invalid array index %q in field path", raw), map[string]any{"path": path})
			}
			segs = append(segs, segment{index: idx, isIndex: true})
			i += end + 1
		default:
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			segs = append(segs, segment{key: path[i:j]})
			i = j
		}
	}
	if len(segs) == 0 {
		return nil, core.BadInputError("empty field path", map[string]any{"path": path})
	}
	if segs[0].isIndex {
		return nil, core.BadInputError("field path cannot start with an array index", map[string]any{"path": path})
	}
	return segs, nil
}

// GetPath resolves a dotted path against a decoded record. The second
// return is false when any step is missing or the intermediate value is
// not a container of the expected shape.
func GetPath(record map[string]any, path string) (any, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}

	var cur any = record
	for _, seg := range segs {
		if seg.isIndex {
			arr, ok := cur.([]any)
			if !ok || seg.index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg.key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// SetPath writes value at the given path, creating intermediate maps
// and growing arrays as needed. An existing scalar in the way of an
// intermediate step is replaced with a fresh container.
func SetPath(record map[string]any, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	_, err = assignSegments(record, segs, value)
	return err
}

// assignSegments recursively writes value under segs, returning the
// possibly reallocated container so callers can write it back.
func assignSegments(container any, segs []segment, value any) (any, error) {
	seg := segs[0]

	if seg.isIndex {
		arr, ok := container.([]any)
		if !ok {
			arr = nil
		}
		for len(arr) <= seg.index {
			arr = append(arr, nil)
		}
		if len(segs) == 1 {
			arr[seg.index] = value
			return arr, nil
		}
		child := arr[seg.index]
		if !isContainer(child, segs[1]) {
			child = newContainer(segs[1])
		}
		updated, err := assignSegments(child, segs[1:], value)
		if err != nil {
			return nil, err
		}
		arr[seg.index] = updated
		return arr, nil
	}

	m, ok := container.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	if len(segs) == 1 {
		m[seg.key] = value
		return m, nil
	}
	child := m[seg.key]
	if !isContainer(child, segs[1]) {
		child = newContainer(segs[1])
	}
	updated, err := assignSegments(child, segs[1:], value)
	if err != nil {
		return nil, err
	}
	m[seg.key] = updated
	return m, nil
}

func isContainer(v any, next segment) bool {
	if next.isIndex {
		_, ok := v.([]any)
		return ok
	}
	_, ok := v.(map[string]any)
	return ok
}

func newContainer(next segment) any {
	if next.isIndex {
		return []any{}
	}
	return map[string]any{}
}
