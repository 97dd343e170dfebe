package dataset

import (
	"fmt"
	"path/filepath"
)

// LabelPolicy assigns a class index to a video path.
type LabelPolicy interface {
	Label(path string) (int, error)
}

// LabelFunc adapts a function to LabelPolicy.
type LabelFunc func(path string) (int, error)

// Label calls f.
func (f LabelFunc) Label(path string) (int, error) { return f(path) }

// ConstantLabel gives every video the same label.
func ConstantLabel(label int) LabelPolicy {
	return LabelFunc(func(string) (int, error) { return label, nil })
}

// ParentDirLabel labels a video by the name of the directory containing it,
// using its position in classes.
func ParentDirLabel(classes []string) LabelPolicy {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return LabelFunc(func(path string) (int, error) {
		dir := filepath.Base(filepath.Dir(path))
		if i, ok := index[dir]; ok {
			return i, nil
		}
		return 0, fmt.Errorf("%w: %s (directory %q)", ErrUnknownLabel, path, dir)
	})
}
