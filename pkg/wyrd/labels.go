package wyrd

import (
	"sort"
	"strings"
)

// Same as "k8s.io/apimachinery/pkg/labels".Set
type Labels map[string]string

func (l Labels) Has(key string) bool {
	_, ok := l[key]
	return ok
}

func (l Labels) Get(key string) string {
	return l[key]
}

// Keys returns label keys in lexical order
func (l Labels) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// MergeLabels returns a new set of labels, later sets override keys of earlier ones
func MergeLabels(sets ...Labels) Labels {
	size := 0
	for _, s := range sets {
		size += len(s)
	}

	result := make(Labels, size)
	for _, s := range sets {
		for k, v := range s {
			result[k] = v
		}
	}

	return result
}

const maxLabelValueLength = 63

// SanitizeLabelValue maps a string onto the character set allowed in label values:
// alphanumerics, '-', '_' and '.', starting and ending with an alphanumeric.
func SanitizeLabelValue(value string) string {
	result := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, value)

	if len(result) > maxLabelValueLength {
		result = result[:maxLabelValueLength]
	}

	return strings.TrimFunc(result, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
}
