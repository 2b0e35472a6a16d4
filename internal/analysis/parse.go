package analysis

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

var errNoJSON = errors.New("no JSON object in response")

// extractJSON returns the JSON payload of a reasoning response. A fenced
// block wins; otherwise the outermost braces are taken.
func extractJSON(text string) (string, error) {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), nil
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") {
		return text, nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", errNoJSON
	}
	return text[start : end+1], nil
}

func decodeJSON(text string, v any) error {
	payload, err := extractJSON(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), v)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v + 0.5)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
