// Package transform implements the Response Transform pipeline (spec.md
// §4.10, component C10): a sequence of declarative steps applied, in
// order, to a JSON value, each addressing a path and applying one of
// map/date_format/template/regex_replace/remove.
package transform

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonvalue"
)

// Apply runs steps in order over input and returns the transformed value.
// input is never mutated (it is deep-copied up front); re-running the same
// steps over the result is a fixed point (spec.md §8 invariant 10).
func Apply(input jsonvalue.Value, steps []config.TransformStep) jsonvalue.Value {
	result := input.Clone()
	for _, step := range steps {
		result = applyStep(result, parsePath(step.Path), step)
	}
	return result
}

type segment struct {
	name    string
	iterate bool
	isRoot  bool
}

// parsePath splits a transform path into segments. "." separates fields;
// a trailing "[]" on a segment marks "iterate each element of the array at
// this point"; the literal segment "_root[]" addresses the value itself
// when it is an array (spec.md §4.10).
func parsePath(path string) []segment {
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		iterate := strings.HasSuffix(p, "[]")
		name := strings.TrimSuffix(p, "[]")
		segs = append(segs, segment{name: name, iterate: iterate, isRoot: name == "_root"})
	}
	return segs
}

// applyStep walks segs over v, applying step at the addressed location(s).
// Missing intermediate segments are a silent no-op, per spec.md §4.10.
func applyStep(v jsonvalue.Value, segs []segment, step config.TransformStep) jsonvalue.Value {
	if len(segs) == 0 {
		return v
	}
	seg := segs[0]
	rest := segs[1:]

	if seg.isRoot {
		arr, ok := v.Array()
		if !ok {
			return v
		}
		return applyToArray(arr, rest, step, func(rebuilt []jsonvalue.Value) jsonvalue.Value {
			return jsonvalue.Array(rebuilt)
		})
	}

	child, ok := v.Get(seg.name)
	if !ok {
		return v
	}

	if !seg.iterate {
		if len(rest) == 0 {
			return applyLeafOrRemove(v, seg.name, child, step)
		}
		return v.WithField(seg.name, applyStep(child, rest, step))
	}

	arr, ok := child.Array()
	if !ok {
		return v
	}
	return applyToArray(arr, rest, step, func(rebuilt []jsonvalue.Value) jsonvalue.Value {
		return v.WithField(seg.name, jsonvalue.Array(rebuilt))
	})
}

// applyToArray applies step to every element of arr (when rest is empty,
// the array itself is the addressed target; otherwise each element
// continues the walk), then hands the rebuilt slice to wrap.
func applyToArray(arr []jsonvalue.Value, rest []segment, step config.TransformStep, wrap func([]jsonvalue.Value) jsonvalue.Value) jsonvalue.Value {
	if step.Transform == "remove" && len(rest) == 0 {
		return wrap(nil)
	}
	out := make([]jsonvalue.Value, len(arr))
	for i, item := range arr {
		if len(rest) == 0 {
			out[i] = applyLeaf(item, step)
		} else {
			out[i] = applyStep(item, rest, step)
		}
	}
	return wrap(out)
}

// applyLeafOrRemove handles the final, non-iterate segment of a path: a
// "remove" step drops the field from its parent object; every other
// transform replaces the field's value in place.
func applyLeafOrRemove(parent jsonvalue.Value, key string, child jsonvalue.Value, step config.TransformStep) jsonvalue.Value {
	if step.Transform == "remove" {
		return parent.WithoutField(key)
	}
	return parent.WithField(key, applyLeaf(child, step))
}

// applyLeaf applies a single non-remove transform to one value.
func applyLeaf(v jsonvalue.Value, step config.TransformStep) jsonvalue.Value {
	switch step.Transform {
	case "map":
		key := v.AsString()
		if step.Map != nil {
			if repl, ok := step.Map[key]; ok {
				return jsonvalue.FromAny(repl)
			}
		}
		return v
	case "date_format":
		return applyDateFormat(v, step.Format)
	case "template":
		rendered := strings.ReplaceAll(step.Template, "{value}", v.AsString())
		return jsonvalue.String(rendered)
	case "regex_replace":
		re, err := regexp.Compile(step.Pattern)
		if err != nil {
			return v
		}
		return jsonvalue.String(re.ReplaceAllString(v.AsString(), step.Replacement))
	default:
		return v
	}
}

var iso8601Layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// applyDateFormat parses v as an ISO-8601 timestamp and re-renders it per
// format's token string. Invalid input is returned unchanged.
func applyDateFormat(v jsonvalue.Value, format string) jsonvalue.Value {
	s, ok := v.String()
	if !ok {
		return v
	}

	var t time.Time
	var err error
	parsed := false
	for _, layout := range iso8601Layouts {
		if t, err = time.Parse(layout, s); err == nil {
			parsed = true
			break
		}
	}
	if !parsed {
		return v
	}

	return jsonvalue.String(formatDateTokens(t, format))
}

func formatDateTokens(t time.Time, format string) string {
	replacer := strings.NewReplacer(
		"YYYY", fmt.Sprintf("%04d", t.Year()),
		"MM", fmt.Sprintf("%02d", int(t.Month())),
		"DD", fmt.Sprintf("%02d", t.Day()),
		"HH", fmt.Sprintf("%02d", t.Hour()),
		"mm", fmt.Sprintf("%02d", t.Minute()),
		"ss", fmt.Sprintf("%02d", t.Second()),
	)
	return replacer.Replace(format)
}
