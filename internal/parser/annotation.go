package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// AnnotationKind is the declaration an annotation introduces.
type AnnotationKind string

const (
	Native   AnnotationKind = "native"   // struct of func fields: one binding
	Struct   AnnotationKind = "struct"   // struct with a native layout
	Callback AnnotationKind = "callback" // func type or interface usable as a callback
	Enum     AnnotationKind = "enum"     // named integer type
	Stub     AnnotationKind = "stub"     // interface method native code calls
)

// Annotation holds a parsed @kind annotation.
type Annotation struct {
	Kind    AnnotationKind
	Target  string // @native: owner name matched by bind.WithTarget
	Charset string // @native, @callback: default string charset
}

var (
	annotationRe = regexp.MustCompile(`^@(native|struct|callback|enum|stub)\b(?:\s+(.*))?$`)
	pairRe       = regexp.MustCompile(`^(\w+)=([\w.-]+)$`)
)

// ParseAnnotation parses an annotation from comment text
//
// Expected format:
//
//	// @native
//	// @native target=LibC charset=UTF-8
//	// @struct
//	// @callback charset=UTF-16LE
//	// @enum
//	// @stub
//
// Params are space-separated key=value pairs.
func ParseAnnotation(comment string) (*Annotation, error) {
	matches := annotationRe.FindStringSubmatch(strings.TrimSpace(comment))
	if matches == nil {
		return nil, fmt.Errorf("no annotation found")
	}

	anno := &Annotation{Kind: AnnotationKind(matches[1])}
	if matches[2] == "" {
		return anno, nil
	}

	for _, field := range strings.Fields(matches[2]) {
		pair := pairRe.FindStringSubmatch(field)
		if pair == nil {
			return nil, fmt.Errorf("@%s: malformed parameter %q", anno.Kind, field)
		}
		key, value := pair[1], pair[2]

		switch {
		case key == "target" && anno.Kind == Native:
			anno.Target = value
		case key == "charset" && (anno.Kind == Native || anno.Kind == Callback):
			anno.Charset = value
		default:
			return nil, fmt.Errorf("@%s: unknown parameter: %s", anno.Kind, key)
		}
	}

	return anno, nil
}

// FindAnnotation searches comment lines for an annotation. A malformed
// annotation is reported rather than skipped.
func FindAnnotation(comments []string) (*Annotation, bool, error) {
	for _, comment := range comments {
		if !strings.HasPrefix(comment, "@") {
			continue
		}
		anno, err := ParseAnnotation(comment)
		if err != nil {
			if annotationRe.MatchString(comment) {
				return nil, false, err
			}
			continue
		}
		return anno, true, nil
	}
	return nil, false, nil
}

// CleanComment removes comment markers from a line
// "// @native target=LibC" → "@native target=LibC"
// "/* @struct */" → "@struct"
func CleanComment(line string) string {
	line = strings.TrimSpace(line)

	// Remove // prefix
	if strings.HasPrefix(line, "//") {
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimSpace(line)
		return line
	}

	// Remove /* */ wrapper
	if strings.HasPrefix(line, "/*") && strings.HasSuffix(line, "*/") {
		line = strings.TrimPrefix(line, "/*")
		line = strings.TrimSuffix(line, "*/")
		line = strings.TrimSpace(line)
		return line
	}

	return line
}
