package parser

import (
	"testing"
)

func TestParseAnnotation(t *testing.T) {
	tests := []struct {
		comment     string
		wantKind    AnnotationKind
		wantTarget  string
		wantCharset string
		wantErr     bool
	}{
		// Valid annotations
		{"@native", Native, "", "", false},
		{"@native target=LibC", Native, "LibC", "", false},
		{"@native target=LibC charset=UTF-16LE", Native, "LibC", "UTF-16LE", false},
		{"@native charset=UTF-8 target=LibC", Native, "LibC", "UTF-8", false}, // Order doesn't matter
		{"@struct", Struct, "", "", false},
		{"@callback charset=ISO-8859-1", Callback, "", "ISO-8859-1", false},
		{"@enum", Enum, "", "", false},
		{"@stub", Stub, "", "", false},

		// Error cases
		{"", "", "", "", true},                     // no annotation
		{"target=LibC", "", "", "", true},          // missing @native
		{"@nativeLib", "", "", "", true},           // not a word boundary
		{"@native target", "", "", "", true},       // missing value
		{"@native size=4096", "", "", "", true},    // unknown param
		{"@struct target=Point", "", "", "", true}, // target on a struct
		{"@enum charset=UTF-8", "", "", "", true},  // charset on an enum
		{"@layout size=4096", "", "", "", true},    // unknown kind
	}

	for _, tt := range tests {
		t.Run(tt.comment, func(t *testing.T) {
			got, err := ParseAnnotation(tt.comment)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAnnotation(%q) expected error, got nil", tt.comment)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseAnnotation(%q) unexpected error: %v", tt.comment, err)
			}

			if got.Kind != tt.wantKind {
				t.Errorf("ParseAnnotation(%q).Kind = %q, want %q", tt.comment, got.Kind, tt.wantKind)
			}

			if got.Target != tt.wantTarget {
				t.Errorf("ParseAnnotation(%q).Target = %q, want %q", tt.comment, got.Target, tt.wantTarget)
			}

			if got.Charset != tt.wantCharset {
				t.Errorf("ParseAnnotation(%q).Charset = %q, want %q", tt.comment, got.Charset, tt.wantCharset)
			}
		})
	}
}

func TestCleanComment(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"// @native target=LibC", "@native target=LibC"},
		{"  //   @native target=LibC  ", "@native target=LibC"},
		{"/* @struct */", "@struct"},
		{"  /*  @struct  */  ", "@struct"},
		{"@enum", "@enum"}, // no markers
		{"", ""},
	}

	for _, tt := range tests {
		got := CleanComment(tt.input)
		if got != tt.want {
			t.Errorf("CleanComment(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindAnnotation(t *testing.T) {
	tests := []struct {
		name      string
		comments  []string
		wantKind  AnnotationKind
		wantFound bool
		wantErr   bool
	}{
		{
			name: "found in first line",
			comments: []string{
				"@struct",
				"other comment",
			},
			wantKind:  Struct,
			wantFound: true,
		},
		{
			name: "found in second line",
			comments: []string{
				"Point is a 2D point.",
				"@native target=Geometry",
			},
			wantKind:  Native,
			wantFound: true,
		},
		{
			name: "unrelated at-words are skipped",
			comments: []string{
				"@deprecated use Other",
				"@enum",
			},
			wantKind:  Enum,
			wantFound: true,
		},
		{
			name: "malformed annotation is an error",
			comments: []string{
				"@native bogus=1",
			},
			wantErr: true,
		},
		{
			name: "not found",
			comments: []string{
				"Just a comment",
				"Another comment",
			},
			wantFound: false,
		},
		{
			name:      "empty comments",
			comments:  []string{},
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found, err := FindAnnotation(tt.comments)

			if tt.wantErr {
				if err == nil {
					t.Errorf("FindAnnotation() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("FindAnnotation() unexpected error: %v", err)
			}

			if found != tt.wantFound {
				t.Errorf("FindAnnotation() found = %v, want %v", found, tt.wantFound)
				return
			}

			if !tt.wantFound {
				return
			}

			if got.Kind != tt.wantKind {
				t.Errorf("FindAnnotation().Kind = %q, want %q", got.Kind, tt.wantKind)
			}
		})
	}
}
