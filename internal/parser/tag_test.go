package parser

import (
	"testing"
)

func TestParseMethodTag(t *testing.T) {
	tests := []struct {
		tag          string
		wantEntry    string
		wantCritical bool
		wantHeap     bool
		wantOptional bool
		wantByValue  bool
		wantRet      ValueOptions
		wantErr      bool
	}{
		// Entrypoint only
		{"", "", false, false, false, false, ValueOptions{}, false},
		{"strlen", "strlen", false, false, false, false, ValueOptions{}, false},

		// Flags
		{"abs,critical", "abs", true, false, false, false, ValueOptions{}, false},
		{",heap", "", false, true, false, false, ValueOptions{}, false},
		{"getenv,optional", "getenv", false, false, true, false, ValueOptions{}, false},
		{"origin,byvalue,critical", "origin", true, false, false, true, ValueOptions{}, false},

		// Return options
		{"name,ret.size=16", "name", false, false, false, false, ValueOptions{Size: 16}, false},
		{"name,ret.charset=UTF-16LE", "name", false, false, false, false, ValueOptions{Charset: "UTF-16LE"}, false},
		{"ok,ret.bool=int32", "ok", false, false, false, false, ValueOptions{BoolAs: "int32"}, false},

		// Error cases
		{"a b", "", false, false, false, false, ValueOptions{}, true},          // space in entrypoint
		{"size=4", "", false, false, false, false, ValueOptions{}, true},       // option as entrypoint
		{"f,fast", "", false, false, false, false, ValueOptions{}, true},       // unknown flag
		{"f,ret.size=0", "", false, false, false, false, ValueOptions{}, true}, // zero size
		{"f,ret.bool=float32", "", false, false, false, false, ValueOptions{}, true},
		{"f,ret.align=8", "", false, false, false, false, ValueOptions{}, true}, // unknown option
		{"f,size=8", "", false, false, false, false, ValueOptions{}, true},      // missing ret. prefix
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := ParseMethodTag(tt.tag)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseMethodTag(%q) expected error, got nil", tt.tag)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseMethodTag(%q) unexpected error: %v", tt.tag, err)
			}

			if got.Entrypoint != tt.wantEntry {
				t.Errorf("ParseMethodTag(%q).Entrypoint = %q, want %q", tt.tag, got.Entrypoint, tt.wantEntry)
			}

			if got.Critical != tt.wantCritical || got.Heap != tt.wantHeap ||
				got.Optional != tt.wantOptional || got.ByValue != tt.wantByValue {
				t.Errorf("ParseMethodTag(%q) flags = {critical=%v heap=%v optional=%v byvalue=%v}, want {%v %v %v %v}",
					tt.tag, got.Critical, got.Heap, got.Optional, got.ByValue,
					tt.wantCritical, tt.wantHeap, tt.wantOptional, tt.wantByValue)
			}

			if got.Ret != tt.wantRet {
				t.Errorf("ParseMethodTag(%q).Ret = %+v, want %+v", tt.tag, got.Ret, tt.wantRet)
			}
		})
	}
}

func TestParseArgsTag(t *testing.T) {
	tests := []struct {
		tag     string
		want    map[string]ValueOptions
		wantErr bool
	}{
		{"", map[string]ValueOptions{}, false},
		{"buf:ref", map[string]ValueOptions{"buf": {Ref: true}}, false},
		{"buf:ref,size=64", map[string]ValueOptions{"buf": {Ref: true, Size: 64}}, false},
		{"s:nullable;out:ref", map[string]ValueOptions{"s": {Nullable: true}, "out": {Ref: true}}, false},
		{"seg:byvalue,size=8", map[string]ValueOptions{"seg": {ByValue: true, Size: 8}}, false},
		{"name:charset=UTF-16LE", map[string]ValueOptions{"name": {Charset: "UTF-16LE"}}, false},
		{"flag:bool=int8", map[string]ValueOptions{"flag": {BoolAs: "int8"}}, false},
		{" a:ref ; b:nullable ", map[string]ValueOptions{"a": {Ref: true}, "b": {Nullable: true}}, false},

		// Error cases
		{"buf", nil, true},              // missing options
		{":ref", nil, true},             // missing name
		{"buf:copy", nil, true},         // unknown option
		{"buf:size=-1", nil, true},      // negative size
		{"buf:size=", nil, true},        // empty value
		{"a:ref;a:nullable", nil, true}, // duplicate entry
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := ParseArgsTag(tt.tag)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseArgsTag(%q) expected error, got nil", tt.tag)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseArgsTag(%q) unexpected error: %v", tt.tag, err)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("ParseArgsTag(%q) has %d entries, want %d", tt.tag, len(got), len(tt.want))
			}
			for name, want := range tt.want {
				opts, ok := got[name]
				if !ok {
					t.Errorf("ParseArgsTag(%q) missing %s", tt.tag, name)
					continue
				}
				if *opts != want {
					t.Errorf("ParseArgsTag(%q)[%s] = %+v, want %+v", tt.tag, name, *opts, want)
				}
			}
		})
	}
}

func TestParseFieldTag(t *testing.T) {
	tests := []struct {
		tag      string
		wantPad  bool
		wantSkip bool
		wantErr  bool
	}{
		{"", false, false, false},
		{"pad", true, false, false},
		{"-", false, true, false},
		{" pad ", true, false, false},
		{"@0", false, false, true},
		{"pad,4", false, false, true},
	}

	for _, tt := range tests {
		got, err := ParseFieldTag(tt.tag)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFieldTag(%q) expected error, got nil", tt.tag)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFieldTag(%q) unexpected error: %v", tt.tag, err)
			continue
		}
		if got.Pad != tt.wantPad || got.Skip != tt.wantSkip {
			t.Errorf("ParseFieldTag(%q) = %+v, want {Pad:%v Skip:%v}", tt.tag, *got, tt.wantPad, tt.wantSkip)
		}
	}
}
