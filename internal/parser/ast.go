package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strings"
)

// File holds the annotated declarations of one Go source file.
type File struct {
	Package   string
	Structs   []*StructDecl
	Callbacks []*CallbackDecl
	Enums     []*EnumDecl
	Bindings  []*BindingDecl
	Aliases   map[string]string // type name → underlying type, for unannotated named types
}

// StructDecl is a struct annotated with @struct.
type StructDecl struct {
	Name   string
	Fields []Field
}

// Field represents a struct field with its native tag
type Field struct {
	Name   string
	GoType string
	Tag    *FieldTag
}

// CallbackDecl is a func type or interface annotated with @callback. A func
// type has a single method, named after the type, which is the stub.
type CallbackDecl struct {
	Name    string
	Anno    *Annotation
	Methods []*FuncDecl
}

// EnumDecl is a named integer type annotated with @enum.
type EnumDecl struct {
	Name   string
	GoType string
}

// BindingDecl is a struct of func fields annotated with @native.
type BindingDecl struct {
	Name    string
	Anno    *Annotation
	Methods []*FuncDecl
}

// FuncDecl is one method of a binding or callback.
type FuncDecl struct {
	Name    string
	Params  []ParamDecl
	Results []string
	Stub    bool                     // marked // @stub inside a @callback interface
	Tag     *MethodTag               // binding methods only
	Args    map[string]*ValueOptions // binding methods only
}

// ParamDecl is a named parameter. Unnamed parameters are called argN.
type ParamDecl struct {
	Name   string
	GoType string
}

// ParseFile parses a Go source file and extracts annotated declarations
func ParseFile(filename string) (*File, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, nil, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return extract(fset, file)
}

// ParseSource parses Go source text, as ParseFile does for a file.
func ParseSource(filename string, src []byte) (*File, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return extract(fset, file)
}

func extract(fset *token.FileSet, file *ast.File) (*File, error) {
	out := &File{Package: file.Name.Name, Aliases: make(map[string]string)}

	for _, decl := range file.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}

		for _, spec := range genDecl.Specs {
			typeSpec := spec.(*ast.TypeSpec)

			// A grouped type declaration carries its annotation on the TypeSpec.
			doc := typeSpec.Doc
			if doc == nil && len(genDecl.Specs) == 1 {
				doc = genDecl.Doc
			}
			anno, err := extractAnnotation(doc)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", fset.Position(typeSpec.Pos()), typeSpec.Name.Name, err)
			}

			if err := out.add(typeSpec, anno); err != nil {
				return nil, fmt.Errorf("%s: %s: %w", fset.Position(typeSpec.Pos()), typeSpec.Name.Name, err)
			}
		}
	}

	return out, nil
}

func (f *File) add(spec *ast.TypeSpec, anno *Annotation) error {
	name := spec.Name.Name

	if anno == nil {
		switch spec.Type.(type) {
		case *ast.StructType, *ast.InterfaceType, *ast.FuncType:
		default:
			f.Aliases[name] = typeToString(spec.Type)
		}
		return nil
	}

	switch anno.Kind {
	case Struct:
		st, ok := spec.Type.(*ast.StructType)
		if !ok {
			return fmt.Errorf("@struct requires a struct type")
		}
		fields, err := extractFields(st)
		if err != nil {
			return err
		}
		f.Structs = append(f.Structs, &StructDecl{Name: name, Fields: fields})

	case Native:
		st, ok := spec.Type.(*ast.StructType)
		if !ok {
			return fmt.Errorf("@native requires a struct of func fields")
		}
		methods, err := extractMethods(st)
		if err != nil {
			return err
		}
		f.Bindings = append(f.Bindings, &BindingDecl{Name: name, Anno: anno, Methods: methods})

	case Callback:
		decl := &CallbackDecl{Name: name, Anno: anno}
		switch t := spec.Type.(type) {
		case *ast.FuncType:
			m := funcDecl(name, t)
			m.Stub = true
			decl.Methods = []*FuncDecl{m}
		case *ast.InterfaceType:
			for _, im := range t.Methods.List {
				ft, ok := im.Type.(*ast.FuncType)
				if !ok || len(im.Names) == 0 {
					continue // Embedded interface, skip
				}
				m := funcDecl(im.Names[0].Name, ft)
				stub, _, err := FindAnnotation(commentLines(im.Doc))
				if err != nil {
					return fmt.Errorf("%s: %w", m.Name, err)
				}
				m.Stub = stub != nil && stub.Kind == Stub
				decl.Methods = append(decl.Methods, m)
			}
		default:
			return fmt.Errorf("@callback requires a func type or an interface")
		}
		f.Callbacks = append(f.Callbacks, decl)

	case Enum:
		goType := typeToString(spec.Type)
		if spec.Assign.IsValid() {
			return fmt.Errorf("@enum requires a defined type, not an alias")
		}
		f.Enums = append(f.Enums, &EnumDecl{Name: name, GoType: goType})
		f.Aliases[name] = goType

	case Stub:
		return fmt.Errorf("@stub only applies to @callback interface methods")
	}
	return nil
}

func commentLines(doc *ast.CommentGroup) []string {
	if doc == nil {
		return nil
	}
	var lines []string
	for _, comment := range doc.List {
		lines = append(lines, CleanComment(comment.Text))
	}
	return lines
}

func extractAnnotation(doc *ast.CommentGroup) (*Annotation, error) {
	anno, found, err := FindAnnotation(commentLines(doc))
	if err != nil || !found {
		return nil, err
	}
	return anno, nil
}

func extractFields(structType *ast.StructType) ([]Field, error) {
	var fields []Field

	for _, field := range structType.Fields.List {
		if len(field.Names) == 0 {
			return nil, fmt.Errorf("embedded field %s has no name", typeToString(field.Type))
		}

		tag, err := ParseFieldTag(lookupTag(field, "native"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.Names[0].Name, err)
		}
		if tag.Skip {
			continue
		}

		for _, n := range field.Names {
			fields = append(fields, Field{
				Name:   n.Name,
				GoType: typeToString(field.Type),
				Tag:    tag,
			})
		}
	}

	return fields, nil
}

func extractMethods(structType *ast.StructType) ([]*FuncDecl, error) {
	var methods []*FuncDecl

	for _, field := range structType.Fields.List {
		ft, ok := field.Type.(*ast.FuncType)
		if !ok || len(field.Names) == 0 {
			continue // Not a method field
		}

		tag, err := ParseMethodTag(lookupTag(field, "native"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.Names[0].Name, err)
		}
		args, err := ParseArgsTag(lookupTag(field, "args"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.Names[0].Name, err)
		}

		for _, n := range field.Names {
			m := funcDecl(n.Name, ft)
			m.Tag = tag
			m.Args = args
			for arg := range args {
				if !m.hasParam(arg) {
					return nil, fmt.Errorf("%s: args tag names unknown parameter %s", n.Name, arg)
				}
			}
			methods = append(methods, m)
		}
	}

	return methods, nil
}

func lookupTag(field *ast.Field, key string) string {
	if field.Tag == nil {
		return ""
	}
	tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
	return tag.Get(key)
}

func funcDecl(name string, ft *ast.FuncType) *FuncDecl {
	m := &FuncDecl{Name: name}
	if ft.Params != nil {
		for _, p := range ft.Params.List {
			goType := typeToString(p.Type)
			if len(p.Names) == 0 {
				m.Params = append(m.Params, ParamDecl{Name: fmt.Sprintf("arg%d", len(m.Params)), GoType: goType})
				continue
			}
			for _, n := range p.Names {
				m.Params = append(m.Params, ParamDecl{Name: n.Name, GoType: goType})
			}
		}
	}
	if ft.Results != nil {
		for _, r := range ft.Results.List {
			n := max(len(r.Names), 1)
			for range n {
				m.Results = append(m.Results, typeToString(r.Type))
			}
		}
	}
	return m
}

func (m *FuncDecl) hasParam(name string) bool {
	for _, p := range m.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// typeToString converts AST type expression to string
func typeToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		// Simple type: uint16, Point, etc.
		return t.Name

	case *ast.SelectorExpr:
		// Qualified type: memory.Segment, unsafe.Pointer
		return typeToString(t.X) + "." + t.Sel.Name

	case *ast.ArrayType:
		if t.Len == nil {
			// Slice: []byte, []int32
			return "[]" + typeToString(t.Elt)
		}
		// Array: [8]byte
		return fmt.Sprintf("[%s]%s", exprToString(t.Len), typeToString(t.Elt))

	case *ast.StarExpr:
		// Pointer: *Node, *string, *[8]int32
		return "*" + typeToString(t.X)

	case *ast.Ellipsis:
		return "..." + typeToString(t.Elt)

	case *ast.FuncType:
		return "func"

	case *ast.InterfaceType:
		return "interface"

	default:
		return "unknown"
	}
}

func exprToString(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.BasicLit:
		return e.Value
	case *ast.Ident:
		return e.Name
	default:
		return "?"
	}
}
