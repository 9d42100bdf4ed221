// Package binder builds per-handler parameter descriptors at registration
// time and resolves them against incoming requests.
//
// A handler declares its inputs as a plain struct; Describe inspects the
// struct once and compiles an ordered list of ParamSpec entries. Request-time
// resolution is table-driven and never re-inspects the struct type:
//
//	type GetUserParams struct {
//		ID     int64  `path:"id"`
//		Expand bool   `query:"expand"`
//		Page   int    `query:"page" default:"1"`
//		Body   Update `body:"json"`
//		DB     *DB    `dep:"db"`
//	}
//
// A body may instead be declared as `body:"form"`, in which case the
// field's struct is filled from an application/x-www-form-urlencoded or
// multipart/form-data body: `form:"name"` binds form values and
// `file:"name"` binds uploaded files.
//
// Coercion failures are accumulated across all specs and reported together
// as a single *ValidationError; a handler is never invoked with a partially
// resolved parameter set.
package binder

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"
)

// Source identifies where a parameter's value comes from.
type Source uint8

const (
	SourcePath Source = iota
	SourceQuery
	SourceBody
	SourceDependency
	SourceContext
)

func (s Source) String() string {
	switch s {
	case SourcePath:
		return "path"
	case SourceQuery:
		return "query"
	case SourceBody:
		return "body"
	case SourceDependency:
		return "dependency"
	default:
		return "context"
	}
}

// ParamSpec describes a single declared parameter. Built once at
// registration and never mutated afterwards.
type ParamSpec struct {
	// Name is the wire name: path parameter, query key, or dependency
	// identity. Empty for body and context sources.
	Name string

	// Source is where the raw value is read from.
	Source Source

	// Field is the index of the struct field this spec populates.
	Field int

	// Kind is the target scalar kind for path/query coercion.
	Kind reflect.Kind

	// Elem is the element kind for multi-value query slices.
	Elem reflect.Kind

	// Required reports whether a missing value is an error.
	Required bool

	// Default is the raw default applied when the value is absent.
	Default string

	typ      reflect.Type
	encoding bodyEncoding
	form     []formField
}

// Descriptor is the immutable signature of a handler's parameter struct.
// It is shared read-only across all requests.
type Descriptor struct {
	typ   reflect.Type
	specs []ParamSpec
}

// Specs returns the ordered parameter specs.
func (d *Descriptor) Specs() []ParamSpec { return d.specs }

// Type returns the parameter struct type.
func (d *Descriptor) Type() reflect.Type { return d.typ }

var requestType = reflect.TypeOf((*http.Request)(nil))

// Describe compiles the descriptor for P. It fails for non-struct types,
// unsupported field kinds, multiple body fields, and defaults that do not
// parse as the field's kind.
func Describe[P any]() (*Descriptor, error) {
	var zero P
	return describeType(reflect.TypeOf(zero))
}

func describeType(t reflect.Type) (*Descriptor, error) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: parameters must be declared as a struct, got %v", ErrInvalidTarget, t)
	}

	d := &Descriptor{typ: t}
	hasBody := false

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		spec, ok, err := classifyField(f, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if spec.Source == SourceBody {
			if hasBody {
				return nil, fmt.Errorf("%w: field %s", ErrMultipleBodyFields, f.Name)
			}
			hasBody = true
		}

		d.specs = append(d.specs, spec)
	}

	return d, nil
}

func classifyField(f reflect.StructField, index int) (ParamSpec, bool, error) {
	spec := ParamSpec{Field: index, typ: f.Type}

	switch {
	case f.Tag.Get("path") != "":
		name, _ := splitTag(f.Tag.Get("path"))
		if name == "-" {
			return spec, false, nil
		}
		spec.Name = name
		spec.Source = SourcePath
		spec.Required = true

	case f.Tag.Get("query") != "":
		name, opts := splitTag(f.Tag.Get("query"))
		if name == "-" {
			return spec, false, nil
		}
		spec.Name = name
		spec.Source = SourceQuery
		spec.Required = hasOption(opts, "required")

	case f.Tag.Get("body") != "":
		mode, _ := splitTag(f.Tag.Get("body"))
		spec.Name = "body"
		spec.Source = SourceBody
		spec.Required = true
		spec.Kind = f.Type.Kind()
		switch mode {
		case "json":
			spec.encoding = bodyJSON
		case "form":
			spec.encoding = bodyForm
			fields, err := compileFormFields(f.Type)
			if err != nil {
				return spec, false, err
			}
			spec.form = fields
		default:
			return spec, false, fmt.Errorf("%w: %q on field %s", ErrInvalidBodyEncoding, mode, f.Name)
		}
		return spec, true, nil

	case f.Tag.Get("dep") != "":
		name, _ := splitTag(f.Tag.Get("dep"))
		if name == "-" {
			return spec, false, nil
		}
		spec.Name = name
		spec.Source = SourceDependency
		return spec, true, nil

	case f.Type == requestType:
		spec.Source = SourceContext
		return spec, true, nil

	default:
		return spec, false, nil
	}

	// Path and query fields fall through here for kind validation.
	kind := f.Type.Kind()
	if kind == reflect.Pointer {
		spec.Required = false
		kind = f.Type.Elem().Kind()
	}
	if kind == reflect.Slice {
		if spec.Source != SourceQuery {
			return spec, false, fmt.Errorf("%w: slice field %s is only supported for query parameters", ErrUnsupportedKind, f.Name)
		}
		spec.Elem = f.Type.Elem().Kind()
		if !scalarKind(spec.Elem) {
			return spec, false, fmt.Errorf("%w: field %s", ErrUnsupportedKind, f.Name)
		}
	} else if !scalarKind(kind) {
		return spec, false, fmt.Errorf("%w: field %s of kind %s", ErrUnsupportedKind, f.Name, kind)
	}
	spec.Kind = kind

	if dv, ok := f.Tag.Lookup("default"); ok {
		if _, _, err := coerceScalar(dv, kind); err != nil {
			return spec, false, fmt.Errorf("%w: default %q for field %s: %v", ErrInvalidDefault, dv, f.Name, err)
		}
		spec.Default = dv
		spec.Required = false
	}

	return spec, true, nil
}

func splitTag(tag string) (name string, opts []string) {
	parts := strings.Split(tag, ",")
	return parts[0], parts[1:]
}

func hasOption(opts []string, want string) bool {
	for _, o := range opts {
		if o == want {
			return true
		}
	}
	return false
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
