package binder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
)

// DefaultMaxBodySize caps request bodies at 1MB.
const DefaultMaxBodySize = 1 << 20

// ErrNoDependencyResolver is returned when a descriptor declares a
// dependency parameter but no resolver was supplied.
var ErrNoDependencyResolver = errors.New("no dependency resolver provided")

// PathValues looks up a raw path parameter captured by the router.
type PathValues func(name string) (string, bool)

// DependencyResolver resolves a declared dependency identity into a value.
// The depends package provides the per-request implementation.
type DependencyResolver interface {
	Resolve(ctx context.Context, name string) (any, error)
}

// Resolve binds a request to a new instance of the descriptor's struct
// type. Coercion and decoding failures across all specs are accumulated
// into a single *ValidationError; infrastructure failures (dependency
// provider errors, unreadable bodies) are returned as-is.
func (d *Descriptor) Resolve(ctx context.Context, r *http.Request, path PathValues, deps DependencyResolver) (any, error) {
	target := reflect.New(d.typ).Elem()
	verr := &ValidationError{}

	var query url.Values
	for _, spec := range d.specs {
		field := target.Field(spec.Field)

		switch spec.Source {
		case SourcePath:
			raw, ok := "", false
			if path != nil {
				raw, ok = path(spec.Name)
			}
			if !ok {
				verr.add([]string{"path", spec.Name}, "field required", "missing")
				continue
			}
			setScalarField(field, spec, raw, []string{"path", spec.Name}, verr)

		case SourceQuery:
			if query == nil {
				query = r.URL.Query()
			}
			values := query[spec.Name]
			if len(values) == 0 {
				switch {
				case spec.Default != "":
					setScalarField(field, spec, spec.Default, []string{"query", spec.Name}, verr)
				case spec.Required:
					verr.add([]string{"query", spec.Name}, "field required", "missing")
				}
				continue
			}
			if spec.Elem != reflect.Invalid {
				setSliceField(field, spec, values, verr)
				continue
			}
			setScalarField(field, spec, values[0], []string{"query", spec.Name}, verr)

		case SourceBody:
			if spec.encoding == bodyForm {
				if err := d.resolveForm(r, field, spec, verr); err != nil {
					return nil, err
				}
				continue
			}
			if err := d.resolveBody(r, field, spec, verr); err != nil {
				return nil, err
			}

		case SourceDependency:
			if deps == nil {
				return nil, fmt.Errorf("%w: parameter %q", ErrNoDependencyResolver, spec.Name)
			}
			val, err := deps.Resolve(ctx, spec.Name)
			if err != nil {
				return nil, err
			}
			if val == nil {
				continue
			}
			rv := reflect.ValueOf(val)
			if !rv.Type().AssignableTo(field.Type()) {
				return nil, fmt.Errorf("dependency %q: cannot assign %s to %s", spec.Name, rv.Type(), field.Type())
			}
			field.Set(rv)

		case SourceContext:
			field.Set(reflect.ValueOf(r))
		}
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return target.Interface(), nil
}

func setScalarField(field reflect.Value, spec ParamSpec, raw string, loc []string, verr *ValidationError) {
	v, errType, err := coerceScalar(raw, spec.Kind)
	if err != nil {
		verr.add(loc, err.Error(), errType)
		return
	}
	assignScalar(field, v)
}

func setSliceField(field reflect.Value, spec ParamSpec, values []string, verr *ValidationError) {
	slice := reflect.MakeSlice(field.Type(), 0, len(values))
	for i, raw := range values {
		v, errType, err := coerceScalar(raw, spec.Elem)
		if err != nil {
			verr.add([]string{"query", spec.Name, fmt.Sprint(i)}, err.Error(), errType)
			continue
		}
		elem := reflect.New(field.Type().Elem()).Elem()
		assignScalar(elem, v)
		slice = reflect.Append(slice, elem)
	}
	field.Set(slice)
}

// assignScalar sets v on field, allocating through one level of pointer
// for optional fields.
func assignScalar(field reflect.Value, v reflect.Value) {
	t := field.Type()
	if t.Kind() == reflect.Pointer {
		p := reflect.New(t.Elem())
		p.Elem().Set(v.Convert(t.Elem()))
		field.Set(p)
		return
	}
	field.Set(v.Convert(t))
}

func (d *Descriptor) resolveBody(r *http.Request, field reflect.Value, spec ParamSpec, verr *ValidationError) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, DefaultMaxBodySize+1))
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	if len(raw) > DefaultMaxBodySize {
		verr.add([]string{"body"}, fmt.Sprintf("request body exceeds %d bytes", DefaultMaxBodySize), "too_large")
		return nil
	}
	if len(raw) == 0 {
		verr.add([]string{"body"}, "field required", "missing")
		return nil
	}

	if field.Kind() != reflect.Struct {
		// Non-struct body shapes (slices, maps) decode in one shot.
		if err := json.Unmarshal(raw, field.Addr().Interface()); err != nil {
			verr.add([]string{"body"}, bodyErrMsg(err), bodyErrType(err, field.Kind()))
		}
		return nil
	}

	// Struct bodies decode field by field so every offending field is
	// reported, not just the first.
	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil {
		verr.add([]string{"body"}, "input should be a valid JSON object", "json_invalid")
		return nil
	}

	t := field.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := jsonFieldName(f)
		if name == "-" {
			continue
		}

		rawField, ok := object[name]
		if !ok {
			if f.Type.Kind() != reflect.Pointer {
				verr.add([]string{"body", name}, "field required", "missing")
			}
			continue
		}

		if err := json.Unmarshal(rawField, field.Field(i).Addr().Interface()); err != nil {
			kind := f.Type.Kind()
			if kind == reflect.Pointer {
				kind = f.Type.Elem().Kind()
			}
			verr.add([]string{"body", name}, bodyErrMsg(err), bodyErrType(err, kind))
		}
	}

	return nil
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

func bodyErrMsg(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("input should be a valid %s, got %s", typeErr.Type, typeErr.Value)
	}
	return "invalid value"
}

func bodyErrType(err error, kind reflect.Kind) string {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return "json_invalid"
	}
	return jsonTypeName(kind)
}
