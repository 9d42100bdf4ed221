package binder

import (
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"reflect"
	"strings"
)

// DefaultMaxMemory caps the in-memory portion of a multipart form at
// 10MB; larger file parts spill to disk.
const DefaultMaxMemory = 10 << 20

type bodyEncoding uint8

const (
	bodyJSON bodyEncoding = iota
	bodyForm
)

var (
	fileHeaderType      = reflect.TypeOf((*multipart.FileHeader)(nil))
	fileHeaderSliceType = reflect.TypeOf([]*multipart.FileHeader(nil))
)

// formField is one compiled entry of a form body struct: a form value
// bound by `form:"name"` or an uploaded file bound by `file:"name"`.
type formField struct {
	name  string
	field int
	kind  reflect.Kind
	elem  reflect.Kind
	file  bool
	multi bool
}

// compileFormFields inspects a form body struct once at registration.
// File fields must be *multipart.FileHeader or a slice of them; value
// fields follow the same scalar/slice/pointer rules as query parameters.
func compileFormFields(t reflect.Type) ([]formField, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: form body must be declared as a struct, got %v", ErrInvalidTarget, t)
	}

	var out []formField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		if tag := f.Tag.Get("file"); tag != "" {
			name, _ := splitTag(tag)
			if name == "-" || name == "" {
				continue
			}
			ff := formField{name: name, field: i, file: true}
			switch f.Type {
			case fileHeaderType:
			case fileHeaderSliceType:
				ff.multi = true
			default:
				return nil, fmt.Errorf("%w: file field %s must be *multipart.FileHeader or a slice of them", ErrUnsupportedKind, f.Name)
			}
			out = append(out, ff)
			continue
		}

		tag := f.Tag.Get("form")
		if tag == "" {
			continue
		}
		name, _ := splitTag(tag)
		if name == "-" || name == "" {
			continue
		}

		ff := formField{name: name, field: i}
		kind := f.Type.Kind()
		if kind == reflect.Pointer {
			kind = f.Type.Elem().Kind()
		}
		if kind == reflect.Slice {
			ff.elem = f.Type.Elem().Kind()
			if !scalarKind(ff.elem) {
				return nil, fmt.Errorf("%w: field %s", ErrUnsupportedKind, f.Name)
			}
		} else if !scalarKind(kind) {
			return nil, fmt.Errorf("%w: field %s of kind %s", ErrUnsupportedKind, f.Name, kind)
		}
		ff.kind = kind
		out = append(out, ff)
	}
	return out, nil
}

// resolveForm decodes an application/x-www-form-urlencoded or
// multipart/form-data body into the form body struct. Coercion failures
// accumulate like every other source; absent fields keep their zero
// value.
func (d *Descriptor) resolveForm(r *http.Request, field reflect.Value, spec ParamSpec, verr *ValidationError) error {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		verr.add([]string{"body"}, "input should be a form-encoded body", "form_invalid")
		return nil
	}

	var values map[string][]string
	var files map[string][]*multipart.FileHeader

	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			verr.add([]string{"body"}, "malformed form body", "form_invalid")
			return nil
		}
		values = r.PostForm

	case "multipart/form-data":
		if params["boundary"] == "" {
			verr.add([]string{"body"}, "missing multipart boundary", "form_invalid")
			return nil
		}
		if err := r.ParseMultipartForm(DefaultMaxMemory); err != nil {
			verr.add([]string{"body"}, "malformed multipart body", "form_invalid")
			return nil
		}
		values = r.MultipartForm.Value
		files = r.MultipartForm.File

	default:
		verr.add([]string{"body"},
			fmt.Sprintf("unsupported media type %q, expected application/x-www-form-urlencoded or multipart/form-data", mediaType),
			"media_type")
		return nil
	}

	for _, ff := range spec.form {
		target := field.Field(ff.field)

		if ff.file {
			headers := files[ff.name]
			if len(headers) == 0 {
				continue
			}
			for _, fh := range headers {
				fh.Filename = sanitizeFilename(fh.Filename)
			}
			if ff.multi {
				target.Set(reflect.ValueOf(headers))
			} else {
				target.Set(reflect.ValueOf(headers[0]))
			}
			continue
		}

		vals := values[ff.name]
		if len(vals) == 0 {
			continue
		}

		if ff.elem != reflect.Invalid {
			slice := reflect.MakeSlice(target.Type(), 0, len(vals))
			for i, raw := range vals {
				v, errType, cerr := coerceScalar(raw, ff.elem)
				if cerr != nil {
					verr.add([]string{"body", ff.name, fmt.Sprint(i)}, cerr.Error(), errType)
					continue
				}
				elem := reflect.New(target.Type().Elem()).Elem()
				assignScalar(elem, v)
				slice = reflect.Append(slice, elem)
			}
			target.Set(slice)
			continue
		}

		v, errType, cerr := coerceScalar(vals[0], ff.kind)
		if cerr != nil {
			verr.add([]string{"body", ff.name}, cerr.Error(), errType)
			continue
		}
		assignScalar(target, v)
	}

	return nil
}

// sanitizeFilename strips directory components and control bytes from
// uploaded filenames so they are safe to use as-is.
func sanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)
	filename = strings.ReplaceAll(filename, "\x00", "")
	if filename == "." || filename == ".." || filename == "" || filename == "/" {
		filename = "unnamed"
	}
	return filename
}
