// Package field renders field templates from captured region values and
// converts the result into the typed value stored in paperless.
package field

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/a3tai/plngx-dissect/internal/datakind"
)

// Kind says whether a field targets a custom field or a document attribute.
type Kind string

const (
	KindCustom Kind = "custom"
	KindAttr   Kind = "attr"
)

// Built-in document attributes a field can set.
const (
	AttrTitle               = "title"
	AttrCreated             = "created"
	AttrArchiveSerialNumber = "archive_serial_number"
)

var attributeKinds = map[string]datakind.Kind{
	AttrTitle:               datakind.String,
	AttrCreated:             datakind.Date,
	AttrArchiveSerialNumber: datakind.Integer,
}

// AttributeKind returns the data kind of a built-in attribute.
func AttributeKind(name string) (datakind.Kind, bool) {
	k, ok := attributeKinds[name]
	return k, ok
}

// Attributes lists the settable built-in attributes.
func Attributes() []string {
	return []string{AttrTitle, AttrCreated, AttrArchiveSerialNumber}
}

// Field maps captured values to one paperless custom field or attribute.
type Field struct {
	Kind     Kind   `json:"kind" yaml:"kind"`
	Name     string `json:"name" yaml:"name"`
	Template string `json:"template" yaml:"template"`
}

// Result is a rendered and optionally converted field value. Value is nil
// when rendering failed.
type Result struct {
	Kind     Kind          `json:"kind"`
	Name     string        `json:"name"`
	DataKind datakind.Kind `json:"data_type,omitempty"`
	Value    *string       `json:"value"`
	Error    string        `json:"error,omitempty"`
	// Converted holds the typed value after a successful Resolve.
	Converted datakind.Value `json:"-"`
}

var templateSet = sync.OnceValues(func() (*pongo2.TemplateSet, error) {
	set := pongo2.NewSet("fields", pongo2.DefaultLoader)
	for _, tag := range []string{"include", "import", "extends", "ssi"} {
		if err := set.BanTag(tag); err != nil {
			return nil, fmt.Errorf("ban tag %s: %w", tag, err)
		}
	}
	return set, nil
})

// Render evaluates the template with groups as variables.
func (f Field) Render(groups map[string]string) Result {
	res := Result{Kind: f.Kind, Name: f.Name}

	set, err := templateSet()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	tpl, err := set.FromString(f.Template)
	if err != nil {
		res.Error = templateError(err)
		return res
	}

	ctx := pongo2.Context{}
	for k, v := range groups {
		ctx[k] = v
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		res.Error = templateError(err)
		return res
	}
	res.Value = &out
	return res
}

// Resolve renders the template and converts the output to kind.
func (f Field) Resolve(groups map[string]string, kind datakind.Kind) Result {
	res := f.Render(groups)
	res.DataKind = kind
	if res.Value == nil {
		return res
	}

	v, err := datakind.Parse(kind, *res.Value)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Converted = v
	return res
}

// ResolveAttr resolves a built-in attribute field.
func (f Field) ResolveAttr(groups map[string]string) Result {
	kind, ok := AttributeKind(f.Name)
	if !ok {
		res := Result{Kind: f.Kind, Name: f.Name, Error: fmt.Sprintf("unknown attribute %q", f.Name)}
		return res
	}
	return f.Resolve(groups, kind)
}

func templateError(err error) string {
	var perr *pongo2.Error
	if errors.As(err, &perr) && perr.OrigError != nil {
		return perr.OrigError.Error()
	}
	return err.Error()
}
