package paperless

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/a3tai/plngx-dissect/internal/datakind"
)

// page is one page of a paginated list response.
type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

type element interface {
	ElementID() int
	ElementName() string
}

// Tag is a paperless tag.
type Tag struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	IsInboxTag bool   `json:"is_inbox_tag,omitempty"`
}

type Correspondent struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type DocumentType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type StoragePath struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// CustomField is a custom field definition.
type CustomField struct {
	ID       int           `json:"id"`
	Name     string        `json:"name"`
	DataType datakind.Kind `json:"data_type"`
}

func (t Tag) ElementID() int                { return t.ID }
func (t Tag) ElementName() string           { return t.Name }
func (c Correspondent) ElementID() int      { return c.ID }
func (c Correspondent) ElementName() string { return c.Name }
func (d DocumentType) ElementID() int       { return d.ID }
func (d DocumentType) ElementName() string  { return d.Name }
func (s StoragePath) ElementID() int        { return s.ID }
func (s StoragePath) ElementName() string   { return s.Name }
func (f CustomField) ElementID() int        { return f.ID }
func (f CustomField) ElementName() string   { return f.Name }

// CustomFieldValue is a custom field instance on a document. Value holds the
// decoded JSON value as sent by paperless.
type CustomFieldValue struct {
	Field int `json:"field"`
	Value any `json:"value"`
}

// Document is the subset of the paperless document resource used here.
type Document struct {
	ID                  int                `json:"id"`
	Title               string             `json:"title"`
	Correspondent       *int               `json:"correspondent"`
	DocumentType        *int               `json:"document_type"`
	StoragePath         *int               `json:"storage_path"`
	Tags                []int              `json:"tags"`
	Created             string             `json:"created"`
	Modified            time.Time          `json:"modified"`
	Added               time.Time          `json:"added"`
	ArchiveSerialNumber *int64             `json:"archive_serial_number"`
	OriginalFileName    string             `json:"original_file_name,omitempty"`
	CustomFields        []CustomFieldValue `json:"custom_fields"`
}

// CreatedDate parses Created, which is a date on current paperless versions
// and a timestamp on older ones.
func (d *Document) CreatedDate() (datakind.CalendarDate, error) {
	if d.Created == "" {
		return datakind.CalendarDate{}, nil
	}
	if len(d.Created) == len(time.DateOnly) {
		return datakind.ParseDate(d.Created)
	}
	t, err := time.Parse(time.RFC3339, d.Created)
	if err != nil {
		return datakind.CalendarDate{}, fmt.Errorf("document %d: invalid created %q", d.ID, d.Created)
	}
	return datakind.DateOf(t), nil
}

// CustomField returns the value entry for a field id.
func (d *Document) CustomField(id int) (CustomFieldValue, bool) {
	for _, cf := range d.CustomFields {
		if cf.Field == id {
			return cf, true
		}
	}
	return CustomFieldValue{}, false
}

// HasTag reports whether the document carries tag id.
func (d *Document) HasTag(id int) bool {
	for _, t := range d.Tags {
		if t == id {
			return true
		}
	}
	return false
}

// Update is the body of a partial document update. Nil fields are not sent;
// an empty non-nil Tags clears all tags.
type Update struct {
	Title               *string
	Created             *string
	ArchiveSerialNumber *int64
	Tags                []int
	CustomFields        []CustomFieldValue
}

func (u *Update) MarshalJSON() ([]byte, error) {
	body := map[string]any{}
	if u.Title != nil {
		body["title"] = *u.Title
	}
	if u.Created != nil {
		body["created"] = *u.Created
	}
	if u.ArchiveSerialNumber != nil {
		body["archive_serial_number"] = *u.ArchiveSerialNumber
	}
	if u.Tags != nil {
		body["tags"] = u.Tags
	}
	if u.CustomFields != nil {
		body["custom_fields"] = u.CustomFields
	}
	return json.Marshal(body)
}

// Empty reports whether the update would change nothing.
func (u *Update) Empty() bool {
	return u.Title == nil && u.Created == nil && u.ArchiveSerialNumber == nil &&
		u.Tags == nil && u.CustomFields == nil
}

// String summarises the update for logs and history entries.
func (u *Update) String() string {
	var parts []string
	if u.Title != nil {
		parts = append(parts, fmt.Sprintf("title=%q", *u.Title))
	}
	if u.Created != nil {
		parts = append(parts, "created="+*u.Created)
	}
	if u.ArchiveSerialNumber != nil {
		parts = append(parts, fmt.Sprintf("archive_serial_number=%d", *u.ArchiveSerialNumber))
	}
	if u.Tags != nil {
		parts = append(parts, fmt.Sprintf("tags=%v", u.Tags))
	}
	for _, cf := range u.CustomFields {
		b, _ := json.Marshal(cf.Value)
		parts = append(parts, fmt.Sprintf("custom_field[%d]=%s", cf.Field, b))
	}
	return strings.Join(parts, ", ")
}
