package dhus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/emissions-api/emissions_downloader/internal/catalog"
)

// oneOrMany decodes a JSON value that is an array, a single object or null.
// The OpenSearch feed collapses one-element lists into plain objects.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*o = nil

		return nil
	case b[0] == '[':
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}

		*o = many

		return nil
	}

	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}

	*o = oneOrMany[T]{one}

	return nil
}

// flexInt accepts both 42 and "42".
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	if s == "" || s == "null" {
		*f = 0

		return nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}

	*f = flexInt(n)

	return nil
}

type searchResponse struct {
	Feed struct {
		TotalResults flexInt           `json:"opensearch:totalResults"`
		Entries      oneOrMany[*entry] `json:"entry"`
	} `json:"feed"`
}

type namedValue struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type entry struct {
	ID    string                `json:"id"`
	Title string                `json:"title"`
	Str   oneOrMany[namedValue] `json:"str"`
	Date  oneOrMany[namedValue] `json:"date"`
}

func (e *entry) str(name string) string {
	return lookup(e.Str, name)
}

func lookup(values []namedValue, name string) string {
	for _, v := range values {
		if v.Name == name {
			return v.Content
		}
	}

	return ""
}

func (e *entry) product() catalog.Product {
	p := catalog.Product{
		UUID:       e.ID,
		Identifier: e.str("identifier"),
		Filename:   e.str("filename"),
		Size:       e.str("size"),
	}

	if p.UUID == "" {
		p.UUID = e.str("uuid")
	}

	if p.Identifier == "" {
		p.Identifier = e.Title
	}

	if ts := lookup(e.Date, "ingestiondate"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			p.IngestionDate = t
		}
	}

	return p
}

type productResponse struct {
	D struct {
		ID            string  `json:"Id"`
		Name          string  `json:"Name"`
		ContentLength flexInt `json:"ContentLength"`
		Checksum      struct {
			Algorithm string `json:"Algorithm"`
			Value     string `json:"Value"`
		} `json:"Checksum"`
	} `json:"d"`
}
