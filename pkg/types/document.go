package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// System property names stamped by the store.
const (
	FieldID        = "id"
	FieldRID       = "_rid"
	FieldTimestamp = "_ts"
)

// Document is a mapping from field name to value. Undefined values are never
// stored.
type Document map[string]Value

// Key uniquely identifies a document: the canonical encoding of its
// partition key value plus its id.
type Key struct {
	Partition string
	ID        string
}

func (k Key) String() string {
	return k.Partition + "/" + k.ID
}

// Less orders keys by id, then partition. This is the merge order for
// results gathered from several partitions.
func (k Key) Less(o Key) bool {
	if k.ID != o.ID {
		return k.ID < o.ID
	}
	return k.Partition < o.Partition
}

// ID returns the document id when it is a non-empty string.
func (d Document) ID() (string, bool) {
	v, ok := d[FieldID]
	if !ok || v.Kind() != KindString || v.AsString() == "" {
		return "", false
	}
	return v.AsString(), true
}

// Get resolves a field path against the document.
func (d Document) Get(path FieldPath) Value {
	return path.Resolve(d)
}

// Clone returns a shallow copy. Values are immutable so sharing them is safe.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Project builds a new document holding only the given paths. Nested paths
// are rebuilt as nested objects; paths that resolve to undefined are omitted.
func (d Document) Project(paths []FieldPath) Document {
	out := make(Document, len(paths))
	for _, p := range paths {
		v := p.Resolve(d)
		if !v.IsDefined() || len(p) == 0 {
			continue
		}
		out.set(p, v)
	}
	return out
}

// set writes v at p, creating intermediate objects. Index steps are written
// as object members named by the index since a projection never produces
// sparse arrays.
func (d Document) set(p FieldPath, v Value) {
	name := stepName(p[0])
	if len(p) == 1 {
		d[name] = v
		return
	}
	child := Document{}
	if existing, ok := d[name]; ok && existing.Kind() == KindObject {
		for _, k := range existing.Keys() {
			child[k] = existing.Field(k)
		}
	}
	child.set(p[1:], v)
	d[name] = Object(child)
}

func stepName(s PathStep) string {
	if s.IsIndex {
		return fmt.Sprint(s.Index)
	}
	return s.Name
}

// DocumentFromMap converts a decoded JSON object into a Document.
func DocumentFromMap(m map[string]interface{}) (Document, error) {
	doc := make(Document, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}

// ToMap converts the document back into plain Go values.
func (d Document) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(d))
	for k, v := range d {
		out[k] = v.ToAny()
	}
	return out
}

// UnmarshalJSON implements json.Unmarshaler, keeping numbers exact until
// they are converted to float64.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	doc, err := DocumentFromMap(raw)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

// ParseDocument decodes a single JSON object.
func ParseDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseDocuments decodes a JSON array of objects.
func ParseDocuments(data []byte) ([]Document, error) {
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
