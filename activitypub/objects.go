package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

const (
	PublicIRI              = "https://www.w3.org/ns/activitystreams#Public"
	ContentType            = "application/activity+json"
	activityStreamsContext = "https://www.w3.org/ns/activitystreams"
	securityContext        = "https://w3id.org/security/v1"
)

// defaultContext is the @context of every document we emit
var defaultContext = json.RawMessage(`["` + activityStreamsContext + `","` + securityContext + `"]`)

// IRIs is an audience list. On the wire it is either a single string or an array.
type IRIs []string

func (l *IRIs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = IRIs{s}
		return nil
	}
	var refs []ObjectRef
	if err := json.Unmarshal(b, &refs); err != nil {
		return err
	}
	out := make(IRIs, 0, len(refs))
	for _, r := range refs {
		out = append(out, string(r))
	}
	*l = out
	return nil
}

// Contains reports whether iri is part of the list
func (l IRIs) Contains(iri string) bool {
	for _, v := range l {
		if v == iri {
			return true
		}
	}
	return false
}

// ContainsPublic reports whether the list addresses the public collection
func (l IRIs) ContainsPublic() bool {
	for _, v := range l {
		if isPublic(v) {
			return true
		}
	}
	return false
}

// withoutPublic returns the list minus the public collection
func (l IRIs) withoutPublic() IRIs {
	var out IRIs
	for _, v := range l {
		if !isPublic(v) {
			out = append(out, v)
		}
	}
	return out
}

func isPublic(iri string) bool {
	return iri == PublicIRI || iri == "as:Public" || iri == "Public"
}

// ObjectRef is a reference that is either an IRI string or an object with an id
type ObjectRef string

func (r *ObjectRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ObjectRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = ObjectRef(obj.ID)
	return nil
}

func (r ObjectRef) String() string { return string(r) }

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Mention is a tag pointing at a mentioned actor
type Mention struct {
	Type string `json:"type"`
	Href string `json:"href"`
	Name string `json:"name,omitempty"`
}

// OrderedCollection is used for moderator and follower listings
type OrderedCollection struct {
	Context      json.RawMessage `json:"@context,omitempty"`
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	TotalItems   int             `json:"totalItems"`
	OrderedItems IRIs            `json:"orderedItems"`
}

// Unparsed holds keys of a document that no field consumed. They are written
// back unchanged when the document is serialized again.
type Unparsed map[string]json.RawMessage

// unmarshalWithUnparsed decodes data into v and collects every top level key
// that does not belong to a json field of v into unparsed.
func unmarshalWithUnparsed(data []byte, v any, unparsed *Unparsed) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	known := jsonKeys(reflect.TypeOf(v))
	rest := Unparsed{}
	for k, raw := range all {
		if !known[k] {
			rest[k] = raw
		}
	}
	if len(rest) > 0 {
		*unparsed = rest
	} else {
		*unparsed = nil
	}
	return nil
}

// marshalWithUnparsed encodes v and merges the unparsed keys back in.
// Keys produced by v win over unparsed ones.
func marshalWithUnparsed(v any, unparsed Unparsed) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(unparsed) == 0 {
		return b, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, raw := range unparsed {
		if _, ok := all[k]; !ok {
			all[k] = raw
		}
	}
	return json.Marshal(all)
}

// jsonKeys returns the json names of the fields of t, following embedded structs
func jsonKeys(t reflect.Type) map[string]bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	keys := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			for k := range jsonKeys(f.Type) {
				keys[k] = true
			}
			continue
		}
		if name == "" {
			name = f.Name
		}
		keys[name] = true
	}
	return keys
}

// verifyDomainsMatch fails with ErrDomainMismatch unless both IRIs share a host
func verifyDomainsMatch(a, b string) error {
	ha, hb := hostOf(a), hostOf(b)
	if ha == "" || ha != hb {
		return fmt.Errorf("%w: %s and %s", ErrDomainMismatch, a, b)
	}
	return nil
}

// parseIRI validates an absolute http(s) IRI
func parseIRI(iri string) (*url.URL, error) {
	u, err := url.Parse(iri)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid IRI %q: %v", ErrMalformedPayload, iri, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: IRI %q is not an absolute http(s) URL", ErrMalformedPayload, iri)
	}
	return u, nil
}
