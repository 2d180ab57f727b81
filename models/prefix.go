package models

// NamespacePrefix maps a short prefix to a namespace IRI, e.g. foaf ->
// http://xmlns.com/foaf/0.1/.
type NamespacePrefix struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`

	ID  string `json:"@id" couchdb:"_id"`
	Rev string `json:"_rev,omitempty" couchdb:"_rev"`

	Name string `json:"name"`
	URI  string `json:"uri"`
}

// NewNamespacePrefix creates a prefix document.
func NewNamespacePrefix(name, uri string) *NamespacePrefix {
	return &NamespacePrefix{
		Context: Context,
		Type:    TypeNamespacePrefix,
		ID:      "prefix:" + name,
		Name:    name,
		URI:     uri,
	}
}

// PrefixMap converts prefixes into a name -> IRI map.
func PrefixMap(prefixes []*NamespacePrefix) map[string]string {
	m := make(map[string]string, len(prefixes))
	for _, p := range prefixes {
		m[p.Name] = p.URI
	}
	return m
}
