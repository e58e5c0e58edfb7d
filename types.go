package copydeck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ============================================================================
// Reserved namespaces
// ============================================================================

const (
	// NamespaceColors holds the project's theme colors.
	NamespaceColors = "__colors__"
	// NamespaceImages holds the project's global image URLs.
	NamespaceImages = "__images__"
	// NamespaceAll is the sentinel published after a full re-sync; it is also
	// the push identifier the server sends to request one.
	NamespaceAll = "__ALL__"
)

// DefaultLocale is the active locale before SetLanguage is called.
const DefaultLocale = "en"

// Synthetic fields used for the single-value reserved namespaces.
const (
	colorField = "color"
	urlField   = "url"
)

// ============================================================================
// HTTP wire types
// ============================================================================

type authRequest struct {
	APIKey    string `json:"apiKey"`
	ProjectID string `json:"projectId"`
	ClientID  string `json:"clientId,omitempty"`
}

type authResponse struct {
	Token         string   `json:"token"`
	ProjectSecret string   `json:"projectSecret"`
	Tabs          []string `json:"tabs"`
	Stores        []string `json:"stores"`
}

type translationsRequest struct {
	ProjectID  string `json:"projectId"`
	ScreenName string `json:"screenName"`
}

type translationsResponse struct {
	Keys []translationKey `json:"keys"`
}

type translationKey struct {
	Key    string            `json:"key"`
	Values map[string]string `json:"values"`
}

type imageEntry struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type storeResponse struct {
	Items []StoreItem `json:"items"`
}

type languagesRequest struct {
	ProjectID string `json:"projectId"`
}

type languagesResponse struct {
	Languages []string `json:"languages"`
}

// ============================================================================
// Store items and dynamic values
// ============================================================================

// StoreItem is a single record in a data-store namespace.
type StoreItem struct {
	ID        string           `json:"id"`
	Fields    map[string]Value `json:"fields"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueInt
	ValueDouble
	ValueBool
	ValueLocalized
)

// Value is a dynamically-typed data-store field. Exactly one variant is set,
// selected by Kind. Localized values map locale codes to strings.
type Value struct {
	Kind      ValueKind
	Str       string
	Int       int64
	Double    float64
	Bool      bool
	Localized map[string]string
}

// UnmarshalJSON decodes the server's untagged representation: null, bool,
// string, number (integer vs. double by lexical form), or an object of
// locale→string pairs.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = Value{}

	var probe any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&probe); err != nil {
		return err
	}

	switch t := probe.(type) {
	case nil:
		v.Kind = ValueNull
	case bool:
		v.Kind = ValueBool
		v.Bool = t
	case string:
		v.Kind = ValueString
		v.Str = t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			v.Kind = ValueInt
			v.Int = i
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return err
		}
		v.Kind = ValueDouble
		v.Double = f
	case map[string]any:
		localized := make(map[string]string, len(t))
		for locale, raw := range t {
			s, ok := raw.(string)
			if !ok {
				return fmt.Errorf("localized value %q is not a string", locale)
			}
			localized[locale] = s
		}
		v.Kind = ValueLocalized
		v.Localized = localized
	default:
		return fmt.Errorf("unsupported value type %T", t)
	}
	return nil
}

// MarshalJSON encodes the variant back into the untagged wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNull:
		return []byte("null"), nil
	case ValueString:
		return json.Marshal(v.Str)
	case ValueInt:
		return json.Marshal(v.Int)
	case ValueDouble:
		return json.Marshal(v.Double)
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueLocalized:
		return json.Marshal(v.Localized)
	}
	return nil, fmt.Errorf("unsupported value kind %d", v.Kind)
}

// Display renders the value as a best-effort string for the given locale.
// Localized values resolve locale → "en" → first available (by sorted locale
// code, so the choice is stable). Null renders as the empty string.
func (v Value) Display(locale string) string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueInt:
		return fmt.Sprintf("%d", v.Int)
	case ValueDouble:
		return fmt.Sprintf("%g", v.Double)
	case ValueBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValueLocalized:
		if s, ok := v.Localized[locale]; ok {
			return s
		}
		if s, ok := v.Localized[DefaultLocale]; ok {
			return s
		}
		locales := make([]string, 0, len(v.Localized))
		for l := range v.Localized {
			locales = append(locales, l)
		}
		if len(locales) == 0 {
			return ""
		}
		sort.Strings(locales)
		return v.Localized[locales[0]]
	}
	return ""
}
