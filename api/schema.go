package api

// Manifest describes a stack of layers to load into a store.
// It is read from a JSONC file (comments and trailing commas allowed).
type Manifest struct {
	// Version of the manifest format.
	Version string `json:"version"`
	// IncludeRoot is the directory include markers and layer files are
	// resolved against. Relative to the manifest's directory when not absolute.
	IncludeRoot string `json:"include_root,omitempty"`
	// IncludeDB optionally names a SQLite database whose results(id, record)
	// rows can also satisfy include markers.
	IncludeDB string `json:"include_db,omitempty"`
	// IncludeKey overrides the include marker property.
	IncludeKey string `json:"include_key,omitempty"`
	// Layers are applied in order.
	Layers []Layer `json:"layers"`
}

// Layer is one fragment contribution.
type Layer struct {
	// Path the fragment is registered at, e.g. "/render/settings".
	Path string `json:"path"`
	// Priority of the fragment; higher wins.
	Priority int `json:"priority"`
	// File names a document under IncludeRoot. Exactly one of File and
	// Document is set.
	File string `json:"file,omitempty"`
	// Document is an inline payload.
	Document any `json:"document,omitempty"`
}

