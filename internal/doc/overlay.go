package doc

// Overlay combines base and incoming without modifying either:
//
//   - incoming absent: base is kept.
//   - incoming scalar or Array: it replaces base outright (arrays are never
//     merged element-wise).
//   - incoming Object: merged key by key into base. Keys missing from base are
//     inserted as deep copies; keys present in both are overlaid recursively.
//     A non-object base is discarded and the merge starts from an empty object.
func Overlay(base, incoming Node) Node {
	return OverlayOwned(Clone(base), incoming)
}

// OverlayOwned is Overlay for a base the caller owns exclusively. base may be
// modified in place and the result may share structure with it; nothing in
// the result aliases incoming.
func OverlayOwned(base, incoming Node) Node {
	if incoming == nil {
		return base
	}
	in, ok := incoming.(Object)
	if !ok {
		return Clone(incoming)
	}
	out, ok := base.(Object)
	if !ok || out == nil {
		out = make(Object, len(in))
	}
	for k, v := range in {
		if v == nil {
			continue
		}
		if existing, ok := out[k]; ok {
			out[k] = OverlayOwned(existing, v)
			continue
		}
		out[k] = Clone(v)
	}
	return out
}
