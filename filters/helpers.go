package filters

import "github.com/wudi/pdfpress/ir/raw"

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
// The returned params slice has the same length as names; missing entries are nil.
func ExtractFilters(dict *raw.DictObj) ([]string, []*raw.DictObj) {
	var names []string

	switch f := dict.Get("Filter").(type) {
	case raw.NameObj:
		names = append(names, f.Val)
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	params := make([]*raw.DictObj, len(names))
	switch p := dict.Get("DecodeParms").(type) {
	case *raw.DictObj:
		params[0] = p
	case *raw.ArrayObj:
		for i, item := range p.Items {
			if d, ok := item.(*raw.DictObj); ok && i < len(params) {
				params[i] = d
			}
		}
	}
	return names, params
}

// HasFilter reports whether dict lists the named filter.
func HasFilter(dict *raw.DictObj, name string) bool {
	names, _ := ExtractFilters(dict)
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
