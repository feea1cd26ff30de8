package raw

import "sort"

// Concrete object variants. Keep this list in sync with Clone and
// RewriteRefs below; both switch over every variant.

// NullObj is the PDF null object.
type NullObj struct{}

func (NullObj) Type() string { return "null" }
func (NullObj) isObject()    {}

// BoolObj is a PDF boolean.
type BoolObj struct{ V bool }

func (BoolObj) Type() string { return "boolean" }
func (BoolObj) isObject()    {}

// IntObj is a PDF integer.
type IntObj struct{ V int64 }

func (IntObj) Type() string { return "integer" }
func (IntObj) isObject()    {}

// RealObj is a PDF real number.
type RealObj struct{ V float64 }

func (RealObj) Type() string { return "real" }
func (RealObj) isObject()    {}

// StringObj is a PDF string. Hex records the written form only.
type StringObj struct {
	Bytes []byte
	Hex   bool
}

func (StringObj) Type() string { return "string" }
func (StringObj) isObject()    {}

// NameObj is a PDF name, stored without the leading slash.
type NameObj struct{ Val string }

func (NameObj) Type() string { return "name" }
func (NameObj) isObject()    {}

// ArrayObj is a PDF array.
type ArrayObj struct{ Items []Object }

func (*ArrayObj) Type() string { return "array" }
func (*ArrayObj) isObject()    {}

func (a *ArrayObj) Len() int        { return len(a.Items) }
func (a *ArrayObj) Append(o Object) { a.Items = append(a.Items, o) }

// DictObj is a PDF dictionary.
type DictObj struct{ KV map[string]Object }

func (*DictObj) Type() string { return "dict" }
func (*DictObj) isObject()    {}

// Get returns the value for key, or nil if absent.
func (d *DictObj) Get(key string) Object {
	if d == nil {
		return nil
	}
	return d.KV[key]
}

func (d *DictObj) Lookup(key string) (Object, bool) {
	if d == nil {
		return nil, false
	}
	o, ok := d.KV[key]
	return o, ok
}

func (d *DictObj) Has(key string) bool {
	_, ok := d.Lookup(key)
	return ok
}

func (d *DictObj) Set(key string, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key] = value
}

func (d *DictObj) Delete(key string) { delete(d.KV, key) }

// Keys returns the dictionary keys in sorted order.
func (d *DictObj) Keys() []string {
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *DictObj) Len() int { return len(d.KV) }

// IsType reports whether the dictionary's Type entry is the given name.
func (d *DictObj) IsType(name string) bool {
	n, ok := d.Get("Type").(NameObj)
	return ok && n.Val == name
}

// StreamObj pairs a dictionary with a raw (still encoded) payload.
type StreamObj struct {
	Dict *DictObj
	Data []byte
}

func (*StreamObj) Type() string { return "stream" }
func (*StreamObj) isObject()    {}

// RefObj is an indirect reference.
type RefObj struct{ R ObjectRef }

func (RefObj) Type() string { return "ref" }
func (RefObj) isObject()    {}

// Helpers
func Name(v string) NameObj                          { return NameObj{Val: v} }
func Int(i int64) IntObj                             { return IntObj{V: i} }
func Real(f float64) RealObj                         { return RealObj{V: f} }
func Bool(v bool) BoolObj                            { return BoolObj{V: v} }
func Str(b []byte) StringObj                         { return StringObj{Bytes: b} }
func HexStr(b []byte) StringObj                      { return StringObj{Bytes: b, Hex: true} }
func NewArray(items ...Object) *ArrayObj             { return &ArrayObj{Items: items} }
func Dict() *DictObj                                 { return &DictObj{KV: make(map[string]Object)} }
func NewStream(dict *DictObj, data []byte) *StreamObj { return &StreamObj{Dict: dict, Data: data} }
func Ref(num, gen int) RefObj                        { return RefObj{R: ObjectRef{Num: num, Gen: gen}} }

// Number returns the numeric value of an IntObj or RealObj.
func Number(o Object) (float64, bool) {
	switch v := o.(type) {
	case IntObj:
		return float64(v.V), true
	case RealObj:
		return v.V, true
	}
	return 0, false
}

// Clone returns a deep copy of obj. References are copied as references.
func Clone(obj Object) Object {
	switch v := obj.(type) {
	case nil:
		return nil
	case NullObj, BoolObj, IntObj, RealObj, NameObj, RefObj:
		return v
	case StringObj:
		return StringObj{Bytes: append([]byte(nil), v.Bytes...), Hex: v.Hex}
	case *ArrayObj:
		items := make([]Object, len(v.Items))
		for i, it := range v.Items {
			items[i] = Clone(it)
		}
		return &ArrayObj{Items: items}
	case *DictObj:
		out := &DictObj{KV: make(map[string]Object, len(v.KV))}
		for k, it := range v.KV {
			out.KV[k] = Clone(it)
		}
		return out
	case *StreamObj:
		var dict *DictObj
		if v.Dict != nil {
			dict = Clone(v.Dict).(*DictObj)
		}
		return &StreamObj{Dict: dict, Data: append([]byte(nil), v.Data...)}
	default:
		panic("raw: unknown object variant")
	}
}

// RewriteRefs replaces, in place, every reference reachable inside obj with
// fn(ref). Arrays, dictionaries and stream dictionaries are updated in place;
// the (possibly new) top-level value is returned.
func RewriteRefs(obj Object, fn func(ObjectRef) Object) Object {
	switch v := obj.(type) {
	case nil:
		return nil
	case NullObj, BoolObj, IntObj, RealObj, NameObj, StringObj:
		return v
	case RefObj:
		return fn(v.R)
	case *ArrayObj:
		for i, it := range v.Items {
			v.Items[i] = RewriteRefs(it, fn)
		}
		return v
	case *DictObj:
		for k, it := range v.KV {
			v.KV[k] = RewriteRefs(it, fn)
		}
		return v
	case *StreamObj:
		if v.Dict != nil {
			RewriteRefs(v.Dict, fn)
		}
		return v
	default:
		panic("raw: unknown object variant")
	}
}

// VisitRefs calls fn for every reference reachable inside obj without
// following the references themselves.
func VisitRefs(obj Object, fn func(ObjectRef)) {
	switch v := obj.(type) {
	case RefObj:
		fn(v.R)
	case *ArrayObj:
		for _, it := range v.Items {
			VisitRefs(it, fn)
		}
	case *DictObj:
		for _, it := range v.KV {
			VisitRefs(it, fn)
		}
	case *StreamObj:
		if v.Dict != nil {
			VisitRefs(v.Dict, fn)
		}
	}
}
