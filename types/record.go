package types

// Record is an unnormalized key/value payload as received from the backend, the push channel or the local cache.
// It is kept untouched next to the normalized view because the backend APIs are not consistent about field names.
type Record map[string]interface{}

// Clone returns a shallow copy of the record (nil stays nil).
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// First returns the first non-nil value of the given keys, in order.
func (r Record) First(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
