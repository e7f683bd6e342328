package pipeline

// MetaField is a piece of carried metadata (e.g. the owning clan tag or
// country) propagated unchanged into every record and failure produced
// from a work unit.
type MetaField struct {
	Key   string
	Value string
}

// WorkUnit is one externally-identified item to extract. Identifiers
// are unique within a job; their order only matters for resumption.
type WorkUnit struct {
	ID   string
	Meta []MetaField
}

func (u WorkUnit) metaValue(key string) string {
	for _, f := range u.Meta {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// Record is a flat key→value row with insertion-ordered fields. Field
// sets vary per source response shape, values may be strings, numbers
// or nil.
type Record struct {
	keys   []string
	values map[string]any
}

func NewRecord() *Record {
	return &Record{values: map[string]any{}}
}

// Set stores a field, preserving the position of the first Set for a
// given key. The originating unit identifier must be the first field
// set on every record: the output's leading column is what checkpoint
// resolution reads back.
func (r *Record) Set(key string, value any) {
	_, exists := r.values[key]
	if !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *Record) Keys() []string {
	return r.keys
}

// Result is the successful output of one work unit.
type Result struct {
	Unit    WorkUnit
	Records []*Record
}

// Failure is the durable trace of an abandoned work unit. Never fatal
// to the job.
type Failure struct {
	Unit   WorkUnit
	Kind   ErrorKind
	Detail string
}
