package storage

// Dialect isolates the SQL differences the pivot query builder has to care
// about. Implementations must only wrap expressions they are given; values
// always travel as bound parameters.
type Dialect interface {
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string

	// ObjectAgg aggregates key/value expressions into one JSON object per group.
	ObjectAgg(key, value string) string

	// ObjectField extracts the text of field keyParam from the JSON object expr.
	ObjectField(obj, keyParam string) string

	// ObjectText renders the aggregated object expr as JSON text for scanning.
	ObjectText(obj string) string
}
