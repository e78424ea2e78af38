package postgres

import "fmt"

// Dialect renders the Postgres flavor of the pivot query fragments.
type Dialect struct{}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) ObjectAgg(key, value string) string {
	return fmt.Sprintf("json_object_agg(%s, %s)", key, value)
}

// ObjectField casts the key parameter so json ->> resolves to the text
// overload rather than the integer (array index) one.
func (Dialect) ObjectField(obj, keyParam string) string {
	return fmt.Sprintf("(%s ->> %s::text)", obj, keyParam)
}

func (Dialect) ObjectText(obj string) string { return obj + "::text" }
