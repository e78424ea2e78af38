package sqlite

import "fmt"

// Dialect renders the SQLite flavor of the pivot query fragments.
type Dialect struct{}

// Placeholder ignores n; arguments bind in the order they appear.
func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ObjectAgg(key, value string) string {
	return fmt.Sprintf("json_group_object(%s, %s)", key, value)
}

// ObjectField matches the member by its literal key through json_each, so no
// character in a variable name is read as JSON path syntax.
func (Dialect) ObjectField(obj, keyParam string) string {
	return fmt.Sprintf(`(SELECT je.value FROM json_each(%s) je WHERE je.key = %s)`, obj, keyParam)
}

func (Dialect) ObjectText(obj string) string { return obj }
