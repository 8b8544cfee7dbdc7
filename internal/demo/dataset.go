// Package demo holds the fixed dataset seeded into the embedded engine at
// startup.
package demo

import (
	"fmt"
	"strings"
)

const TableName = "data"

type Person struct {
	ID   int32
	Name string
	Age  int32
}

var people = []Person{
	{ID: 1, Name: "John", Age: 25},
	{ID: 2, Name: "Jane", Age: 30},
	{ID: 3, Name: "Bob", Age: 35},
	{ID: 4, Name: "Alice", Age: 28},
	{ID: 5, Name: "Charlie", Age: 32},
}

// Rows returns a copy of the demo rows in id order.
func Rows() []Person {
	out := make([]Person, len(people))
	copy(out, people)
	return out
}

// SeedSQL creates the demo table only when it does not exist yet, so reseeding
// a persistent database file never duplicates rows.
func SeedSQL() string {
	values := make([]string, 0, len(people))
	for _, person := range people {
		values = append(values, fmt.Sprintf("(%d, %s, %d)", person.ID, quoteString(person.Name), person.Age))
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s AS SELECT * FROM (VALUES %s) AS t(id, name, age)",
		quoteIdent(TableName),
		strings.Join(values, ", "),
	)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
