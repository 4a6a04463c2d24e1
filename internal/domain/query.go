package domain

import (
	"strconv"
	"time"
)

// Column names an Entry attribute that can be matched exactly.
type Column string

const (
	ColumnKind                Column = "kind"
	ColumnLocalAddress        Column = "local_address"
	ColumnCounterpartyAddress Column = "counterparty_address"
	ColumnTransactionID       Column = "transaction_id"
	ColumnAmount              Column = "amount"
	ColumnExpiresAt           Column = "expires_at"
	ColumnBlockHeight         Column = "block_height"
)

// Columns lists every matchable column in schema order.
var Columns = []Column{
	ColumnKind,
	ColumnLocalAddress,
	ColumnCounterpartyAddress,
	ColumnTransactionID,
	ColumnAmount,
	ColumnExpiresAt,
	ColumnBlockHeight,
}

// Valid reports whether c is a known column.
func (c Column) Valid() bool {
	for _, known := range Columns {
		if c == known {
			return true
		}
	}
	return false
}

// Condition is an exact-match predicate on one column.
type Condition struct {
	Column Column
	Value  string
}

// Eq builds a condition.
func Eq(column Column, value string) Condition {
	return Condition{Column: column, Value: value}
}

// Query selects entries by a conjunction or, when Any is set, a disjunction of conditions.
// An empty query matches every entry.
type Query struct {
	Conditions []Condition
	Any        bool
}

// Where builds a conjunctive query.
func Where(conds ...Condition) Query {
	return Query{Conditions: conds}
}

// WhereAny builds a disjunctive query.
func WhereAny(conds ...Condition) Query {
	return Query{Conditions: conds, Any: true}
}

// Validate rejects unknown columns.
func (q Query) Validate() error {
	for _, c := range q.Conditions {
		if !c.Column.Valid() {
			return validationError("unknown ledger column %q", c.Column)
		}
	}
	return nil
}

// Matches evaluates the query against a single entry.
func (q Query) Matches(e Entry) bool {
	if len(q.Conditions) == 0 {
		return true
	}
	for _, c := range q.Conditions {
		ok := e.Field(c.Column) == c.Value
		if q.Any && ok {
			return true
		}
		if !q.Any && !ok {
			return false
		}
	}
	return !q.Any
}

// Field renders the column value the way stores compare it.
func (e Entry) Field(c Column) string {
	switch c {
	case ColumnKind:
		return string(e.Kind)
	case ColumnLocalAddress:
		return e.LocalAddress
	case ColumnCounterpartyAddress:
		return e.CounterpartyAddress
	case ColumnTransactionID:
		return e.TransactionID
	case ColumnAmount:
		return e.Amount.String()
	case ColumnExpiresAt:
		if e.ExpiresAt == nil {
			return ""
		}
		return FormatTime(*e.ExpiresAt)
	case ColumnBlockHeight:
		return strconv.FormatUint(e.BlockHeight, 10)
	}
	return ""
}

// FormatTime is the canonical text form of timestamps in queries and storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
