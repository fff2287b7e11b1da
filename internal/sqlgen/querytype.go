package sqlgen

const (
	QuerySelect      = "SELECT"
	QueryInsert      = "INSERT"
	QueryUpdate      = "UPDATE"
	QueryDelete      = "DELETE"
	QueryCreateTable = "CREATE_TABLE"
	QueryAlterTable  = "ALTER_TABLE"
	QueryDrop        = "DROP"
	QueryOther       = "OTHER"
)

// QueryType classifies sql by its leading keywords. Leading comments are
// skipped.
func QueryType(sql string) string {
	var words []string
	for _, tok := range tokenize(sql) {
		if tok.isComment() {
			continue
		}
		if tok.kind != tokWord {
			break
		}
		words = append(words, tok.upper())
		if len(words) == 2 {
			break
		}
	}
	if len(words) == 0 {
		return QueryOther
	}
	switch words[0] {
	case "SELECT":
		return QuerySelect
	case "INSERT":
		return QueryInsert
	case "UPDATE":
		return QueryUpdate
	case "DELETE":
		return QueryDelete
	case "DROP":
		return QueryDrop
	case "CREATE":
		if len(words) > 1 && words[1] == "TABLE" {
			return QueryCreateTable
		}
	case "ALTER":
		if len(words) > 1 && words[1] == "TABLE" {
			return QueryAlterTable
		}
	}
	return QueryOther
}

var rowReturningLeaders = map[string]struct{}{
	"SELECT": {}, "WITH": {}, "SHOW": {}, "EXPLAIN": {}, "VALUES": {}, "TABLE": {}, "FETCH": {},
}

// ReturnsRows reports whether sql is expected to produce a result set: a
// query-like leading keyword, or a RETURNING clause outside literals and
// comments.
func ReturnsRows(sql string) bool {
	first := true
	for _, tok := range tokenize(sql) {
		if tok.isComment() {
			continue
		}
		if first {
			first = false
			if tok.kind != tokWord {
				return false
			}
			if _, ok := rowReturningLeaders[tok.upper()]; ok {
				return true
			}
			continue
		}
		if tok.is("RETURNING") {
			return true
		}
	}
	return false
}
