package sqlgen

import (
	"strings"
	"testing"
)

func TestFormatCreateTable(t *testing.T) {
	got := Format("create table users (id serial primary key, name text not null, email varchar(255) unique, created_at timestamp default current_timestamp);")
	want := strings.Join([]string{
		"CREATE TABLE users (",
		"    id SERIAL PRIMARY KEY,",
		"    name TEXT NOT NULL,",
		"    email VARCHAR(255) UNIQUE,",
		"    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
		");",
	}, "\n")
	if got != want {
		t.Fatalf("Format() =\n%s\nwant\n%s", got, want)
	}
	if again := Format(got); again != got {
		t.Fatalf("Format() is not stable:\n%s", again)
	}
}

func TestFormatSelectClauses(t *testing.T) {
	got := Format("select id, name from users where active = true and age > 21 order by name limit 10")
	want := strings.Join([]string{
		"SELECT id,",
		"    name",
		"FROM users",
		"WHERE active = TRUE",
		"    AND age > 21",
		"ORDER BY name",
		"LIMIT 10",
	}, "\n")
	if got != want {
		t.Fatalf("Format() =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatKeepsLiteralsAndComments(t *testing.T) {
	got := Format("select 'from where' as x, \"Select\" from t -- keep lower select\n")
	for _, fragment := range []string{"'from where'", `"Select"`, "-- keep lower select", "AS x"} {
		if !strings.Contains(got, fragment) {
			t.Fatalf("Format() = %q, missing %q", got, fragment)
		}
	}
	if !strings.HasPrefix(got, "SELECT ") {
		t.Fatalf("Format() = %q", got)
	}
}

func TestFormatSubqueryIndent(t *testing.T) {
	got := Format("select * from (select id from users) u")
	want := strings.Join([]string{
		"SELECT *",
		"FROM (",
		"    SELECT id",
		"    FROM users",
		") u",
	}, "\n")
	if got != want {
		t.Fatalf("Format() =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatSeparatesStatementsAndKeepsLeadingComment(t *testing.T) {
	got := Format("-- add index\ncreate index idx_users_email on users (email); select 1")
	want := strings.Join([]string{
		"-- add index",
		"CREATE INDEX idx_users_email ON users (email);",
		"",
		"SELECT 1",
	}, "\n")
	if got != want {
		t.Fatalf("Format() =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatSmallDetails(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"delete from users where id = -1", "DELETE FROM users\nWHERE id = -1"},
		{"insert into users (a, b) values (1, 2)", "INSERT INTO users (a, b)\nVALUES (1, 2)"},
		{"select count(*)::int from t", "SELECT count(*)::INT\nFROM t"},
		{"update users set name = 'x' where id = $1", "UPDATE users\nSET name = 'x'\nWHERE id = $1"},
		{"select 1 where x between 1 and 2", "SELECT 1\nWHERE x BETWEEN 1 AND 2"},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := Format(tc.in); got != tc.want {
			t.Fatalf("Format(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatKeepsPrefixedLiteralsAndExponents(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`insert into notes (body) values (E'it\'s here')`, "INSERT INTO notes (body)\nVALUES (E'it\\'s here')"},
		{`select E'line\nbreak' as s`, `SELECT E'line\nbreak' AS s`},
		{`select e'a''b \\' as s`, `SELECT e'a''b \\' AS s`},
		{"select B'1010' as bits, X'FF' as hex", "SELECT B'1010' AS bits,\n    X'FF' AS hex"},
		{`select N'text' as n, U&'d\0061t' as u, U&"c\0061t" as q`, "SELECT N'text' AS n,\n    U&'d\\0061t' AS u,\n    U&\"c\\0061t\" AS q"},
		{"select 1e-5 as f, 2.5E+10 as g, 3e2 as h", "SELECT 1e-5 AS f,\n    2.5E+10 AS g,\n    3e2 AS h"},
		{"select e from t", "SELECT e\nFROM t"},
	}
	for _, tc := range cases {
		got := Format(tc.in)
		if got != tc.want {
			t.Fatalf("Format(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if again := Format(got); again != got {
			t.Fatalf("Format(%q) is not stable: %q", tc.in, again)
		}
	}
}

func TestFormatKeepsDollarQuotedBody(t *testing.T) {
	body := "$$ begin return 'select from'; end $$"
	got := Format("create function f() returns text as " + body + " language plpgsql")
	if !strings.Contains(got, body) {
		t.Fatalf("Format() = %q", got)
	}
}

func TestQueryType(t *testing.T) {
	cases := []struct {
		sql  string
		want string
	}{
		{"SELECT * FROM users", QuerySelect},
		{"  insert into t values (1)", QueryInsert},
		{"update t set a = 1", QueryUpdate},
		{"DELETE FROM t", QueryDelete},
		{"create table t (id int)", QueryCreateTable},
		{"-- comment\nCREATE TABLE t (id int)", QueryCreateTable},
		{"ALTER TABLE t ADD COLUMN b int", QueryAlterTable},
		{"drop table t", QueryDrop},
		{"CREATE INDEX idx ON t (a)", QueryOther},
		{"", QueryOther},
		{"(select 1)", QueryOther},
	}
	for _, tc := range cases {
		if got := QueryType(tc.sql); got != tc.want {
			t.Fatalf("QueryType(%q) = %q, want %q", tc.sql, got, tc.want)
		}
	}
}

func TestReturnsRows(t *testing.T) {
	cases := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"-- list\nwith x as (select 1) select * from x", true},
		{"explain select 1", true},
		{"INSERT INTO users (email) VALUES ('a') RETURNING id", true},
		{"INSERT INTO users (email) VALUES ('returning')", false},
		{"CREATE TABLE users (id INT)", false},
		{"update users set a = 1 -- returning", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ReturnsRows(tc.sql); got != tc.want {
			t.Fatalf("ReturnsRows(%q) = %v, want %v", tc.sql, got, tc.want)
		}
	}
}
