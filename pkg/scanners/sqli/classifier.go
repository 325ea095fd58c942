package sqli

import (
	"regexp"
	"strings"

	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners"
)

// Result is the verdict on one response.
type Result struct {
	Vulnerable bool
	Signature  string
	Evidence   string
}

type signature struct {
	name    string
	pattern *regexp.Regexp
}

// Checked in order; vendor-specific messages come before generic ones so the
// reported signature names the database where possible.
var signatures = []signature{
	{"mysql", regexp.MustCompile(`(?i)SQL syntax.*MySQL`)},
	{"mysql", regexp.MustCompile(`(?i)Warning.*mysql_`)},
	{"mysql", regexp.MustCompile(`(?i)valid MySQL result`)},
	{"mysql", regexp.MustCompile(`(?i)MySqlClient\.`)},
	{"postgresql", regexp.MustCompile(`(?i)PostgreSQL.*ERROR`)},
	{"postgresql", regexp.MustCompile(`(?i)Warning.*\Wpg_`)},
	{"postgresql", regexp.MustCompile(`(?i)valid PostgreSQL result`)},
	{"postgresql", regexp.MustCompile(`(?i)Npgsql\.`)},
	{"mssql", regexp.MustCompile(`(?i)Driver.* SQL[\-_ ]*Server`)},
	{"mssql", regexp.MustCompile(`(?i)OLE DB.* SQL Server`)},
	{"mssql", regexp.MustCompile(`(?i)Warning.*mssql_`)},
	{"mssql", regexp.MustCompile(`(?i)Unclosed quotation mark after the character string`)},
	{"oracle", regexp.MustCompile(`\bORA-[0-9]{4,5}`)},
	{"oracle", regexp.MustCompile(`(?i)Oracle error`)},
	{"oracle", regexp.MustCompile(`(?i)Oracle.*Driver`)},
	{"oracle", regexp.MustCompile(`(?i)Warning.*\Woci_`)},
	{"sqlite", regexp.MustCompile(`(?i)SQLite/JDBCDriver`)},
	{"sqlite", regexp.MustCompile(`(?i)SQLite\.Exception`)},
	{"sqlite", regexp.MustCompile(`(?i)System\.Data\.SQLite\.SQLiteException`)},
	{"sqlite", regexp.MustCompile(`(?i)Warning.*sqlite_`)},
	{"sqlite", regexp.MustCompile(`SQLITE_ERROR`)},
	{"generic", regexp.MustCompile(`(?i)SQL syntax`)},
	{"generic", regexp.MustCompile(`(?i)unclosed quotation mark`)},
	{"generic", regexp.MustCompile(`(?i)quoted string not properly terminated`)},
	{"generic", regexp.MustCompile(`(?i)unexpected end of (SQL )?command`)},
	{"generic", regexp.MustCompile(`(?i)syntax error`)},
	{"generic", regexp.MustCompile(`(?i)mysql_fetch`)},
	{"generic", regexp.MustCompile(`PL/SQL`)},
}

const echoSignature = "payload_echo"

// Classify decides whether body shows signs of SQL injection for payload.
// It is pure: the same inputs always give the same result.
func Classify(payload, body string) Result {
	return classifyExcluding(payload, body, nil)
}

// classifyExcluding is Classify with the signatures in known ignored, so an
// error the endpoint already shows cannot mask a new one. A body carrying a
// known signature is not judged on payload echo.
func classifyExcluding(payload, body string, known map[string]bool) Result {
	explained := false
	for _, sig := range signatures {
		loc := sig.pattern.FindStringIndex(body)
		if loc == nil {
			continue
		}
		name := sig.name + ":" + sig.pattern.String()
		if known[name] {
			explained = true
			continue
		}
		return Result{
			Vulnerable: true,
			Signature:  name,
			Evidence:   scanners.Excerpt(body, loc[0], loc[1], 50),
		}
	}

	if !explained && strings.ContainsAny(payload, `'"`) {
		if idx := strings.Index(body, payload); idx >= 0 && strings.Contains(strings.ToLower(body), "error") {
			return Result{
				Vulnerable: true,
				Signature:  echoSignature,
				Evidence:   scanners.Excerpt(body, idx, idx+len(payload), 50),
			}
		}
	}

	return Result{}
}

// matchedSignatures lists every database error signature present in body.
func matchedSignatures(body string) map[string]bool {
	found := make(map[string]bool)
	for _, sig := range signatures {
		if sig.pattern.MatchString(body) {
			found[sig.name+":"+sig.pattern.String()] = true
		}
	}
	return found
}

var (
	timeBased    = regexp.MustCompile(`(?i)\b(SLEEP|WAITFOR|PG_SLEEP|BENCHMARK)\b`)
	unionBased   = regexp.MustCompile(`(?i)\bUNION\b`)
	booleanBased = regexp.MustCompile(`(?i)\b(OR|AND)\b`)
)

// Technique labels the injection style a payload exercises.
func Technique(payload string) string {
	switch {
	case timeBased.MatchString(payload):
		return "time-based"
	case unionBased.MatchString(payload):
		return "union-based"
	case booleanBased.MatchString(payload):
		return "boolean-based"
	default:
		return "error-based"
	}
}
