package matcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taintline/taintline/internal/adapter"
	"github.com/taintline/taintline/internal/ir"
	"github.com/taintline/taintline/internal/remediation"
	"github.com/taintline/taintline/internal/rules"
	"github.com/taintline/taintline/internal/severity"
	"github.com/taintline/taintline/internal/taint"
	"github.com/taintline/taintline/internal/types"
)

func builtinRules(t *testing.T) (*rules.RuleSet, *taint.Catalog, *remediation.Mapper) {
	t.Helper()
	rm, err := remediation.Builtin()
	require.NoError(t, err)
	cat, err := taint.BuiltinCatalog()
	require.NoError(t, err)
	pack, err := rules.Builtin()
	require.NoError(t, err)
	rs, err := rules.LoadPack(pack, rules.LoadOptions{
		Classifier:   severity.Default(),
		Remediations: rm,
		Catalog:      cat,
		Patterns:     Library{},
		Languages:    adapter.Default().Languages(),
	})
	require.NoError(t, err)
	return rs, cat, rm
}

func newMatcher(t *testing.T) *Matcher {
	t.Helper()
	rs, cat, rm := builtinRules(t)
	return New(rs, cat, severity.Default(), rm)
}

func parse(t *testing.T, a adapter.Adapter, path, src string) *ir.File {
	t.Helper()
	f, err := a.Parse(path, []byte(src))
	require.NoError(t, err)
	return f
}

func parseFixture(t *testing.T, name string) *ir.File {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	a, ok := adapter.Default().ForPath(name)
	require.True(t, ok, name)
	return parse(t, a, name, string(src))
}

func match(t *testing.T, m *Matcher, f *ir.File) []types.Finding {
	t.Helper()
	out, err := m.Match(context.Background(), f)
	require.NoError(t, err)
	return out
}

func byRule(fs []types.Finding) map[string][]int {
	out := map[string][]int{}
	for _, f := range fs {
		out[f.RuleID] = append(out[f.RuleID], f.Line)
	}
	return out
}

func describe(fs []types.Finding) string {
	s := ""
	for _, f := range fs {
		s += fmt.Sprintf("\n  %s %s", f.Location(), f.RuleID)
	}
	return s
}

func TestBuiltinRulesLoad(t *testing.T) {
	rs, _, rm := builtinRules(t)
	require.Greater(t, rs.Len(), 20)
	for _, r := range rs.All() {
		_, ok := rm.Resolve(r.RemediationID)
		assert.True(t, ok, r.ID)
	}
}

func TestCheckPattern(t *testing.T) {
	lib := Library{}
	assert.NoError(t, lib.CheckPattern(rules.Match{Pattern: "call", Callees: []string{"md5"}}))
	assert.ErrorContains(t, lib.CheckPattern(rules.Match{Pattern: "teleport"}), "unknown pattern")
	assert.ErrorContains(t, lib.CheckPattern(rules.Match{}), "needs a pattern")
	assert.ErrorContains(t, lib.CheckPattern(rules.Match{Pattern: "call"}), "needs callees")
	assert.ErrorContains(t, lib.CheckPattern(rules.Match{Pattern: "string_literal"}), "needs regex")
	assert.ErrorContains(t, lib.CheckPattern(rules.Match{Pattern: "magic_number", Allow: []string{"ten"}}), "not a number")
	assert.ErrorContains(t, lib.CheckPattern(rules.Match{Pattern: "call", Callees: []string{"md5"}, Sink: "sql"}), "taint")
	assert.ErrorContains(t, lib.CheckPattern(rules.Match{Pattern: "long_function"}), "positive max")
	assert.ErrorContains(t, lib.CheckPattern(rules.Match{Pattern: "missing_doc", Max: 10}), "does not take max")
	assert.NoError(t, lib.CheckPattern(rules.Match{Pattern: "long_function", Max: 10}))
	assert.Contains(t, Patterns(), "query_in_loop")
}

func TestLongFunctionLimit(t *testing.T) {
	m := newMatcher(t)
	fn := func(lines int) string {
		var b strings.Builder
		b.WriteString("<?php\n/**\n * Builds the order summary.\n */\nfunction summary(): array {\n    $out = [];\n\n")
		// the signature, the first statement, the return and the closing brace
		for i := 0; i < lines-4; i++ {
			fmt.Fprintf(&b, "    $out[] = 'entry %d';\n", i)
		}
		b.WriteString("    return $out;\n}\n")
		return b.String()
	}

	at := findingsFor(match(t, m, parse(t, adapter.PHP(), "a.php", fn(50))), "long-function")
	assert.Empty(t, at, describe(at))

	over := findingsFor(match(t, m, parse(t, adapter.PHP(), "a.php", fn(51))), "long-function")
	require.Len(t, over, 1)
	assert.Equal(t, 5, over[0].Line)
	assert.Equal(t, "summary", over[0].Anchor)
	assert.Contains(t, over[0].Message, "spans 51 lines (limit 50)")
	assert.Equal(t, types.SevLow, over[0].Severity)
}

func TestVulnerablePHP(t *testing.T) {
	m := newMatcher(t)
	got := byRule(match(t, m, parseFixture(t, "vulnerable.php")))

	want := map[string][]int{
		"hardcoded-secret":                  {6, 7},
		"class-naming":                      {9},
		"select-star":                       {12, 48},
		"sql-injection":                     {13, 18},
		"reflected-xss":                     {22},
		"command-injection":                 {26},
		"path-traversal":                    {31},
		"destructive-without-authorization": {36},
		"weak-password-hash":                {40},
		"error-disclosure":                  {44},
		"magic-number":                      {53},
		"unvalidated-assignment":            {61},
		"unclear-name":                      {65},
		"insecure-deserialization":          {71},
		"cors-wildcard-credentials":         {76},
		"query-in-loop":                     {85},
		"code-injection":                    {93},
		"unreleased-resource":               {96},
		"duplicate-function":                {103},
		"deprecated-api":                    {107},
		"long-function":                     {109},
		"missing-doc":                       {11, 16, 21, 25, 30, 35, 39, 43, 47, 52, 59, 65, 70, 75, 81, 99, 103},
		"missing-return-type":               {11, 16, 21, 25, 30, 35, 39, 43, 47, 52, 59, 65, 70, 75, 81, 99, 103},
	}
	for rule, lines := range want {
		for _, line := range lines {
			assert.Contains(t, got[rule], line, "%s at line %d", rule, line)
		}
	}
}

func TestVulnerableJavaScript(t *testing.T) {
	m := newMatcher(t)
	got := byRule(match(t, m, parseFixture(t, "vulnerable.js")))

	want := map[string]int{
		"hardcoded-secret":          8,
		"cors-wildcard-credentials": 10,
		"sql-injection":             13,
		"reflected-xss":             17,
		"command-injection":         21,
		"code-injection":            25,
		"path-traversal":            30,
		"error-disclosure":          34,
		"weak-hash-algorithm":       38,
		"deprecated-api":            42,
	}
	for rule, line := range want {
		assert.Contains(t, got[rule], line, "%s at line %d", rule, line)
	}
	assert.NotContains(t, got, "missing-doc")
}

// Every builtin rule fires on a vulnerable fixture and stays silent on the
// remediated counterpart.
func TestRemediatedFixturesAreClean(t *testing.T) {
	m := newMatcher(t)
	fired := map[string]bool{}
	for _, pair := range [][2]string{{"vulnerable.php", "remediated.php"}, {"vulnerable.js", "remediated.js"}} {
		for _, f := range match(t, m, parseFixture(t, pair[0])) {
			fired[f.RuleID] = true
		}
		clean := match(t, m, parseFixture(t, pair[1]))
		assert.Empty(t, clean, "%s:%s", pair[1], describe(clean))
	}

	rs, _, _ := builtinRules(t)
	var missing []string
	for _, r := range rs.All() {
		if !fired[r.ID] {
			missing = append(missing, r.ID)
		}
	}
	assert.Empty(t, missing, "rules without a vulnerable fixture")
}

func findingsFor(fs []types.Finding, rule string) []types.Finding {
	var out []types.Finding
	for _, f := range fs {
		if f.RuleID == rule {
			out = append(out, f)
		}
	}
	return out
}

func TestScenarios(t *testing.T) {
	m := newMatcher(t)
	php := adapter.PHP()

	cases := []struct {
		name     string
		src      string
		rule     string
		category types.Category
		sev      types.Severity
		fixed    string
	}{
		{
			name: "sql concatenation",
			src: `<?php
function find($id) {
    return mysqli_query($db, "SELECT name FROM users WHERE id = " . $_GET['id']);
}`,
			rule:     "sql-injection",
			category: types.CatSQLInjection,
			sev:      types.SevCritical,
			fixed: `<?php
function find($db) {
    $stmt = $db->prepare('SELECT name FROM users WHERE id = ?');
    $stmt->bind_param('i', $_GET['id']);
    return $stmt->execute();
}`,
		},
		{
			name: "eval of request code",
			src: `<?php
function run() {
    eval($_POST['code']);
}`,
			rule:     "code-injection",
			category: types.CatCommandInjection,
			sev:      types.SevCritical,
			fixed: `<?php
function run() {
    return intval($_POST['code']);
}`,
		},
		{
			name: "fast password digest",
			src: `<?php
function store($password) {
    return md5($password);
}`,
			rule:     "weak-password-hash",
			category: types.CatWeakCryptography,
			sev:      types.SevMedium,
			fixed: `<?php
function store($password) {
    return password_hash($password, PASSWORD_ARGON2ID);
}`,
		},
		{
			name: "wildcard cors with credentials",
			src: `<?php
function api() {
    header('Access-Control-Allow-Origin: *');
    header('Access-Control-Allow-Credentials: true');
}`,
			rule:     "cors-wildcard-credentials",
			category: types.CatCORSMisconfiguration,
			sev:      types.SevHigh,
			fixed: `<?php
function api($origin) {
    if (in_array($origin, ['https://shop.example.com'], true)) {
        header('Access-Control-Allow-Origin: ' . $origin);
        header('Access-Control-Allow-Credentials: true');
    }
}`,
		},
		{
			name: "query per fetched element",
			src: `<?php
function report() {
    $users = User::all();
    foreach ($users as $user) {
        $posts = Post::where('user_id', $user->id)->get();
    }
}`,
			rule:     "query-in-loop",
			category: types.CatNPlusOneQuery,
			sev:      types.SevMedium,
			fixed: `<?php
function report() {
    $users = User::with('posts')->get();
    foreach ($users as $user) {
        $posts = $user->posts;
    }
}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := findingsFor(match(t, m, parse(t, php, "scenario.php", tc.src)), tc.rule)
			require.Len(t, got, 1)
			assert.Equal(t, tc.category, got[0].Category)
			assert.Equal(t, tc.sev, got[0].Severity)
			assert.NotEmpty(t, got[0].Message)
			require.NotNil(t, got[0].Remediation)

			fixed := findingsFor(match(t, m, parse(t, php, "scenario.php", tc.fixed)), tc.rule)
			assert.Empty(t, fixed, describe(fixed))
		})
	}
}

func TestFindingFields(t *testing.T) {
	m := newMatcher(t)
	f := parse(t, adapter.PHP(), "app/Users.php", `<?php
class Users {
    public function find($id) {
        $q = "SELECT name FROM users WHERE id = " . $id;
        return mysqli_query($this->db, $q);
    }
}`)
	got := findingsFor(match(t, m, f), "sql-injection")
	require.Len(t, got, 1)
	fd := got[0]
	assert.Equal(t, "app/Users.php", fd.Path)
	assert.Equal(t, 5, fd.Line)
	assert.Equal(t, "Users::find", fd.Function)
	assert.Equal(t, "parameter", fd.Source)
	assert.Equal(t, "mysqli_query", fd.Sink)
	assert.Equal(t, types.ConfHigh, fd.Confidence)
	assert.Contains(t, fd.Snippet, "mysqli_query")
	assert.Equal(t, "parameterized-query", fd.Remediation.ID)
}

func TestStructuralFindingsCarryAnchor(t *testing.T) {
	m := newMatcher(t)
	fs := match(t, m, parseFixture(t, "vulnerable.php"))

	hashes := findingsFor(fs, "weak-password-hash")
	require.NotEmpty(t, hashes)
	assert.True(t, strings.HasPrefix(hashes[0].Anchor, "md5"), hashes[0].Anchor)
	assert.Contains(t, hashes[0].Anchor, "$password")

	for _, f := range findingsFor(fs, "duplicate-function") {
		assert.NotContains(t, f.Anchor, "line")
	}
	for _, f := range findingsFor(fs, "sql-injection") {
		assert.Empty(t, f.Anchor)
	}
}

func TestPartialMitigationLowersSeverity(t *testing.T) {
	m := newMatcher(t)
	f := parse(t, adapter.PHP(), "a.php", `<?php
function find($db) {
    $name = mysqli_real_escape_string($db, $_GET['name']);
    return mysqli_query($db, "SELECT id FROM users WHERE name = '$name'");
}`)
	got := findingsFor(match(t, m, f), "sql-injection")
	require.Len(t, got, 1)
	assert.Equal(t, types.SevHigh, got[0].Severity)
	assert.Equal(t, types.ConfMedium, got[0].Confidence)
}

func TestSuppression(t *testing.T) {
	m := newMatcher(t)
	php := adapter.PHP()

	f := parse(t, php, "a.php", `<?php
function store($password) {
    // taintline:ignore
    return md5($password);
}
function other($password) {
    return sha1($password); // taintline:ignore
}
function third($password) {
    return md5($password);
}`)
	got := findingsFor(match(t, m, f), "weak-password-hash")
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].Line)

	whole := parse(t, php, "b.php", `<?php
// taintline:ignore-file
eval($_GET['x']);`)
	assert.True(t, IgnoredFile(whole))
	assert.Empty(t, match(t, m, whole))
}

func TestMatchIsIdempotentAndSorted(t *testing.T) {
	m := newMatcher(t)
	f := parseFixture(t, "vulnerable.php")
	first := match(t, m, f)
	second := match(t, m, f)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)

	assert.True(t, sort.SliceIsSorted(first, func(i, j int) bool {
		if first[i].Line != first[j].Line {
			return first[i].Line < first[j].Line
		}
		if first[i].Column != first[j].Column {
			return first[i].Column < first[j].Column
		}
		return first[i].RuleID < first[j].RuleID
	}))

	type key struct {
		rule string
		line int
	}
	seen := map[key]bool{}
	for _, fd := range first {
		k := key{fd.RuleID, fd.Line}
		assert.False(t, seen[k], "duplicate %v", k)
		seen[k] = true
	}
}

func TestMatchRespectsCancellation(t *testing.T) {
	m := newMatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Match(ctx, parseFixture(t, "vulnerable.php"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRulesRespectLanguage(t *testing.T) {
	rs, cat, rm := builtinRules(t)
	only, err := rs.Select([]string{"weak-hash-algorithm"}, nil)
	require.NoError(t, err)
	m := New(only, cat, severity.Default(), rm)

	js := parse(t, adapter.JavaScript(), "a.js", "const h = crypto.createHash('sha1')\n")
	assert.Len(t, match(t, m, js), 1)

	php := parse(t, adapter.PHP(), "a.php", "<?php\n$h = createHash('sha1');\n")
	assert.Empty(t, match(t, m, php))
}

func TestSnippetTruncation(t *testing.T) {
	long := ""
	for len(long) < maxSnippet+10 {
		long += "é"
	}
	s := snippet(long)
	assert.True(t, len(s) <= maxSnippet+3)
	assert.Contains(t, s, "...")
	assert.Equal(t, "short", snippet("short"))
}
