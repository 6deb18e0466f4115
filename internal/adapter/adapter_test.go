package adapter

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taintline/taintline/internal/ir"
)

const phpController = `<?php
class UserController
{
    /**
     * Show a user.
     */
    public function show(int $id, $name): array
    {
        $sql = "SELECT * FROM users WHERE id = " . $_GET['id'];
        $result = $this->db->query($sql);
        if (!$result) {
            throw new Exception("missing");
        }
        foreach ($rows as $row) {
            echo $row['name'];
        }
        return $result;
    }
}
`

func function(t *testing.T, f *ir.File, name string) *ir.Function {
	t.Helper()
	for _, fn := range f.Functions {
		if fn.Name == name {
			return fn
		}
	}
	t.Fatalf("function %q not found", name)
	return nil
}

func firstCall(e *ir.Expr) *ir.Call {
	calls := ir.Calls(e)
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func TestParsePHPMethod(t *testing.T) {
	f, err := PHP().Parse("UserController.php", []byte(phpController))
	require.NoError(t, err)
	require.Len(t, f.Classes, 1)
	assert.Equal(t, "UserController", f.Classes[0].Name)
	assert.Equal(t, 2, f.Classes[0].NameSpan.Start.Line)

	fn := function(t, f, "show")
	assert.Equal(t, "UserController", fn.Class)
	assert.Equal(t, "UserController::show", fn.QualifiedName())
	assert.Equal(t, "array", fn.ReturnType)
	assert.True(t, strings.HasPrefix(fn.Doc, "/**"))
	require.Len(t, fn.Params, 2)
	assert.Equal(t, ir.Param{Name: "$id", Type: "int", Span: fn.Params[0].Span}, fn.Params[0])
	assert.Equal(t, "$name", fn.Params[1].Name)
	assert.Equal(t, "", fn.Params[1].Type)

	kinds := make([]ir.StmtKind, 0, len(fn.Body))
	for _, s := range fn.Body {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []ir.StmtKind{ir.StmtAssign, ir.StmtAssign, ir.StmtIf, ir.StmtLoop, ir.StmtReturn}, kinds)

	assert.Equal(t, "$sql", fn.Body[0].Target.Path)
	var sawGet bool
	for _, v := range ir.Vars(fn.Body[0].Expr) {
		if v.Path == "$_GET" {
			sawGet = true
			require.Len(t, v.Index, 1)
		}
	}
	assert.True(t, sawGet)
	assert.Contains(t, fn.Body[0].Expr.Ops, ".")

	query := firstCall(fn.Body[1].Expr)
	require.NotNil(t, query)
	assert.Equal(t, "query", query.Name)
	assert.Equal(t, "$this->db", query.Receiver)
	assert.Equal(t, 10, query.Span.Start.Line)
	require.Len(t, query.Args, 1)
	assert.Equal(t, "$sql", query.Args[0].Text)

	assert.True(t, ir.Terminates(fn.Body[2].Body))

	loop := fn.Body[3]
	require.NotNil(t, loop.Loop)
	assert.Equal(t, "foreach", loop.Loop.Kind)
	assert.Equal(t, []string{"$row"}, loop.Loop.Items)
	assert.Equal(t, "$rows", loop.Loop.Collection.Text)
	require.Len(t, loop.Body, 1)
	echo := firstCall(loop.Body[0].Expr)
	require.NotNil(t, echo)
	assert.True(t, echo.Construct)
	assert.Equal(t, "echo", echo.Name)
}

func TestParsePHPTopLevelAndInlineHTML(t *testing.T) {
	src := "<html>\n<?php\n$name = $_POST['name'];\n?>\n<p><?= $name ?></p>\n"
	f, err := PHP().Parse("page.php", []byte(src))
	require.NoError(t, err)
	require.NotEmpty(t, f.Functions)
	main := f.Functions[0]
	assert.True(t, main.Synthetic)
	assert.Equal(t, "<main>", main.Name)
	require.NotEmpty(t, main.Body)
	assert.Equal(t, ir.StmtAssign, main.Body[0].Kind)
	assert.Equal(t, 3, main.Body[0].Span.Start.Line)
	assert.Equal(t, "<p><?= $name ?></p>", f.Line(5))
}

func TestParsePHPCastAndStaticCall(t *testing.T) {
	src := `<?php
function load($id) {
    $n = (int) $id;
    return DB::select("SELECT name FROM users WHERE id = ?", [$n]);
}
`
	f, err := PHP().Parse("load.php", []byte(src))
	require.NoError(t, err)
	fn := function(t, f, "load")
	require.Len(t, fn.Body, 2)
	cast := fn.Body[0].Expr.Nodes[0]
	assert.Equal(t, ir.NodeCast, cast.Kind)
	assert.Equal(t, "int", cast.Cast)

	sel := firstCall(fn.Body[1].Expr)
	require.NotNil(t, sel)
	assert.True(t, sel.Static)
	assert.Equal(t, "DB", sel.Receiver)
	assert.Equal(t, "DB::select", sel.Callee())
	assert.Len(t, sel.Args, 2)
}

func TestParsePHPClosureInline(t *testing.T) {
	src := `<?php
function save($items) {
    DB::transaction(function () use ($items) {
        foreach ($items as $item) {
            $item->save();
        }
    });
}
`
	f, err := PHP().Parse("save.php", []byte(src))
	require.NoError(t, err)
	fn := function(t, f, "save")
	require.Len(t, fn.Body, 1)
	require.Len(t, fn.Body[0].Closures, 1)
	var loops int
	ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
		if s.Kind == ir.StmtLoop {
			loops++
		}
		return true
	})
	assert.Equal(t, 1, loops)
}

const jsApp = "const express = require('express');\n" +
	"const app = express();\n" +
	"\n" +
	"app.get('/user', (req, res) => {\n" +
	"  const id = req.query.id\n" +
	"  db.query(`SELECT * FROM users WHERE id = ${id}`, (err, rows) => {\n" +
	"    res.send(rows)\n" +
	"  })\n" +
	"})\n" +
	"\n" +
	"function helper(a, b) {\n" +
	"  return a + b\n" +
	"}\n"

func TestParseJavaScript(t *testing.T) {
	f, err := JavaScript().Parse("app.js", []byte(jsApp))
	require.NoError(t, err)
	require.Len(t, f.Functions, 2)
	main := f.Functions[0]
	assert.True(t, main.Synthetic)
	require.Len(t, main.Body, 3)
	assert.Equal(t, "express", main.Body[0].Target.Path)
	assert.Equal(t, "app", main.Body[1].Target.Path)

	route := main.Body[2]
	require.Len(t, route.Closures, 1)
	handler := route.Closures[0]
	require.Len(t, handler.Params, 2)
	assert.Equal(t, "req", handler.Params[0].Name)
	require.Len(t, handler.Body, 2)
	assert.Equal(t, "id", handler.Body[0].Target.Path)
	var paths []string
	for _, v := range ir.Vars(handler.Body[0].Expr) {
		paths = append(paths, v.Path)
	}
	assert.Contains(t, paths, "req.query.id")

	calls := ir.StmtCalls(handler.Body[1])
	require.NotEmpty(t, calls)
	q := calls[0]
	assert.Equal(t, "query", q.Name)
	assert.Equal(t, "db", q.Receiver)
	require.NotEmpty(t, q.Args)
	lit := q.Args[0].Nodes[0]
	assert.Equal(t, ir.NodeString, lit.Kind)
	assert.Equal(t, []string{"id"}, lit.Interp)

	helper := function(t, f, "helper")
	assert.False(t, helper.Synthetic)
	require.Len(t, helper.Params, 2)
	assert.Equal(t, 11, helper.Span.Start.Line)
	require.Len(t, helper.Body, 1)
	assert.Equal(t, ir.StmtReturn, helper.Body[0].Kind)
}

func TestParseErrorUnbalanced(t *testing.T) {
	_, err := PHP().Parse("broken.php", []byte("<?php\nfunction f() {\n  if (true) {\n}\n"))
	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "broken.php", pe.Path)
	assert.True(t, errors.Is(err, ErrUnbalanced))
}

func TestParseRepairsInvalidUTF8(t *testing.T) {
	src := []byte("<?php\n// caf\xe9 \xff\xfe\nfunction find($id) {\n    return $id;\n}\n")
	f, err := PHP().Parse("latin1.php", src)
	require.NoError(t, err)
	assert.True(t, f.Repaired)
	require.NotEmpty(t, f.Comments)
	assert.Contains(t, f.Comments[0].Text, "\uFFFD")

	var names []string
	for _, fn := range f.Functions {
		names = append(names, fn.Name)
	}
	assert.Contains(t, names, "find")

	clean, err := JavaScript().Parse("ok.js", []byte("let x = 1\n"))
	require.NoError(t, err)
	assert.False(t, clean.Repaired)
}

func TestRegistry(t *testing.T) {
	r := Default()
	a, ok := r.ForPath("src/Controller.PHP")
	require.True(t, ok)
	assert.Equal(t, "php", a.Language())
	a, ok = r.ForPath("server.mjs")
	require.True(t, ok)
	assert.Equal(t, "javascript", a.Language())
	assert.False(t, r.Supported("README.md"))
	assert.Equal(t, []string{"javascript", "php"}, r.Languages())
	_, ok = r.ForLanguage("PHP")
	assert.True(t, ok)
}

func TestBlankInline(t *testing.T) {
	src := "<b><?php echo $x; ?></b>"
	out := blankInline(src, phpProfile.openTags, phpProfile.closeTag)
	require.Equal(t, len(src), len(out))
	assert.Equal(t, strings.Index(src, "echo"), strings.Index(out, "echo"))
	assert.NotContains(t, out, "<b>")
	assert.NotContains(t, out, "?>")
}
