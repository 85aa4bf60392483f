package jsengine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Module sources are ES modules. Neither engine exposes a module loader the
// worker can drive, so sources are rewritten into a factory expression:
//
//	(function (__require) { "use strict"; var __exports = {}; ...; return __exports; })
//
// Imports become __require calls against modules loaded earlier, and exports
// become assignments to __exports appended after the body. Exported bindings
// are therefore snapshots taken when the module finishes loading.

const identPattern = `[A-Za-z_$][\w$]*`

var (
	reExportDefaultDecl = regexp.MustCompile(`(?m)^([ \t]*)export[ \t]+default[ \t]+((?:async[ \t]+)?function[ \t]*\*?|class)[ \t]+(` + identPattern + `)`)
	reExportDefault     = regexp.MustCompile(`(?m)^([ \t]*)export[ \t]+default[ \t]+`)
	reExportDecl        = regexp.MustCompile(`(?m)^([ \t]*)export[ \t]+((?:async[ \t]+)?function[ \t]*\*?|class|const|let|var)[ \t]+(` + identPattern + `)`)
	reExportList        = regexp.MustCompile(`(?m)^[ \t]*export[ \t]*\{([^}]*)\}[ \t]*(?:from[ \t]*["']([^"']+)["'])?[ \t]*;?`)
	reImportFrom        = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([^"';]+?)[ \t]+from[ \t]*["']([^"']+)["'][ \t]*;?`)
	reImportBare        = regexp.MustCompile(`(?m)^[ \t]*import[ \t]*["']([^"']+)["'][ \t]*;?`)
	reIdent             = regexp.MustCompile(`^` + identPattern + `$`)
)

type exportBinding struct {
	exported string
	local    string
}

// TransformModule rewrites ES module source into a factory expression. The
// factory takes a require function and returns the module's exports object.
func TransformModule(source string) (string, error) {
	var (
		exports  []exportBinding
		firstErr error
		reexport int
	)
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	body := reExportDefaultDecl.ReplaceAllStringFunc(source, func(m string) string {
		sub := reExportDefaultDecl.FindStringSubmatch(m)
		exports = append(exports, exportBinding{exported: "default", local: sub[3]})
		return sub[1] + sub[2] + " " + sub[3]
	})

	body = reExportDefault.ReplaceAllStringFunc(body, func(m string) string {
		sub := reExportDefault.FindStringSubmatch(m)
		return sub[1] + "__exports.default = "
	})

	body = reExportDecl.ReplaceAllStringFunc(body, func(m string) string {
		sub := reExportDecl.FindStringSubmatch(m)
		exports = append(exports, exportBinding{exported: sub[3], local: sub[3]})
		return sub[1] + sub[2] + " " + sub[3]
	})

	body = reExportList.ReplaceAllStringFunc(body, func(m string) string {
		sub := reExportList.FindStringSubmatch(m)
		bindings, err := parseBindings(sub[1])
		if err != nil {
			fail(err)
			return m
		}
		if sub[2] == "" {
			exports = append(exports, bindings...)
			return ""
		}
		ns := "__reexport" + strconv.Itoa(reexport)
		reexport++
		for _, b := range bindings {
			exports = append(exports, exportBinding{exported: b.exported, local: ns + "[" + strconv.Quote(b.local) + "]"})
		}
		return "const " + ns + " = __require(" + strconv.Quote(sub[2]) + ");"
	})

	body = reImportFrom.ReplaceAllStringFunc(body, func(m string) string {
		sub := reImportFrom.FindStringSubmatch(m)
		stmt, err := importStatement(strings.TrimSpace(sub[1]), sub[2])
		if err != nil {
			fail(err)
			return m
		}
		return stmt
	})

	body = reImportBare.ReplaceAllStringFunc(body, func(m string) string {
		sub := reImportBare.FindStringSubmatch(m)
		return "__require(" + strconv.Quote(sub[1]) + ");"
	})

	if firstErr != nil {
		return "", firstErr
	}

	var b strings.Builder
	b.WriteString("(function (__require) {\n\"use strict\";\nvar __exports = {};\n")
	b.WriteString(body)
	b.WriteString("\n")
	for _, e := range exports {
		fmt.Fprintf(&b, "__exports[%s] = %s;\n", strconv.Quote(e.exported), e.local)
	}
	b.WriteString("return __exports;\n})")
	return b.String(), nil
}

// parseBindings parses the inside of an export list: "a, b as c".
func parseBindings(list string) ([]exportBinding, error) {
	var out []exportBinding
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		local, exported := part, part
		if fields := strings.Fields(part); len(fields) == 3 && fields[1] == "as" {
			local, exported = fields[0], fields[2]
		}
		if !reIdent.MatchString(local) || !reIdent.MatchString(exported) {
			return nil, fmt.Errorf("unsupported export binding %q", part)
		}
		out = append(out, exportBinding{exported: exported, local: local})
	}
	return out, nil
}

// importStatement translates an import clause into a const declaration.
func importStatement(clause, spec string) (string, error) {
	req := "__require(" + strconv.Quote(spec) + ")"

	if ns, ok := strings.CutPrefix(clause, "*"); ok {
		ns = strings.TrimSpace(ns)
		name, ok := strings.CutPrefix(ns, "as")
		name = strings.TrimSpace(name)
		if !ok || !reIdent.MatchString(name) {
			return "", fmt.Errorf("unsupported namespace import %q", clause)
		}
		return "const " + name + " = " + req + ";", nil
	}

	var def, named string
	if i := strings.Index(clause, "{"); i >= 0 {
		j := strings.LastIndex(clause, "}")
		if j < i {
			return "", fmt.Errorf("unsupported import clause %q", clause)
		}
		named = clause[i+1 : j]
		def = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(clause[:i]), ","))
	} else {
		def = clause
	}

	var stmts []string
	if def != "" {
		if !reIdent.MatchString(def) {
			return "", fmt.Errorf("unsupported default import %q", def)
		}
		stmts = append(stmts, "const "+def+" = "+req+".default;")
	}
	if named != "" {
		bindings, err := parseBindings(named)
		if err != nil {
			return "", err
		}
		parts := make([]string, len(bindings))
		for i, b := range bindings {
			// In an import list the left side names the export.
			if b.exported == b.local {
				parts[i] = b.local
			} else {
				parts[i] = b.local + ": " + b.exported
			}
		}
		stmts = append(stmts, "const { "+strings.Join(parts, ", ")+" } = "+req+";")
	}
	if len(stmts) == 0 {
		return "", fmt.Errorf("empty import clause for %q", spec)
	}
	return strings.Join(stmts, " "), nil
}

// normalizeSpecifier maps an import specifier onto a loaded module name.
func normalizeSpecifier(spec string) string {
	return strings.TrimPrefix(spec, "./")
}
