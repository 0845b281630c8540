package capability

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"livenote/internal/document"
	"livenote/internal/logging"
	"livenote/internal/picker"
	"livenote/internal/storage"
	"livenote/internal/types"
)

// =============================================================================
// FILES
// =============================================================================

// readFile(path?, extensions?) resolves to the file's text. Without a path it
// opens the picker, limited to extensions when given, and resolves to null
// when the user dismisses it.
func (b *builder) readFile(call goja.FunctionCall) goja.Value {
	path := argString(call, 0)
	docs := b.env.Docs
	if path != "" {
		return b.promise(func(context.Context) (interface{}, error) {
			return docs.Read(document.Clean(path))
		})
	}

	pk := b.env.Picker
	opts := picker.Options{Title: "Select a file", Dir: docs.Root(), Extensions: b.env.Extensions}
	if exts := types.ExtractStrings(export(call.Argument(1))); len(exts) > 0 {
		opts.Extensions = normalizeExtensions(exts)
	}
	return b.promise(func(ctx context.Context) (interface{}, error) {
		chosen, err := pk.Pick(ctx, opts)
		if err != nil {
			return nil, err
		}
		if chosen == "" {
			logging.Get(logging.CategoryScope).Debug("readFile picker dismissed in %s", b.env.Document)
			return nil, nil
		}
		rel, err := vaultRelative(docs.Root(), chosen)
		if err != nil {
			return nil, err
		}
		if !opts.Allowed(rel) {
			return nil, fmt.Errorf("readFile: %s is not an allowed file type", rel)
		}
		return docs.Read(rel)
	})
}

// normalizeExtensions adds the leading dot picker.Options expects.
func normalizeExtensions(exts []string) []string {
	out := make([]string, len(exts))
	for i, e := range exts {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[i] = strings.ToLower(e)
	}
	return out
}

// vaultRelative maps a picked path onto the vault, refusing anything outside.
func vaultRelative(root, path string) (string, error) {
	if !filepath.IsAbs(path) {
		return document.Clean(path), nil
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("readFile: %s is outside the vault", path)
	}
	return document.Clean(rel), nil
}

// =============================================================================
// FRONTMATTER
// =============================================================================

func (b *builder) namespace() string {
	if b.env.Storage != nil {
		return b.env.Storage.Namespace()
	}
	return storage.DefaultNamespace
}

// warnMismatch notifies when key lives on the other side of the namespace
// boundary. Runs off the loop.
func (b *builder) warnMismatch(doc, key string, root bool) {
	if b.env.Storage == nil || key == "" {
		return
	}
	if msg := b.env.Storage.Mismatch(doc, key, root); msg != "" {
		b.env.Notifier.Notify(doc, msg)
	}
}

// getFrontmatter(key?, default?, path?, useRootNamespace?)
func (b *builder) getFrontmatter(call goja.FunctionCall) goja.Value {
	key := argString(call, 0)
	def := export(call.Argument(1))
	doc := b.target(call, 2)
	root := argBool(call, 3)
	ns := b.namespace()
	docs := b.env.Docs

	return b.promise(func(context.Context) (interface{}, error) {
		fm, err := docs.Frontmatter(doc)
		if err != nil {
			return nil, err
		}
		if key == "" {
			return fm, nil
		}
		b.warnMismatch(doc, key, root)
		scope := fm
		if !root {
			scope, _ = fm[ns].(map[string]interface{})
		}
		if v, ok := scope[key]; ok {
			return v, nil
		}
		return def, nil
	})
}

// updateFrontmatter(key, value, path?, useRootNamespace?)
func (b *builder) updateFrontmatter(call goja.FunctionCall) goja.Value {
	key := argString(call, 0)
	if key == "" {
		panic(b.rt.NewTypeError("updateFrontmatter requires a key"))
	}
	value := export(call.Argument(1))
	doc := b.target(call, 2)
	root := argBool(call, 3)
	keyPath := []string{b.namespace(), key}
	if root {
		keyPath = []string{key}
	}
	docs, mgr := b.env.Docs, b.env.Storage

	return b.promise(func(context.Context) (interface{}, error) {
		b.warnMismatch(doc, key, root)
		err := docs.SetFrontmatter(doc, keyPath, value)
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
			logging.StorageError("updateFrontmatter %s %v: %v", doc, keyPath, err)
		} else if mgr != nil {
			mgr.Invalidate(doc)
		}
		logging.AuditFor(doc).FrontmatterWrite(keyPath, err == nil, errMsg)
		return nil, err
	})
}
