package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/skosovsky/promptvault"
)

// LoadDir parses every .yaml / .yml document under dir, recursively. Files are parsed concurrently
// but drafts are returned in lexical file order, then document order.
func LoadDir(ctx context.Context, dir string) ([]promptvault.PromptDraft, error) {
	return load(ctx, os.DirFS(dir), ".")
}

// LoadFS is LoadDir over fs.FS (e.g. embed.FS), starting at root.
func LoadFS(ctx context.Context, fsys fs.FS, root string) ([]promptvault.PromptDraft, error) {
	return load(ctx, fsys, root)
}

func load(ctx context.Context, fsys fs.FS, root string) ([]promptvault.PromptDraft, error) {
	var files []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isDocument(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: walk %s: %w", root, err)
	}
	sort.Strings(files)

	parsed := make([][]promptvault.PromptDraft, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			drafts, err := ParseFS(fsys, name)
			if err != nil {
				return err
			}
			parsed[i] = drafts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []promptvault.PromptDraft
	for _, drafts := range parsed {
		out = append(out, drafts...)
	}
	return out, nil
}

func isDocument(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
