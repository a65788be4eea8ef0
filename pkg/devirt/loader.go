package devirt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"

	"github.com/715d/devirt/internal/model"
	"github.com/715d/devirt/pkg/cxx"
)

// LoaderOptions configures program loading.
type LoaderOptions struct {
	// Paths are files or directories to load. Directories are walked
	// recursively. Any afs URL is accepted; plain paths are local files.
	Paths []string

	// Workers bounds the parallelism of source parsing.
	// Zero means runtime.NumCPU().
	Workers int
}

var (
	modelExtensions  = []string{".yaml", ".yml", ".json"}
	sourceExtensions = []string{".cpp", ".cc", ".cxx", ".hpp", ".hh", ".h"}
)

// skippedDirs are never descended into.
var skippedDirs = []string{".git", "build", "vendor", "node_modules"}

func isModelFile(name string) bool {
	return slices.Contains(modelExtensions, strings.ToLower(filepath.Ext(name)))
}

func isSourceFile(name string) bool {
	return slices.Contains(sourceExtensions, strings.ToLower(filepath.Ext(name)))
}

// LoadProgram loads program facts from model files and C++ sources and merges
// them into one program. Model files are decoded as they are; C++ sources are
// extracted together so declarations and definitions in different files
// enrich each other.
func LoadProgram(ctx context.Context, opts LoaderOptions) (*model.Program, error) {
	paths := opts.Paths
	if len(paths) == 0 {
		paths = []string{"."}
	}

	fs := afs.New()
	var models []string
	var sources []string
	for _, p := range paths {
		location := p
		if url.IsRelative(p) {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", p, err)
			}
			location = abs
		}
		files, err := collect(ctx, fs, location)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			switch {
			case isModelFile(f):
				models = append(models, f)
			case isSourceFile(f):
				sources = append(sources, f)
			}
		}
	}
	if len(models) == 0 && len(sources) == 0 {
		return nil, fmt.Errorf("no model or source files found in %v", paths)
	}

	prog := &model.Program{}
	for _, f := range models {
		data, err := fs.DownloadWithURL(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		decoded, err := model.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
		prog.Merge(decoded)
	}

	if len(sources) > 0 {
		srcs := make([]cxx.Source, 0, len(sources))
		for _, f := range sources {
			data, err := fs.DownloadWithURL(ctx, f)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", f, err)
			}
			srcs = append(srcs, cxx.Source{Path: displayPath(f), Data: data})
		}
		extracted, err := cxx.Extract(ctx, srcs, cxx.Options{Workers: opts.Workers})
		if err != nil {
			return nil, err
		}
		prog.Merge(extracted)
	}

	if err := prog.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("program loaded",
		"models", len(models),
		"sources", len(sources),
		"classes", len(prog.Classes),
		"methods", len(prog.Methods),
		"functions", len(prog.Functions))
	return prog, nil
}

// collect returns the loadable files under location in walk order.
func collect(ctx context.Context, fs afs.Service, location string) ([]string, error) {
	object, err := fs.Object(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", location, err)
	}
	if !object.IsDir() {
		return []string{location}, nil
	}

	ignored, err := loadGitignore(location)
	if err != nil {
		return nil, err
	}

	var files []string
	var visitor storage.OnVisit = func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if ignored != nil && ignored.MatchesPath(path.Join(parent, info.Name())) {
			return false, nil
		}
		if info.IsDir() {
			return !slices.Contains(skippedDirs, info.Name()), nil
		}
		if isModelFile(info.Name()) || isSourceFile(info.Name()) {
			files = append(files, url.Join(url.Join(baseURL, parent), info.Name()))
		}
		return true, nil
	}
	if err := fs.Walk(ctx, location, visitor); err != nil {
		return nil, fmt.Errorf("walk %s: %w", location, err)
	}
	slices.Sort(files)
	return files, nil
}

// loadGitignore compiles the .gitignore at the root of a local directory.
// It returns nil when there is none.
func loadGitignore(dir string) (*ignore.GitIgnore, error) {
	if strings.Contains(dir, "://") {
		return nil, nil
	}
	file := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(file); err != nil {
		return nil, nil
	}
	gi, err := ignore.CompileIgnoreFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return gi, nil
}

// displayPath strips the file scheme from local URLs for call site positions.
func displayPath(location string) string {
	if strings.HasPrefix(location, "file://") {
		return path.Clean(strings.TrimPrefix(location, "file://"))
	}
	return location
}
