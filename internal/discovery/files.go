package discovery

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// File is a candidate resource file found under a Source.
type File struct {
	Path   string
	Source Source
}

// Files walks every existing source recursively and returns the files
// accepted by match, source by source, each source in lexical order.
//
// Unreadable directories are skipped and reported as PathErrors; they
// never stop the walk. A path that exists but is not a directory is
// reported the same way. Missing directories are silently ignored.
func (p *Paths) Files(match func(path string) bool) ([]File, []error) {
	var (
		files []File
		errs  []error
	)
	for _, src := range p.Sources() {
		info, err := os.Stat(src.Path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, &PathError{Path: src.Path, Origin: src.Origin, Err: err})
			}
			continue
		}
		if !info.IsDir() {
			errs = append(errs, &PathError{Path: src.Path, Origin: src.Origin, Err: ErrNotDirectory})
			continue
		}

		var found []File
		walkErr := filepath.WalkDir(src.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				errs = append(errs, &PathError{Path: path, Origin: src.Origin, Err: err})
				if d != nil && d.IsDir() && path != src.Path {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if match == nil || match(path) {
				found = append(found, File{Path: path, Source: src})
			}
			return nil
		})
		if walkErr != nil {
			errs = append(errs, &PathError{Path: src.Path, Origin: src.Origin, Err: walkErr})
		}

		sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
		files = append(files, found...)
	}
	return files, errs
}
