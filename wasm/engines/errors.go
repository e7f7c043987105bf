package engines

import "github.com/pkg/errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrNoCompilers         = errors.New("no compilers enabled")
	ErrUnsupportedCompiler = errors.New("unsupported compiler")
)
