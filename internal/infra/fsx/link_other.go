//go:build !unix

package fsx

import (
	"errors"
	"io/fs"
)

func isLinkUnsupported(err error) bool {
	return !errors.Is(err, fs.ErrExist)
}
