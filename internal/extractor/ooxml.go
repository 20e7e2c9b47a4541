package extractor

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
)

var errPartTooLarge = errors.New("archive member exceeds size limit")

type ooxmlPackage struct {
	files map[string]*zip.File
	limit int64
}

func openPackage(data []byte, limit int64) (*ooxmlPackage, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	pkg := &ooxmlPackage{files: make(map[string]*zip.File, len(zr.File)), limit: limit}
	for _, f := range zr.File {
		pkg.files[f.Name] = f
	}
	return pkg, nil
}

func (p *ooxmlPackage) has(name string) bool {
	_, ok := p.files[name]
	return ok
}

// read returns the decompressed member, refusing anything over the limit.
func (p *ooxmlPackage) read(name string) ([]byte, error) {
	f, ok := p.files[name]
	if !ok {
		return nil, fmt.Errorf("missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, p.limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > p.limit {
		return nil, fmt.Errorf("%s: %w", name, errPartTooLarge)
	}
	return data, nil
}
