package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Format identifies a supported archive layout.
type Format int

const (
	Zip Format = iota
	Tar
	TarGz
)

func (f Format) String() string {
	switch f {
	case Zip:
		return "zip"
	case Tar:
		return "tar"
	case TarGz:
		return "tar.gz"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// DetectFormat picks the archive format from the file name.
func DetectFormat(name string) (Format, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return Zip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return TarGz, nil
	case strings.HasSuffix(lower, ".tar"):
		return Tar, nil
	}
	return 0, fmt.Errorf("unsupported archive %q", name)
}

// ExtractFlat extracts every regular file of srcPath directly into dstDir,
// dropping any directory structure and overwriting existing files.
// It returns the extracted paths in archive order.
func ExtractFlat(srcPath, dstDir string) ([]string, error) {
	format, err := DetectFormat(srcPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory %q: %w", dstDir, err)
	}

	if format == Zip {
		return extractZip(srcPath, dstDir)
	}
	return extractTar(srcPath, dstDir, format == TarGz)
}

func extractZip(srcPath, dstDir string) ([]string, error) {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open zip %q: %w", srcPath, err)
	}
	defer r.Close()

	var extracted []string
	for _, entry := range r.File {
		if !entry.Mode().IsRegular() {
			log.Debug().Msgf("skipping non-regular zip entry: %s", entry.Name)
			continue
		}
		name, ok := flatName(entry.Name)
		if !ok {
			log.Warn().Msgf("skipping zip entry with unusable name %q", entry.Name)
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %q: %w", entry.Name, err)
		}
		targetPath := filepath.Join(dstDir, name)
		err = writeFile(targetPath, rc, entry.Mode().Perm())
		rc.Close()
		if err != nil {
			return nil, err
		}
		extracted = append(extracted, targetPath)
		log.Debug().Msgf("extracted file: %s", targetPath)
	}
	return extracted, nil
}

func extractTar(srcPath, dstDir string, compressed bool) ([]string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open source file %q: %w", srcPath, err)
	}
	defer f.Close()

	var stream io.Reader = f
	if compressed {
		gzipReader, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader for %q: %w", srcPath, err)
		}
		defer gzipReader.Close()
		stream = gzipReader
	}

	var extracted []string
	tr := tar.NewReader(stream)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break // end of archive
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			// flattened, nothing to create
		case tar.TypeReg:
			name, ok := flatName(header.Name)
			if !ok {
				log.Warn().Msgf("skipping tar entry with unusable name %q", header.Name)
				continue
			}
			targetPath := filepath.Join(dstDir, name)
			if err := writeFile(targetPath, tr, fs.FileMode(header.Mode).Perm()); err != nil {
				return nil, err
			}
			extracted = append(extracted, targetPath)
			log.Debug().Msgf("extracted file: %s", targetPath)
		default:
			log.Warn().Msgf("unsupported tar entry type %c for %q, skipping", header.Typeflag, header.Name)
		}
	}
	return extracted, nil
}

// flatName reduces an archive entry name to its final element.
func flatName(entryName string) (string, bool) {
	name := path.Base(strings.ReplaceAll(entryName, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "", false
	}
	return name, true
}

func writeFile(targetPath string, content io.Reader, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create file %q: %w", targetPath, err)
	}
	if _, err := io.Copy(outFile, content); err != nil {
		outFile.Close()
		return fmt.Errorf("copy file contents to %q: %w", targetPath, err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close %q: %w", targetPath, err)
	}
	return nil
}
