package compress

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/lupppig/dbu/internal/errors"
)

type Kind string

const (
	None  Kind = "NONE"
	Gzip  Kind = "GZIP"
	Zip   Kind = "ZIP"
	TarGz Kind = "TARGZ"
	Lz4   Kind = "LZ4"
	Zstd  Kind = "ZSTD"
)

// Kinds lists every supported kind in flag-help order.
func Kinds() []Kind {
	return []Kind{None, Gzip, Zip, TarGz, Lz4, Zstd}
}

// Suffix is the file extension a kind appends. None has no suffix.
func (k Kind) Suffix() string {
	switch k {
	case Gzip:
		return ".gzip"
	case Zip:
		return ".zip"
	case TarGz:
		return ".tar.gz"
	case Lz4:
		return ".lz4"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return None, nil
	case "GZIP", "GZ":
		return Gzip, nil
	case "ZIP":
		return Zip, nil
	case "TARGZ", "TAR.GZ", "TGZ":
		return TarGz, nil
	case "LZ4":
		return Lz4, nil
	case "ZSTD", "ZST":
		return Zstd, nil
	}
	return "", ErrUnsupportedKind(s)
}

type ErrUnsupportedKind string

func (e ErrUnsupportedKind) Error() string {
	return "unsupported compression kind: " + string(e)
}

// Detect returns the kind implied by a file name, in decompression precedence order.
func Detect(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"):
		return TarGz
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".gzip"):
		return Gzip
	case strings.HasSuffix(lower, ".zip"):
		return Zip
	case strings.HasSuffix(lower, ".lz4"):
		return Lz4
	case strings.HasSuffix(lower, ".zst"):
		return Zstd
	default:
		return None
	}
}

// Compress writes src into dst using kind and returns dst.
// None returns src untouched. Gzip, Lz4 and Zstd accept a single regular file only.
func Compress(kind Kind, src, dst string) (string, error) {
	if kind == None || kind == "" {
		return src, nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeResource, "IO error: cannot read compression source", "Check that the dump file exists.")
	}

	switch kind {
	case Gzip, Lz4, Zstd:
		if !info.Mode().IsRegular() {
			return "", apperrors.New(apperrors.TypeResource,
				fmt.Sprintf("IO error: %s cannot compress a directory: %s", kind, src),
				"Use ZIP or TARGZ for directory dumps.")
		}
	case Zip, TarGz:
	default:
		return "", ErrUnsupportedKind(kind)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeResource, "IO error: cannot create output directory", "")
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeResource, "IO error: cannot create archive", "")
	}

	switch kind {
	case Gzip:
		err = gzipFile(out, src)
	case Lz4:
		err = streamFile(out, src, func(w io.Writer) (io.WriteCloser, error) { return lz4.NewWriter(w), nil })
	case Zstd:
		err = streamFile(out, src, func(w io.Writer) (io.WriteCloser, error) { return zstd.NewWriter(w) })
	case Zip:
		err = zipTree(out, src)
	case TarGz:
		err = tarGzTree(out, src)
	}

	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("IO error: %s compression failed", kind), "")
	}
	return dst, nil
}

func gzipFile(out io.Writer, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(src)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

func streamFile(out io.Writer, src string, wrap func(io.Writer) (io.WriteCloser, error)) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := wrap(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// walkTree calls fn for src itself when it is a file, or for every entry below it
// with a slash-separated name relative to src.
func walkTree(src string, fn func(name, full string, info fs.FileInfo) error) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fn(filepath.Base(src), src, info)
	}

	return filepath.WalkDir(src, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if full == src {
			return nil
		}
		rel, err := filepath.Rel(src, full)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), full, info)
	})
}

func zipTree(out io.Writer, src string) error {
	zw := zip.NewWriter(out)
	err := walkTree(src, func(name, full string, info fs.FileInfo) error {
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
			_, err = zw.CreateHeader(hdr)
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		return copyFileTo(w, full)
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func tarGzTree(out io.Writer, src string) error {
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	err := walkTree(src, func(name, full string, info fs.FileInfo) error {
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Format = tar.FormatPAX
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return copyFileTo(tw, full)
	})
	if err == nil {
		err = tw.Close()
	}
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	return err
}

func copyFileTo(w io.Writer, full string) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// DecompressIfNeeded returns a path to uncompressed data for p.
// Archives (ZIP, TARGZ) yield only their first regular file, extracted next to the archive.
func DecompressIfNeeded(p string) (string, error) {
	kind := Detect(p)
	if kind == None {
		return p, nil
	}

	var (
		out string
		err error
	)
	switch kind {
	case TarGz:
		out, err = extractTarGz(p)
	case Gzip:
		out, err = unstream(p, func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) })
	case Zip:
		out, err = extractZip(p)
	case Lz4:
		out, err = unstream(p, func(r io.Reader) (io.Reader, error) { return lz4.NewReader(r), nil })
	case Zstd:
		out, err = unstream(p, func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) })
	}
	if err != nil {
		if _, ok := err.(*apperrors.AppError); ok {
			return "", err
		}
		return "", apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("IO error: cannot decompress %s", p), "The archive may be corrupt.")
	}
	return out, nil
}

func stripSuffix(p string) string {
	lower := strings.ToLower(p)
	for _, suffix := range []string{".gzip", ".gz", ".lz4", ".zst"} {
		if strings.HasSuffix(lower, suffix) {
			return p[:len(p)-len(suffix)]
		}
	}
	return p
}

func unstream(p string, open func(io.Reader) (io.Reader, error)) (string, error) {
	in, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer in.Close()

	r, err := open(in)
	if err != nil {
		return "", err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	if d, ok := r.(*zstd.Decoder); ok {
		defer d.Close()
	}

	out := stripSuffix(p)
	if err := writeFile(out, r); err != nil {
		return "", err
	}
	return out, nil
}

// entryTarget maps an archive entry to a file in dir, never escaping it.
func entryTarget(dir, name string) (string, bool) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "", false
	}
	return filepath.Join(dir, base), true
}

func noEntry(p string) error {
	return apperrors.New(apperrors.TypeResource,
		"IO error: no file found inside archive "+p,
		"The archive contains no regular file to restore.")
}

func extractTarGz(p string) (string, error) {
	in, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", noEntry(p)
		}
		if err != nil {
			return "", err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target, ok := entryTarget(filepath.Dir(p), hdr.Name)
		if !ok {
			continue
		}
		if err := writeFile(target, tr); err != nil {
			return "", err
		}
		return target, nil
	}
}

func extractZip(p string) (string, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if !f.Mode().IsRegular() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		target, ok := entryTarget(filepath.Dir(p), f.Name)
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		err = writeFile(target, rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		return target, nil
	}
	return "", noEntry(p)
}

func writeFile(target string, r io.Reader) error {
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(target)
		return err
	}
	return f.Close()
}
