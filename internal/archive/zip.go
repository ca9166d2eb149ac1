// Splittable zip snapshots of a download's storage directory. The snapshot
// is built under the download's zip lock, so it cannot race a deletion or a
// subscription copy of the same directory.

package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vrsandeep/feedsub-go/internal/models"
)

// Snapshot holds the zip parts of one archived download. Close must be
// called on every path; it removes the temporary directory holding the
// parts and releases the download's zip lock.
type Snapshot struct {
	// Parts are the archive part paths, sorted by part index.
	Parts []string

	dir    string
	unlock func()
}

// Build archives the download's current files into one or more zip parts,
// each at most maxPartSize bytes of output, so downstream delivery size
// limits are respected. Large archives split across parts; all parts must
// be downloaded before unzipping.
func Build(dl *models.Download, baseName string, maxPartSize int64) (snap *Snapshot, err error) {
	lock := dl.ZipLock()
	lock.Lock()

	dir, err := os.MkdirTemp("", "feedsub-zip-*")
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
			lock.Unlock()
		}
	}()

	files, err := dl.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("list files to archive: %w", err)
	}

	var parts []string
	var part *zipPart
	for _, file := range files {
		if part == nil {
			part, err = newZipPart(dir, baseName, len(parts)+1)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part.path)
		}
		if err = part.add(dl.StoragePath, file); err != nil {
			part.close()
			return nil, err
		}
		if part.written() >= maxPartSize {
			if err = part.close(); err != nil {
				return nil, err
			}
			part = nil
		}
	}
	if part == nil && len(parts) == 0 {
		// An empty snapshot still yields one (empty) archive.
		part, err = newZipPart(dir, baseName, 1)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part.path)
	}
	if part != nil {
		if err = part.close(); err != nil {
			return nil, err
		}
	}

	if len(parts) == 1 {
		single := filepath.Join(dir, baseName+".zip")
		if err = os.Rename(parts[0], single); err != nil {
			return nil, err
		}
		parts[0] = single
	}

	return &Snapshot{Parts: parts, dir: dir, unlock: lock.Unlock}, nil
}

// Close removes the temporary archive directory and releases the zip lock.
func (s *Snapshot) Close() error {
	if s.unlock == nil {
		return nil
	}
	err := os.RemoveAll(s.dir)
	s.unlock()
	s.unlock = nil
	return err
}

// zipPart is one part file being written, with a running count of output
// bytes so the part can be cut close to the size limit.
type zipPart struct {
	path string
	file *os.File
	cw   *countingWriter
	zw   *zip.Writer
}

func newZipPart(dir, baseName string, index int) (*zipPart, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s.part%02d.zip", baseName, index))
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	cw := &countingWriter{w: file}
	return &zipPart{path: path, file: file, cw: cw, zw: zip.NewWriter(cw)}, nil
}

func (p *zipPart) add(root, file string) error {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	w, err := p.zw.Create(rel)
	if err != nil {
		return err
	}
	in, err := os.Open(file)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := io.Copy(w, in); err != nil {
		return err
	}
	// Push buffered data through to the counter so the size check below
	// sees this file's contribution.
	return p.zw.Flush()
}

func (p *zipPart) written() int64 {
	return p.cw.n
}

func (p *zipPart) close() error {
	if err := p.zw.Close(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
