// Package filebackup persists sealed chunks that could not be forwarded promptly to disk, under
// one subdirectory per tag, and replays them back on the next startup. It mirrors the on-disk
// layout and raw unix I/O the buffer/hybridbuffer package uses for its own chunk files, adapted to
// this engine's tag-keyed backup semantics (spec 4.5).
package filebackup

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/xattr"
	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/gotils/logger"
	"golang.org/x/sys/unix"
)

const xattrTagLabel = "user.eventbufTag"

// Store persists and replays sealed chunks as files under rootPath/<sanitized-tag>.<hash>/.
type Store struct {
	logger   logger.Logger
	rootPath string
	prefix   string
	mu       sync.Mutex
	dirs     map[string]*os.File // tag -> open directory handle
	nextGen  map[string]int64
	metrics  storeMetrics
}

// New opens (creating if needed) rootPath as the backup root. prefix defaults to
// defs.BackupFilePrefix if empty.
func New(parentLogger logger.Logger, rootPath string, prefix string, metricFactory *base.MetricFactory) *Store {
	if prefix == "" {
		prefix = defs.BackupFilePrefix
	}
	if err := os.MkdirAll(rootPath, defs.BackupDirPermission); err != nil {
		parentLogger.Errorf("filebackup: error creating root dir path=%s: %s", rootPath, err.Error())
	}
	return &Store{
		logger:   parentLogger.WithField(defs.LabelComponent, "FileBackupStore"),
		rootPath: rootPath,
		prefix:   prefix,
		dirs:     make(map[string]*os.File),
		nextGen:  make(map[string]int64),
		metrics:  newStoreMetrics(metricFactory),
	}
}

// Save writes chunk to a new backup file under its tag's subdirectory and returns the SavedFile
// descriptor needed to Open or Remove it later.
func (s *Store) Save(chunk base.TaggedChunk) (SavedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.tagDirLocked(chunk.Tag)
	if err != nil {
		s.metrics.ioErrorsTotal.Inc()
		return SavedFile{}, base.NewIOError("filebackup.Save", chunk.Tag, err)
	}

	generation := s.nextGen[chunk.Tag]
	s.nextGen[chunk.Tag] = generation + 1
	filename := makeFilename(s.prefix, generation)

	if werr := writeFileAt(dir, filename, chunk.Bytes(), defs.BackupFilePermission); werr != nil {
		s.metrics.ioErrorsTotal.Inc()
		return SavedFile{}, base.NewIOError("filebackup.Save", chunk.Tag, werr)
	}

	s.metrics.savedFiles.Inc()
	s.metrics.savedBytes.Add(uint64(chunk.Len()))
	return SavedFile{Tag: chunk.Tag, Generation: generation, Filename: filename}, nil
}

// Open reads the full contents of a previously saved file
func (s *Store) Open(file SavedFile) ([]byte, error) {
	s.mu.Lock()
	dir, err := s.tagDirLocked(file.Tag)
	s.mu.Unlock()
	if err != nil {
		s.metrics.ioErrorsTotal.Inc()
		return nil, base.NewIOError("filebackup.Open", file.Tag, err)
	}

	data, rerr := readFileAt(dir, file.Filename)
	if rerr != nil {
		s.metrics.ioErrorsTotal.Inc()
		return nil, base.NewIOError("filebackup.Open", file.Tag, rerr)
	}
	return data, nil
}

// Remove deletes a previously saved file
func (s *Store) Remove(file SavedFile) error {
	s.mu.Lock()
	dir, err := s.tagDirLocked(file.Tag)
	s.mu.Unlock()
	if err != nil {
		s.metrics.ioErrorsTotal.Inc()
		return base.NewIOError("filebackup.Remove", file.Tag, err)
	}

	if uerr := unix.Unlinkat(int(dir.Fd()), file.Filename, 0); uerr != nil {
		s.metrics.ioErrorsTotal.Inc()
		return base.NewIOError("filebackup.Remove", file.Tag, uerr)
	}
	s.metrics.savedFiles.Dec()
	return nil
}

// Scan lists every backup file under rootPath, across all tag subdirectories, sorted by tag then
// generation. It is meant to be called once at startup to replay leftovers from a prior run.
func (s *Store) Scan() ([]SavedFile, error) {
	matcher, gerr := filenameGlob(s.prefix)
	if gerr != nil {
		return nil, gerr
	}

	root, oerr := os.Open(s.rootPath)
	if oerr != nil {
		if os.IsNotExist(oerr) {
			return nil, nil
		}
		return nil, base.NewIOError("filebackup.Scan", "", oerr)
	}
	defer root.Close()

	entries, rerr := root.ReadDir(0)
	if rerr != nil {
		return nil, base.NewIOError("filebackup.Scan", "", rerr)
	}

	var found []SavedFile
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(s.rootPath, entry.Name())
		tagBytes, xerr := xattr.Get(dirPath, xattrTagLabel)
		if xerr != nil || len(tagBytes) == 0 {
			s.logger.Warnf("filebackup: skip dir without tag label: %s", dirPath)
			continue
		}
		tag := string(tagBytes)

		dir, derr := os.Open(dirPath)
		if derr != nil {
			s.metrics.ioErrorsTotal.Inc()
			s.logger.Errorf("filebackup: error opening tag dir=%s: %s", dirPath, derr.Error())
			continue
		}
		names, nerr := dir.Readdirnames(0)
		dir.Close()
		if nerr != nil {
			s.metrics.ioErrorsTotal.Inc()
			s.logger.Errorf("filebackup: error scanning tag dir=%s: %s", dirPath, nerr.Error())
			continue
		}

		for _, name := range names {
			if !matcher.Match(name) {
				continue
			}
			generation, ok := parseGeneration(s.prefix, name)
			if !ok {
				continue
			}
			found = append(found, SavedFile{Tag: tag, Generation: generation, Filename: name})
			s.mu.Lock()
			if generation >= s.nextGen[tag] {
				s.nextGen[tag] = generation + 1
			}
			s.mu.Unlock()
		}
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Tag != found[j].Tag {
			return found[i].Tag < found[j].Tag
		}
		return found[i].Generation < found[j].Generation
	})
	s.metrics.savedFiles.Add(int64(len(found)))
	return found, nil
}

// ClearAll unconditionally removes every backup file currently on disk, across all tags, and
// resets each tag's generation counter to 0. Used by Buffer.ClearBackupFiles (spec 6): unlike the
// replay path in Buffer.Init, it discards rather than delivers.
func (s *Store) ClearAll() error {
	found, err := s.Scan()
	if err != nil {
		return err
	}
	var firstErr error
	for _, file := range found {
		if rerr := s.Remove(file); rerr != nil && firstErr == nil {
			firstErr = rerr
		}
	}
	s.mu.Lock()
	s.nextGen = make(map[string]int64)
	s.mu.Unlock()
	return firstErr
}

// Close closes every open tag directory handle
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag, dir := range s.dirs {
		if err := dir.Close(); err != nil {
			s.logger.Warnf("filebackup: error closing tag dir tag=%s: %s", tag, err.Error())
		}
	}
	s.dirs = make(map[string]*os.File)
}

// tagDirLocked returns the open directory handle for tag, opening (and xattr-labelling) it on
// first use. Must be called with s.mu held.
func (s *Store) tagDirLocked(tag string) (*os.File, error) {
	if dir, ok := s.dirs[tag]; ok {
		return dir, nil
	}

	hash := hashSuffix(tag)
	dirName := fmt.Sprintf("%s.%s", sanitizeTagDirName(tag), hash)
	dirPath := filepath.Join(s.rootPath, dirName)

	if err := os.MkdirAll(dirPath, defs.BackupDirPermission); err != nil {
		return nil, err
	}
	if err := xattr.Set(dirPath, xattrTagLabel, []byte(tag)); err != nil {
		s.logger.Warnf("filebackup: error labelling tag dir path=%s: %s", dirPath, err.Error())
	}

	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, err
	}
	s.dirs[tag] = dir
	return dir, nil
}

// hashSuffix disambiguates tag directory names that sanitize to the same string
func hashSuffix(tag string) string {
	sum := md5.Sum([]byte(tag)) //nolint:gosec
	hexSum := hex.EncodeToString(sum[:])
	return hexSum[len(hexSum)-defs.QueueDirHashLength:]
}

func writeFileAt(dir *os.File, filename string, data []byte, perm os.FileMode) error {
	fd, oerr := unix.Openat(int(dir.Fd()), filename, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, uint32(perm))
	if oerr != nil {
		return oerr
	}
	defer unix.Close(fd)
	_, werr := unix.Write(fd, data)
	return werr
}

func readFileAt(dir *os.File, filename string) ([]byte, error) {
	fd, oerr := unix.Openat(int(dir.Fd()), filename, unix.O_RDONLY, 0)
	if oerr != nil {
		return nil, oerr
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if serr := unix.Fstat(fd, &stat); serr != nil {
		return nil, serr
	}
	buf := make([]byte, stat.Size)
	n, rerr := unix.Read(fd, buf)
	if rerr != nil {
		return nil, rerr
	}
	if n != len(buf) {
		buf = buf[:n]
	}
	return buf, nil
}
