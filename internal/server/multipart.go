package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
)

// UploadOptions controls how ParseUpload stores files.
type UploadOptions struct {
	Dir              string // upload root, created on demand
	MaxFileSize      int64  // per file ceiling in bytes
	MaxTotalFileSize int64  // ceiling for all files of one request
	MinFileSize      int64
	MaxFields        int   // number of non-file fields
	MaxFieldsSize    int64 // combined size of non-file fields
	InvalidName      string
}

// DefaultUploadOptions returns the limits used by the public /upload route.
func DefaultUploadOptions(dir string) UploadOptions {
	return UploadOptions{
		Dir:              dir,
		MaxFileSize:      1 << 20,
		MaxTotalFileSize: 1 << 20,
		MinFileSize:      0,
		MaxFields:        1000,
		MaxFieldsSize:    20 << 20,
		InvalidName:      DefaultInvalidName,
	}
}

func (o UploadOptions) withDefaults() UploadOptions {
	d := DefaultUploadOptions(o.Dir)
	if o.Dir == "" {
		o.Dir = "uploads"
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = d.MaxFileSize
	}
	if o.MaxTotalFileSize <= 0 {
		o.MaxTotalFileSize = o.MaxFileSize
	}
	if o.MinFileSize < 0 {
		o.MinFileSize = 0
	}
	if o.MaxFields <= 0 {
		o.MaxFields = d.MaxFields
	}
	if o.MaxFieldsSize <= 0 {
		o.MaxFieldsSize = d.MaxFieldsSize
	}
	if o.InvalidName == "" {
		o.InvalidName = d.InvalidName
	}
	return o
}

// FileDescriptor describes one stored upload in the JSON response.
type FileDescriptor struct {
	FieldName        string `json:"fieldName"`
	OriginalFilename string `json:"originalFilename"`
	NewFilename      string `json:"newFilename"`
	Filepath         string `json:"filepath"`
	Size             int64  `json:"size"`
	Mimetype         string `json:"mimetype"`
	SHA256           string `json:"sha256"`
}

// UploadResult is what a successful ParseUpload returns.
type UploadResult struct {
	Fields map[string][]string         `json:"fields"`
	Files  map[string][]FileDescriptor `json:"files"`
}

// StoredFiles returns every descriptor of the result in a flat slice.
func (r *UploadResult) StoredFiles() []FileDescriptor {
	var out []FileDescriptor
	for _, files := range r.Files {
		out = append(out, files...)
	}
	return out
}

// UploadError is returned by ParseUpload. Status is the HTTP status the
// request should be answered with.
type UploadError struct {
	Status int
	Msg    string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UploadError) Unwrap() error { return e.Err }

// HTTPStatus returns Status, or 400 when none was set.
func (e *UploadError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

type stagedFile struct {
	name       string // sanitized, slash separated
	tmpPath    string
	destPath   string
	backupPath string // previous file at destPath, moved aside during commit
	committed  bool
}

type uploadParse struct {
	opts       UploadOptions
	stagingDir string
	result     *UploadResult
	staged     []stagedFile
	names      map[string]bool
	fieldCount int
	fieldBytes int64
	fileBytes  int64
}

// ParseUpload reads a multipart/form-data request part by part. Text fields
// are collected, file parts are streamed to temp files in the staging
// directory of the upload root. Only when the whole body parsed cleanly are
// the temp files renamed to their sanitized names; on any error every temp
// file is removed and the upload root is left as it was.
func ParseUpload(r *http.Request, opts UploadOptions) (*UploadResult, error) {
	opts = opts.withDefaults()

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, &UploadError{Status: http.StatusBadRequest, Msg: "expected multipart/form-data body", Err: err}
	}

	stagingDir := filepath.Join(opts.Dir, stagingDirName)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, &UploadError{Status: http.StatusInternalServerError, Msg: "create upload dir", Err: err}
	}

	p := &uploadParse{
		opts:       opts,
		stagingDir: stagingDir,
		names:      map[string]bool{},
		result: &UploadResult{
			Fields: map[string][]string{},
			Files:  map[string][]FileDescriptor{},
		},
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.discard()
			return nil, &UploadError{Status: http.StatusBadRequest, Msg: "malformed multipart body", Err: err}
		}

		err = p.handlePart(part)
		_ = part.Close()
		if err != nil {
			p.discard()
			return nil, err
		}
	}

	if err := p.commit(); err != nil {
		return nil, err
	}
	return p.result, nil
}

func (p *uploadParse) handlePart(part *multipart.Part) error {
	name := part.FormName()
	filename, isFile := partFilename(part)
	if !isFile {
		return p.readField(name, part)
	}
	if filename == "" {
		return p.skipFile(part)
	}
	return p.stageFile(name, filename, part)
}

// partFilename reports the raw filename parameter of the part. Part.FileName
// is not used because it strips directories, which the stored path keeps.
func partFilename(part *multipart.Part) (string, bool) {
	cd := part.Header.Get("Content-Disposition")
	if cd == "" {
		return "", false
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return "", false
	}
	filename, ok := params["filename"]
	return filename, ok
}

func (p *uploadParse) readField(name string, part *multipart.Part) error {
	if p.fieldCount >= p.opts.MaxFields {
		return &UploadError{
			Status: http.StatusRequestEntityTooLarge,
			Msg:    fmt.Sprintf("maxFields (%d) exceeded", p.opts.MaxFields),
		}
	}
	p.fieldCount++

	remaining := p.opts.MaxFieldsSize - p.fieldBytes
	value, err := io.ReadAll(io.LimitReader(part, remaining+1))
	if err != nil {
		return &UploadError{Status: http.StatusBadRequest, Msg: "read field " + name, Err: err}
	}
	if int64(len(value)) > remaining {
		return &UploadError{
			Status: http.StatusRequestEntityTooLarge,
			Msg:    fmt.Sprintf("maxFieldsSize (%s) exceeded", humanize.IBytes(uint64(p.opts.MaxFieldsSize))),
		}
	}
	p.fieldBytes += int64(len(value))

	p.result.Fields[name] = append(p.result.Fields[name], string(value))
	return nil
}

// skipFile drains a file part that carries no filename. Skipped parts are
// never stored, so no size limit applies to them.
func (p *uploadParse) skipFile(part *multipart.Part) error {
	if _, err := io.Copy(io.Discard, part); err != nil {
		return &UploadError{Status: http.StatusBadRequest, Msg: "malformed multipart body", Err: err}
	}
	return nil
}

func (p *uploadParse) stageFile(field, original string, part *multipart.Part) error {
	newName := p.uniqueName(SanitizeUploadPath(original, p.opts.InvalidName))

	limit, limitName := p.opts.MaxFileSize, "maxFileSize"
	if left := p.opts.MaxTotalFileSize - p.fileBytes; left < limit {
		limit, limitName = left, "maxTotalFileSize"
	}

	tmp, err := os.CreateTemp(p.stagingDir, tempUploadPrefix+"*")
	if err != nil {
		return &UploadError{Status: http.StatusInternalServerError, Msg: "create temp file", Err: err}
	}
	tmpPath := tmp.Name()

	src := &readErrTracker{r: io.LimitReader(part, limit+1)}
	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(tmp, h), src)
	closeErr := tmp.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if src.err != nil {
			return &UploadError{Status: http.StatusBadRequest, Msg: "malformed multipart body", Err: src.err}
		}
		return &UploadError{Status: http.StatusInternalServerError, Msg: "write upload", Err: errors.Join(copyErr, closeErr)}
	}
	if n > limit {
		_ = os.Remove(tmpPath)
		if limitName == "maxTotalFileSize" {
			return p.tooLarge(p.opts.MaxTotalFileSize, limitName)
		}
		return p.tooLarge(p.opts.MaxFileSize, limitName)
	}
	if n < p.opts.MinFileSize {
		_ = os.Remove(tmpPath)
		return &UploadError{
			Status: http.StatusBadRequest,
			Msg:    fmt.Sprintf("minFileSize (%d bytes) inferior, received %d bytes of file data", p.opts.MinFileSize, n),
		}
	}
	p.fileBytes += n

	dest := filepath.Join(p.opts.Dir, filepath.FromSlash(newName))
	p.staged = append(p.staged, stagedFile{name: newName, tmpPath: tmpPath, destPath: dest})
	p.result.Files[field] = append(p.result.Files[field], FileDescriptor{
		FieldName:        field,
		OriginalFilename: original,
		NewFilename:      newName,
		Filepath:         dest,
		Size:             n,
		Mimetype:         part.Header.Get("Content-Type"),
		SHA256:           hex.EncodeToString(h.Sum(nil)),
	})
	return nil
}

func (p *uploadParse) tooLarge(limit int64, name string) error {
	return &UploadError{
		Status: http.StatusRequestEntityTooLarge,
		Msg:    fmt.Sprintf("%s (%s) exceeded", name, humanize.IBytes(uint64(limit))),
	}
}

// uniqueName returns name, or name with a "-2", "-3"... suffix before the
// extension when an earlier part of the same request already claimed it.
func (p *uploadParse) uniqueName(name string) string {
	if !p.names[name] {
		p.names[name] = true
		return name
	}
	dir, base := path.Split(name)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s%s-%d%s", dir, stem, i, ext)
		if !p.names[candidate] {
			p.names[candidate] = true
			return candidate
		}
	}
}

// commit moves every staged temp file to its destination. Every destination
// is checked before the first rename, and files replaced by this request are
// kept aside until all renames succeeded, so a failing commit restores the
// upload root to its previous state.
func (p *uploadParse) commit() error {
	defer p.discard()

	if err := p.checkPathConflicts(); err != nil {
		return err
	}
	for _, sf := range p.staged {
		if err := os.MkdirAll(filepath.Dir(sf.destPath), 0o755); err != nil {
			if errors.Is(err, syscall.ENOTDIR) {
				return &UploadError{Status: http.StatusConflict, Msg: "a parent of " + sf.name + " is a stored file", Err: err}
			}
			return &UploadError{Status: http.StatusInternalServerError, Msg: "store upload", Err: err}
		}
	}
	for _, sf := range p.staged {
		if fi, err := os.Lstat(sf.destPath); err == nil && fi.IsDir() {
			return &UploadError{Status: http.StatusConflict, Msg: sf.name + " is a directory"}
		}
	}

	for i := range p.staged {
		sf := &p.staged[i]
		if _, err := os.Lstat(sf.destPath); err == nil {
			backup := sf.tmpPath + ".prev"
			if err := os.Rename(sf.destPath, backup); err != nil {
				p.rollback()
				return &UploadError{Status: http.StatusInternalServerError, Msg: "store upload", Err: err}
			}
			sf.backupPath = backup
		}
		if err := os.Rename(sf.tmpPath, sf.destPath); err != nil {
			p.rollback()
			return &UploadError{Status: http.StatusInternalServerError, Msg: "store upload", Err: err}
		}
		sf.committed = true
	}

	for _, sf := range p.staged {
		if sf.backupPath != "" {
			_ = os.Remove(sf.backupPath)
		}
	}
	p.staged = nil
	return nil
}

// checkPathConflicts rejects a request that stores both "b" and "b/c".
func (p *uploadParse) checkPathConflicts() error {
	for _, sf := range p.staged {
		for dir := path.Dir(sf.name); dir != "."; dir = path.Dir(dir) {
			if p.names[dir] {
				return &UploadError{Status: http.StatusConflict, Msg: dir + " is both a file and a directory in this upload"}
			}
		}
	}
	return nil
}

// rollback undoes the renames of a failed commit and puts replaced files back.
func (p *uploadParse) rollback() {
	for _, sf := range p.staged {
		if sf.committed {
			_ = os.Remove(sf.destPath)
		}
		if sf.backupPath != "" {
			_ = os.Rename(sf.backupPath, sf.destPath)
		}
	}
}

// discard removes temp files that were not committed.
func (p *uploadParse) discard() {
	for _, sf := range p.staged {
		if !sf.committed {
			_ = os.Remove(sf.tmpPath)
		}
	}
	p.staged = nil
}

// readErrTracker remembers the first non-EOF error of the wrapped reader so
// a broken request body can be told apart from a failing disk.
type readErrTracker struct {
	r   io.Reader
	err error
}

func (t *readErrTracker) Read(b []byte) (int, error) {
	n, err := t.r.Read(b)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
