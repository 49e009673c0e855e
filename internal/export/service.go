package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"surveydesk/internal/ask"
	"surveydesk/internal/study"
)

const (
	FormatZip  = "zip"
	FormatXLSX = "xlsx"

	ZipContentType  = "application/x-zip-compressed"
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNoAnswers    = errors.New("no answers match the selection")
)

type answerLoader interface {
	LoadAnswers(ctx context.Context, f study.Filter) ([]*study.Answer, error)
}

// UploadStore opens stored upload files by their recorded path.
type UploadStore interface {
	Open(name string) (io.ReadCloser, error)
}

// DirUploadStore serves uploads from a directory on disk.
type DirUploadStore struct {
	Root string
}

func (d DirUploadStore) Open(name string) (io.ReadCloser, error) {
	clean := path.Clean("/" + name)
	return os.Open(filepath.Join(d.Root, filepath.FromSlash(clean)))
}

type Service struct {
	answers answerLoader
	uploads UploadStore
}

func NewService(answers answerLoader, uploads UploadStore) *Service {
	return &Service{answers: answers, uploads: uploads}
}

type Request struct {
	AskerIDs       []int64
	StudySlugs     []string
	ReplyIDs       []int64
	IncludePreview bool
	ReferenceStudy string
	Exclude        []string
	Format         string
}

// Archive is a rendered export ready to be sent.
type Archive struct {
	Filename    string
	ContentType string
	Body        []byte
	Rows        int
}

// Export loads the selected answers and renders them in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Archive, error) {
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	if req.Format == "" {
		req.Format = FormatZip
	}
	if req.Format != FormatZip && req.Format != FormatXLSX {
		return nil, fmt.Errorf("%w: format must be zip or xlsx", ErrInvalidInput)
	}
	if len(req.AskerIDs) == 0 && len(req.StudySlugs) == 0 && len(req.ReplyIDs) == 0 {
		return nil, fmt.Errorf("%w: select askers, studies or replies", ErrInvalidInput)
	}

	answers, err := s.answers.LoadAnswers(ctx, study.Filter{
		AskerIDs:       req.AskerIDs,
		StudySlugs:     req.StudySlugs,
		ReplyIDs:       req.ReplyIDs,
		IncludePreview: req.IncludePreview,
	})
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, ErrNoAnswers
	}

	reference := strings.TrimSpace(req.ReferenceStudy)
	rows := BuildRows(answers, reference, Options{Exclude: req.Exclude}.columns())
	headers := Headers(rows)

	if req.Format == FormatXLSX {
		body, err := WriteXLSX(headers, rows)
		if err != nil {
			return nil, err
		}
		return &Archive{Filename: "exported_data.xlsx", ContentType: XLSXContentType, Body: body, Rows: len(rows)}, nil
	}

	body, err := s.buildZip(answers, headers, rows, reference)
	if err != nil {
		return nil, err
	}
	return &Archive{Filename: "exported_data.zip", ContentType: ZipContentType, Body: body, Rows: len(rows)}, nil
}

func (s *Service) buildZip(answers []*study.Answer, headers []string, rows []Row, referenceStudy string) ([]byte, error) {
	var data bytes.Buffer
	if err := WriteCSV(&data, headers, rows); err != nil {
		return nil, err
	}

	var questions []*ask.Question
	for _, a := range answers {
		if a.Question != nil {
			questions = append(questions, a.Question)
		}
	}
	syntax, err := Syntax(questions, referenceStudy)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	now := time.Now()
	for _, f := range []struct {
		name string
		body []byte
	}{
		{"syntax.do", []byte(syntax)},
		{"data.csv", data.Bytes()},
		{"make.do", []byte(MakeScript)},
	} {
		if err := writeEntry(zw, f.name, now, bytes.NewReader(f.body)); err != nil {
			return nil, err
		}
	}

	if err := s.addUploads(zw, answers, now); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) addUploads(zw *zip.Writer, answers []*study.Answer, now time.Time) error {
	seen := map[string]bool{}
	var names []string
	for _, a := range answers {
		if a.Upload == "" || seen[a.Upload] {
			continue
		}
		seen[a.Upload] = true
		names = append(names, a.Upload)
	}
	if len(names) == 0 {
		return nil
	}
	if s.uploads == nil {
		log.Printf("export: %d uploads skipped, no upload store configured", len(names))
		return nil
	}
	sort.Strings(names)

	for _, name := range names {
		rc, err := s.uploads.Open(name)
		if err != nil {
			// missing files are logged and left out
			log.Printf("export: skip upload %s: %v", name, err)
			continue
		}
		err = writeEntry(zw, path.Join("uploads", path.Clean("/"+name)), now, rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, modified time.Time, r io.Reader) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
