package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// multipartSlack is the body allowance for multipart boundaries and headers
// on top of the file size budget.
const multipartSlack = 1 << 20

var datasetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var (
	paramValidateOnce sync.Once
	paramValidate     *validator.Validate
)

func paramValidator() *validator.Validate {
	paramValidateOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("datasetid", func(fl validator.FieldLevel) bool {
			return datasetIDPattern.MatchString(fl.Field().String())
		})
		paramValidate = v
	})
	return paramValidate
}

// datasetParam returns the validated {datasetID} path parameter.
func datasetParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "datasetID")
	if err := paramValidator().Var(id, "required,max=128,datasetid"); err != nil {
		return "", fmt.Errorf("%w %q", errInvalidDataset, id)
	}
	return id, nil
}

// uploadBody returns the uploaded file as a stream.
//
// Multipart requests are read part by part until the "file" field, so the
// file is never buffered to disk. Any other supported content type is taken
// as the raw file.
func (s *Server) uploadBody(w http.ResponseWriter, r *http.Request) (io.Reader, error) {
	limit := s.cfg.Upload.MaxFileSize
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	}

	contentType := r.Header.Get("Content-Type")
	mediaType := ""
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUnsupportedType, err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "multipart/form-data":
		mr, err := r.MultipartReader()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errNoFile, err)
		}
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil, errNoFile
			}
			if err != nil {
				return nil, fmt.Errorf("read multipart: %w", err)
			}
			if part.FormName() == "file" {
				return part, nil
			}
			part.Close()
		}

	case "", "application/json", "text/csv", "text/plain", "application/octet-stream":
		return r.Body, nil

	default:
		return nil, fmt.Errorf("%w %q", errUnsupportedType, mediaType)
	}
}
