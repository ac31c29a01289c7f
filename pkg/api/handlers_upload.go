package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/vulntrex/vulntrex/pkg/results"
)

// multipartMemory is the part of an upload kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

type uploadResponse struct {
	OK    bool   `json:"ok"`
	RunID string `json:"runId"`
}

// handleUpload ingests a multipart upload with a required "report" file
// and an optional "hitlog" file.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				errorResponse{"upload too large"})

			return
		}

		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid multipart form"})

		return
	}

	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.log.WithError(err).Debug("Removing upload temp files failed")
		}
	}()

	report, header, err := readFormFile(r, "report")
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if len(report) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{"report is required"})

		return
	}

	hitlog, _, err := readFormFile(r, "hitlog")
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	res, err := s.repo.Ingest(r.Context(), results.IngestRequest{
		NameHint: header.Filename,
		Report:   report,
		HitLog:   hitlog,
	})
	s.metrics.observeIngest(sourceUpload, err)

	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{OK: true, RunID: res.RunID})
}

// readFormFile returns the content of a multipart file field. A missing
// field yields nil content and an empty header.
func readFormFile(r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, &multipart.FileHeader{}, nil
	}

	if err != nil {
		return nil, nil, err
	}

	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}

	return data, header, nil
}
