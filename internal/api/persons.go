package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

const maxUploadBytes = 20 << 20 // 20 MB

// UploadPerson handles POST /api/persons (multipart/form-data with fields
// "id", "name" and "file").
//
//	@Summary		Enroll a person from a photo
//	@Tags			persons
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			id		formData	string	true	"Registration number"
//	@Param			name	formData	string	true	"Display name"
//	@Param			file	formData	file	true	"Face photo (jpg or png)"
//	@Success		201		{object}	Person
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons [post]
func (h *Handler) UploadPerson(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	// Only the extension of the client's file name is kept.
	filename := filepath.Base(strings.ReplaceAll(header.Filename, `\`, "/"))

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	rec, err := h.svc.EnrollImage(r.Context(), r.FormValue("id"), r.FormValue("name"), filename, data)
	if err != nil {
		writeError(w, "upload person", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
