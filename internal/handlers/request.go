package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
)

const maxBodyBytes = 1 << 20

var errInvalidBody = errors.New("invalid request body")

// formBinder is implemented by request DTOs that also accept urlencoded forms
type formBinder interface {
	bindForm(values url.Values)
}

// decodeRequest fills dst from a JSON body, or from form values for
// browser form posts
func decodeRequest(w http.ResponseWriter, r *http.Request, dst formBinder) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return errInvalidBody
		}
		return nil
	}

	if err := r.ParseForm(); err != nil {
		return errInvalidBody
	}
	dst.bindForm(r.PostForm)
	return nil
}
