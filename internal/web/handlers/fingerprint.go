package handlers

import (
	"errors"
	"net/http"

	"github.com/kozaktomas/meter-lab/internal/fingerprint"
)

// FingerprintResponse carries both hashes of an upload.
type FingerprintResponse struct {
	fingerprint.Result
	Warning string `json:"warning,omitempty"`
}

// Fingerprint hashes the multipart "file" upload without storing it. Bytes
// that do not decode as an image still get their exact hash.
func Fingerprint(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r, "file")
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	res, err := fingerprint.Compute(data)
	resp := FingerprintResponse{Result: res}
	if err != nil {
		var decodeErr *fingerprint.DecodeError
		if !errors.As(err, &decodeErr) {
			respondFailure(w, r, err)
			return
		}
		resp.Warning = decodeErr.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}
