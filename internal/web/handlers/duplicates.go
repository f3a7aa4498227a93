package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/ai"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/duplicate"
	"github.com/kozaktomas/meter-lab/internal/fingerprint"
	"github.com/kozaktomas/meter-lab/internal/objectstore"
)

// DuplicatesHandler checks uploads against the reference photos of
// promoted folders.
type DuplicatesHandler struct {
	photos    database.PhotoStore
	provider  ai.Provider
	objects   objectstore.Store
	batchSize int
	log       zerolog.Logger
}

// NewDuplicatesHandler creates a new duplicates handler.
func NewDuplicatesHandler(photos database.PhotoStore, provider ai.Provider, objects objectstore.Store, batchSize int, log zerolog.Logger) *DuplicatesHandler {
	return &DuplicatesHandler{
		photos:    photos,
		provider:  provider,
		objects:   objects,
		batchSize: batchSize,
		log:       log,
	}
}

// Check decides whether the multipart "file" shows an already known meter
// model. The optional "folder_id" form value excludes that folder's own
// references. References are ordered by perceptual distance before the
// provider sees them.
func (h *DuplicatesHandler) Check(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r, "file")
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	refs, err := h.photos.ListReferencePhotos(r.Context(), r.FormValue("folder_id"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	detector := duplicate.NewDetector(h.provider, h.objects, h.batchSize, h.log)
	hash, err := fingerprint.Perceptual(data)
	if err != nil {
		h.log.Debug().Err(err).Msg("candidate has no perceptual hash, keeping reference order")
	} else {
		idx := duplicate.NewIndex()
		if err := idx.Build(refs); err != nil {
			h.log.Warn().Err(err).Msg("building reference index failed")
		} else {
			detector.SetIndex(idx)
		}
	}

	result, err := detector.Detect(r.Context(), data, hash, refs)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
