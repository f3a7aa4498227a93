package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/ai"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/fingerprint"
	"github.com/kozaktomas/meter-lab/internal/objectstore"
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// IngestRequest is one photo upload.
type IngestRequest struct {
	FolderID    string
	Data        []byte
	GroundTruth json.RawMessage
}

// IngestResult describes what happened to an upload. Duplicate is set when
// the bytes were already stored; Photo is then the existing record.
type IngestResult struct {
	Photo          *database.Photo          `json:"photo"`
	Duplicate      bool                     `json:"duplicate"`
	NearDuplicates []database.NearDuplicate `json:"near_duplicates,omitempty"`
	Warning        string                   `json:"warning,omitempty"`
}

// Ingester stores uploaded photos after exact-hash deduplication.
type Ingester struct {
	photos  database.PhotoStore
	objects objectstore.Store
	log     zerolog.Logger
}

// NewIngester creates an Ingester.
func NewIngester(photos database.PhotoStore, objects objectstore.Store, log zerolog.Logger) *Ingester {
	return &Ingester{photos: photos, objects: objects, log: log}
}

// Ingest fingerprints the bytes, returns the existing photo for a
// byte-identical upload, and otherwise stores the bytes and a new pending
// photo. Undecodable images are stored without a perceptual hash. Photos in
// the same folder within the near-duplicate distance are reported but never
// block the upload.
func (i *Ingester) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if len(req.Data) == 0 {
		return nil, errors.New("empty upload")
	}

	var result IngestResult
	fp, err := fingerprint.Compute(req.Data)
	if err != nil {
		var decodeErr *fingerprint.DecodeError
		if !errors.As(err, &decodeErr) {
			return nil, fmt.Errorf("fingerprinting: %w", err)
		}
		result.Warning = decodeErr.Error()
		i.log.Debug().Err(err).Str("folder_id", req.FolderID).Msg("skipping perceptual hash")
	}

	existing, err := i.photos.FindPhotoByExactHash(ctx, fp.Exact)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate: %w", err)
	}
	if existing != nil {
		i.log.Info().Str("photo_id", existing.ID).Str("exact_hash", fp.Exact).Msg("rejected byte-identical upload")
		result.Photo = existing
		result.Duplicate = true
		return &result, nil
	}

	if fp.Perceptual != "" && req.FolderID != "" {
		near, err := i.photos.FindNearDuplicates(ctx, req.FolderID, fp.Perceptual, fingerprint.NearDuplicateThreshold)
		if err != nil {
			i.log.Warn().Err(err).Msg("near-duplicate lookup failed")
		}
		result.NearDuplicates = near
	}

	ext := extensions[ai.DetectMIMEType(req.Data)]
	name := fmt.Sprintf("%s/%s%s", folderDir(req.FolderID), fp.Exact, ext)
	ref, err := i.objects.Put(ctx, name, req.Data)
	if err != nil {
		return nil, fmt.Errorf("storing photo bytes: %w", err)
	}

	photo := &database.Photo{
		FolderID:       req.FolderID,
		Ref:            ref,
		ExactHash:      fp.Exact,
		PerceptualHash: fp.Perceptual,
		GroundTruth:    req.GroundTruth,
		Status:         database.PhotoPending,
	}
	if err := i.photos.CreatePhoto(ctx, photo); err != nil {
		return nil, fmt.Errorf("creating photo: %w", err)
	}

	i.log.Info().
		Str("photo_id", photo.ID).
		Str("folder_id", photo.FolderID).
		Int("near_duplicates", len(result.NearDuplicates)).
		Msg("photo ingested")
	result.Photo = photo
	return &result, nil
}

func folderDir(folderID string) string {
	if folderID == "" {
		return "unsorted"
	}
	return folderID
}
