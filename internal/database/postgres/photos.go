package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/fingerprint"
)

// PhotoRepository provides PostgreSQL-backed photo storage. The perceptual
// hash is mirrored into a pgvector column for near-duplicate lookups.
type PhotoRepository struct {
	pool *Pool
}

// NewPhotoRepository creates a new PostgreSQL photo repository
func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

const photoColumns = `id, folder_id, ref, exact_hash, COALESCE(perceptual_hash, ''), ground_truth, status, created_at`

func scanPhoto(row rowScanner) (*database.Photo, error) {
	var (
		p           database.Photo
		groundTruth []byte
	)
	err := row.Scan(
		&p.ID,
		&p.FolderID,
		&p.Ref,
		&p.ExactHash,
		&p.PerceptualHash,
		&groundTruth,
		&p.Status,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with query context
	}
	if len(groundTruth) > 0 {
		p.GroundTruth = groundTruth
	}
	return &p, nil
}

func (r *PhotoRepository) listPhotos(ctx context.Context, query string, args ...any) ([]database.Photo, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []database.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return result, nil
}

// CreatePhoto inserts a new photo
func (r *PhotoRepository) CreatePhoto(ctx context.Context, photo *database.Photo) error {
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}
	if photo.Status == "" {
		photo.Status = database.PhotoPending
	}

	var vec any
	if photo.PerceptualHash != "" {
		v, err := fingerprint.Vector(photo.PerceptualHash)
		if err != nil {
			return fmt.Errorf("perceptual vector: %w", err)
		}
		vec = pgvector.NewVector(v)
	}

	query := `
		INSERT INTO photos (id, folder_id, ref, exact_hash, perceptual_hash, perceptual_vec, ground_truth, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		photo.ID, photo.FolderID, photo.Ref, photo.ExactHash,
		nullString(photo.PerceptualHash), vec, nullJSON(photo.GroundTruth), photo.Status,
	).Scan(&photo.CreatedAt)
	if err != nil {
		return fmt.Errorf("create photo: %w", err)
	}
	return nil
}

// GetPhoto retrieves a photo by ID
func (r *PhotoRepository) GetPhoto(ctx context.Context, id string) (*database.Photo, error) {
	p, err := scanPhoto(r.pool.QueryRow(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("photo %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

// FindPhotoByExactHash returns the oldest photo with the hash, nil if none
func (r *PhotoRepository) FindPhotoByExactHash(ctx context.Context, hash string) (*database.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE exact_hash = $1 ORDER BY created_at LIMIT 1`

	p, err := scanPhoto(r.pool.QueryRow(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find photo by hash: %w", err)
	}
	return p, nil
}

// ListPhotosByFolder returns the folder's photos in upload order
func (r *PhotoRepository) ListPhotosByFolder(ctx context.Context, folderID string) ([]database.Photo, error) {
	photos, err := r.listPhotos(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE folder_id = $1 ORDER BY created_at, id`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	return photos, nil
}

// ListReferencePhotos returns reference photos, optionally excluding a folder
func (r *PhotoRepository) ListReferencePhotos(ctx context.Context, excludeFolderID string) ([]database.Photo, error) {
	query := `
		SELECT ` + photoColumns + `
		FROM photos
		WHERE status = 'reference' AND ($1::uuid IS NULL OR folder_id <> $1::uuid)
		ORDER BY created_at, id
	`

	photos, err := r.listPhotos(ctx, query, nullString(excludeFolderID))
	if err != nil {
		return nil, fmt.Errorf("list reference photos: %w", err)
	}
	return photos, nil
}

// FindNearDuplicates returns folder photos within maxDistance Hamming bits of
// the perceptual hash, closest first.
func (r *PhotoRepository) FindNearDuplicates(ctx context.Context, folderID, perceptualHash string, maxDistance int) ([]database.NearDuplicate, error) {
	v, err := fingerprint.Vector(perceptualHash)
	if err != nil {
		return nil, fmt.Errorf("perceptual vector: %w", err)
	}

	// Squared L2 distance over 0/1 components equals the Hamming distance.
	query := `
		SELECT id, ref, (perceptual_vec <-> $2) AS distance
		FROM photos
		WHERE folder_id = $1 AND perceptual_vec IS NOT NULL AND (perceptual_vec <-> $2) <= $3
		ORDER BY distance, created_at
	`

	rows, err := r.pool.Query(ctx, query, folderID, pgvector.NewVector(v), math.Sqrt(float64(maxDistance)))
	if err != nil {
		return nil, fmt.Errorf("find near duplicates: %w", err)
	}
	defer rows.Close()

	var result []database.NearDuplicate
	for rows.Next() {
		var (
			nd   database.NearDuplicate
			dist float64
		)
		if err := rows.Scan(&nd.PhotoID, &nd.Ref, &dist); err != nil {
			return nil, fmt.Errorf("scan near duplicate: %w", err)
		}
		nd.Distance = int(math.Round(dist * dist))
		result = append(result, nd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate near duplicates: %w", err)
	}
	return result, nil
}

// UpdatePhotoStatus sets a photo's lifecycle status
func (r *PhotoRepository) UpdatePhotoStatus(ctx context.Context, id string, status database.PhotoStatus) error {
	res, err := r.pool.Exec(ctx, `UPDATE photos SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update photo status: %w", err)
	}
	return expectOne(res, "photo "+id)
}

// CountPhotos returns the number of photos in a folder
func (r *PhotoRepository) CountPhotos(ctx context.Context, folderID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM photos WHERE folder_id = $1", folderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return count, nil
}

// expectOne maps zero affected rows to database.ErrNotFound.
func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, database.ErrNotFound)
	}
	return nil
}
