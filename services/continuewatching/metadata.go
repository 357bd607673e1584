package continuewatching

import (
	"context"

	"watchsync/models"
)

//go:generate mockgen -source=metadata.go -destination=mocks/mock_metadata.go -package=mocks

// MetadataLookup fetches display metadata for a movie or show.
type MetadataLookup interface {
	Details(ctx context.Context, kind models.MediaKind, id string) (*models.Details, error)
}
