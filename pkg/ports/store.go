package ports

import "context"

// ManifestStore persists generated client artefacts by name.
type ManifestStore interface {
	// Save stores data under name, replacing any previous artefact.
	Save(ctx context.Context, name string, data []byte) error

	// Load retrieves the artefact stored under name.
	// Returns domain.ErrManifestNotFound if nothing was saved under that name.
	Load(ctx context.Context, name string) ([]byte, error)

	// List returns the stored names in lexical order.
	List(ctx context.Context) ([]string, error)
}
