package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jpaulsen/stampede/internal/storage"
)

// Member is one entry of an uploaded recipient list.
type Member struct {
	// ExternalID is the caller's own identifier for this person, carried
	// through so results can be matched back to the source system.
	ExternalID string `json:"externalId"`

	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
}

// assetID keeps list and template lookups from escaping their folders.
var assetID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Directory resolves campaign assets by id: uploaded recipient lists under
// lists/ and pre-rendered base designs under templates/. Both live in the
// blob store, uploaded out of band by the campaign tooling.
type Directory struct {
	store storage.BlobStore
}

func NewDirectory(store storage.BlobStore) (*Directory, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	return &Directory{store: store}, nil
}

// Recipients loads and decodes the recipient list stored under the given id.
func (d *Directory) Recipients(ctx context.Context, listID string) ([]Member, error) {
	key, err := assetKey("lists", listID, ".json")
	if err != nil {
		return nil, err
	}

	raw, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipient list %q: %w", listID, err)
	}

	var members []Member
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("recipient list %q is not valid JSON: %w", listID, err)
	}
	return members, nil
}

// BaseDocument loads the pre-rendered design for a template id.
func (d *Directory) BaseDocument(ctx context.Context, templateID string) ([]byte, error) {
	key, err := assetKey("templates", templateID, ".pdf")
	if err != nil {
		return nil, err
	}

	raw, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %q: %w", templateID, err)
	}
	return raw, nil
}

func assetKey(folder, id, ext string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("asset id is required")
	}
	if !assetID.MatchString(id) {
		return "", fmt.Errorf("invalid asset id %q", id)
	}
	return folder + "/" + id + ext, nil
}
