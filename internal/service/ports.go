package service

import (
	"context"

	"github.com/jpaulsen/stampede/internal/archive"
	"github.com/jpaulsen/stampede/internal/campaign"
	"github.com/jpaulsen/stampede/internal/render"
)

// BatchOverlayer is the rendering port. It is satisfied by render.Engine and
// kept narrow so orchestrator tests can swap in a fast fake.
type BatchOverlayer interface {
	ValidateBase(base []byte) error
	PersonalizeEach(ctx context.Context, base []byte, recipients []render.Fields, cfgFn render.ConfigFn, opts render.Options, sink render.Sink) error
}

// ArchiveBuilder assembles the job's output archive from stored documents.
type ArchiveBuilder interface {
	Build(ctx context.Context, destKey string, entries []archive.Entry) (int64, error)
}

// AssetDirectory resolves campaign inputs by id.
type AssetDirectory interface {
	Recipients(ctx context.Context, listID string) ([]campaign.Member, error)
	BaseDocument(ctx context.Context, templateID string) ([]byte, error)
}

var (
	_ BatchOverlayer = (*render.Engine)(nil)
	_ ArchiveBuilder = (*archive.Builder)(nil)
	_ AssetDirectory = (*campaign.Directory)(nil)
)
