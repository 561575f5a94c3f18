package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var (
	// ErrBadBaseDocument marks a base document the PDF reader rejected.
	ErrBadBaseDocument = errors.New("base document is not a usable PDF")

	// ErrCodeGeneration marks a scan code that could not be produced.
	ErrCodeGeneration = errors.New("scan code generation failed")
)

// Engine stamps recipient data onto a pre-rendered base document. The design
// is rendered once per campaign; the engine only overlays the variable parts,
// which is what keeps per-recipient cost flat. The engine holds no per-call
// state, so one instance serves all goroutines.
type Engine struct {
	conf *model.Configuration
}

func NewEngine() *Engine {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Engine{conf: conf}
}

// Overlay personalizes one copy of the base document and returns fresh bytes.
// The base slice is never written to, so callers may share one buffer across
// any number of concurrent calls. Only the first page is stamped.
func (e *Engine) Overlay(base []byte, fields Fields, cfg Config) ([]byte, error) {
	if len(base) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrBadBaseDocument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid overlay config: %w", err)
	}

	pageHeight, err := e.firstPageHeight(base)
	if err != nil {
		return nil, err
	}

	stamps, err := e.buildStamps(fields, cfg, pageHeight)
	if err != nil {
		return nil, err
	}

	// Nothing to draw: hand back an independent copy so the caller still
	// owns a private buffer.
	if len(stamps) == 0 {
		out := make([]byte, len(base))
		copy(out, base)
		return out, nil
	}

	var buf bytes.Buffer
	pageStamps := map[int][]*model.Watermark{1: stamps}
	if err := api.AddWatermarksSliceMap(bytes.NewReader(base), &buf, pageStamps, e.conf); err != nil {
		return nil, fmt.Errorf("failed to apply overlay: %w", err)
	}

	return buf.Bytes(), nil
}

// ValidateBase checks that a base document is usable before any per-recipient
// work is spent on it. Failures wrap ErrBadBaseDocument.
func (e *Engine) ValidateBase(base []byte) error {
	if len(base) == 0 {
		return fmt.Errorf("%w: empty input", ErrBadBaseDocument)
	}
	_, err := e.firstPageHeight(base)
	return err
}

func (e *Engine) firstPageHeight(base []byte) (float64, error) {
	ctx, err := api.ReadContext(bytes.NewReader(base), e.conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadBaseDocument, err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadBaseDocument, err)
	}
	if ctx.PageCount < 1 {
		return 0, fmt.Errorf("%w: document has no pages", ErrBadBaseDocument)
	}

	dims, err := ctx.PageDims()
	if err != nil || len(dims) == 0 {
		return 0, fmt.Errorf("%w: cannot read page dimensions", ErrBadBaseDocument)
	}
	return dims[0].Height, nil
}

func (e *Engine) buildStamps(fields Fields, cfg Config, pageHeight float64) ([]*model.Watermark, error) {
	var stamps []*model.Watermark

	appendText := func(text string, font string, points int, anchor Anchor) error {
		desc := textStamp(
			font,
			points,
			anchor.X*unitsPerInch,
			bottomUpY(pageHeight, anchor.Y),
			cfg.TextColor,
		)
		wm, err := api.TextWatermark(text, desc, true, false, types.POINTS)
		if err != nil {
			return fmt.Errorf("failed to prepare text overlay: %w", err)
		}
		stamps = append(stamps, wm)
		return nil
	}

	if name := fields.FullName(); name != "" {
		if err := appendText(name, "Helvetica-Bold", cfg.FontSize+2, cfg.NameAnchor); err != nil {
			return nil, err
		}
	}

	if address := strings.TrimSpace(fields.Address); address != "" {
		if err := appendText(address, "Helvetica", cfg.FontSize, cfg.AddressAnchor); err != nil {
			return nil, err
		}
	}

	if cityLine := fields.CityLine(); cityLine != "" {
		anchor := Anchor{X: cfg.AddressAnchor.X, Y: cfg.AddressAnchor.Y + cfg.CityLineGap}
		if err := appendText(cityLine, "Helvetica", cfg.FontSize, anchor); err != nil {
			return nil, err
		}
	}

	codeStamp, err := e.buildCodeStamp(cfg, pageHeight)
	if err != nil {
		return nil, err
	}
	if codeStamp != nil {
		stamps = append(stamps, codeStamp)
	}

	return stamps, nil
}

// buildCodeStamp prepares the scan code image stamp. A generation failure is
// swallowed when the config says to ship uncoded documents, otherwise it is
// surfaced as ErrCodeGeneration for the caller to record.
func (e *Engine) buildCodeStamp(cfg Config, pageHeight float64) (*model.Watermark, error) {
	if cfg.CodeRect == nil || cfg.CodeURL == "" {
		return nil, nil
	}

	png, err := codeImage(cfg.CodeURL, *cfg.CodeRect)
	if err != nil {
		if cfg.OmitOnCodeFailure {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCodeGeneration, err)
	}

	// The rect's Y names its top edge; the stamp offset names its bottom.
	desc := imageStamp(
		cfg.CodeRect.X*unitsPerInch,
		bottomUpY(pageHeight, cfg.CodeRect.Y+cfg.CodeRect.H),
	)
	wm, err := api.ImageWatermarkForReader(bytes.NewReader(png), desc, true, false, types.POINTS)
	if err != nil {
		if cfg.OmitOnCodeFailure {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCodeGeneration, err)
	}
	return wm, nil
}
