package figure

import (
	"fmt"
	"os"
	"path/filepath"

	"lmerkit/internal"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Renderer writes figures into one output directory
type Renderer struct {
	Dir string
	// Size of a single panel
	PanelWidth  vg.Length
	PanelHeight vg.Length

	logger *internal.Logger
}

// NewRenderer creates a renderer writing into dir
func NewRenderer(dir string, logger *internal.Logger) *Renderer {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Renderer{
		Dir:         dir,
		PanelWidth:  6 * vg.Inch,
		PanelHeight: 3 * vg.Inch,
		logger:      logger.With("Figures"),
	}
}

func (r *Renderer) ensureDir() error {
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return nil
}

// saveRow lays the plots out side by side and writes one PNG
func (r *Renderer) saveRow(name string, plots ...*plot.Plot) (string, error) {
	width := r.PanelWidth * vg.Length(len(plots))
	img := vgimg.New(width, r.PanelHeight)
	dc := draw.New(img)

	tiles := draw.Tiles{
		Rows:      1,
		Cols:      len(plots),
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 2,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align([][]*plot.Plot{plots}, tiles, dc)
	for i, p := range plots {
		p.Draw(canvases[0][i])
	}

	path := filepath.Join(r.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	r.logger.Debug("wrote %s", path)
	return path, nil
}
