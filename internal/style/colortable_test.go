package style

import (
	"sync"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
)

func TestColorTable_Swatch(t *testing.T) {
	table := NewColorTable(ColorDefault)

	sw := table.Swatch(RGBA{Red: 1, Alpha: 1})
	assert.Equal(t, "#ff0000", sw.Hex)
	assert.Equal(t, ColorFromRGB(255, 0, 0), sw.Color)
	assert.Equal(t, tcell.NewRGBColor(255, 0, 0), sw.Tcell)
}

func TestColorTable_Translucent(t *testing.T) {
	overBlack := NewColorTable(ColorDefault).Swatch(RGBA{Red: 1, Alpha: 0.5})
	assert.Equal(t, ColorFromRGB(128, 0, 0), overBlack.Color, "half red over black")

	overWhite := NewColorTable(ColorFromRGB(255, 255, 255)).Swatch(RGBA{Alpha: 0})
	assert.Equal(t, ColorFromRGB(255, 255, 255), overWhite.Color, "transparent over white")
}

func TestColorTable_Clamps(t *testing.T) {
	sw := NewColorTable(ColorDefault).Swatch(RGBA{Red: 2, Green: -1, Blue: 0.5, Alpha: 1})
	assert.Equal(t, uint8(255), sw.Color.R)
	assert.Equal(t, uint8(0), sw.Color.G)
}

func TestColorTable_Caches(t *testing.T) {
	table := NewColorTable(ColorDefault)
	c := RGBA{Green: 1, Alpha: 1}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.Swatch(c)
			table.Swatch(RGBA{Blue: 1, Alpha: 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, table.Len())
}
