package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"go.uber.org/zap"

	"github.com/arduano/wasabi"
	"github.com/arduano/wasabi/internal/settings"
	"github.com/arduano/wasabi/internal/synth"
)

const (
	windowW = 1280
	windowH = 400

	keyboardH = 140
	statsH    = 120
	seekStep  = time.Second
)

var (
	bgColor       = color.RGBA{18, 18, 24, 255}
	whiteKeyColor = color.RGBA{235, 235, 235, 255}
	blackKeyColor = color.RGBA{25, 25, 25, 255}
	keyGapColor   = color.RGBA{60, 60, 70, 255}
	barBgColor    = color.RGBA{40, 40, 52, 255}
	barFillColor  = color.RGBA{90, 160, 255, 255}
)

type game struct {
	engine *wasabi.Engine
	cfg    *settings.Settings
	fps    *wasabi.FPS

	title   string
	lastErr error
	viewW   int
	viewH   int
}

func (g *game) Update() error {
	g.fps.Update()

	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.engine.TogglePause()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowRight) {
		g.seekBy(seekStep)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft) {
		g.seekBy(-seekStep)
	}

	if err := g.engine.Tick(); err != nil {
		g.lastErr = err
	}
	return nil
}

func (g *game) seekBy(delta time.Duration) {
	if err := g.engine.Seek(g.engine.GetTime() + delta); err != nil {
		g.lastErr = err
	}
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)

	kb := image.Rect(0, g.viewH-keyboardH, g.viewW, g.viewH)
	g.drawKeyboard(screen, kb)
	g.drawProgress(screen, image.Rect(0, kb.Min.Y-18, g.viewW, kb.Min.Y-6))
	g.drawStats(screen)
}

// drawKeyboard paints the visible key range, white keys first so black keys
// overlay them, with sounding keys tinted by their note color.
func (g *game) drawKeyboard(screen *ebiten.Image, rect image.Rectangle) {
	first, last := g.cfg.Visual.FirstKey, g.cfg.Visual.LastKey
	if last <= first {
		first, last = 0, 127
	}
	n := int(last) - int(first) + 1
	keyW := float64(rect.Dx()) / float64(n)

	for pass := 0; pass < 2; pass++ {
		for k := int(first); k <= int(last); k++ {
			key := uint8(k)
			black := wasabi.IsBlackKey(key)
			if (pass == 0) == black {
				continue
			}
			base := whiteKeyColor
			h := float64(rect.Dy())
			if black {
				base = blackKeyColor
				h *= 0.62
			}
			fill := base
			if c, ok := g.engine.KeyColor(key); ok {
				fill = c
			}
			x := float64(rect.Min.X) + float64(k-int(first))*keyW
			ebitenutil.DrawRect(screen, x, float64(rect.Min.Y), keyW-1, h, fill)
			if !black {
				ebitenutil.DrawRect(screen, x+keyW-1, float64(rect.Min.Y), 1, h, keyGapColor)
			}
		}
	}
}

func (g *game) drawProgress(screen *ebiten.Image, rect image.Rectangle) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), barBgColor)
	length, ok := g.engine.MidiLength()
	if !ok || length <= 0 {
		return
	}
	frac := float64(g.engine.GetTime()) / float64(length)
	if frac > 1 {
		frac = 1
	}
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx())*frac, float64(rect.Dy()), barFillColor)
}

func (g *game) drawStats(screen *ebiten.Image) {
	st := g.engine.Stats()
	pos := g.engine.GetTime().Truncate(10 * time.Millisecond)
	length, _ := g.engine.MidiLength()

	msg := fmt.Sprintf(
		"%s  [%s]\n%v / %v\nnotes: %d / %d   voices: %d\ndropped: %d   skipped: %d\nfps: %.0f\n\nspace: play/pause   left/right: seek 1s",
		g.title, g.engine.State(), pos, length,
		st.NotesRendered, st.TotalNotes, st.VoiceCount,
		st.EventsDropped, st.EventsSkipped,
		g.fps.Rate(),
	)
	if g.lastErr != nil {
		msg += "\nERROR: " + g.lastErr.Error()
	}
	ebitenutil.DebugPrintAt(screen, msg, 8, 8)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	g.viewW = outsideW
	g.viewH = outsideH
	return outsideW, outsideH
}

func buildBackend(cfg *settings.Settings, sc synth.Config, logger *zap.Logger) (synth.Backend, error) {
	if cfg.Synth.Backend == settings.BackendMIDIPort {
		return synth.NewPassthrough(cfg.Synth.MIDIPortName, logger)
	}
	return synth.NewSoftSynth(sc, logger)
}

func main() {
	var (
		configPath = flag.String("config", "", "settings file (default: user config dir)")
		soundfont  = flag.String("soundfont", "", "override the configured soundfont")
		streamed   = flag.Bool("streamed", false, "decode the file from storage instead of preloading")
		renderOut  = flag.String("render", "", "render offline to a WAV file and exit")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: wasabi [flags] <file.mid>")
	}
	path := flag.Arg(0)

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	var cfg *settings.Settings
	if *configPath != "" {
		cfg, err = settings.LoadFrom(*configPath)
	} else {
		cfg, err = settings.Load()
	}
	if err != nil {
		logger.Fatal("loading settings", zap.Error(err))
	}
	if *soundfont != "" {
		cfg.Synth.SoundfontPath = *soundfont
	}

	sc := synth.Config{
		SampleRate:     cfg.Synth.SampleRate,
		SoundfontPath:  cfg.Synth.SoundfontPath,
		BufferMs:       cfg.Synth.BufferMs,
		LimitLayers:    cfg.Synth.LimitLayers,
		LayerCount:     cfg.Synth.LayerCount,
		VelIgnoreLo:    cfg.Synth.VelIgnoreLo,
		VelIgnoreHi:    cfg.Synth.VelIgnoreHi,
		FadeOutKill:    cfg.Synth.FadeOutKill,
		LinearEnvelope: cfg.Synth.LinearEnvelope,
		EnableEffects:  cfg.Synth.EnableEffects,
	}
	if *renderOut != "" {
		samples, err := synth.RenderFile(path, sc, 2*time.Second)
		if err != nil {
			logger.Fatal("offline render", zap.Error(err))
		}
		wav := synth.EncodeWAVFloat32LE(samples, sc.SampleRate, 2)
		if err := os.WriteFile(*renderOut, wav, 0o644); err != nil {
			logger.Fatal("writing wav", zap.Error(err))
		}
		logger.Info("rendered", zap.String("out", *renderOut), zap.Int("frames", len(samples)/2))
		return
	}

	backend, err := buildBackend(cfg, sc, logger)
	if err != nil {
		logger.Fatal("starting audio backend", zap.Error(err))
	}

	engine := wasabi.NewEngine(backend, sc,
		wasabi.WithLogger(logger),
		wasabi.WithStreamedTimeline(*streamed || cfg.Visual.Streamed),
		wasabi.WithRandomColors(cfg.Visual.RandomColors),
	)
	defer engine.Close()

	if err := engine.Open(path); err != nil {
		logger.Fatal("opening midi file", zap.String("path", path), zap.Error(err))
	}
	engine.Play()

	g := &game{
		engine: engine,
		cfg:    cfg,
		fps:    wasabi.NewFPS(),
		title:  filepath.Base(path),
		viewW:  windowW,
		viewH:  windowH,
	}
	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowTitle("wasabi")
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
