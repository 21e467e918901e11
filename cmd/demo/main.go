package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/1F47E/geo-viewport-cache/pkg/app"
	"github.com/1F47E/geo-viewport-cache/pkg/config"
	"github.com/1F47E/geo-viewport-cache/pkg/geo"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

var (
	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF79C6")).
			Background(lipgloss.Color("#282A36")).
			Padding(0, 1).
			MarginTop(1).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD"))

	hitStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#50FA7B"))

	missStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#BD93F9")).
			Padding(0, 2)

	statStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F1FA8C"))
)

type model struct {
	cache   *viewcache.Cache
	box     models.BoundingBox
	max     int
	spinner spinner.Model
	hitBar  progress.Model

	loading  bool
	records  []models.Record
	outcome  string
	elapsed  time.Duration
	err      error
	messages []string
	width    int
}

type queryMsg struct {
	box     models.BoundingBox
	records []models.Record
	hit     bool
	elapsed time.Duration
	err     error
}

func initialModel(cache *viewcache.Cache, start models.BoundingBox, max int) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	return model{
		cache:   cache,
		box:     start,
		max:     max,
		spinner: s,
		hitBar:  progress.New(progress.WithDefaultGradient()),
		loading: true,
		width:   80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.query())
}

// query runs the current viewport through the cache off the UI goroutine
func (m model) query() tea.Cmd {
	cache, box, max := m.cache, m.box, m.max
	return func() tea.Msg {
		before := cache.Stats().Hits
		start := time.Now()
		records, err := cache.Query(context.Background(), box, max)
		return queryMsg{
			box:     box,
			records: records,
			hit:     cache.Stats().Hits > before,
			elapsed: time.Since(start),
			err:     err,
		}
	}
}

func (m model) move(box models.BoundingBox, action string) (tea.Model, tea.Cmd) {
	m.box = box
	m.loading = true
	m.log(action + " " + box.String())
	return m, m.query()
}

func (m *model) log(msg string) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > 5 {
		m.messages = m.messages[1:]
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.hitBar.Width = max(msg.Width-30, 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			return m.move(geo.Pan(m.box, 0.25, 0), "pan north")
		case "down", "j":
			return m.move(geo.Pan(m.box, -0.25, 0), "pan south")
		case "left", "h":
			return m.move(geo.Pan(m.box, 0, -0.25), "pan west")
		case "right", "l":
			return m.move(geo.Pan(m.box, 0, 0.25), "pan east")
		case "+", "=":
			return m.move(geo.Zoom(m.box, 0.5), "zoom in")
		case "-", "_":
			return m.move(geo.Zoom(m.box, 2), "zoom out")
		case "c":
			m.cache.Clear()
			m.log("cache cleared")
			return m, nil
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case queryMsg:
		if msg.box != m.box {
			// a newer viewport is already in flight
			return m, nil
		}
		m.loading = false
		m.records, m.err, m.elapsed = msg.records, msg.err, msg.elapsed
		m.outcome = "MISS"
		if msg.hit {
			m.outcome = "HIT"
		}
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Viewport Location Cache"))
	b.WriteString("\n")

	center := models.Location{
		Lat: (m.box.BottomLeft.Lat + m.box.TopRight.Lat) / 2,
		Lon: (m.box.BottomLeft.Lon + m.box.TopRight.Lon) / 2,
	}
	width := geo.Distance(
		models.Location{Lat: center.Lat, Lon: m.box.BottomLeft.Lon},
		models.Location{Lat: center.Lat, Lon: m.box.TopRight.Lon},
	)
	b.WriteString(subtitleStyle.Render("Viewport "))
	b.WriteString(fmt.Sprintf("%s  ~%s km wide\n\n", m.box, statStyle.Render(fmt.Sprintf("%.1f", width))))

	switch {
	case m.loading:
		b.WriteString(m.spinner.View() + " querying...\n")
	case m.err != nil:
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	default:
		style := missStyle
		if m.outcome == "HIT" {
			style = hitStyle
		}
		b.WriteString(fmt.Sprintf("%s  %d records in %s\n", style.Render(m.outcome), len(m.records), m.elapsed))
	}

	var rows strings.Builder
	for i, r := range m.records {
		fmt.Fprintf(&rows, "%2d. %-28s %s  (%.4f, %.4f)\n", i+1, truncate(r.Name, 28),
			statStyle.Render(fmt.Sprintf("%.3f", r.Importance)), r.Location.Lat, r.Location.Lon)
	}
	if rows.Len() == 0 {
		rows.WriteString(dimStyle.Render("nothing visible here"))
	}
	b.WriteString(boxStyle.Render(strings.TrimRight(rows.String(), "\n")))
	b.WriteString("\n\n")

	stats := m.cache.Stats()
	b.WriteString(fmt.Sprintf("Hit rate %s  hits %s  misses %s  entries %s\n",
		m.hitBar.ViewAs(stats.HitRate()),
		statStyle.Render(fmt.Sprint(stats.Hits)),
		statStyle.Render(fmt.Sprint(stats.Misses)),
		statStyle.Render(fmt.Sprint(stats.Entries)),
	))

	if len(m.messages) > 0 {
		b.WriteString("\n")
		for _, msg := range m.messages {
			b.WriteString(dimStyle.Render("• " + msg))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("arrows/hjkl pan • +/- zoom • c clear cache • q quit"))
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func main() {
	var (
		configPath = flag.String("config", "", "Config file path")
		lat        = flag.Float64("lat", 50.85, "Start latitude")
		lon        = flag.Float64("lon", 4.35, "Start longitude")
		radius     = flag.Float64("radius", 20, "Start viewport radius in km")
		limit      = flag.Int("max", 15, "Records per viewport")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	// the terminal belongs to the UI
	logging.Init(logging.Config{Level: "disabled"})

	ctx := context.Background()
	p, closeFn, err := app.OpenProvider(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open dataset: %v", err)
	}
	defer closeFn()

	cache := app.NewCache(cfg, p)
	start := geo.BoxAround(models.Location{Lat: *lat, Lon: *lon}, *radius)

	if _, err := tea.NewProgram(initialModel(cache, start, *limit), tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("Demo failed: %v", err)
	}
}
