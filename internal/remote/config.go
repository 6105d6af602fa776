package remote

import (
	"strings"
	"time"
)

const (
	DefaultLoginTimeout = 3 * time.Second
	DefaultSaveTimeout  = 3 * time.Second
	DefaultWaitTimeout  = 15 * time.Second
)

// Config holds the remote timesheet configuration.
type Config struct {
	BaseURL            string
	LoginPath          string
	HomePath           string
	NewAppointmentPath string
	ListPath           string
	DetailPath         string
	Headless           bool
	NoSandbox          bool
	ChromePath         string
	UserAgent          string
	LoginTimeout       time.Duration
	SaveTimeout        time.Duration
	WaitTimeout        time.Duration
	HTTPTimeout        time.Duration
	Selectors          Selectors
	Endpoints          Endpoints
}

// Selectors are the CSS selectors of the remote pages.
type Selectors struct {
	LoginEmail    string
	LoginPassword string
	LoginSubmit   string
	HomeMarker    string

	Client      string
	Project     string
	Category    string
	Description string
	Date        string
	Commit      string
	NotMonetize string
	StartTime   string
	EndTime     string
	Submit      string

	Saved   string
	Warning string
	Danger  string

	ListTable string
	Row       string
	RowCode   string // attribute of the row holding its code
	RowDate   string
	RowStart  string
	RowEnd    string
}

// Endpoints are URL fragments of the XHR calls the entry form makes when a
// dependent select changes.
type Endpoints struct {
	Projects   string
	Categories string
	Progress   string
}

func DefaultSelectors() Selectors {
	return Selectors{
		LoginEmail:    "#Email",
		LoginPassword: "#Senha",
		LoginSubmit:   "button[type=submit]",
		HomeMarker:    "#menu-apontamentos",

		Client:      "#IdCliente",
		Project:     "#IdProjeto",
		Category:    "#IdCategoria",
		Description: "#Descricao",
		Date:        "#Data",
		Commit:      "#Commit",
		NotMonetize: "#NaoFaturavel",
		StartTime:   "#HoraInicial",
		EndTime:     "#HoraFinal",
		Submit:      "#btnSalvar",

		Saved:   ".alert-success",
		Warning: ".alert-warning",
		Danger:  ".alert-danger",

		ListTable: "#tabelaApontamentos",
		Row:       "tbody tr",
		RowCode:   "data-id",
		RowDate:   "td.data",
		RowStart:  "td.hora-inicial",
		RowEnd:    "td.hora-final",
	}
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Projects:   "ObterProjetos",
		Categories: "ObterCategorias",
		Progress:   "ObterProgresso",
	}
}

func (c *Config) setDefaults() {
	if c.LoginTimeout == 0 {
		c.LoginTimeout = DefaultLoginTimeout
	}
	if c.SaveTimeout == 0 {
		c.SaveTimeout = DefaultSaveTimeout
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "TimesheetSync/1.0"
	}
	c.Selectors.setDefaults()
	c.Endpoints.setDefaults()
}

// setDefaults fills every unset selector, so a config only names the ones
// that changed.
func (s *Selectors) setDefaults() {
	d := DefaultSelectors()
	for _, f := range []struct {
		value *string
		def   string
	}{
		{&s.LoginEmail, d.LoginEmail},
		{&s.LoginPassword, d.LoginPassword},
		{&s.LoginSubmit, d.LoginSubmit},
		{&s.HomeMarker, d.HomeMarker},
		{&s.Client, d.Client},
		{&s.Project, d.Project},
		{&s.Category, d.Category},
		{&s.Description, d.Description},
		{&s.Date, d.Date},
		{&s.Commit, d.Commit},
		{&s.NotMonetize, d.NotMonetize},
		{&s.StartTime, d.StartTime},
		{&s.EndTime, d.EndTime},
		{&s.Submit, d.Submit},
		{&s.Saved, d.Saved},
		{&s.Warning, d.Warning},
		{&s.Danger, d.Danger},
		{&s.ListTable, d.ListTable},
		{&s.Row, d.Row},
		{&s.RowCode, d.RowCode},
		{&s.RowDate, d.RowDate},
		{&s.RowStart, d.RowStart},
		{&s.RowEnd, d.RowEnd},
	} {
		setDefault(f.value, f.def)
	}
}

func (e *Endpoints) setDefaults() {
	d := DefaultEndpoints()
	setDefault(&e.Projects, d.Projects)
	setDefault(&e.Categories, d.Categories)
	setDefault(&e.Progress, d.Progress)
}

func setDefault(value *string, def string) {
	if strings.TrimSpace(*value) == "" {
		*value = def
	}
}

// URL joins the base URL and a path.
func (c Config) URL(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
