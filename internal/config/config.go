package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultDuplicateMessage = "Já existe um apontamento neste intervalo de horário."

type Config struct {
	Database DatabaseConfig `yaml:"database" validate:"required"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	NATS     NATSConfig     `yaml:"nats"`
	Remote   RemoteConfig   `yaml:"remote" validate:"required"`
	Sync     SyncConfig     `yaml:"sync"`
	HTTP     HTTPConfig     `yaml:"http"`
	Secret   SecretConfig   `yaml:"secret" validate:"required"`
	LogLevel string         `yaml:"log_level" validate:"oneof=debug info warn error"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname" validate:"required"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RabbitMQConfig configures run report publishing. An empty URL disables it.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

// NATSConfig configures the cross-process progress channel. With an empty
// URL progress stays in process.
type NATSConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

type RemoteConfig struct {
	BaseURL            string        `yaml:"base_url" validate:"required,url"`
	LoginPath          string        `yaml:"login_path"`
	HomePath           string        `yaml:"home_path"`
	NewAppointmentPath string        `yaml:"new_appointment_path"`
	ListPath           string        `yaml:"list_path"`
	DetailPath         string        `yaml:"detail_path"`
	Headless           *bool         `yaml:"headless"`
	NoSandbox          bool          `yaml:"no_sandbox"`
	ChromePath         string        `yaml:"chrome_path"`
	UserAgent          string        `yaml:"user_agent"`
	LoginTimeout       time.Duration `yaml:"login_timeout"`
	SaveTimeout        time.Duration `yaml:"save_timeout"`
	WaitTimeout        time.Duration `yaml:"wait_timeout"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
	// Selectors and Endpoints override single entries of the built-in
	// defaults. Unset entries keep their default.
	Selectors RemoteSelectors `yaml:"selectors"`
	Endpoints RemoteEndpoints `yaml:"endpoints"`
}

// RemoteSelectors are the CSS selectors of the remote pages.
type RemoteSelectors struct {
	LoginEmail    string `yaml:"login_email"`
	LoginPassword string `yaml:"login_password"`
	LoginSubmit   string `yaml:"login_submit"`
	HomeMarker    string `yaml:"home_marker"`
	Client        string `yaml:"client"`
	Project       string `yaml:"project"`
	Category      string `yaml:"category"`
	Description   string `yaml:"description"`
	Date          string `yaml:"date"`
	Commit        string `yaml:"commit"`
	NotMonetize   string `yaml:"not_monetize"`
	StartTime     string `yaml:"start_time"`
	EndTime       string `yaml:"end_time"`
	Submit        string `yaml:"submit"`
	Saved         string `yaml:"saved"`
	Warning       string `yaml:"warning"`
	Danger        string `yaml:"danger"`
	ListTable     string `yaml:"list_table"`
	Row           string `yaml:"row"`
	RowCode       string `yaml:"row_code"`
	RowDate       string `yaml:"row_date"`
	RowStart      string `yaml:"row_start"`
	RowEnd        string `yaml:"row_end"`
}

// RemoteEndpoints are URL fragments of the XHR calls made by the entry form.
type RemoteEndpoints struct {
	Projects   string `yaml:"projects"`
	Categories string `yaml:"categories"`
	Progress   string `yaml:"progress"`
}

type SyncConfig struct {
	// Interval of the background scheduler. Zero disables it.
	Interval         time.Duration `yaml:"interval"`
	DuplicateMessage string        `yaml:"duplicate_message"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	JWTSecret       string        `yaml:"jwt_secret"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type SecretConfig struct {
	// Key is the hex encoded XChaCha20-Poly1305 key of stored remote passwords.
	Key string `yaml:"key" validate:"required,hexadecimal,len=64"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment variables in data, decodes it and validates the
// result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "timesheet_sync"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "runs"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "timesheet_runs"
	}
	if c.Remote.LoginPath == "" {
		c.Remote.LoginPath = "/Account/Login"
	}
	if c.Remote.HomePath == "" {
		c.Remote.HomePath = "/Home"
	}
	if c.Remote.NewAppointmentPath == "" {
		c.Remote.NewAppointmentPath = "/Apontamento/Novo"
	}
	if c.Remote.ListPath == "" {
		c.Remote.ListPath = "/Apontamento"
	}
	if c.Remote.DetailPath == "" {
		c.Remote.DetailPath = "/Apontamento/Detalhe"
	}
	if c.Remote.Headless == nil {
		headless := true
		c.Remote.Headless = &headless
	}
	if c.Remote.LoginTimeout == 0 {
		c.Remote.LoginTimeout = 3 * time.Second
	}
	if c.Remote.SaveTimeout == 0 {
		c.Remote.SaveTimeout = 3 * time.Second
	}
	if c.Remote.WaitTimeout == 0 {
		c.Remote.WaitTimeout = 15 * time.Second
	}
	if c.Remote.HTTPTimeout == 0 {
		c.Remote.HTTPTimeout = 30 * time.Second
	}
	if c.Sync.DuplicateMessage == "" {
		c.Sync.DuplicateMessage = DefaultDuplicateMessage
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
