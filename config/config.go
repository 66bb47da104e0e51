package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de contrabot.
type Config struct {
	Feed       FeedConfig       `yaml:"feed"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Contrarian ContrarianConfig `yaml:"contrarian"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Prices     PricesConfig     `yaml:"prices"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	HTTP       HTTPConfig       `yaml:"http"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

// FeedConfig identifica el canal observado.
type FeedConfig struct {
	ChannelID string `yaml:"channel_id"`
	URL       string `yaml:"url"` // si está vacío se deriva del channel_id
}

// PipelineConfig controla chunking, paralelismo y reintentos.
type PipelineConfig struct {
	ChunkMinutes       int    `yaml:"chunk_minutes"`
	ChunkWorkers       int    `yaml:"chunk_workers"`
	CallTimeoutSeconds int    `yaml:"call_timeout_seconds"`
	RetryAttempts      int    `yaml:"retry_attempts"`
	RetryBaseMS        int    `yaml:"retry_base_ms"`
	Separator          string `yaml:"separator"`
	AllowReanalysis    bool   `yaml:"allow_reanalysis"`
	AllowDuplicateMark bool   `yaml:"allow_duplicate_mark"`
}

// ContrarianConfig elige los instrumentos operados.
type ContrarianConfig struct {
	BuyInstrument  string   `yaml:"buy_instrument"`
	SellInstrument string   `yaml:"sell_instrument"`
	Tradable       []string `yaml:"tradable"`
}

// LedgerConfig controla el tamaño de posición y la convención de retorno.
type LedgerConfig struct {
	PositionNotional float64 `yaml:"position_notional"`
	ReturnConvention string  `yaml:"return_convention"` // additive | compound
}

// PricesConfig elige la fuente de precios. Con source daily_close las
// cotizaciones estáticas sólo se usan si la fuente de cierres falla.
type PricesConfig struct {
	Source       string             `yaml:"source"` // daily_close | static
	BaseURL      string             `yaml:"base_url"`
	SymbolSuffix string             `yaml:"symbol_suffix"`
	RPS          float64            `yaml:"rps"`
	Default      float64            `yaml:"default"`
	Quotes       map[string]float64 `yaml:"quotes"`
}

// OpenAIConfig configura transcripción y extracción.
type OpenAIConfig struct {
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	TranscribeModel string  `yaml:"transcribe_model"`
	Language        string  `yaml:"language"`
	AnalysisModel   string  `yaml:"analysis_model"`
	RPS             float64 `yaml:"rps"`
}

// TelegramConfig configura el canal de notificaciones.
type TelegramConfig struct {
	BaseURL   string `yaml:"base_url"`
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
	Enabled   bool   `yaml:"enabled"`
}

// HTTPConfig configura la API de lectura.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN          string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
	HistoryFile  string `yaml:"history_file"`
	ArtifactsDir string `yaml:"artifacts_dir"`
	WorkDir      string `yaml:"work_dir"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// FeedURL devuelve la URL del feed Atom del canal.
func (c *Config) FeedURL() string {
	if c.Feed.URL != "" {
		return c.Feed.URL
	}
	return "https://www.youtube.com/feeds/videos.xml?channel_id=" + c.Feed.ChannelID
}

// ChunkLen devuelve la duración de cada chunk de audio.
func (c *Config) ChunkLen() time.Duration {
	return time.Duration(c.Pipeline.ChunkMinutes) * time.Minute
}

// CallTimeout es el timeout por intento de las llamadas externas.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Pipeline.CallTimeoutSeconds) * time.Second
}

// RetryBase es la espera antes del segundo intento.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Pipeline.RetryBaseMS) * time.Millisecond
}

// LockPath es el archivo de lock asociado a la base de datos.
func (c *Config) LockPath() string {
	return c.Storage.DSN + ".lock"
}

func (c *Config) validate() error {
	switch c.Ledger.ReturnConvention {
	case "additive", "compound":
	default:
		return fmt.Errorf("ledger.return_convention %q: want additive or compound", c.Ledger.ReturnConvention)
	}
	switch c.Prices.Source {
	case "daily_close", "static":
	default:
		return fmt.Errorf("prices.source %q: want daily_close or static", c.Prices.Source)
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChannelID == "") {
		return fmt.Errorf("telegram enabled without bot_token/channel_id")
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHANNEL_ID"); v != "" {
		cfg.Telegram.ChannelID = v
	}
	if v := os.Getenv("CONTRABOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Pipeline.ChunkMinutes <= 0 {
		cfg.Pipeline.ChunkMinutes = 10
	}
	if cfg.Pipeline.ChunkWorkers <= 0 {
		cfg.Pipeline.ChunkWorkers = 3
	}
	if cfg.Pipeline.CallTimeoutSeconds <= 0 {
		cfg.Pipeline.CallTimeoutSeconds = 120
	}
	if cfg.Pipeline.RetryAttempts <= 0 {
		cfg.Pipeline.RetryAttempts = 3
	}
	if cfg.Pipeline.RetryBaseMS <= 0 {
		cfg.Pipeline.RetryBaseMS = 500
	}
	if cfg.Pipeline.Separator == "" {
		cfg.Pipeline.Separator = " "
	}
	if cfg.Contrarian.BuyInstrument == "" {
		cfg.Contrarian.BuyInstrument = "069500" // KODEX 200
	}
	if cfg.Contrarian.SellInstrument == "" {
		cfg.Contrarian.SellInstrument = cfg.Contrarian.BuyInstrument
	}
	if cfg.Ledger.PositionNotional <= 0 {
		cfg.Ledger.PositionNotional = 10_000_000
	}
	if cfg.Ledger.ReturnConvention == "" {
		cfg.Ledger.ReturnConvention = "additive"
	}
	if cfg.Prices.Default <= 0 {
		cfg.Prices.Default = 10_000
	}
	if cfg.Prices.Source == "" {
		cfg.Prices.Source = "daily_close"
	}
	if cfg.Prices.SymbolSuffix == "" {
		cfg.Prices.SymbolSuffix = ".KS"
	}
	if cfg.Prices.RPS <= 0 {
		cfg.Prices.RPS = 1
	}
	if cfg.Telegram.BaseURL == "" {
		cfg.Telegram.BaseURL = "https://api.telegram.org"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8090"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "contrabot.db"
	}
	if cfg.Storage.HistoryFile == "" {
		cfg.Storage.HistoryFile = "processed_videos.json"
	}
	if cfg.Storage.ArtifactsDir == "" {
		cfg.Storage.ArtifactsDir = "analysis"
	}
	if cfg.Storage.WorkDir == "" {
		cfg.Storage.WorkDir = os.TempDir()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
