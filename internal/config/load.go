package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Decode parses a stream definition. Files ending in .yaml or .yml are YAML,
// everything else is JSON. Unknown keys are rejected in both formats.
func Decode(name string, data []byte) (Stream, error) {
	var s Stream
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return Stream{}, fmt.Errorf("decode %s: %w", name, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return Stream{}, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	if s.Parser.Options == nil {
		s.Parser.Options = Options{}
	}
	return s, nil
}

// Load reads and decodes the stream file at path.
func Load(path string) (Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stream{}, fmt.Errorf("read config: %w", err)
	}
	return Decode(path, data)
}

// EnvPrefix prefixes every environment setting, e.g. CRAWLSTREAM_TMP_DIR.
const EnvPrefix = "CRAWLSTREAM"

// Settings are process-level knobs that do not belong in a stream file.
// CLI flags override them.
type Settings struct {
	// TmpDir is where cache files are created when the stream does not set
	// cache.dir. Empty means os.TempDir().
	TmpDir string `envconfig:"TMP_DIR"`

	MetricsBackend string `envconfig:"METRICS_BACKEND" default:"none"`
	PushgatewayURL string `envconfig:"PUSHGATEWAY_URL" default:"http://localhost:9091"`
	DatadogAddr    string `envconfig:"DATADOG_ADDR" default:"127.0.0.1:8125"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("load settings from env: %w", err)
	}
	return s, nil
}
