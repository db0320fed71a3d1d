/*
Package config describes a pool: which messaging pattern it uses, where the dispatcher and the
workers are reachable, and the settings of the HTTP front end and the Redis-backed counter and
result store.

Configuration is read from a YAML file. A few settings can be overridden by environment
variables, so that container deployments don't need their own file.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/log"
	"github.com/dermesser/clusterdispatch/proto"
	smgr "github.com/dermesser/clusterdispatch/securitymanager"

	"gopkg.in/yaml.v2"
)

// Messaging patterns.
const (
	// Tasks are published on one channel, replies on another.
	PATTERN_BROADCAST = "broadcast"
	// Every worker has its own REQ/REP channel.
	PATTERN_POINT_TO_POINT = "point-to-point"
)

const (
	DEFAULT_TASK_ENDPOINT   = "tcp://127.0.0.1:5555"
	DEFAULT_RESULT_ENDPOINT = "tcp://127.0.0.1:5556"
	DEFAULT_HTTP_ADDR       = ":8000"
	DEFAULT_TIMEOUT         = 10 * time.Second
	DEFAULT_HEARTBEAT       = 2 * time.Second
)

type Worker struct {
	ID cd.WorkerID `yaml:"id"`
	// Only used in point-to-point mode: the worker binds a REP socket there.
	Endpoint string `yaml:"endpoint"`
}

type Redis struct {
	// Empty to go without Redis: the counter is then local to the server process, and results
	// are only written to output_dir.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Key of the shared counter.
	Key string `yaml:"key"`
	// Expiry of stored results; 0 keeps them forever.
	ResultTTL time.Duration `yaml:"result_ttl"`
}

// Paths of CURVE key files. The side that binds uses public_key/private_key as server keys; the
// connecting side additionally needs server_public_key. All empty disables encryption.
type Security struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	ServerPublicKey string `yaml:"server_public_key"`
	// Public key files of the peers allowed to connect to the bound side; empty allows any peer
	// that knows our public key.
	AuthorizedKeys []string `yaml:"authorized_keys"`
	AllowAddresses []string `yaml:"allow_addresses"`
}

func (s Security) Enabled() bool {
	return s.KeyFiles().Enabled()
}

func (s Security) KeyFiles() smgr.KeyFiles {
	return smgr.KeyFiles{
		Public:         s.PublicKey,
		Private:        s.PrivateKey,
		ServerPublic:   s.ServerPublicKey,
		Authorized:     s.AuthorizedKeys,
		AllowAddresses: s.AllowAddresses,
	}
}

type Config struct {
	Pattern        string        `yaml:"pattern"`
	Codec          string        `yaml:"codec"`
	TaskEndpoint   string        `yaml:"task_endpoint"`
	ResultEndpoint string        `yaml:"result_endpoint"`
	Workers        []Worker      `yaml:"workers"`
	Timeout        time.Duration `yaml:"timeout"`
	Retries        uint          `yaml:"retries"`
	Heartbeat      time.Duration `yaml:"heartbeat"`

	HTTPAddr string `yaml:"http_addr"`
	// Accepted API requests per second; 0 is unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// Directory for sorted results; empty to not write files.
	OutputDir string `yaml:"output_dir"`

	Redis    Redis    `yaml:"redis"`
	Security Security `yaml:"security"`
	Loglevel string   `yaml:"loglevel"`
}

// Default returns the configuration used for settings that a file leaves out.
func Default() *Config {
	return &Config{
		Pattern:        PATTERN_BROADCAST,
		Codec:          proto.CodecNameProtobuf,
		TaskEndpoint:   DEFAULT_TASK_ENDPOINT,
		ResultEndpoint: DEFAULT_RESULT_ENDPOINT,
		Timeout:        DEFAULT_TIMEOUT,
		Heartbeat:      DEFAULT_HEARTBEAT,
		HTTPAddr:       DEFAULT_HTTP_ADDR,
		Loglevel:       "INFO",
	}
}

// Load reads the YAML file at path (only the defaults and environment if path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		buf, err := os.ReadFile(path)

		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}

		if err = yaml.UnmarshalStrict(buf, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := lookup("REDIS_DB"); ok {
		db, err := strconv.Atoi(v)

		if err != nil {
			return fmt.Errorf("config: REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	if v, ok := lookup("HTTP_ADDR"); ok {
		c.HTTPAddr = v
	}
	return nil
}

// Validate checks the configuration and normalizes the pattern name.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Pattern) {
	case PATTERN_BROADCAST, "pubsub":
		c.Pattern = PATTERN_BROADCAST
	case PATTERN_POINT_TO_POINT, "reqrep":
		c.Pattern = PATTERN_POINT_TO_POINT
	default:
		errs = append(errs, fmt.Errorf("unknown pattern %q", c.Pattern))
	}

	if _, err := proto.GetCodec(c.Codec); err != nil {
		errs = append(errs, err)
	}

	if _, err := log.ParseLoglevel(c.Loglevel); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[cd.WorkerID]bool)
	for _, w := range c.Workers {
		if seen[w.ID] {
			errs = append(errs, fmt.Errorf("%s configured twice", w.ID))
		}
		seen[w.ID] = true

		if c.Pattern == PATTERN_POINT_TO_POINT && w.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%s has no endpoint", w.ID))
		}
	}

	if c.Pattern == PATTERN_BROADCAST && (c.TaskEndpoint == "" || c.ResultEndpoint == "") {
		errs = append(errs, errors.New("broadcast pattern needs task_endpoint and result_endpoint"))
	}

	if c.Timeout < 0 || c.Heartbeat < 0 {
		errs = append(errs, errors.New("timeout and heartbeat must not be negative"))
	}

	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate_limit and rate_burst must not be negative"))
	}

	if c.Security.Enabled() && (c.Security.PublicKey == "" || c.Security.PrivateKey == "") {
		errs = append(errs, errors.New("security needs both public_key and private_key"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IDs of the configured workers, in configured order.
func (c *Config) WorkerIDs() []cd.WorkerID {
	ids := make([]cd.WorkerID, len(c.Workers))
	for i, w := range c.Workers {
		ids[i] = w.ID
	}
	return ids
}

// Returns the configured worker with the given ID.
func (c *Config) Worker(id cd.WorkerID) (Worker, bool) {
	for _, w := range c.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return Worker{}, false
}

func (c *Config) GetCodec() proto.Codec {
	codec, err := proto.GetCodec(c.Codec)

	if err != nil {
		return proto.ProtobufCodec{}
	}
	return codec
}
