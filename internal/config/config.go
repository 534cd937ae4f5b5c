package config

import (
	"flag"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App     `yaml:"app"`
		HTTP    `yaml:"http"`
		Log     `yaml:"logger"`
		Storage `yaml:"storage"`
	}

	App struct {
		Env     string `yaml:"env"     env-default:"local"`
		Name    string `yaml:"name"    env-default:"davstore"`
		Version string `yaml:"version" env:"APP_VERSION" env-default:"dev"`
	}

	HTTP struct {
		IP         string        `yaml:"ip"           env-default:"0.0.0.0"`
		Port       string        `yaml:"port"         env-default:"8082"`
		Timeout    time.Duration `yaml:"timeout"      env-default:"4s"`
		IdleTimout time.Duration `yaml:"idle_timeout" env-default:"60s"`
		// RoutePrefix is stripped from request paths before routing, for
		// deployments behind a reverse proxy subpath.
		RoutePrefix string `yaml:"route_prefix" env:"ROUTE_PREFIX" env-default:""`
		// AuthURL selects the auth provider, e.g. "basic://". Empty
		// disables authentication; requests act as current_user_principal.
		AuthURL  string `yaml:"auth_url" env:"AUTH_URL"      env-default:""`
		User     string `yaml:"user"     env:"HTTP_USER"     env-default:""`
		Password string `yaml:"password" env:"HTTP_PASSWORD" env-default:""`
		CORS        struct {
			AllowedMethods     []string `yaml:"allowed_methods"`
			AllowedOrigins     []string `yaml:"allowed_origins"`
			AllowCredentials   bool     `yaml:"allow_credentials"`
			AllowedHeaders     []string `yaml:"allowed_headers"`
			OptionsPassthrough bool     `yaml:"options_passthrough"`
			ExposedHeaders     []string `yaml:"exposed_headers"`
			Debug              bool     `yaml:"debug"`
		} `yaml:"cors"`
	}

	Log struct {
		Level string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	}

	Storage struct {
		// DataRoot is the filesystem root under which per-collection
		// repositories live.
		DataRoot string `yaml:"data_root" env:"DATA_ROOT" env-default:"./data"`
		// CurrentUserPrincipal is the principal path assumed when the
		// outer layer supplies no identity, e.g. "/alice/".
		CurrentUserPrincipal string `yaml:"current_user_principal" env:"CURRENT_USER_PRINCIPAL" env-default:"/user/"`
		// Autocreate is one of "none", "principal", "defaults".
		Autocreate string `yaml:"autocreate" env:"AUTOCREATE" env-default:"none"`
		// Strict widens acceptance of minor client protocol deviations
		// when false (e.g. a missing Content-Type on PUT).
		Strict bool `yaml:"strict" env:"STRICT" env-default:"true"`
		// IndexThreshold is the minimum collection size above which the
		// item index is consulted for filter evaluation.
		IndexThreshold int `yaml:"index_threshold" env:"INDEX_THRESHOLD" env-default:"5"`
	}
)

// Autocreate policy values.
const (
	AutocreateNone      = "none"
	AutocreatePrincipal = "principal"
	AutocreateDefaults  = "defaults"
)

const (
	EnvConfigPathName  = "CONFIG-PATH"
	FlagConfigPathName = "config"
)

var (
	configPath string
	instance   *Config
	once       sync.Once
)

// GetConfig returns app configs.
func GetConfig() *Config {
	once.Do(func() {
		flag.StringVar(
			&configPath,
			FlagConfigPathName,
			"./configs/config.yml",
			"this is app config file",
		)
		flag.Parse()

		log.Print("config init")

		if configPath == "" {
			configPath = os.Getenv(EnvConfigPathName)
		}

		if configPath == "" {
			log.Fatal("config path is required")
		}

		instance = &Config{}

		if err := cleanenv.ReadConfig(configPath, instance); err != nil {
			helpText := "Davstore - CalDAV+CardDAV Service"
			help, _ := cleanenv.GetDescription(instance, &helpText)
			log.Print(help)
			log.Fatal(err)
		}
	})
	return instance
}
