package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration `validate:"gt=0"`
		JWTExpirationDelta time.Duration `validate:"gt=0"`
		DisableReqLogs     bool
	}

	DatabaseConfig struct {
		InMemory      bool
		Engine        string `validate:"required_without=InMemory"`
		Host          string
		Port          string
		Name          string `validate:"required_without=InMemory"`
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// ProviderConfig holds the credentials of one LMS provider.
	ProviderConfig struct {
		URL      string
		Token    string
		CourseID string
	}

	SyncConfig struct {
		Provider      string
		AutoStart     bool
		Interval      time.Duration `validate:"gt=0"`
		ErrorBackoff  time.Duration `validate:"gt=0"`
		CallTimeout   time.Duration `validate:"gt=0"`
		CacheTTL      time.Duration `validate:"gt=0"`
		LessonHorizon time.Duration `validate:"gt=0"`
		Location      string
	}

	NotificationConfig struct {
		Enabled   bool
		Tick      time.Duration `validate:"gt=0"`
		Tolerance time.Duration `validate:"gt=0"`
	}

	TelegramConfig struct {
		BotToken string
	}

	SendgridConfig struct {
		APIKey    string
		FromName  string
		FromEmail string
	}

	AMQPConfig struct {
		URL        string
		Exchange   string
		RoutingKey string
	}

	Config struct {
		Env          string
		Build        string
		Debug        bool
		TestMode     bool
		AppName      string
		SecretKey    string `validate:"required"`
		RollbarToken string
		WorkDir      string

		Server       ServerConfig
		Database     DatabaseConfig
		Sync         SyncConfig
		Moodle       ProviderConfig
		Canvas       ProviderConfig
		Notification NotificationConfig
		Telegram     TelegramConfig
		Sendgrid     SendgridConfig
		AMQP         AMQPConfig
	}
)

// Address returns the host:port of the database server.
func (c DatabaseConfig) Address() string {
	if c.Port == "" {
		return c.Host
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// ProviderConf returns the credentials configured for the given provider kind.
func (c *Config) ProviderConf(kind string) (ProviderConfig, bool) {
	switch CleanString(kind, true) {
	case "moodle":
		return c.Moodle, true
	case "canvas":
		return c.Canvas, true
	}
	return ProviderConfig{}, false
}

// NewConfig loads the configuration from the environment (and `config/.env.<env>` if present).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Masomo")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "0.0.0.0:8000")
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.inMemory", false)
	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "masomo")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("sync.provider", "")
	v.SetDefault("sync.autoStart", true)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.errorBackoff", time.Minute)
	v.SetDefault("sync.callTimeout", 30*time.Second)
	v.SetDefault("sync.cacheTTL", time.Hour)
	v.SetDefault("sync.lessonHorizon", 30*24*time.Hour)
	v.SetDefault("sync.location", "Europe/Moscow")

	for _, kind := range []string{"moodle", "canvas"} {
		v.SetDefault(kind+".url", "")
		v.SetDefault(kind+".token", "")
		v.SetDefault(kind+".courseId", "1")
	}

	v.SetDefault("notification.enabled", true)
	v.SetDefault("notification.tick", 5*time.Minute)
	v.SetDefault("notification.tolerance", 5*time.Minute)

	v.SetDefault("telegram.botToken", "")
	v.SetDefault("sendgrid.apiKey", "")
	v.SetDefault("sendgrid.fromName", "Masomo")
	v.SetDefault("sendgrid.fromEmail", "noreply@localhost")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "notifications")
	v.SetDefault("amqp.routingKey", "telegram")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("database.inMemory", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:          env,
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		WorkDir:      wd,
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
			DisableReqLogs:     v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			InMemory:      v.GetBool("database.inMemory"),
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Sync: SyncConfig{
			Provider:      v.GetString("sync.provider"),
			AutoStart:     v.GetBool("sync.autoStart"),
			Interval:      v.GetDuration("sync.interval"),
			ErrorBackoff:  v.GetDuration("sync.errorBackoff"),
			CallTimeout:   v.GetDuration("sync.callTimeout"),
			CacheTTL:      v.GetDuration("sync.cacheTTL"),
			LessonHorizon: v.GetDuration("sync.lessonHorizon"),
			Location:      v.GetString("sync.location"),
		},
		Moodle: ProviderConfig{
			URL:      v.GetString("moodle.url"),
			Token:    v.GetString("moodle.token"),
			CourseID: v.GetString("moodle.courseId"),
		},
		Canvas: ProviderConfig{
			URL:      v.GetString("canvas.url"),
			Token:    v.GetString("canvas.token"),
			CourseID: v.GetString("canvas.courseId"),
		},
		Notification: NotificationConfig{
			Enabled:   v.GetBool("notification.enabled"),
			Tick:      v.GetDuration("notification.tick"),
			Tolerance: v.GetDuration("notification.tolerance"),
		},
		Telegram: TelegramConfig{BotToken: v.GetString("telegram.botToken")},
		Sendgrid: SendgridConfig{
			APIKey:    v.GetString("sendgrid.apiKey"),
			FromName:  v.GetString("sendgrid.fromName"),
			FromEmail: v.GetString("sendgrid.fromEmail"),
		},
		AMQP: AMQPConfig{
			URL:        v.GetString("amqp.url"),
			Exchange:   v.GetString("amqp.exchange"),
			RoutingKey: v.GetString("amqp.routingKey"),
		},
	}

	if err := validator.New().Struct(conf); err != nil {
		log.Fatalf("config.validate: %v", err)
	}
	return conf
}

// SchoolLocation returns the time zone lessons are scheduled in.
func (c *Config) SchoolLocation() *time.Location {
	if c.Sync.Location == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Sync.Location)
	if err != nil {
		log.Printf("config: unknown sync.location %q, using local time: %v", c.Sync.Location, err)
		return time.Local
	}
	return loc
}
