package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/joho/godotenv"
)

const (
	ImageBackendLocal      = "local"
	ImageBackendCloudinary = "cloudinary"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	Dsn      string `env:"DSN" envDefault:"data"`

	UploadDir       string `env:"UPLOAD_DIR" envDefault:"static/uploads"`
	UploadURLPrefix string `env:"UPLOAD_URL_PREFIX" envDefault:"/static/uploads"`
	MaxUploadMB     int64  `env:"MAX_UPLOAD_MB" envDefault:"10"`
	ImageBackend    string `env:"IMAGE_BACKEND" envDefault:"local"`

	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`
	CloudinaryFolder    string `env:"CLOUDINARY_FOLDER" envDefault:"potholes"`

	DetectorURL        string        `env:"DETECTOR_URL"`
	DetectorConfidence float64       `env:"DETECTOR_CONFIDENCE" envDefault:"0.25"`
	DetectorTimeout    time.Duration `env:"DETECTOR_TIMEOUT" envDefault:"30s"`

	RoutingURL string `env:"ROUTING_URL"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	GroupCacheTTL time.Duration `env:"GROUP_CACHE_TTL" envDefault:"30s"`

	OperatorJWTSecret string `env:"OPERATOR_JWT_SECRET"`
}

func New() *Config {
	if loadErr := godotenv.Load(".env"); loadErr != nil {
		log.Printf("[Env]: unable to load .env file %v", loadErr)
	}

	cfg, parseErr := Parse()
	if parseErr != nil {
		log.Printf("[Env]: failed to parse environment variables: %v", parseErr)
	}

	return cfg
}

// Parse reads the process environment without touching .env files.
func Parse() (*Config, error) {
	var cfg Config
	err := env.Parse(&cfg)
	return &cfg, err
}
