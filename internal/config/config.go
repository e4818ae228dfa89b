package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Client holds the settings of the KYC client agent.
type Client struct {
	ListenAddr   string
	LogLevel     string
	APIBaseURL   string
	HTTPTimeout  time.Duration
	SessionStore string
	RedisAddr    string
	Profile      string

	LandmarkAddr  string
	CaptureSource string
	CaptureDir    string
	CameraDevice  int
	CaptureFPS    int
	FrameWidth    int
	FrameHeight   int
	SnapshotMax   int

	Policy                string
	Evidence              string
	PollInterval          time.Duration
	BlinkEARThreshold     float64
	BlinkDebounce         time.Duration
	CenterThresholdPx     float64
	RequireCentering      bool
	RecordDuration        time.Duration
	SubmitTimeout         time.Duration
	NavigationDelay       time.Duration
	ModelLoadAttempts     int
	RetryCaptureOnNetwork bool
}

// DevAPI holds the settings of the reference verification backend.
type DevAPI struct {
	ListenAddr     string
	LogLevel       string
	DatabaseDriver string
	DatabaseDSN    string
	JWTSecret      string
	JWTAudience    string
	TokenTTL       time.Duration
	MaxUploadSize  int64
	CacheBackend   string
	RedisAddr      string
	LandmarkAddr   string
	MinFaceScore   float64
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// LoadClient reads the client configuration from the environment.
func LoadClient() Client {
	return Client{
		ListenAddr:   getEnv("KYC_LISTEN_ADDR", ":8081"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		APIBaseURL:   strings.TrimRight(getEnv("KYC_API_BASE_URL", "http://localhost:8080"), "/"),
		HTTPTimeout:  getDuration("KYC_HTTP_TIMEOUT", 30*time.Second),
		SessionStore: getEnv("KYC_SESSION_STORE", "memory"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		Profile:      getEnv("KYC_PROFILE", "default"),

		LandmarkAddr:  getEnv("LANDMARK_SERVICE_ADDR", "localhost:50051"),
		CaptureSource: getEnv("CAPTURE_SOURCE", "directory"),
		CaptureDir:    getEnv("CAPTURE_DIR", "./frames"),
		CameraDevice:  getInt("CAMERA_DEVICE", 0),
		CaptureFPS:    getInt("CAPTURE_FPS", 15),
		FrameWidth:    getInt("CAPTURE_WIDTH", 1280),
		FrameHeight:   getInt("CAPTURE_HEIGHT", 720),
		SnapshotMax:   getInt("SNAPSHOT_MAX_WIDTH", 0),

		Policy:                getEnv("KYC_LIVENESS_POLICY", "gated"),
		Evidence:              getEnv("KYC_EVIDENCE", "image"),
		PollInterval:          getDuration("KYC_POLL_INTERVAL", 100*time.Millisecond),
		BlinkEARThreshold:     getFloat("KYC_BLINK_EAR_THRESHOLD", 0.2),
		BlinkDebounce:         getDuration("KYC_BLINK_DEBOUNCE", 500*time.Millisecond),
		CenterThresholdPx:     getFloat("KYC_CENTER_THRESHOLD_PX", 100),
		RequireCentering:      getBool("KYC_REQUIRE_CENTERING", true),
		RecordDuration:        getDuration("KYC_RECORD_DURATION", 4*time.Second),
		SubmitTimeout:         getDuration("KYC_SUBMIT_TIMEOUT", 30*time.Second),
		NavigationDelay:       getDuration("KYC_NAVIGATION_DELAY", 2*time.Second),
		ModelLoadAttempts:     getInt("KYC_MODEL_LOAD_ATTEMPTS", 3),
		RetryCaptureOnNetwork: getBool("KYC_RETRY_CAPTURE_ON_NETWORK_ERROR", false),
	}
}

// LoadDevAPI reads the reference backend configuration from the environment.
func LoadDevAPI() DevAPI {
	return DevAPI{
		ListenAddr:     getEnv("DEVAPI_LISTEN_ADDR", ":8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "file:devapi.db?cache=shared"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		TokenTTL:       getDuration("JWT_TTL", 24*time.Hour),
		MaxUploadSize:  int64(getInt("MAX_UPLOAD_SIZE", 20<<20)),
		CacheBackend:   getEnv("DEVAPI_CACHE", "memory"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		LandmarkAddr:   os.Getenv("LANDMARK_SERVICE_ADDR"),
		MinFaceScore:   getFloat("MIN_FACE_SCORE", 0.5),
	}
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
