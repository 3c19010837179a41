// Package config loads environment-driven settings and the static lab
// catalog for the range backend.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ctf-range/pkg/models"
)

// Config holds all runtime settings. Populated once at startup.
type Config struct {
	ListenAddr  string
	Environment string

	// Persistent state store.
	DBDriver string // "sqlite" or "postgres"
	DBDSN    string

	// Optional leaderboard cache.
	RedisAddr     string
	RedisPassword string

	// Container runtime.
	DockerHost      string
	DockerNetwork   string
	DockerSubnet    string
	EgressBlockCIDR string
	RuntimeTimeout  time.Duration

	// Lifecycle limits.
	MaxLabsPerUser int
	MaxTotalLabs   int
	LabTTL         time.Duration
	SweepInterval  time.Duration

	// Per-user sliding-window rate limits (requests per trailing minute).
	RateSoftLimit    int
	RateWarnLimit    int
	RateHardLimit    int
	RateBlockSeconds int

	// Access control. AdminIDs is a config-supplied allowlist; the gate has
	// no identities baked into its logic.
	AdminIDs     []string
	OperatorRole string
	OfficerRole  string
	JWTSecret    string

	// Static content.
	CatalogPath   string
	ChallengesDir string
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		Environment: envOr("ENVIRONMENT", "development"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", "ctf-range.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DockerHost:      envOr("DOCKER_HOST", "unix:///var/run/docker.sock"),
		DockerNetwork:   envOr("LAB_DOCKER_NETWORK", "ctf-isolated"),
		DockerSubnet:    envOr("LAB_DOCKER_SUBNET", "172.20.0.0/16"),
		EgressBlockCIDR: envOr("LAB_EGRESS_BLOCK_CIDR", "10.106.195.0/24"),
		RuntimeTimeout:  envDurationOr("LAB_RUNTIME_TIMEOUT", 30*time.Second),

		MaxLabsPerUser: envIntOr("LAB_MAX_PER_USER", 3),
		MaxTotalLabs:   envIntOr("LAB_MAX_TOTAL", 50),
		LabTTL:         envDurationOr("LAB_TTL", 4*time.Hour),
		SweepInterval:  envDurationOr("LAB_SWEEP_INTERVAL", 15*time.Minute),

		RateSoftLimit:    envIntOr("RATE_SOFT_LIMIT", 10),
		RateWarnLimit:    envIntOr("RATE_WARN_LIMIT", 15),
		RateHardLimit:    envIntOr("RATE_HARD_LIMIT", 20),
		RateBlockSeconds: envIntOr("RATE_BLOCK_SECONDS", 60),

		AdminIDs:     splitCSV(os.Getenv("ADMIN_IDS")),
		OperatorRole: envOr("OPERATOR_ROLE", "Operator"),
		OfficerRole:  envOr("OFFICER_ROLE", "Officer"),
		JWTSecret:    os.Getenv("JWT_SECRET"),

		CatalogPath:   os.Getenv("LAB_CATALOG_PATH"),
		ChallengesDir: envOr("CHALLENGES_DIR", "challenges"),
	}
}

// Container hardening applied to every lab regardless of type.
const (
	ContainerMemoryBytes = int64(2) << 30 // 2GiB
	ContainerCPUCores    = 1.0
	ContainerPidLimit    = int64(100)
)

var (
	validCategories   = map[string]bool{"web": true, "system": true, "challenge": true, "crypto": true, "forensics": true}
	validDifficulties = map[string]bool{"beginner": true, "intermediate": true, "advanced": true}
)

// LoadCatalog returns the lab type catalog. If path is empty the built-in
// defaults are used. Malformed entries fail the load outright rather than
// being trusted at use-time.
func LoadCatalog(path string) (map[string]models.LabTypeDef, error) {
	catalog := DefaultLabTypes()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read lab catalog %s: %w", path, err)
		}
		loaded := map[string]models.LabTypeDef{}
		if err := json.Unmarshal(raw, &loaded); err != nil {
			return nil, fmt.Errorf("parse lab catalog %s: %w", path, err)
		}
		catalog = loaded
	}

	for name, def := range catalog {
		if def.Name == "" {
			def.Name = name
			catalog[name] = def
		}
		if err := validateLabType(def); err != nil {
			return nil, fmt.Errorf("lab catalog entry %q: %w", name, err)
		}
	}
	return catalog, nil
}

func validateLabType(def models.LabTypeDef) error {
	if def.Name == "" || def.Image == "" {
		return fmt.Errorf("name and image are required")
	}
	if def.Port <= 0 || def.Port > 65535 {
		return fmt.Errorf("invalid port %d", def.Port)
	}
	if !validCategories[def.Category] {
		return fmt.Errorf("unknown category %q", def.Category)
	}
	if !validDifficulties[def.Difficulty] {
		return fmt.Errorf("unknown difficulty %q", def.Difficulty)
	}
	return nil
}

// DefaultLabTypes is the built-in catalog of practice environments.
func DefaultLabTypes() map[string]models.LabTypeDef {
	return map[string]models.LabTypeDef{
		"dvwa": {
			Name:        "dvwa",
			DisplayName: "Damn Vulnerable Web Application",
			Image:       "vulnerables/web-dvwa",
			Port:        80,
			Category:    "web",
			Difficulty:  "beginner",
			Description: "Practice SQL injection, XSS, command injection",
			Tmpfs: map[string]string{
				"/var/lib/mysql":  "rw,noexec,nosuid,size=100m",
				"/var/run/mysqld": "rw,noexec,nosuid,size=10m",
				"/var/log":        "rw,noexec,nosuid,size=50m",
				"/tmp":            "rw,noexec,nosuid,size=50m",
			},
		},
		"webgoat": {
			Name:        "webgoat",
			DisplayName: "OWASP WebGoat",
			Image:       "webgoat/webgoat:latest",
			Port:        8080,
			Category:    "web",
			Difficulty:  "beginner",
			Description: "OWASP Top 10 practice environment",
			Tmpfs: map[string]string{
				"/home/webgoat/.webgoat": "rw,noexec,nosuid,size=100m",
				"/tmp":                   "rw,noexec,nosuid,size=50m",
			},
		},
		"juice-shop": {
			Name:        "juice-shop",
			DisplayName: "OWASP Juice Shop",
			Image:       "bkimminich/juice-shop",
			Port:        3000,
			Category:    "web",
			Difficulty:  "beginner",
			Description: "Modern web application vulnerabilities",
			Tmpfs: map[string]string{
				"/juice-shop/data": "rw,noexec,nosuid,size=100m",
				"/tmp":             "rw,noexec,nosuid,size=50m",
			},
		},
		"metasploitable": {
			Name:        "metasploitable",
			DisplayName: "Metasploitable 2",
			Image:       "tleemcjr/metasploitable2",
			Port:        22,
			Category:    "system",
			Difficulty:  "intermediate",
			Description: "Full penetration testing environment",
			Tmpfs: map[string]string{
				"/var/log": "rw,noexec,nosuid,size=50m",
				"/tmp":     "rw,noexec,nosuid,size=50m",
			},
		},
		"crypto-lab": {
			Name:        "crypto-lab",
			DisplayName: "Cryptography Lab",
			Image:       "custom/crypto-tools",
			Port:        7681,
			Category:    "challenge",
			Difficulty:  "beginner",
			Description: "Pre-installed crypto tools (hashcat, john, rockyou.txt)",
			Tmpfs: map[string]string{
				"/tmp":            "rw,noexec,nosuid,size=100m",
				"/home/challenge": "rw,noexec,nosuid,size=50m",
			},
		},
		"forensics-lab": {
			Name:        "forensics-lab",
			DisplayName: "Digital Forensics Lab",
			Image:       "custom/forensics-tools",
			Port:        7681,
			Category:    "challenge",
			Difficulty:  "intermediate",
			Description: "Forensics tools (volatility, binwalk, foremost)",
			Tmpfs: map[string]string{
				"/tmp":            "rw,noexec,nosuid,size=100m",
				"/home/challenge": "rw,noexec,nosuid,size=50m",
			},
		},
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
