package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the server needs from the environment so main
// stays lean. Collaborator services are addressed by base URL; the empty
// string disables the corresponding integration.
type Config struct {
	Addr string

	PostgresDSN string
	RedisURL    string

	KafkaBrokers    []string
	KafkaAuditTopic string

	OCRBaseURL       string
	BiometricBaseURL string
	SignerBaseURL    string
	FHEBaseURL       string

	// At-rest encryption key for reversible fields (first name, user salt),
	// 32 bytes hex-encoded.
	SealerKeyHex string

	ChallengeTTL time.Duration

	// Per-IP fixed window applied to the public document intake endpoint.
	IntakeRateLimit  int
	IntakeRateWindow time.Duration

	AntispoofThreshold float64
	LivenessThreshold  float64
	FaceMatchThreshold float64
}

// FromEnv builds a Config from environment variables with development
// defaults. Production deployments override everything that matters.
func FromEnv() Config {
	return Config{
		Addr:             envOr("ATTESTO_ADDR", ":8080"),
		PostgresDSN:      os.Getenv("ATTESTO_POSTGRES_DSN"),
		RedisURL:         os.Getenv("ATTESTO_REDIS_URL"),
		KafkaBrokers:     splitNonEmpty(os.Getenv("ATTESTO_KAFKA_BROKERS")),
		KafkaAuditTopic:  envOr("ATTESTO_KAFKA_AUDIT_TOPIC", "attesto.audit"),
		OCRBaseURL:       envOr("ATTESTO_OCR_URL", "http://localhost:8001"),
		BiometricBaseURL: envOr("ATTESTO_BIOMETRIC_URL", "http://localhost:8002"),
		SignerBaseURL:    envOr("ATTESTO_SIGNER_URL", "http://localhost:8003"),
		FHEBaseURL:       envOr("ATTESTO_FHE_URL", "http://localhost:8004"),
		SealerKeyHex:     os.Getenv("ATTESTO_SEALER_KEY"),
		ChallengeTTL:     envDurationOr("ATTESTO_CHALLENGE_TTL", 5*time.Minute),
		IntakeRateLimit:  envIntOr("ATTESTO_INTAKE_RATE_LIMIT", 10),
		IntakeRateWindow: envDurationOr("ATTESTO_INTAKE_RATE_WINDOW", time.Minute),

		AntispoofThreshold: envFloatOr("ATTESTO_ANTISPOOF_THRESHOLD", 0.3),
		LivenessThreshold:  envFloatOr("ATTESTO_LIVENESS_THRESHOLD", 0.5),
		FaceMatchThreshold: envFloatOr("ATTESTO_FACE_MATCH_THRESHOLD", 0.5),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
