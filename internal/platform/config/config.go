package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable of the surveillance engine. All values have
// defaults and every one can be overridden per deployment (or per exam, by
// constructing engines with a modified copy).
type Config struct {
	Addr string

	// Fusion weights; must sum to 1.0.
	FaceWeight  float64
	VoiceWeight float64

	// Decision thresholds.
	MultimodalThreshold float64
	// Per-modality floors a present modality must clear regardless of the
	// fused score.
	MinFaceScore  float64
	MinVoiceScore float64
	// Thresholds for single-modality verdicts. Zero means "use the
	// multimodal threshold".
	FaceOnlyThreshold  float64
	VoiceOnlyThreshold float64
	// A fused score below this is treated as a high-confidence identity
	// mismatch and disqualifies immediately.
	HardFloor float64

	// Surveillance cadence.
	FaceCheckInterval      time.Duration
	VoiceChallengeInterval time.Duration

	// Violation accounting.
	AbsenceThreshold    int // consecutive face extraction failures per absence episode
	WarnThreshold       int // severity sum that moves active -> warned
	DisqualifyThreshold int // severity sum that disqualifies

	// Anomaly detection.
	IdentityChangeDelta  float64 // drop from trailing accepted mean
	IdentityChangeWindow int     // accepted checks in the trailing mean
	EvasionWindow        int     // checks inspected for pattern evasion
	EvasionDipCount      int     // isolated dips within the window to flag

	// Voice challenges.
	ChallengeResponseWindow time.Duration
	ChallengePhrases        []string

	// Embedding extractor upstreams.
	FaceExtractorURL  string
	VoiceExtractorURL string
	ExtractorTimeout  time.Duration

	// Optional backing services; empty means in-memory.
	RedisURL    string
	PostgresDSN string
	KafkaSeeds  []string
	KafkaTopic  string
}

// defaultPhrases keeps local development working without configuration. A
// real deployment supplies its own pool via VIGIL_CHALLENGE_PHRASES.
var defaultPhrases = []string{
	"I confirm my identity for this exam session.",
	"My voice is my passphrase for this check.",
	"I am present and taking this exam myself.",
	"This identity check is answered by me alone.",
	"I remain at my desk for this examination.",
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:                    envString("VIGIL_ADDR", ":8080"),
		FaceWeight:              envFloat("VIGIL_FACE_WEIGHT", 0.6),
		VoiceWeight:             envFloat("VIGIL_VOICE_WEIGHT", 0.4),
		MultimodalThreshold:     envFloat("VIGIL_MULTIMODAL_THRESHOLD", 0.65),
		MinFaceScore:            envFloat("VIGIL_MIN_FACE_SCORE", 0.5),
		MinVoiceScore:           envFloat("VIGIL_MIN_VOICE_SCORE", 0.55),
		FaceOnlyThreshold:       envFloat("VIGIL_FACE_ONLY_THRESHOLD", 0),
		VoiceOnlyThreshold:      envFloat("VIGIL_VOICE_ONLY_THRESHOLD", 0),
		HardFloor:               envFloat("VIGIL_HARD_FLOOR", 0.3),
		FaceCheckInterval:       envDuration("VIGIL_FACE_CHECK_INTERVAL", 30*time.Second),
		VoiceChallengeInterval:  envDuration("VIGIL_VOICE_CHALLENGE_INTERVAL", 120*time.Second),
		AbsenceThreshold:        envInt("VIGIL_ABSENCE_THRESHOLD", 2),
		WarnThreshold:           envInt("VIGIL_WARN_THRESHOLD", 3),
		DisqualifyThreshold:     envInt("VIGIL_DISQUALIFY_THRESHOLD", 5),
		IdentityChangeDelta:     envFloat("VIGIL_IDENTITY_CHANGE_DELTA", 0.3),
		IdentityChangeWindow:    envInt("VIGIL_IDENTITY_CHANGE_WINDOW", 3),
		EvasionWindow:           envInt("VIGIL_EVASION_WINDOW", 10),
		EvasionDipCount:         envInt("VIGIL_EVASION_DIP_COUNT", 3),
		ChallengeResponseWindow: envDuration("VIGIL_CHALLENGE_RESPONSE_WINDOW", 30*time.Second),
		ChallengePhrases:        envList("VIGIL_CHALLENGE_PHRASES", defaultPhrases),
		FaceExtractorURL:        envString("VIGIL_FACE_EXTRACTOR_URL", "http://localhost:9001"),
		VoiceExtractorURL:       envString("VIGIL_VOICE_EXTRACTOR_URL", "http://localhost:9002"),
		ExtractorTimeout:        envDuration("VIGIL_EXTRACTOR_TIMEOUT", 10*time.Second),
		RedisURL:                os.Getenv("VIGIL_REDIS_URL"),
		PostgresDSN:             os.Getenv("VIGIL_POSTGRES_DSN"),
		KafkaSeeds:              envList("VIGIL_KAFKA_SEEDS", nil),
		KafkaTopic:              envString("VIGIL_KAFKA_TOPIC", "vigil.audit"),
	}
}

// Validate rejects misconfiguration at startup. A bad weight or interval
// must never silently degrade decisions mid-exam.
func (c Config) Validate() error {
	if math.Abs(c.FaceWeight+c.VoiceWeight-1.0) > 1e-9 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.4f", c.FaceWeight+c.VoiceWeight)
	}
	if c.FaceWeight < 0 || c.VoiceWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	for name, v := range map[string]float64{
		"multimodal threshold": c.MultimodalThreshold,
		"min face score":       c.MinFaceScore,
		"min voice score":      c.MinVoiceScore,
		"face-only threshold":  c.FaceOnlyThreshold,
		"voice-only threshold": c.VoiceOnlyThreshold,
		"hard floor":           c.HardFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %.4f", name, v)
		}
	}
	if c.HardFloor > c.MultimodalThreshold {
		return fmt.Errorf("hard floor %.2f must not exceed the multimodal threshold %.2f", c.HardFloor, c.MultimodalThreshold)
	}
	if c.FaceCheckInterval <= 0 || c.VoiceChallengeInterval <= 0 {
		return fmt.Errorf("check intervals must be positive")
	}
	if c.ChallengeResponseWindow <= 0 {
		return fmt.Errorf("challenge response window must be positive")
	}
	if c.AbsenceThreshold < 1 {
		return fmt.Errorf("absence threshold must be at least 1")
	}
	if c.WarnThreshold < 1 || c.DisqualifyThreshold <= c.WarnThreshold {
		return fmt.Errorf("violation thresholds must satisfy 1 <= warn < disqualify, got warn=%d disqualify=%d", c.WarnThreshold, c.DisqualifyThreshold)
	}
	if len(c.ChallengePhrases) < 2 {
		return fmt.Errorf("challenge phrase pool needs at least 2 phrases to avoid repeats, got %d", len(c.ChallengePhrases))
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
