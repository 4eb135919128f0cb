// Package config holds the static run configuration for training and evaluation.
//
// A Config is assembled once at startup from defaults, an optional JSON file,
// an optional .env file and EMPATHY_* environment variables, in that order of
// precedence (later sources win). It is passed by value and never mutated after
// Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Mode selects what the training program does with the data
type Mode string

const (
	ModeTrain Mode = "train"
	ModeEval  Mode = "eval"
)

// LossKind names a per-head loss function
type LossKind string

const (
	CategoricalCrossentropy LossKind = "categorical_crossentropy"
	MeanSquaredError        LossKind = "mean_squared_error"
	MeanAbsoluteError       LossKind = "mean_absolute_error"
)

// EnvPrefix is prepended to every environment override key
const EnvPrefix = "EMPATHY_"

// Config is the immutable run configuration
type Config struct {
	// Text cleaning
	RemoveStopwords bool `json:"remove_stopwords"`
	Lemmatize       bool `json:"lemmatize"`

	// Shapes
	MaxLen     int `json:"maxlen"`
	NumClasses int `json:"num_classes"`
	BatchSize  int `json:"batch_size"`

	Mode               Mode     `json:"mode"`
	ClassificationLoss LossKind `json:"classification_loss"`
	RegressionLoss     LossKind `json:"regression_loss"`

	// Training schedule
	Epochs          int     `json:"epochs"`
	LearningRate    float64 `json:"learning_rate"`
	ValidationSplit float64 `json:"validation_split"`
	Seed            int64   `json:"seed"`
	SkipBadBatches  bool    `json:"skip_bad_batches"`

	// Data
	DatasetPath       string   `json:"dataset_path"`
	RegressionTargets []string `json:"regression_targets"`

	// Tokenizer and model
	Tokenizer string `json:"tokenizer"` // "wordpiece" or "tiktoken"
	VocabPath string `json:"vocab_path"`
	VocabSize int    `json:"vocab_size"`
	EmbedDim  int    `json:"embed_dim"`
	HiddenDim int    `json:"hidden_dim"`

	// Checkpoints
	CheckpointDir    string `json:"checkpoint_dir"`
	CheckpointFormat string `json:"checkpoint_format"` // "json" or "protobuf"
	RegistryPath     string `json:"registry_path"`

	// Observability
	LogLevel  string `json:"log_level"`
	LogOutput string `json:"log_output"`
	Progress  bool   `json:"progress"`
}

// Default returns the configuration the original training run used
func Default() Config {
	return Config{
		RemoveStopwords:    false,
		Lemmatize:          false,
		MaxLen:             100,
		NumClasses:         7,
		BatchSize:          64,
		Mode:               ModeTrain,
		ClassificationLoss: CategoricalCrossentropy,
		RegressionLoss:     MeanSquaredError,
		Epochs:             3,
		LearningRate:       0.001,
		ValidationSplit:    0.2,
		Seed:               1,
		DatasetPath:        "./messages_train_ready_for_WS.tsv",
		RegressionTargets:  []string{"empathy", "distress"},
		Tokenizer:          "wordpiece",
		VocabSize:          8192,
		EmbedDim:           64,
		HiddenDim:          64,
		CheckpointDir:      "./ckpts",
		CheckpointFormat:   "json",
		RegistryPath:       "./ckpts/index.db",
		LogLevel:           "info",
		LogOutput:          "stdout",
		Progress:           true,
	}
}

// Load builds a Config. jsonPath may be empty; envFiles are optional .env files
// and missing ones are ignored.
func Load(jsonPath string, envFiles ...string) (Config, error) {
	cfg := Default()

	if jsonPath != "" {
		data, err := os.ReadFile(jsonPath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", jsonPath, err)
		}
	}

	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays EMPATHY_* variables onto cfg
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
		return nil
	}
	boolean := func(key string, dst *bool) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
		return nil
	}
	float := func(key string, dst *float64) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = f
		}
		return nil
	}

	var mode, clsLoss, regLoss, targets string
	str("MODE", &mode)
	str("CLASSIFICATION_LOSS", &clsLoss)
	str("REGRESSION_LOSS", &regLoss)
	str("REGRESSION_TARGETS", &targets)
	if mode != "" {
		c.Mode = Mode(mode)
	}
	if clsLoss != "" {
		c.ClassificationLoss = LossKind(clsLoss)
	}
	if regLoss != "" {
		c.RegressionLoss = LossKind(regLoss)
	}
	if targets != "" {
		c.RegressionTargets = splitList(targets)
	}

	str("DATASET_PATH", &c.DatasetPath)
	str("TOKENIZER", &c.Tokenizer)
	str("VOCAB_PATH", &c.VocabPath)
	str("CHECKPOINT_DIR", &c.CheckpointDir)
	str("CHECKPOINT_FORMAT", &c.CheckpointFormat)
	str("REGISTRY_PATH", &c.RegistryPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_OUTPUT", &c.LogOutput)

	for key, dst := range map[string]*int{
		"MAXLEN":      &c.MaxLen,
		"NUM_CLASSES": &c.NumClasses,
		"BATCH_SIZE":  &c.BatchSize,
		"EPOCHS":      &c.Epochs,
		"VOCAB_SIZE":  &c.VocabSize,
		"EMBED_DIM":   &c.EmbedDim,
		"HIDDEN_DIM":  &c.HiddenDim,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*bool{
		"REMOVE_STOPWORDS": &c.RemoveStopwords,
		"LEMMATIZE":        &c.Lemmatize,
		"SKIP_BAD_BATCHES": &c.SkipBadBatches,
		"PROGRESS":         &c.Progress,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*float64{
		"LEARNING_RATE":    &c.LearningRate,
		"VALIDATION_SPLIT": &c.ValidationSplit,
	} {
		if err := float(key, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvPrefix + "SEED"); ok {
		seed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sSEED: %w", EnvPrefix, err)
		}
		c.Seed = seed
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the fields the trainer depends on
func (c Config) Validate() error {
	switch {
	case c.MaxLen <= 0:
		return fmt.Errorf("maxlen must be positive, got %d", c.MaxLen)
	case c.NumClasses < 2:
		return fmt.Errorf("num_classes must be at least 2, got %d", c.NumClasses)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.Epochs <= 0:
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	case c.ValidationSplit <= 0 || c.ValidationSplit >= 1:
		return fmt.Errorf("validation_split must be in (0, 1), got %g", c.ValidationSplit)
	case c.EmbedDim <= 0 || c.HiddenDim <= 0:
		return fmt.Errorf("embed_dim and hidden_dim must be positive")
	}

	switch c.Mode {
	case ModeTrain, ModeEval:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.ClassificationLoss != CategoricalCrossentropy {
		return fmt.Errorf("unsupported classification_loss %q", c.ClassificationLoss)
	}
	switch c.RegressionLoss {
	case MeanSquaredError, MeanAbsoluteError:
	default:
		return fmt.Errorf("unsupported regression_loss %q", c.RegressionLoss)
	}
	switch c.Tokenizer {
	case "wordpiece", "tiktoken":
	default:
		return fmt.Errorf("unknown tokenizer %q", c.Tokenizer)
	}
	switch c.CheckpointFormat {
	case "json", "protobuf":
	default:
		return fmt.Errorf("unknown checkpoint_format %q", c.CheckpointFormat)
	}
	return nil
}

// Heads is the number of model output heads: one categorical head plus one per
// regression target.
func (c Config) Heads() int {
	return 1 + len(c.RegressionTargets)
}
