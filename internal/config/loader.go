package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Lookup returns the value of a configuration variable and whether it is set.
// os.LookupEnv is the production lookup.
type Lookup func(key string) (string, bool)

// Load reads configuration from environment variables, applies defaults and
// validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load over an arbitrary variable source. Every unparsable or
// missing variable is reported, not only the first one.
func LoadFrom(lookup Lookup) (*Config, error) {
	cfg := &Config{}

	l := loader{lookup: lookup}
	l.walk(reflect.ValueOf(cfg).Elem())
	if len(l.errs) > 0 {
		return nil, fmt.Errorf("config load:\n  - %s", strings.Join(l.errs, "\n  - "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// loader fills tagged struct fields:
//
//	env      primary variable name
//	envAlt   variable read when the primary one is empty
//	default  value used when neither is set
//	required "true" fails the load when no value is found
type loader struct {
	lookup Lookup
	errs   []string
}

func (l *loader) get(key string) string {
	if key == "" {
		return ""
	}
	v, _ := l.lookup(key)
	return strings.TrimSpace(v)
}

func (l *loader) walk(v reflect.Value) {
	t := v.Type()
	for i := range t.NumField() {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			l.walk(fv)
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		value := l.get(name)
		if value == "" {
			value = l.get(field.Tag.Get("envAlt"))
		}
		if value == "" {
			if field.Tag.Get("required") == "true" {
				l.errs = append(l.errs, fmt.Sprintf("required environment variable %s is not set", name))
				continue
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := parseInto(fv, value); err != nil {
			l.errs = append(l.errs, fmt.Sprintf("%s=%q: %v", name, value, err))
		}
	}
}

// parseInto converts value to the kind of field. Durations use
// time.ParseDuration and string slices are comma-separated.
func parseInto(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem().Kind())
		}
		var items []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

// oneOf reports whether value, lower-cased, is one of allowed.
func oneOf(value string, allowed ...string) bool {
	value = strings.ToLower(value)
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// Validate checks every setting and returns one error listing all failures.
func (c *Config) Validate() error {
	var errs []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}

	db := c.Database
	check(db.URL != "", "DATABASE_URL is required")
	check(oneOf(db.Driver, "postgres", "sqlite"), "DB_DRIVER (%q) must be one of: postgres, sqlite", db.Driver)
	check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	ext := c.Extraction
	check(ext.OutputDir != "", "EXTRACTION_OUTPUT_DIR is required")
	check(len([]rune(ext.CSVSeparator)) == 1 || ext.CSVSeparator == `\t`,
		"EXTRACTION_CSV_SEPARATOR (%q) must be a single character", ext.CSVSeparator)
	check(ext.ExecutionTimeout > 0, "EXTRACTION_TIMEOUT must be positive")
	check(ext.MaxConcurrent > 0, "EXTRACTION_MAX_CONCURRENT must be positive")
	check(ext.MaxWaitTime > 0, "EXTRACTION_MAX_WAIT_TIME must be positive")
	check(ext.CleanupWorkers > 0, "EXTRACTION_CLEANUP_WORKERS must be positive")
	check(ext.CleanupRetries > 0, "EXTRACTION_CLEANUP_RETRIES must be positive")
	check(ext.CleanupBackoff >= 0, "EXTRACTION_CLEANUP_BACKOFF must be non-negative")
	check(ext.PreviewLimit > 0, "EXTRACTION_PREVIEW_LIMIT must be positive")
	check(ext.DefaultPageSize > 0, "EXTRACTION_PAGE_SIZE must be positive")

	cache := c.Cache
	check(cache.Size > 0, "CACHE_SIZE must be positive")
	check(cache.ShortTTL > 0 && cache.DefaultTTL > 0 && cache.LongTTL > 0 && cache.TypeTTL > 0,
		"CACHE_*_TTL values must be positive")

	check(!c.Scheduler.Enabled || c.Scheduler.Parallelism > 0,
		"SCHEDULER_PARALLELISM must be positive when the scheduler is enabled")

	check(oneOf(c.Logging.Level, "debug", "info", "warn", "error"),
		"LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	check(oneOf(c.Logging.Format, "text", "json"),
		"LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String describes the configuration for logs. The database URL is masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: {Driver: %q, URL: [MASKED], MaxConns: %d, MinConns: %d}, "+
		"Extraction: {OutputDir: %q, Timeout: %s, MaxConcurrent: %d, CleanupWorkers: %d}, "+
		"Cache: {Size: %d, Short: %s, Default: %s, Long: %s}, "+
		"Scheduler: {Enabled: %t, Daily: %q, Weekly: %q, Monthly: %q}, "+
		"Logging: {Level: %q, Format: %q}}",
		c.Database.Driver, c.Database.MaxConns, c.Database.MinConns,
		c.Extraction.OutputDir, c.Extraction.ExecutionTimeout, c.Extraction.MaxConcurrent, c.Extraction.CleanupWorkers,
		c.Cache.Size, c.Cache.ShortTTL, c.Cache.DefaultTTL, c.Cache.LongTTL,
		c.Scheduler.Enabled, c.Scheduler.Daily, c.Scheduler.Weekly, c.Scheduler.Monthly,
		c.Logging.Level, c.Logging.Format)
}
