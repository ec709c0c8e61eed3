package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Shared kiosk deployments keep the mirror on a networked server so several
// agents see the same queue. Pool limits stay small: one agent, few writers.
const (
	networkMaxOpenConns = 8
	networkMaxIdleConns = 2
	networkConnIdleTime = 5 * time.Minute
)

type networkDriver struct {
	name        string
	defaultHost string
	defaultPort int
	dialector   func(dsn string) gorm.Dialector
	buildDSN    func(cfg Config, host string, port int) string
}

var networkDrivers = map[string]networkDriver{
	"postgres": {
		name:        "postgres",
		defaultHost: "localhost",
		defaultPort: 5432,
		dialector:   postgres.Open,
		buildDSN:    postgresDSN,
	},
	"mysql": {
		name:        "mysql",
		defaultHost: "127.0.0.1",
		defaultPort: 3306,
		dialector:   mysql.Open,
		buildDSN:    mysqlDSN,
	},
}

func openNetwork(driver string, cfg Config) (*gorm.DB, error) {
	nd, ok := networkDrivers[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	dsn, err := nd.dsn(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(nd.dialector(dsn), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", nd.name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(networkMaxOpenConns)
	sqlDB.SetMaxIdleConns(networkMaxIdleConns)
	sqlDB.SetConnMaxIdleTime(networkConnIdleTime)

	return db, nil
}

func (nd networkDriver) dsn(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New(nd.name + " configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = nd.defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = nd.defaultPort
	}
	return nd.buildDSN(cfg, host, port), nil
}

func postgresDSN(cfg Config, host string, port int) string {
	params := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("user=%s", cfg.User),
		fmt.Sprintf("dbname=%s", cfg.Name),
	}
	if cfg.Password != "" {
		params = append(params, fmt.Sprintf("password=%s", cfg.Password))
	}

	options := mergeOptions(map[string]string{"sslmode": "disable"}, cfg.Options)
	for _, key := range sortedKeys(options) {
		params = append(params, fmt.Sprintf("%s=%s", key, options[key]))
	}
	return strings.Join(params, " ")
}

func mysqlDSN(cfg Config, host string, port int) string {
	user := cfg.User
	if cfg.Password != "" {
		user = fmt.Sprintf("%s:%s", cfg.User, cfg.Password)
	}

	// parseTime is required: intents and mirror rows are ordered by timestamps.
	options := mergeOptions(map[string]string{
		"charset":   "utf8mb4",
		"parseTime": "True",
		"loc":       "UTC",
	}, cfg.Options)

	query := make([]string, 0, len(options))
	for _, key := range sortedKeys(options) {
		query = append(query, fmt.Sprintf("%s=%s", key, options[key]))
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", user, host, port, cfg.Name, strings.Join(query, "&"))
}

func mergeOptions(base, overrides map[string]string) map[string]string {
	for key, value := range overrides {
		base[key] = value
	}
	return base
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
