package kurrentdb

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
)

// CertificateParams are the connection string parameters naming the files of
// the certificate bundle. When Config.CertPath is set each one must be present
// and a relative file name is resolved inside CertPath.
var CertificateParams = []string{"tlsCaFile", "userCertFile", "userKeyFile"}

// Config locates a KurrentDB (or EventStoreDB) server.
type Config struct {
	// URL is a connection string template, e.g.
	// esdb://host:2113?tls=true&tlsCaFile=ca.crt&userCertFile=tls.crt&userKeyFile=tls.key
	URL string `env:"ESDB_URL,required,notEmpty"`
	// CertPath is the directory holding the certificate bundle.
	CertPath string `env:"ESDB_CERT_PATH"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ConnectionString returns URL with the certificate parameters resolved
// against CertPath. Nothing but those query values is rewritten.
func (c Config) ConnectionString() (string, error) {
	if c.URL == "" {
		return "", errors.New("kurrentdb: connection url is empty")
	}
	if c.CertPath == "" {
		return c.URL, nil
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("kurrentdb: invalid connection url: %w", err)
	}

	dir := strings.TrimRight(c.CertPath, "/")
	found := make(map[string]bool, len(CertificateParams))
	pairs := strings.Split(u.RawQuery, "&")
	for i, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		for _, param := range CertificateParams {
			if !strings.EqualFold(key, param) {
				continue
			}
			if value == "" {
				return "", fmt.Errorf("kurrentdb: connection url parameter %s is empty", param)
			}
			found[param] = true
			if !path.IsAbs(value) {
				pairs[i] = key + "=" + dir + "/" + value
			}
		}
	}
	for _, param := range CertificateParams {
		if !found[param] {
			return "", fmt.Errorf("kurrentdb: connection url is missing %s", param)
		}
	}

	u.RawQuery = strings.Join(pairs, "&")
	return u.String(), nil
}

// NewClient connects to the server described by cfg.
func NewClient(cfg Config) (*kurrentdb.Client, error) {
	url, err := cfg.ConnectionString()
	if err != nil {
		return nil, err
	}
	settings, err := kurrentdb.ParseConnectionString(url)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	client, err := kurrentdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return client, nil
}
