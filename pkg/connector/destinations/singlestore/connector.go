package singlestore

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/errors"
)

const defaultPort = "3306"

// Connector owns the connection pools of one cluster: the DDL endpoint
// (master aggregator) and one pool per DML endpoint. DML sessions rotate
// across endpoints.
type Connector struct {
	ddl    *sql.DB
	dml    []*sql.DB
	next   atomic.Uint64
	logger *zap.Logger
}

var _ core.SessionFactory = (*Connector)(nil)

// NewConnector builds the pools described by cfg. No connection is made
// until the first session or Ping.
func NewConnector(cfg config.ConnectionConfig, logger *zap.Logger) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Connector{logger: logger.With(zap.String("component", "connector"))}

	ddl, err := openDB(cfg, cfg.DDLEndpoint)
	if err != nil {
		return nil, err
	}
	c.ddl = ddl

	for _, ep := range cfg.DMLTargets() {
		if ep == cfg.DDLEndpoint {
			c.dml = append(c.dml, ddl)
			continue
		}
		db, err := openDB(cfg, ep)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.dml = append(c.dml, db)
	}

	c.logger.Info("store connector configured",
		zap.String("ddl_endpoint", cfg.DDLEndpoint),
		zap.Strings("dml_endpoints", cfg.DMLTargets()),
		zap.String("database", cfg.Database))

	return c, nil
}

// driverConfig maps the connection section to a driver configuration for
// endpoint.
func driverConfig(cfg config.ConnectionConfig, endpoint string) *mysql.Config {
	dc := mysql.NewConfig()
	dc.Net = "tcp"
	dc.Addr = withDefaultPort(endpoint)
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.DBName = cfg.Database
	dc.AllowNativePasswords = true
	dc.InterpolateParams = true
	dc.ParseTime = true
	dc.Timeout = cfg.ConnectTimeout
	if len(cfg.Params) > 0 {
		dc.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			dc.Params[k] = v
		}
	}
	return dc
}

func openDB(cfg config.ConnectionConfig, endpoint string) (*sql.DB, error) {
	connector, err := mysql.NewConnector(driverConfig(cfg, endpoint))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig,
			fmt.Sprintf("invalid connection settings for %s", endpoint))
	}
	db := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func withDefaultPort(endpoint string) string {
	if _, _, err := net.SplitHostPort(endpoint); err == nil {
		return endpoint
	}
	return net.JoinHostPort(endpoint, defaultPort)
}

// Open starts a transaction on a connection of the given class.
func (c *Connector) Open(ctx context.Context, class core.EndpointClass) (core.Session, error) {
	return openSession(ctx, c.pick(class))
}

func (c *Connector) pick(class core.EndpointClass) *sql.DB {
	if class != core.EndpointDML {
		return c.ddl
	}
	n := c.next.Add(1) - 1
	return c.dml[n%uint64(len(c.dml))]
}

// DDL returns the pool of the DDL endpoint.
func (c *Connector) DDL() *sql.DB {
	return c.ddl
}

// Ping checks every endpoint.
func (c *Connector) Ping(ctx context.Context) error {
	if err := c.ddl.PingContext(ctx); err != nil {
		return storeError(err, "failed to ping DDL endpoint")
	}
	for i, db := range c.dml {
		if err := db.PingContext(ctx); err != nil {
			return storeError(err, fmt.Sprintf("failed to ping DML endpoint %d", i))
		}
	}
	return nil
}

// Close closes all pools.
func (c *Connector) Close() error {
	var first error
	seen := make(map[*sql.DB]bool)
	for _, db := range append([]*sql.DB{c.ddl}, c.dml...) {
		if db == nil || seen[db] {
			continue
		}
		seen[db] = true
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
